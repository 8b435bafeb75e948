package main

import (
	"os"

	"esroot/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
