// Package cli esroot 命令行
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"esroot/config"
	"esroot/errors"
	"esroot/logging"
)

// 退出码
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // 领域错误：不存在、已删除、并发冲突等
	ExitCommandError = 2 // 参数或配置错误
)

// RootOptions 全局参数
type RootOptions struct {
	ConfigPath string
	Verbose    bool
}

// NewRootCommand 创建根命令
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "esroot",
		Short: "esroot - event-sourced aggregate store",
		Long: `Persist and inspect event-sourced items.

Every change is recorded as an immutable event; current state is rebuilt by
replaying the item's history.`,
		Args:          usageArgs(cobra.NoArgs),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return errors.NewErrorWithCause(errors.ErrCodeInvalidInput, c.CommandPath()+": invalid flags", err)
	})

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "",
		"path to YAML config (default $"+config.EnvConfigPath+")")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewItemCommand(opts))
	return cmd
}

// ExitCode 按错误码映射退出码
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	switch errors.GetErrorCode(err) {
	case errors.ErrCodeInvalidInput, errors.ErrCodeConfig:
		return ExitCommandError
	default:
		return ExitFailure
	}
}

// usageArgs 参数校验失败时返回 INVALID_INPUT，使其按用法错误退出
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return errors.NewErrorWithCause(errors.ErrCodeInvalidInput, cmd.CommandPath()+": invalid arguments", err)
		}
		return nil
	}
}

// withApp 加载配置、装配运行时并执行 fn，结束后关闭
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, app *App) error) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg, opts.Verbose)
	if err != nil {
		return err
	}
	logging.SetLogger(logger)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Store.Driver == "memory" {
		logger.Warn(ctx, "memory store does not keep events between runs")
	}
	app, err := NewApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	runErr := fn(ctx, app)
	closeErr := app.Close()
	if runErr != nil {
		return runErr
	}
	return closeErr
}

func newLogger(cfg *config.Config, verbose bool) (logging.Logger, error) {
	level := cfg.LogLevel()
	if verbose {
		level = logging.DebugLevel
	}
	switch cfg.Log.Format {
	case "console", "json":
		z, err := logging.NewZapLogger(cfg.Log.Format, level)
		if err != nil {
			return nil, errors.NewErrorWithCause(errors.ErrCodeConfig, "build zap logger", err)
		}
		return z, nil
	default:
		return logging.NewStdLogger("esroot").WithLevel(level), nil
	}
}

// Execute 运行根命令并返回退出码
func Execute() int {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		cmd.PrintErrln("Error:", err)
		return ExitCode(err)
	}
	return ExitSuccess
}
