package dialect

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestRebind_Postgres(t *testing.T) {
	for _, name := range []string{"postgres", "pgx", "PostgreSQL"} {
		d := New(name)
		got := d.Rebind("SELECT * FROM t WHERE a = ? AND b IN (?, ?)")
		assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b IN ($2, $3)", got, name)
	}
}

func TestRebind_NoChangeForSQLiteAndUnknown(t *testing.T) {
	orig := "DELETE FROM t WHERE id = ? AND name = ?"
	assert.Equal(t, orig, New("sqlite").Rebind(orig))
	assert.Equal(t, orig, New("unknown").Rebind(orig))
}

func TestQuoteIdentifier(t *testing.T) {
	assert.Equal(t, `"public"."domain_events"`, New("pgx").QuoteIdentifier("public.domain_events"))
	assert.Equal(t, `"domain_events"`, New("sqlite").QuoteIdentifier("domain_events"))
	assert.Equal(t, "domain_events", New("").QuoteIdentifier("domain_events"))
}

type codedErr struct{ code int }

func (e *codedErr) Error() string { return fmt.Sprintf("sqlite error %d", e.code) }
func (e *codedErr) Code() int     { return e.code }

func TestIsUniqueViolation(t *testing.T) {
	pg := New("pgx")
	assert.True(t, pg.IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, pg.IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.True(t, pg.IsUniqueViolation(errors.New("ERROR: duplicate key value violates unique constraint")))

	lite := New("sqlite")
	assert.True(t, lite.IsUniqueViolation(&codedErr{code: sqliteConstraintUnique}))
	assert.True(t, lite.IsUniqueViolation(errors.New("constraint failed: UNIQUE constraint failed: domain_events.id (1555)")))
	assert.False(t, lite.IsUniqueViolation(errors.New("no such table")))
	assert.False(t, lite.IsUniqueViolation(nil))
}
