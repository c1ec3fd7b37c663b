package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := OpenLedger(context.Background(), DriverSQLite, SQLiteFileDSN(filepath.Join(t.TempDir(), "ledger.db")))
	require.NoError(t, err)
	l.Cost = bcrypt.MinCost
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLedgerRunsAndTokens(t *testing.T) {
	ctx := context.Background()
	l := newLedger(t)

	id, err := l.StartRun(ctx)
	require.NoError(t, err)
	require.NoError(t, l.RecordToken(ctx, id, "intro_101", "grader-intro_101", "old-token"))
	require.NoError(t, l.RecordToken(ctx, id, "intro_101", "grader-intro_101", "new-token"))
	require.NoError(t, l.FinishRun(ctx, id, RunOK, 1, 0))

	ok, err := l.VerifyToken(ctx, "intro_101", "new-token")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = l.VerifyToken(ctx, "intro_101", "old-token")
	require.NoError(t, err)
	assert.False(t, ok, "only the latest token is valid")
	ok, err = l.VerifyToken(ctx, "unknown", "new-token")
	require.NoError(t, err)
	assert.False(t, ok)

	var stored string
	require.NoError(t, l.DB.QueryRow(`SELECT token_hash FROM service_tokens ORDER BY id DESC LIMIT 1`).Scan(&stored))
	assert.NotContains(t, stored, "new-token")

	runs, err := l.Runs(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, RunOK, runs[0].Status)
	assert.NotNil(t, runs[0].FinishedAt)
	assert.Equal(t, 1, runs[0].Courses)

	assert.Error(t, l.FinishRun(ctx, 999, RunOK, 0, 0))
}

func TestParseDriverAndRebind(t *testing.T) {
	d, err := ParseDriver("pgx")
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, d)
	d, err = ParseDriver("")
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, d)
	_, err = ParseDriver("mysql")
	assert.Error(t, err)

	assert.Equal(t, "a=$1 AND b=$2", Rebind(DriverPostgres, "a=? AND b=?"))
	assert.Equal(t, "a=?", Rebind(DriverSQLite, "a=?"))
}
