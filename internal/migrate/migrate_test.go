package migrate

import (
	"context"
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/and161185/carecard/migrations"
)

func TestEmbeddedMigrations(t *testing.T) {
	names, err := fs.Glob(migrations.FS, "*.sql")
	require.NoError(t, err)
	require.Equal(t, []string{
		"00001_collections.sql",
		"00002_change_notify.sql",
		"00003_login_attempts.sql",
	}, names)

	for _, n := range names {
		b, err := fs.ReadFile(migrations.FS, n)
		require.NoError(t, err)
		require.Contains(t, string(b), "-- +goose Up", n)
		require.Contains(t, string(b), "-- +goose Down", n)
	}

	notify, err := fs.ReadFile(migrations.FS, "00002_change_notify.sql")
	require.NoError(t, err)
	for _, table := range []string{"cards", "clinics", "appointments", "perks", "perk_redemptions"} {
		require.True(t, strings.Contains(string(notify), "ON "+table+"\n"), table)
	}
	require.Contains(t, string(notify), "'carecard_changes'")
}

func TestUp_BadDSN(t *testing.T) {
	err := Up(context.Background(), "postgres://nobody@127.0.0.1:1/none?connect_timeout=1")
	require.Error(t, err)
}
