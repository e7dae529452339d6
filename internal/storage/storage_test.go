package storage_test

import (
	"context"
	"flag"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/ichiba/internal/storage"
	"github.com/ashita-ai/ichiba/internal/storage/storagetest"
	"github.com/ashita-ai/ichiba/internal/testutil"
)

// testDB holds a shared test database connection for all tests in this package.
var testDB *storage.DB

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}
	ctx := context.Background()
	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(ctx, testutil.TestLogger())
	if err != nil {
		tc.Terminate()
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	code := m.Run()

	_ = testDB.Close(ctx)
	tc.Terminate()
	os.Exit(code)
}

func truncate(t *testing.T) {
	t.Helper()
	_, err := testDB.Pool().Exec(context.Background(),
		`TRUNCATE epoch_balances, transactions, epochs, agents`)
	require.NoError(t, err)
}

func TestPostgresStoreContract(t *testing.T) {
	if testing.Short() {
		t.Skip("requires Docker")
	}
	storagetest.Run(t, func(t *testing.T) storage.Store {
		truncate(t)
		return testDB
	})
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("requires Docker")
	}
	ctx := context.Background()
	require.NoError(t, testDB.RunMigrations(ctx, os.DirFS("../../migrations")))
	require.NoError(t, testDB.Ping(ctx))
}
