// Package dbtest opens migrated in-memory databases for tests.
package dbtest

import (
	"context"
	"fmt"
	"io/fs"
	"strings"
	"sync/atomic"
	"testing"

	dbfs "github.com/garnizeh/taskgate/db"
	"github.com/garnizeh/taskgate/internal/db"
	"github.com/garnizeh/taskgate/internal/repository/sqlite"
)

var seq atomic.Int64

// Open returns a fresh migrated database private to the test. Category rule
// seeds are skipped unless seed is true. The database is closed on cleanup.
func Open(t testing.TB, seed bool) *db.DB {
	t.Helper()
	ctx := context.Background()

	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, seq.Add(1))
	d, err := db.New(ctx, dsn, nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	var seeds fs.FS
	if seed {
		seeds = dbfs.SeedFiles
	}
	if err := db.Migrate(ctx, d, dbfs.Migrations, seeds); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return d
}

// Repo is Open wrapped in a SQLiteRepo.
func Repo(t testing.TB, seed bool) *sqlite.SQLiteRepo {
	t.Helper()
	return sqlite.New(Open(t, seed), nil)
}
