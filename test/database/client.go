package database

import (
	"testing"

	"github.com/manyworlds/continuum/pkg/database"
	"github.com/manyworlds/continuum/pkg/store"
	"github.com/manyworlds/continuum/test/util"
)

// NewTestClient creates a test database client over a migrated per-test
// schema.
// In CI (when CI_DATABASE_URL is set): connects to external PostgreSQL.
// In local dev: spins up a shared testcontainer.
// Cleanup (schema drop and connection close) is handled by SetupTestDatabase.
func NewTestClient(t *testing.T) *database.Client {
	db := util.SetupTestDatabase(t)
	return database.NewClientFromDB(db.DB)
}

// NewTestStore creates a store over a migrated per-test schema.
func NewTestStore(t *testing.T) *store.Store {
	return store.New(util.SetupTestDatabase(t))
}
