package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloesce/cloesce/idl"
	"github.com/cloesce/cloesce/orm"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBatch(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)

	results, err := db.Batch(ctx, []orm.Statement{
		{SQL: `CREATE TABLE "Note" ("id" INTEGER PRIMARY KEY, "body" TEXT NOT NULL, "data" BLOB)`},
		{SQL: `INSERT INTO "Note" ("body", "data") VALUES (?, ?)`, Args: []any{"hello", []byte{1, 2}}},
		{SQL: `SELECT "id", "body", "data" FROM "Note"`, Query: true},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Nil(t, results[0])
	require.Len(t, results[2], 1)
	assert.Equal(t, int64(1), results[2][0]["id"])
	assert.Equal(t, []byte{1, 2}, results[2][0]["data"])
}

func TestBatch_RollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)
	_, err := db.Exec(`CREATE TABLE "Note" ("id" INTEGER PRIMARY KEY, "body" TEXT NOT NULL)`)
	require.NoError(t, err)

	_, err = db.Batch(ctx, []orm.Statement{
		{SQL: `INSERT INTO "Note" ("body") VALUES (?)`, Args: []any{"kept?"}},
		{SQL: `INSERT INTO "Note" ("body") VALUES (NULL)`},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "statement 1")

	rows, err := db.Query(ctx, `SELECT COUNT(*) AS "n" FROM "Note"`)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows[0]["n"])
}

func TestOpen_EnforcesForeignKeys(t *testing.T) {
	ctx := context.Background()
	db := openTest(t)

	ast := idl.NewAst("fk")
	owner := idl.NewModel("Owner", "owner.go")
	owner.PrimaryKey = &idl.NamedTypedValue{Name: "id", Type: idl.Integer}
	ast.Models["Owner"] = owner
	pet := idl.NewModel("Pet", "pet.go")
	pet.PrimaryKey = &idl.NamedTypedValue{Name: "id", Type: idl.Integer}
	pet.Columns = []idl.Column{{Name: "ownerId", Type: idl.Integer, ForeignKey: "Owner"}}
	ast.Models["Pet"] = pet
	require.NoError(t, db.Migrate(ctx, ast))

	_, err := db.Batch(ctx, []orm.Statement{{SQL: `INSERT INTO "Pet" ("ownerId") VALUES (?)`, Args: []any{7}}})
	assert.Error(t, err)

	// Migrations are idempotent.
	require.NoError(t, db.Migrate(ctx, ast))
}
