package orm_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloesce/cloesce/idl"
	"github.com/cloesce/cloesce/orm"
)

const tmpKey = `(SELECT "id" FROM "_cloesce_tmp" WHERE "path" = ?)`

func TestUpsertStatements_ToOneWrittenFirst(t *testing.T) {
	ast := kennelAst()
	stmts, err := orm.UpsertStatements(ast, "Dog", map[string]any{
		"personId": int64(1),
		"name":     "Rex",
		"breed":    map[string]any{"name": "Lab"},
	}, ast.Models["Dog"].DataSources["withBreed"])
	require.NoError(t, err)
	require.Len(t, stmts, 7)

	assert.True(t, strings.HasPrefix(stmts[0].SQL, `CREATE TEMP TABLE IF NOT EXISTS "_cloesce_tmp"`))
	assert.Equal(t, `DELETE FROM "_cloesce_tmp"`, stmts[1].SQL)

	assert.Equal(t, `INSERT INTO "Breed" ("name") VALUES (?)`, stmts[2].SQL)
	assert.Equal(t, []any{"Lab"}, stmts[2].Args)
	assert.Equal(t, []any{"Dog.breed"}, stmts[3].Args)

	assert.Equal(t, `INSERT INTO "Dog" ("personId", "breedId", "name") VALUES (?, `+tmpKey+`, ?)`, stmts[4].SQL)
	assert.Equal(t, []any{int64(1), "Dog.breed", "Rex"}, stmts[4].Args)
	assert.Equal(t, []any{"Dog"}, stmts[5].Args)

	last := stmts[6]
	assert.True(t, last.Query)
	assert.Equal(t, `SELECT `+tmpKey+` AS "id"`, last.SQL)
	assert.Equal(t, []any{"Dog"}, last.Args)
}

func TestUpsertStatements_NodeKinds(t *testing.T) {
	ast := kennelAst()

	tests := []struct {
		name     string
		model    string
		obj      map[string]any
		wantSQL  string
		wantArgs []any
	}{
		{
			name:     "full column set",
			model:    "Person",
			obj:      map[string]any{"id": int64(3), "name": "Ada"},
			wantSQL:  `INSERT INTO "Person" ("id", "name") VALUES (?, ?) ON CONFLICT ("id") DO UPDATE SET "name" = excluded."name"`,
			wantArgs: []any{int64(3), "Ada"},
		},
		{
			name:     "column subset",
			model:    "Dog",
			obj:      map[string]any{"id": int64(3), "name": "Rex"},
			wantSQL:  `UPDATE "Dog" SET "name" = ? WHERE "id" = ?`,
			wantArgs: []any{"Rex", int64(3)},
		},
		{
			name:     "integral float key",
			model:    "Dog",
			obj:      map[string]any{"id": float64(4), "personId": float64(1)},
			wantSQL:  `UPDATE "Dog" SET "personId" = ? WHERE "id" = ?`,
			wantArgs: []any{int64(1), int64(4)},
		},
		{
			name:     "boolean column",
			model:    "Breed",
			obj:      map[string]any{"id": int64(2), "name": "Pug", "hypoallergenic": true},
			wantSQL:  `INSERT INTO "Breed" ("id", "name", "hypoallergenic") VALUES (?, ?, ?) ON CONFLICT ("id") DO UPDATE SET "name" = excluded."name", "hypoallergenic" = excluded."hypoallergenic"`,
			wantArgs: []any{int64(2), "Pug", int64(1)},
		},
		{
			name:     "insert without key",
			model:    "Person",
			obj:      map[string]any{"name": nil},
			wantSQL:  `INSERT INTO "Person" ("name") VALUES (?)`,
			wantArgs: []any{nil},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stmts, err := orm.UpsertStatements(ast, tt.model, tt.obj, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, stmts[2].SQL)
			assert.Equal(t, tt.wantArgs, stmts[2].Args)
		})
	}
}

func TestUpsertStatements_OneToManyBindsParentKey(t *testing.T) {
	ast := kennelAst()
	obj := map[string]any{
		"name": "Ada",
		"dogs": []any{
			map[string]any{"name": "Rex"},
			map[string]any{"name": "Fido"},
		},
	}

	stmts, err := orm.UpsertStatements(ast, "Person", obj, ast.Models["Person"].DataSources["withDogs"])
	require.NoError(t, err)
	require.Len(t, stmts, 9)
	assert.Equal(t, `INSERT INTO "Person" ("name") VALUES (?)`, stmts[2].SQL)
	assert.Equal(t, `INSERT INTO "Dog" ("personId", "name") VALUES (`+tmpKey+`, ?)`, stmts[4].SQL)
	assert.Equal(t, []any{"Person", "Rex"}, stmts[4].Args)
	assert.Equal(t, []any{"Person.dogs[0]"}, stmts[5].Args)
	assert.Equal(t, []any{"Person", "Fido"}, stmts[6].Args)

	// Without a tree nested values are ignored.
	stmts, err = orm.UpsertStatements(ast, "Person", obj, nil)
	require.NoError(t, err)
	assert.Len(t, stmts, 5)
}

func TestUpsertStatements_ManyToMany(t *testing.T) {
	ast := kennelAst()
	stmts, err := orm.UpsertStatements(ast, "Student", map[string]any{
		"name":    "Ann",
		"courses": []any{map[string]any{"title": "Math"}},
	}, ast.Models["Student"].DataSources["withCourses"])
	require.NoError(t, err)
	require.Len(t, stmts, 7)

	assert.Equal(t, `INSERT INTO "Course" ("id", "title") VALUES (?, ?)`, stmts[4].SQL)
	id, ok := stmts[4].Args[0].(string)
	require.True(t, ok)
	assert.Len(t, id, 26)

	assert.Equal(t, `INSERT OR IGNORE INTO "StudentsCourses" ("Student.id", "Course.id") VALUES (`+tmpKey+`, ?)`, stmts[5].SQL)
	assert.Equal(t, []any{"Student", id}, stmts[5].Args)
}

func TestUpsertStatements_Errors(t *testing.T) {
	ast := kennelAst()

	_, err := orm.UpsertStatements(ast, "Cat", map[string]any{}, nil)
	assert.True(t, errors.Is(err, orm.ErrUnknownModel))

	_, err = orm.UpsertStatements(ast, "Person", map[string]any{"dogs": []any{"Rex"}}, idl.IncludeTree{"dogs": {}})
	assert.ErrorContains(t, err, "Person.dogs[0]")
}

func TestUpsertStatements_UngeneratedKeyTypes(t *testing.T) {
	for _, typ := range []idl.CidlType{idl.Real, idl.DateIso, idl.Blob} {
		t.Run(typ.String(), func(t *testing.T) {
			ast := kennelAst()
			ast.Models["Breed"].PrimaryKey.Type = typ

			_, err := orm.UpsertStatements(ast, "Breed", map[string]any{"name": "Lab"}, nil)
			assert.ErrorContains(t, err, "Breed.id")
			assert.ErrorContains(t, err, "must be supplied")

			_, err = orm.UpsertStatements(ast, "Breed", map[string]any{"id": nil, "name": "Lab"}, nil)
			assert.ErrorContains(t, err, "must be supplied")
		})
	}
}

func TestViewSelect(t *testing.T) {
	ast := kennelAst()

	q, err := orm.ViewSelect(ast, "Breed", nil)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "Breed"."id" AS "Breed.id", "Breed"."name" AS "Breed.name", "Breed"."hypoallergenic" AS "Breed.hypoallergenic" FROM "Breed"`, q)

	q, err = orm.ViewSelect(ast, "Person", ast.Models["Person"].DataSources["withDogs"])
	require.NoError(t, err)
	assert.Contains(t, q, `"Person.dogs.breed"."name" AS "Person.dogs.breed.name"`)
	assert.Contains(t, q, `FROM "Person" LEFT JOIN "Dog" AS "Person.dogs" ON "Person.dogs"."personId" = "Person"."id" `+
		`LEFT JOIN "Breed" AS "Person.dogs.breed" ON "Person.dogs.breed"."id" = "Person.dogs"."breedId"`)

	q, err = orm.ViewSelect(ast, "Student", ast.Models["Student"].DataSources["withCourses"])
	require.NoError(t, err)
	assert.Contains(t, q, `LEFT JOIN "StudentsCourses" AS "Student.courses$j" ON "Student.courses$j"."Student.id" = "Student"."id"`)
	assert.Contains(t, q, `LEFT JOIN "Course" AS "Student.courses" ON "Student.courses"."id" = "Student.courses$j"."Course.id"`)

	_, err = orm.ViewSelect(ast, "Person", idl.IncludeTree{"cats": {}})
	assert.Error(t, err)
}

func TestSelectQuery(t *testing.T) {
	ast := kennelAst()

	q, err := orm.SelectQuery(ast, "Person", "withDogs", true)
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "Person.withDogs" WHERE "Person.id" = ?`, q)

	q, err = orm.SelectQuery(ast, "Person", idl.NoDataSource, false)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "Person"."id" AS "Person.id", "Person"."name" AS "Person.name" FROM "Person"`, q)

	q, err = orm.SelectQuery(ast, "Person", "", true)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(q, ` WHERE "Person"."id" = ?`))

	_, err = orm.SelectQuery(ast, "Person", "everything", false)
	assert.True(t, errors.Is(err, orm.ErrUnknownDataSource))
}

func TestMapSQL_DedupsParents(t *testing.T) {
	ast := kennelAst()
	tree := ast.Models["Person"].DataSources["withDogs"]

	dogRow := func(id int64, name string, breed orm.Row) orm.Row {
		row := orm.Row{
			"Person.id": int64(1), "Person.name": "Ada",
			"Person.dogs.id": id, "Person.dogs.personId": int64(1), "Person.dogs.name": name,
			"Person.dogs.breedId":              nil,
			"Person.dogs.breed.id":             nil,
			"Person.dogs.breed.name":           nil,
			"Person.dogs.breed.hypoallergenic": nil,
		}
		for k, v := range breed {
			row[k] = v
		}
		return row
	}
	rows := []orm.Row{
		dogRow(10, "Rex", nil),
		dogRow(11, "Fido", orm.Row{
			"Person.dogs.breedId":              int64(5),
			"Person.dogs.breed.id":             int64(5),
			"Person.dogs.breed.name":           "Pug",
			"Person.dogs.breed.hypoallergenic": int64(1),
		}),
		dogRow(12, "Spot", nil),
		{
			"Person.id": int64(2), "Person.name": nil,
			"Person.dogs.id": nil, "Person.dogs.personId": nil, "Person.dogs.breedId": nil, "Person.dogs.name": nil,
			"Person.dogs.breed.id": nil, "Person.dogs.breed.name": nil, "Person.dogs.breed.hypoallergenic": nil,
		},
	}

	people, err := orm.MapSQL(ast, "Person", rows, tree)
	require.NoError(t, err)
	require.Len(t, people, 2)

	ada := people[0]
	assert.Equal(t, int64(1), ada["id"])
	dogs := ada["dogs"].([]any)
	require.Len(t, dogs, 3)
	rex := dogs[0].(map[string]any)
	assert.Equal(t, "Rex", rex["name"])
	assert.Contains(t, rex, "breed")
	assert.Nil(t, rex["breed"])
	fido := dogs[1].(map[string]any)
	assert.Equal(t, map[string]any{"id": int64(5), "name": "Pug", "hypoallergenic": true}, fido["breed"])

	assert.Equal(t, []any{}, people[1]["dogs"])
	assert.Nil(t, people[1]["name"])
}

func TestMapSQL_NavigationOutsideTreeUnset(t *testing.T) {
	ast := kennelAst()
	rows := []orm.Row{{"Person.id": int64(1), "Person.name": "Ada"}}

	people, err := orm.MapSQL(ast, "Person", rows, nil)
	require.NoError(t, err)
	require.Len(t, people, 1)
	assert.NotContains(t, people[0], "dogs")
	assert.Equal(t, map[string]any{"id": int64(1), "name": "Ada"}, people[0])
}

func TestTree(t *testing.T) {
	ast := kennelAst()

	tree, err := orm.Tree(ast, "Person", "none")
	require.NoError(t, err)
	assert.Nil(t, tree)

	tree, err = orm.Tree(ast, "Person", "withDogs")
	require.NoError(t, err)
	assert.Equal(t, []string{"dogs"}, tree.Keys())

	_, err = orm.Tree(ast, "Nope", "none")
	assert.True(t, errors.Is(err, orm.ErrUnknownModel))
}
