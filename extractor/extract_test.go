package extractor

import (
	"errors"
	"go/parser"
	"go/token"
	"reflect"
	"strings"
	"testing"

	"github.com/cloesce/cloesce/idl"
)

const envSrc = `package app

import "github.com/cloesce/cloesce"

//cloesce:env
type Env struct {
	DB     cloesce.D1Database
	Cache  cloesce.KVNamespace ` + "`json:\"CACHE\"`" + `
	Region string
}
`

const header = `package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cloesce/cloesce"
)

var _ = context.Background
var _ json.RawMessage
var _ io.Reader
var _ http.Request
var _ time.Time
var _ cloesce.IncludeTree
`

func extractSources(t *testing.T, sources ...string) (*idl.CloesceAst, error) {
	t.Helper()
	fset := token.NewFileSet()
	var files []SourceFile
	for i, src := range sources {
		name := "file" + string(rune('a'+i)) + ".go"
		f, err := parser.ParseFile(fset, name, src, parser.ParseComments)
		if err != nil {
			t.Fatalf("parse %s: %v", name, err)
		}
		files = append(files, SourceFile{Path: name, Syntax: f})
	}
	return ExtractFiles("test", fset, files)
}

func mustExtract(t *testing.T, src string) *idl.CloesceAst {
	t.Helper()
	ast, err := extractSources(t, envSrc, header+src)
	if err != nil {
		var xerr *Error
		if errors.As(err, &xerr) {
			t.Fatalf("extract: %s", xerr.Report())
		}
		t.Fatalf("extract: %v", err)
	}
	return ast
}

func TestExtract_TypeInference(t *testing.T) {
	tests := []struct {
		typ  string
		want idl.CidlType
	}{
		{"int64", idl.Integer},
		{"uint8", idl.Integer},
		{"float64", idl.Real},
		{"string", idl.Text},
		{"bool", idl.Boolean},
		{"[]byte", idl.Blob},
		{"time.Time", idl.DateIso},
		{"io.ReadCloser", idl.Stream},
		{"json.RawMessage", idl.JsonValue},
		{"any", idl.JsonValue},
		{"interface{}", idl.JsonValue},
		{"*float64", idl.Nullable{Inner: idl.Real}},
		{"*string", idl.Nullable{Inner: idl.Text}},
		{"[]string", idl.Array{Elem: idl.Text}},
		{"[][]int", idl.Array{Elem: idl.Array{Elem: idl.Integer}}},
		{"*[]Dog", idl.Nullable{Inner: idl.Array{Elem: idl.Object{Name: "Dog"}}}},
		{"Dog", idl.Object{Name: "Dog"}},
		{"Point", idl.Object{Name: "Point"}},
		{"[]*Point", idl.Array{Elem: idl.Nullable{Inner: idl.Object{Name: "Point"}}}},
		{"cloesce.Partial[Dog]", idl.Partial{Name: "Dog"}},
		{"cloesce.DataSource[Dog]", idl.DataSource{Model: "Dog"}},
		{"cloesce.HttpResult[[]Dog]", idl.HttpResult{Inner: idl.Array{Elem: idl.Object{Name: "Dog"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			src := `
//cloesce:model
type Dog struct {
	ID int64 ` + "`cloesce:\"pk\"`" + `
}

//cloesce:poo
type Point struct {
	X float64
}

//cloesce:poo
type Holder struct {
	V ` + tt.typ + `
}
`
			ast := mustExtract(t, src)
			got := ast.Poos["Holder"].Attributes[0].Type
			if !idl.Equal(got, tt.want) {
				t.Errorf("%s inferred as %v, want %v", tt.typ, got, tt.want)
			}
		})
	}
}

func TestExtract_TypeErrors(t *testing.T) {
	tests := []struct {
		typ  string
		kind ErrorKind
	}{
		{"**int", UnknownType},
		{"chan int", UnknownType},
		{"[4]int", UnknownType},
		{"Unknown", UnknownType},
		{"error", UnknownType},
		{"func()", UnknownType},
		{"map[string]int", MultipleGenericType},
		{"cloesce.Pair[int, string]", MultipleGenericType},
		{"cloesce.Partial[int]", UnknownType},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			src := "\n//cloesce:poo\ntype Holder struct {\n\tV " + tt.typ + "\n}\n"
			_, err := extractSources(t, envSrc, header+src)
			assertKind(t, err, tt.kind)
		})
	}
}

func assertKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", kind)
	}
	if !errors.Is(err, &Error{Kind: kind}) {
		t.Fatalf("expected %s, got %v", kind, err)
	}
}

const personSrc = `
//cloesce:model crud=get,list,save
type Person struct {
	ID       int64   ` + "`json:\"id\" cloesce:\"pk\"`" + `
	Name     *string ` + "`json:\"name\"`" + `
	Dogs     []Dog   ` + "`json:\"dogs\" cloesce:\"one_to_many=personId\"`" + `
}

//cloesce:model
type Dog struct {
	ID       int64 ` + "`json:\"id\" cloesce:\"pk\"`" + `
	PersonID int64 ` + "`json:\"personId\" cloesce:\"fk=Person\"`" + `
	BreedID  *int64 ` + "`json:\"breedId\" cloesce:\"fk=Breed\"`" + `
	Breed    *Breed ` + "`json:\"breed\" cloesce:\"one_to_one=breedId\"`" + `
}

//cloesce:model
type Breed struct {
	ID   int64  ` + "`json:\"id\" cloesce:\"pk\"`" + `
	Name string ` + "`json:\"name\"`" + `
}
`

func TestExtract_Scenario(t *testing.T) {
	src := personSrc + `
//cloesce:datasource Person
var WithDogs cloesce.IncludeTree = cloesce.IncludeTree{
	"dogs": {"breed": {}},
}
`
	ast := mustExtract(t, src)

	person := ast.Models["Person"]
	if person == nil {
		t.Fatal("Person not extracted")
	}
	if len(person.NavigationProperties) != 1 {
		t.Fatalf("navigation properties = %d, want 1", len(person.NavigationProperties))
	}
	nav := person.NavigationProperties[0]
	want := idl.NavigationProperty{VarName: "dogs", ModelReference: "Dog", Kind: idl.OneToMany, ColumnReference: "personId"}
	if nav != want {
		t.Errorf("nav = %+v, want %+v", nav, want)
	}

	tree, ok := person.DataSources["WithDogs"]
	if !ok {
		t.Fatalf("data sources = %v", person.DataSources)
	}
	if keys := tree.Keys(); !reflect.DeepEqual(keys, []string{nav.VarName}) {
		t.Errorf("top level keys = %v", keys)
	}
	if _, ok := tree["dogs"]["breed"]; !ok {
		t.Errorf("nested tree = %v", tree)
	}

	if person.PrimaryKey == nil || person.PrimaryKey.Name != "id" || person.PrimaryKey.Type != idl.Integer {
		t.Errorf("primary key = %+v", person.PrimaryKey)
	}
	if len(person.Columns) != 1 || !idl.Equal(person.Columns[0].Type, idl.Nullable{Inner: idl.Text}) {
		t.Errorf("columns = %+v", person.Columns)
	}
	if !reflect.DeepEqual(person.Cruds, []idl.CrudKind{idl.CrudGet, idl.CrudList, idl.CrudSave}) {
		t.Errorf("cruds = %v", person.Cruds)
	}

	dog := ast.Models["Dog"]
	if col, _ := dog.Column("personId"); col == nil || col.ForeignKey != "Person" {
		t.Errorf("Dog.personId = %+v", col)
	}

	env := ast.WranglerEnv
	if env == nil || env.Name != "Env" {
		t.Fatalf("env = %+v", env)
	}
	if !reflect.DeepEqual(env.D1Bindings, []string{"DB"}) || !reflect.DeepEqual(env.KVBindings, []string{"CACHE"}) {
		t.Errorf("bindings = %+v", env)
	}
	if len(env.Vars) != 1 || env.Vars[0].Name != "Region" {
		t.Errorf("vars = %+v", env.Vars)
	}
}

func TestExtract_IncludeTree(t *testing.T) {
	tests := []struct {
		name    string
		tree    string
		wantErr bool
	}{
		{name: "empty", tree: `cloesce.IncludeTree{}`},
		{name: "one level", tree: `cloesce.IncludeTree{"dogs": {}}`},
		{name: "two levels", tree: `cloesce.IncludeTree{"dogs": {"breed": {}}}`},
		{name: "explicit nested type", tree: `cloesce.IncludeTree{"dogs": cloesce.IncludeTree{"breed": cloesce.IncludeTree{}}}`},
		{name: "unknown top level", tree: `cloesce.IncludeTree{"cats": {}}`, wantErr: true},
		{name: "column is not navigation", tree: `cloesce.IncludeTree{"name": {}}`, wantErr: true},
		{name: "unknown nested", tree: `cloesce.IncludeTree{"dogs": {"owner": {}}}`, wantErr: true},
		{name: "third level", tree: `cloesce.IncludeTree{"dogs": {"breed": {"dogs": {}}}}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := personSrc + "\n//cloesce:datasource Person\nvar Tree cloesce.IncludeTree = " + tt.tree + "\n"
			_, err := extractSources(t, envSrc, header+src)
			if tt.wantErr {
				assertKind(t, err, InvalidIncludeTree)
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestExtract_Methods(t *testing.T) {
	src := personSrc + `
//cloesce:get
func (p *Person) Speak(ctx context.Context, loud bool, r *http.Request, env Env) (string, error) {
	return "", nil
}

//cloesce:post Person
func Adopt(ctx context.Context, dog cloesce.Partial[Dog], ds cloesce.DataSource[Person]) (cloesce.HttpResult[Person], error) {
	return cloesce.HttpResult[Person]{}, nil
}

//cloesce:put Person
func Upload(body io.Reader) error { return nil }

//cloesce:service
type Mailer struct {
	Env    Env
	Client *Client ` + "`cloesce:\"inject\"`" + `
}

type Client struct{}

//cloesce:delete
func (m Mailer) Purge(days int, clock cloesce.Inject[Clock]) {}

type Clock struct{}
`
	ast := mustExtract(t, src)

	speak := ast.Models["Person"].Methods["Speak"]
	if speak == nil {
		t.Fatal("Speak not extracted")
	}
	if speak.IsStatic || speak.HttpVerb != idl.GET || speak.ReturnType != idl.Text {
		t.Errorf("Speak = %+v", speak)
	}
	if len(speak.Parameters) != 1 || speak.Parameters[0].Name != "loud" || speak.Parameters[0].Type != idl.Boolean {
		t.Errorf("Speak params = %+v", speak.Parameters)
	}
	wantInjected := []idl.NamedTypedValue{
		{Name: "r", Type: idl.Inject{Name: "Request"}},
		{Name: "env", Type: idl.Inject{Name: "Env"}},
	}
	if !reflect.DeepEqual(speak.Injected, wantInjected) {
		t.Errorf("Speak injected = %+v", speak.Injected)
	}

	adopt := ast.Models["Person"].Methods["Adopt"]
	if adopt == nil || !adopt.IsStatic || adopt.HttpVerb != idl.POST {
		t.Fatalf("Adopt = %+v", adopt)
	}
	if !idl.Equal(adopt.Parameters[0].Type, idl.Partial{Name: "Dog"}) ||
		!idl.Equal(adopt.Parameters[1].Type, idl.DataSource{Model: "Person"}) {
		t.Errorf("Adopt params = %+v", adopt.Parameters)
	}
	if !idl.Equal(adopt.ReturnType, idl.HttpResult{Inner: idl.Object{Name: "Person"}}) {
		t.Errorf("Adopt return = %v", adopt.ReturnType)
	}

	upload := ast.Models["Person"].Methods["Upload"]
	if upload.ParametersMedia != idl.MediaOctet || upload.ReturnType != idl.Void || upload.ReturnMedia != idl.MediaJSON {
		t.Errorf("Upload = %+v", upload)
	}

	mailer := ast.Services["Mailer"]
	if mailer == nil {
		t.Fatal("Mailer not extracted")
	}
	wantAttrs := []idl.NamedTypedValue{
		{Name: "Env", Type: idl.Inject{Name: "Env"}},
		{Name: "Client", Type: idl.Inject{Name: "Client"}},
	}
	if !reflect.DeepEqual(mailer.Attributes, wantAttrs) {
		t.Errorf("Mailer attributes = %+v", mailer.Attributes)
	}
	purge := mailer.Methods["Purge"]
	if purge == nil || purge.HttpVerb != idl.DELETE || len(purge.Parameters) != 1 || len(purge.Injected) != 1 {
		t.Errorf("Purge = %+v", purge)
	}
}

func TestExtract_Errors(t *testing.T) {
	pk := "`cloesce:\"pk\"`"
	tests := []struct {
		name    string
		sources []string
		kind    ErrorKind
	}{
		{
			name:    "missing primary key",
			sources: []string{envSrc, header + "//cloesce:model\ntype A struct { Name string }\n"},
			kind:    MissingPrimaryKey,
		},
		{
			name:    "too many primary keys",
			sources: []string{envSrc, header + "//cloesce:model\ntype A struct {\n\tX int " + pk + "\n\tY int " + pk + "\n}\n"},
			kind:    TooManyPrimaryKeys,
		},
		{
			name:    "nullable primary key",
			sources: []string{envSrc, header + "//cloesce:model\ntype A struct { X *int " + pk + " }\n"},
			kind:    NullablePrimaryKey,
		},
		{
			name:    "invalid column type",
			sources: []string{envSrc, header + "//cloesce:model\ntype A struct {\n\tX int " + pk + "\n\tY []string\n}\n"},
			kind:    InvalidColumnType,
		},
		{
			name:    "unknown foreign key model",
			sources: []string{envSrc, header + "//cloesce:model\ntype A struct {\n\tX int " + pk + "\n\tY int `cloesce:\"fk=Nope\"`\n}\n"},
			kind:    UnknownNavigationPropertyReference,
		},
		{
			name: "foreign key type mismatch",
			sources: []string{envSrc, header +
				"//cloesce:model\ntype A struct { X string " + pk + " }\n" +
				"//cloesce:model\ntype B struct {\n\tX int " + pk + "\n\tAID int `cloesce:\"fk=A\"`\n}\n"},
			kind: InvalidNavigationPropertyReference,
		},
		{
			name: "missing one to many column",
			sources: []string{envSrc, header +
				"//cloesce:model\ntype A struct {\n\tX int " + pk + "\n\tBs []B `cloesce:\"one_to_many=aId\"`\n}\n" +
				"//cloesce:model\ntype B struct { X int " + pk + " }\n"},
			kind: MissingNavigationPropertyReference,
		},
		{
			name: "one to one column references wrong model",
			sources: []string{envSrc, header +
				"//cloesce:model\ntype A struct {\n\tX int " + pk + "\n\tCID int `cloesce:\"fk=C\"`\n\tB *B `cloesce:\"one_to_one=CID\"`\n}\n" +
				"//cloesce:model\ntype B struct { X int " + pk + " }\n" +
				"//cloesce:model\ntype C struct { X int " + pk + " }\n"},
			kind: InvalidNavigationPropertyReference,
		},
		{
			name: "many to many without id",
			sources: []string{envSrc, header +
				"//cloesce:model\ntype A struct {\n\tX int " + pk + "\n\tBs []B `cloesce:\"many_to_many\"`\n}\n" +
				"//cloesce:model\ntype B struct { X int " + pk + " }\n"},
			kind: MissingManyToManyUniqueId,
		},
		{
			name: "unpaired many to many",
			sources: []string{envSrc, header +
				"//cloesce:model\ntype A struct {\n\tX int " + pk + "\n\tBs []B `cloesce:\"many_to_many=AB\"`\n}\n" +
				"//cloesce:model\ntype B struct { X int " + pk + " }\n"},
			kind: MismatchedManyToMany,
		},
		{
			name: "many to many to itself",
			sources: []string{envSrc, header +
				"//cloesce:model\ntype User struct {\n\tID int64 " + pk + "\n" +
				"\tFollowers []User `json:\"followers\" cloesce:\"many_to_many=Follows\"`\n" +
				"\tFollowing []User `json:\"following\" cloesce:\"many_to_many=Follows\"`\n}\n"},
			kind: MismatchedManyToMany,
		},
		{
			name: "data source without type",
			sources: []string{envSrc, header + personSrc +
				"//cloesce:datasource Person\nvar D = cloesce.IncludeTree{}\n"},
			kind: InvalidDataSourceDefinition,
		},
		{
			name: "data source without initializer",
			sources: []string{envSrc, header + personSrc +
				"//cloesce:datasource Person\nvar D cloesce.IncludeTree\n"},
			kind: InvalidDataSourceDefinition,
		},
		{
			name: "data source as field",
			sources: []string{envSrc, header +
				"//cloesce:model\ntype A struct {\n\tX int " + pk + "\n\tD cloesce.IncludeTree\n}\n"},
			kind: InvalidDataSourceDefinition,
		},
		{
			name:    "missing env",
			sources: []string{header + "//cloesce:poo\ntype P struct{}\n"},
			kind:    MissingWranglerEnv,
		},
		{
			name:    "too many envs",
			sources: []string{envSrc, header + "//cloesce:env\ntype Env2 struct { DB cloesce.D1Database }\n"},
			kind:    TooManyWranglerEnvs,
		},
		{
			name:    "env without binding",
			sources: []string{header + "//cloesce:env\ntype Env struct { Region string }\n"},
			kind:    MissingDatabaseBinding,
		},
		{
			name:    "two apps in a file",
			sources: []string{envSrc, header + "//cloesce:app\nvar App1 = 1\n\n//cloesce:app\nvar App2 = 2\n"},
			kind:    AppMissingDefaultExport,
		},
		{
			name:    "app without value",
			sources: []string{envSrc, header + "//cloesce:app\nvar App int\n"},
			kind:    AppMissingDefaultExport,
		},
		{
			name:    "unexported model",
			sources: []string{envSrc, header + "//cloesce:model\ntype a struct { X int " + pk + " }\n"},
			kind:    MissingExport,
		},
		{
			name:    "unknown directive",
			sources: []string{envSrc, header + "//cloesce:entity\ntype A struct{}\n"},
			kind:    InvalidDirective,
		},
		{
			name:    "duplicate definition",
			sources: []string{envSrc, header + "//cloesce:poo\ntype A struct{}\n", header + "//cloesce:service\ntype A struct{}\n"},
			kind:    DuplicateDefinition,
		},
		{
			name:    "non string key param",
			sources: []string{envSrc, header + "//cloesce:model\ntype A struct { K int `cloesce:\"key\"` }\n"},
			kind:    InvalidKeyParam,
		},
		{
			name: "key format references unknown field",
			sources: []string{envSrc, header +
				"//cloesce:model\ntype A struct {\n\tK string `cloesce:\"key\"`\n\tV any `cloesce:\"kv=CACHE,key=a/{missing}\"`\n}\n"},
			kind: InvalidKeyFormat,
		},
		{
			name: "foreign key cycle",
			sources: []string{envSrc, header +
				"//cloesce:model\ntype A struct {\n\tX int " + pk + "\n\tB int `cloesce:\"fk=B\"`\n}\n" +
				"//cloesce:model\ntype B struct {\n\tX int " + pk + "\n\tA int `cloesce:\"fk=A\"`\n}\n"},
			kind: CyclicalModelDependency,
		},
		{
			name:    "static method without owner",
			sources: []string{envSrc, header + personSrc + "//cloesce:get\nfunc Count() int { return 0 }\n"},
			kind:    InvalidMethodSignature,
		},
		{
			name:    "too many results",
			sources: []string{envSrc, header + personSrc + "//cloesce:get Person\nfunc Count() (int, int, error) { return 0, 0, nil }\n"},
			kind:    InvalidMethodSignature,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ast, err := extractSources(t, tt.sources...)
			if ast != nil {
				t.Errorf("expected no document on failure")
			}
			assertKind(t, err, tt.kind)

			var xerr *Error
			errors.As(err, &xerr)
			if xerr.Kind.Description() == "" || xerr.Kind.Suggestion() == "" {
				t.Errorf("%s lacks description or suggestion", xerr.Kind)
			}
			if !strings.Contains(xerr.Report(), "hint: ") {
				t.Errorf("report lacks hint: %s", xerr.Report())
			}
		})
	}
}

func TestExtract_KeyValueModel(t *testing.T) {
	src := `
//cloesce:model
type Settings struct {
	UserID string ` + "`json:\"userId\" cloesce:\"key\"`" + `
	Prefs  json.RawMessage ` + "`json:\"prefs\" cloesce:\"kv=CACHE,key=settings/{userId}\"`" + `
	Avatar io.ReadCloser ` + "`json:\"avatar\" cloesce:\"r2=FILES,key=avatars/{userId}.png\"`" + `
}
`
	ast := mustExtract(t, src)
	m := ast.Models["Settings"]
	if m.IsD1() {
		t.Error("Settings should not be relational")
	}
	if !reflect.DeepEqual(m.KeyParams, []string{"userId"}) {
		t.Errorf("key params = %v", m.KeyParams)
	}
	if len(m.KVObjects) != 1 || m.KVObjects[0].Binding != "CACHE" || m.KVObjects[0].KeyFormat != "settings/{userId}" {
		t.Errorf("kv objects = %+v", m.KVObjects)
	}
	if len(m.R2Objects) != 1 || m.R2Objects[0].Type != idl.Stream {
		t.Errorf("r2 objects = %+v", m.R2Objects)
	}
}

func TestExtract_ManyToMany(t *testing.T) {
	src := `
//cloesce:model
type Student struct {
	ID      int64    ` + "`json:\"id\" cloesce:\"pk\"`" + `
	Courses []Course ` + "`json:\"courses\" cloesce:\"many_to_many=StudentsCourses\"`" + `
}

//cloesce:model
type Course struct {
	ID       int64     ` + "`json:\"id\" cloesce:\"pk\"`" + `
	Students []Student ` + "`json:\"students\" cloesce:\"many_to_many=StudentsCourses\"`" + `
}
`
	ast := mustExtract(t, src)
	nav, ok := ast.Models["Student"].Navigation("courses")
	if !ok || nav.Kind != idl.ManyToMany || nav.UniqueID != "StudentsCourses" || nav.ModelReference != "Course" {
		t.Errorf("courses = %+v", nav)
	}
}

func TestExtract_RoundTrip(t *testing.T) {
	ast := mustExtract(t, personSrc+`
//cloesce:datasource Person name=default
var Default cloesce.IncludeTree = cloesce.IncludeTree{"dogs": {}}
`)
	var first, second strings.Builder
	if err := idl.Encode(&first, ast); err != nil {
		t.Fatal(err)
	}
	decoded, err := idl.Decode(strings.NewReader(first.String()))
	if err != nil {
		t.Fatal(err)
	}
	if err := idl.Encode(&second, decoded); err != nil {
		t.Fatal(err)
	}
	if first.String() != second.String() {
		t.Errorf("round trip changed document:\n%s\n---\n%s", first.String(), second.String())
	}
	if _, ok := decoded.Models["Person"].DataSources["default"]; !ok {
		t.Errorf("data sources = %v", decoded.Models["Person"].DataSources)
	}
}
