package cloesce

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/cloesce/cloesce/idl"
	"github.com/cloesce/cloesce/store/memory"
	"github.com/cloesce/cloesce/store/sqlite"
	"github.com/cloesce/cloesce/testutil"
	"github.com/cloesce/cloesce/validate"
)

type testPerson struct {
	ID   int64     `json:"id"`
	Name string    `json:"name" validate:"required"`
	Dogs []testDog `json:"dogs,omitempty"`
}

type testDog struct {
	ID       int64  `json:"id"`
	PersonID int64  `json:"personId"`
	Name     string `json:"name"`
}

type testSettings struct {
	UserID string         `json:"userId"`
	Prefs  map[string]any `json:"prefs"`
}

type testGreeting struct {
	Message string `json:"message" validate:"required"`
}

type testEnv struct {
	Greeting string
}

type testGreeter struct {
	env *testEnv
}

func method(name string, static bool, verb idl.HttpVerb, ret idl.CidlType, params ...idl.NamedTypedValue) *idl.ApiMethod {
	if params == nil {
		params = []idl.NamedTypedValue{}
	}
	return &idl.ApiMethod{
		Name:            name,
		IsStatic:        static,
		HttpVerb:        verb,
		ParametersMedia: idl.MediaJSON,
		Parameters:      params,
		Injected:        []idl.NamedTypedValue{},
		ReturnMedia:     idl.MediaJSON,
		ReturnType:      ret,
	}
}

func param(name string, t idl.CidlType) idl.NamedTypedValue {
	return idl.NamedTypedValue{Name: name, Type: t}
}

// testAst declares Person 1-n Dog with CRUD routes, a key-value Settings
// model, a Greeting object and a Greeter service.
func testAst() *idl.CloesceAst {
	ast := idl.NewAst("people")
	ast.WranglerEnv = &idl.WranglerEnv{
		Name:       "Env",
		D1Bindings: []string{"DB"},
		KVBindings: []string{"SETTINGS"},
		R2Bindings: []string{},
		Vars:       []idl.NamedTypedValue{param("greeting", idl.Text)},
	}

	person := idl.NewModel("Person", "person.go")
	person.PrimaryKey = &idl.NamedTypedValue{Name: "id", Type: idl.Integer}
	person.Columns = []idl.Column{{Name: "name", Type: idl.Text}}
	person.NavigationProperties = []idl.NavigationProperty{
		{VarName: "dogs", ModelReference: "Dog", Kind: idl.OneToMany, ColumnReference: "personId"},
	}
	person.DataSources["withDogs"] = idl.IncludeTree{"dogs": {}}
	person.Cruds = []idl.CrudKind{idl.CrudGet, idl.CrudList, idl.CrudSave}

	person.Methods["greet"] = method("greet", false, idl.GET, idl.Text, param("greeting", idl.Text))
	person.Methods["dogCount"] = method("dogCount", false, idl.GET, idl.Integer)
	person.Methods["search"] = method("search", true, idl.GET, idl.Array{Elem: idl.Text},
		param("prefix", idl.Text), param("limit", idl.Nullable{Inner: idl.Integer}))
	person.Methods["rename"] = method("rename", false, idl.POST, idl.Void, param("name", idl.Text))
	person.Methods["explode"] = method("explode", true, idl.POST, idl.Void)
	person.Methods["adopt"] = method("adopt", true, idl.POST, idl.HttpResult{Inner: idl.Text}, param("name", idl.Text))
	person.Methods["broken"] = method("broken", true, idl.GET, idl.Integer)
	person.Methods["unimplemented"] = method("unimplemented", true, idl.GET, idl.Void)

	upload := method("upload", true, idl.POST, idl.Integer, param("data", idl.Blob))
	upload.ParametersMedia = idl.MediaOctet
	person.Methods["upload"] = upload

	avatar := method("avatar", false, idl.GET, idl.Blob)
	avatar.ReturnMedia = idl.MediaOctet
	person.Methods["avatar"] = avatar
	ast.Models["Person"] = person

	dog := idl.NewModel("Dog", "dog.go")
	dog.PrimaryKey = &idl.NamedTypedValue{Name: "id", Type: idl.Integer}
	dog.Columns = []idl.Column{
		{Name: "personId", Type: idl.Integer, ForeignKey: "Person"},
		{Name: "name", Type: idl.Text},
	}
	ast.Models["Dog"] = dog

	settings := idl.NewModel("Settings", "settings.go")
	settings.KeyParams = []string{"userId"}
	settings.KVObjects = []idl.ObjectBinding{
		{VarName: "prefs", Binding: "SETTINGS", KeyFormat: "settings/{userId}", Type: idl.JsonValue},
	}
	settings.Methods["theme"] = method("theme", false, idl.GET, idl.Text)
	ast.Models["Settings"] = settings

	ast.Poos["Greeting"] = &idl.PlainOldObject{
		Name:       "Greeting",
		Attributes: []idl.NamedTypedValue{param("message", idl.Text)},
	}

	hello := method("hello", false, idl.POST, idl.Object{Name: "Greeting"}, param("name", idl.Text))
	hello.Injected = []idl.NamedTypedValue{param("req", idl.Inject{Name: "Request"})}
	echo := method("echo", true, idl.POST, idl.Object{Name: "Greeting"}, param("greeting", idl.Object{Name: "Greeting"}))
	ast.Services["Greeter"] = &idl.Service{
		Name:       "Greeter",
		Attributes: []idl.NamedTypedValue{param("env", idl.Inject{Name: "Env"})},
		Methods:    map[string]*idl.ApiMethod{"hello": hello, "echo": echo},
	}

	return ast
}

type testApp struct {
	*App
	db       *sqlite.DB
	settings *memory.Store
	env      *testEnv
}

// newTestApp binds a migrated in-memory database, a settings store and the
// handlers of testAst.
func newTestApp(t *testing.T) *testApp {
	t.Helper()
	ast := testAst()
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background(), ast); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ta := &testApp{
		db:       db,
		settings: memory.New(),
		env:      &testEnv{Greeting: "Hello"},
	}
	ta.App = NewApp(ast).
		WithStore(db).
		WithEnv(ta.env).
		WithObjectStore("SETTINGS", ta.settings).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		Register("Person", validate.ConstructorFor[testPerson]()).
		Register("Dog", validate.ConstructorFor[testDog]()).
		Register("Settings", validate.ConstructorFor[testSettings]()).
		Register("Greeting", validate.ConstructorFor[testGreeting]()).
		Register("Greeter", func(fields map[string]any) (any, error) {
			return &testGreeter{env: fields["env"].(*testEnv)}, nil
		})

	ta.Handle("Person", "greet", func(ctx context.Context, call *Call) (any, error) {
		p, err := Receiver[testPerson](call)
		if err != nil {
			return nil, err
		}
		greeting, err := Param[string](call, "greeting")
		if err != nil {
			return nil, err
		}
		return greeting + ", " + p.Name, nil
	})
	ta.Handle("Person", "dogCount", func(ctx context.Context, call *Call) (any, error) {
		p, err := Receiver[testPerson](call)
		if err != nil {
			return nil, err
		}
		return len(p.Dogs), nil
	})
	ta.Handle("Person", "search", func(ctx context.Context, call *Call) (any, error) {
		prefix, _ := Param[string](call, "prefix")
		limit, _ := Param[*int64](call, "limit")
		names := []string{}
		for _, n := range []string{"Ada", "Alan", "Grace"} {
			if strings.HasPrefix(n, prefix) {
				names = append(names, n)
			}
		}
		if limit != nil && int(*limit) < len(names) {
			names = names[:*limit]
		}
		return names, nil
	})
	ta.Handle("Person", "rename", func(ctx context.Context, call *Call) (any, error) {
		p, err := Receiver[testPerson](call)
		if err != nil {
			return nil, err
		}
		name, _ := Param[string](call, "name")
		_, err = call.Runtime().ORM().Upsert(ctx, "Person", map[string]any{"id": p.ID, "name": name}, idl.NoDataSource)
		SetHeader(ctx, "X-Renamed", "true")
		return nil, err
	})
	ta.Handle("Person", "explode", func(ctx context.Context, call *Call) (any, error) {
		panic("boom")
	})
	ta.Handle("Person", "adopt", func(ctx context.Context, call *Call) (any, error) {
		name, _ := Param[string](call, "name")
		if name == "Rex" {
			return Fail[string](http.StatusConflict, "Rex is already adopted"), nil
		}
		return Ok(http.StatusCreated, "adopted "+name), nil
	})
	ta.Handle("Person", "broken", func(ctx context.Context, call *Call) (any, error) {
		return "not a number", nil
	})
	ta.Handle("Person", "upload", func(ctx context.Context, call *Call) (any, error) {
		data, err := Param[[]byte](call, "data")
		if err != nil {
			return nil, err
		}
		return len(data), nil
	})
	ta.Handle("Person", "avatar", func(ctx context.Context, call *Call) (any, error) {
		p, err := Receiver[testPerson](call)
		if err != nil {
			return nil, err
		}
		return []byte("avatar of " + p.Name), nil
	})
	ta.Handle("Settings", "theme", func(ctx context.Context, call *Call) (any, error) {
		s, err := Receiver[testSettings](call)
		if err != nil {
			return nil, err
		}
		theme, _ := s.Prefs["theme"].(string)
		return theme, nil
	})
	ta.Handle("Greeter", "hello", func(ctx context.Context, call *Call) (any, error) {
		g := call.Instance.(*testGreeter)
		req := call.Injected["req"].(*http.Request)
		name, _ := Param[string](call, "name")
		msg := g.env.Greeting + ", " + name
		if lang := req.Header.Get("Accept-Language"); lang != "" {
			msg += " (" + lang + ")"
		}
		return &testGreeting{Message: msg}, nil
	})
	ta.Handle("Greeter", "echo", func(ctx context.Context, call *Call) (any, error) {
		return call.Params["greeting"], nil
	})
	return ta
}

// seed stores Ada with two dogs and returns her id.
func (ta *testApp) seed(t *testing.T, h http.Handler) int64 {
	t.Helper()
	w := testutil.NewRequest().
		POST("/api/Person/save").
		WithJSON(map[string]any{
			"model": map[string]any{
				"name": "Ada",
				"dogs": []any{map[string]any{"name": "Rex"}, map[string]any{"name": "Fido"}},
			},
			"__datasource": "withDogs",
		}).
		Do(h)
	var p testPerson
	testutil.AssertOK(t, w, &p)
	return p.ID
}
