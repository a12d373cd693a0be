package cloesce

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"strings"

	"github.com/gorilla/schema"

	"github.com/cloesce/cloesce/idl"
	"github.com/cloesce/cloesce/validate"
)

var schemaDecoder = schema.NewDecoder()

func init() {
	schemaDecoder.IgnoreUnknownKeys(true)
	schemaDecoder.ZeroEmpty(true)
}

// DataSourceParam is the parameter selecting the data source used to
// hydrate a model instance or a CRUD result.
const DataSourceParam = "__datasource"

// queryBinding is the query string shape of one API method: a struct type
// with the data source selector and one []string field per parameter,
// tagged with the parameter name for gorilla/schema.
type queryBinding struct {
	typ   reflect.Type
	names []string
}

func newQueryBinding(api *idl.ApiMethod) *queryBinding {
	fields := []reflect.StructField{{
		Name: "DataSource",
		Type: reflect.TypeOf(""),
		Tag:  reflect.StructTag(`schema:"` + DataSourceParam + `"`),
	}}
	b := &queryBinding{}
	if api.HttpVerb == idl.GET {
		for i, p := range api.Parameters {
			if p.Name == DataSourceParam {
				continue
			}
			fields = append(fields, reflect.StructField{
				Name: fmt.Sprintf("P%d", i),
				Type: reflect.TypeOf([]string(nil)),
				Tag:  reflect.StructTag(`schema:"` + p.Name + `"`),
			})
			b.names = append(b.names, p.Name)
		}
	}
	b.typ = reflect.StructOf(fields)
	return b
}

// decode returns the values of every parameter present in query and the
// data source selector.
func (b *queryBinding) decode(query url.Values) (map[string][]string, string, error) {
	v := reflect.New(b.typ)
	if err := schemaDecoder.Decode(v.Interface(), query); err != nil {
		return nil, "", Errorf(CodeInvalidArgument, "failed to decode query: %v", err)
	}
	e := v.Elem()
	vals := make(map[string][]string, len(b.names))
	for i, name := range b.names {
		if f := e.Field(i + 1).Interface().([]string); len(f) > 0 {
			vals[name] = f
		}
	}
	return vals, e.Field(0).String(), nil
}

// Call is one invocation of an API method, after validation.
type Call struct {
	Namespace string
	Method    string
	Static    bool
	// Keys are the raw key segments of the path: the primary key, or the
	// key params of a key-value model.
	Keys []string
	// DataSource selects the include tree of model reads. Defaults to "none".
	DataSource string
	// Instance is the hydrated receiver of an instance method.
	Instance any
	Params   map[string]any
	Injected map[string]any
	Request  *http.Request

	runtime *Runtime
}

// Runtime returns the runtime serving the call.
func (c *Call) Runtime() *Runtime {
	return c.runtime
}

// Endpoint returns "Namespace.Method".
func (c *Call) Endpoint() string {
	return c.Namespace + "." + c.Method
}

// Param returns the validated parameter name as a T. Values in map form
// are converted through their JSON encoding.
func Param[T any](c *Call, name string) (T, error) {
	var zero T
	v, ok := c.Params[name]
	if !ok {
		return zero, Errorf(CodeInvalidArgument, "missing parameter %s", name)
	}
	return convert[T](v)
}

// Receiver returns the instance of an instance method as a *T.
func Receiver[T any](c *Call) (*T, error) {
	if p, ok := c.Instance.(*T); ok {
		return p, nil
	}
	if c.Instance == nil {
		return nil, Errorf(CodeInternal, "%s has no instance", c.Endpoint())
	}
	return convert[*T](c.Instance)
}

func convert[T any](v any) (T, error) {
	var out T
	if t, ok := v.(T); ok {
		return t, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("convert %T: %w", v, err)
	}
	return out, nil
}

// rawParams reads the unvalidated parameters of api and the data source
// selector from r. q must have been built for api.
func rawParams(r *http.Request, api *idl.ApiMethod, q *queryBinding) (map[string]any, string, error) {
	query, ds, err := q.decode(r.URL.Query())
	if err != nil {
		return nil, "", err
	}

	if r.Method == http.MethodGet {
		raw := make(map[string]any, len(api.Parameters))
		for _, p := range api.Parameters {
			if vals, ok := query[p.Name]; ok {
				raw[p.Name] = queryValue(vals, p.Type)
			}
		}
		return raw, ds, nil
	}

	if api.ParametersMedia == idl.MediaOctet && len(api.Parameters) == 1 {
		p := api.Parameters[0]
		if idl.StripNullable(p.Type) == idl.Stream {
			return map[string]any{p.Name: r.Body}, ds, nil
		}
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, "", Errorf(CodeInvalidArgument, "failed to read body: %v", err)
		}
		return map[string]any{p.Name: data}, ds, nil
	}

	raw := make(map[string]any)
	if r.Body != nil {
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return nil, "", Errorf(CodeInvalidArgument, "failed to decode body: %v", err)
		}
	}
	if s, ok := raw[DataSourceParam].(string); ok {
		ds = s
	}
	return raw, ds, nil
}

// queryValue turns query values into the shape a JSON body would carry.
// Structured types are expected JSON encoded.
func queryValue(vals []string, t idl.CidlType) any {
	inner := idl.StripNullable(t)
	if _, ok := inner.(idl.Array); ok && len(vals) > 1 {
		out := make([]any, len(vals))
		for i, v := range vals {
			out[i] = v
		}
		return out
	}
	v := vals[0]
	switch inner.(type) {
	case idl.Object, idl.Partial, idl.Array:
		if decoded, ok := decodeJSON(v); ok {
			return decoded
		}
		if _, ok := inner.(idl.Array); ok {
			return []any{v}
		}
	}
	if inner == idl.JsonValue {
		if decoded, ok := decodeJSON(v); ok {
			return decoded
		}
	}
	return v
}

func decodeJSON(s string) (any, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}

// validateParams checks every declared parameter, in declaration order.
func (rt *Runtime) validateParams(raw map[string]any, api *idl.ApiMethod) (map[string]any, error) {
	out := make(map[string]any, len(api.Parameters))
	for _, p := range api.Parameters {
		v, ok := raw[p.Name]
		if !ok {
			v = validate.Undefined
		}
		c, err := rt.validator.Validate(v, p.Type)
		if err != nil {
			return nil, prefixPath(err, p.Name)
		}
		if c == validate.Undefined {
			continue
		}
		out[p.Name] = c
	}
	return out, nil
}

func prefixPath(err error, name string) error {
	var verr *validate.Error
	if !errors.As(err, &verr) {
		return err
	}
	path := name
	if verr.Path != "" {
		path = name + "." + verr.Path
		if strings.HasPrefix(verr.Path, "[") {
			path = name + verr.Path
		}
	}
	return &validate.Error{Path: path, Reason: verr.Reason}
}

// toWire converts a handler result to its decoded JSON form.
func toWire(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
