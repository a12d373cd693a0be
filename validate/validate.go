// Package validate re-applies the IDL type contract to runtime values.
//
// Values are expected in their decoded JSON form (map[string]any, []any,
// float64 or json.Number, string, bool, nil) or as raw strings when they were
// carried in a URL. Validate coerces them to their Go counterparts and
// instantiates Objects through the registered constructors.
package validate

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/cloesce/cloesce/idl"
)

// ErrInvalid is the single failure kind. Every validation error wraps it.
var ErrInvalid = errors.New("invalid value")

// Error reports where validation failed.
type Error struct {
	Path   string // e.g. "dogs[1].name", empty at the root
	Reason string
}

func (e *Error) Error() string {
	if e.Path == "" {
		return "invalid value: " + e.Reason
	}
	return fmt.Sprintf("invalid value at %s: %s", e.Path, e.Reason)
}

func (e *Error) Unwrap() error { return ErrInvalid }

type undefined struct{}

func (undefined) String() string { return "undefined" }

// Undefined marks an absent value, as opposed to an explicit null.
var Undefined any = undefined{}

// Constructor instantiates an entity from its validated fields.
type Constructor func(fields map[string]any) (any, error)

// Registry maps Model and PlainOldObject names to constructors.
type Registry map[string]Constructor

var structs = validator.New()

// ConstructorFor builds a *T from the validated fields by way of its JSON
// encoding, then applies its `validate` struct tags.
func ConstructorFor[T any]() Constructor {
	return func(fields map[string]any) (any, error) {
		data, err := json.Marshal(fields)
		if err != nil {
			return nil, err
		}
		v := new(T)
		if err := json.Unmarshal(data, v); err != nil {
			return nil, err
		}
		if reflect.TypeOf(v).Elem().Kind() == reflect.Struct {
			if err := structs.Struct(v); err != nil {
				return nil, err
			}
		}
		return v, nil
	}
}

// Validator is immutable after New and safe for concurrent use.
type Validator struct {
	ast   *idl.CloesceAst
	ctors Registry
}

// New returns a validator for the types declared in ast.
func New(ast *idl.CloesceAst, ctors Registry) *Validator {
	if ctors == nil {
		ctors = Registry{}
	}
	return &Validator{ast: ast, ctors: ctors}
}

// Constructor returns the constructor registered for name.
func (v *Validator) Constructor(name string) (Constructor, bool) {
	c, ok := v.ctors[name]
	return c, ok
}

// Validate checks value against t and returns the coerced value. Objects are
// instantiated through the registry when a constructor exists.
func (v *Validator) Validate(value any, t idl.CidlType) (any, error) {
	s := state{v: v, instantiate: true}
	return s.value(value, t, "")
}

// Check validates without instantiating anything.
func (v *Validator) Check(value any, t idl.CidlType) error {
	s := state{v: v}
	_, err := s.value(value, t, "")
	return err
}

type state struct {
	v           *Validator
	instantiate bool
	partial     bool
}

func fail(path, format string, args ...any) error {
	return &Error{Path: path, Reason: fmt.Sprintf(format, args...)}
}

func (s state) value(value any, t idl.CidlType, path string) (any, error) {
	if value == Undefined {
		switch t.(type) {
		case idl.Array:
			return []any{}, nil
		case idl.Partial:
			return Undefined, nil
		}
		if s.partial || t == idl.Void {
			return Undefined, nil
		}
		return nil, fail(path, "missing value for %s", t)
	}

	if value == nil || value == "null" {
		if _, ok := t.(idl.Nullable); ok {
			return nil, nil
		}
		if value == nil && (t == idl.Void || t == idl.JsonValue) {
			return nil, nil
		}
		if value == nil {
			return nil, fail(path, "null is not a %s", t)
		}
	}

	switch t := t.(type) {
	case idl.Nullable:
		return s.value(value, t.Inner, path)
	case idl.Scalar:
		return scalar(value, t, path)
	case idl.DataSource:
		name, ok := value.(string)
		if !ok {
			return nil, fail(path, "data source must be a string")
		}
		if name == idl.NoDataSource {
			return name, nil
		}
		if m, ok := s.v.ast.Models[t.Model]; ok {
			if _, ok := m.DataSources[name]; ok {
				return name, nil
			}
		}
		return nil, fail(path, "%s has no data source %q", t.Model, name)
	case idl.Inject:
		return nil, fail(path, "%s cannot be supplied by the caller", t)
	case idl.Object:
		return s.object(value, t.Name, false, path)
	case idl.Partial:
		return s.object(value, t.Name, true, path)
	case idl.Array:
		items, ok := value.([]any)
		if !ok {
			return nil, fail(path, "expected an array")
		}
		out := make([]any, len(items))
		for i, item := range items {
			if item == Undefined {
				return nil, fail(fmt.Sprintf("%s[%d]", path, i), "missing array element")
			}
			c, err := s.value(item, t.Elem, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	case idl.HttpResult:
		return s.value(value, t.Inner, path)
	}
	return nil, fail(path, "unsupported type %v", t)
}

type field struct {
	name string
	typ  idl.CidlType
	// optional fields may be absent even outside a Partial.
	optional bool
}

func (s state) fields(name string) ([]field, bool) {
	if m, ok := s.v.ast.Models[name]; ok {
		var fs []field
		if m.PrimaryKey != nil {
			fs = append(fs, field{name: m.PrimaryKey.Name, typ: m.PrimaryKey.Type})
		}
		for _, k := range m.KeyParams {
			fs = append(fs, field{name: k, typ: idl.Text})
		}
		for _, c := range m.Columns {
			fs = append(fs, field{name: c.Name, typ: c.Type})
		}
		for _, n := range m.NavigationProperties {
			var t idl.CidlType = idl.Nullable{Inner: idl.Object{Name: n.ModelReference}}
			if n.IsMany() {
				t = idl.Array{Elem: idl.Object{Name: n.ModelReference}}
			}
			fs = append(fs, field{name: n.VarName, typ: t, optional: true})
		}
		for _, b := range append(append([]idl.ObjectBinding{}, m.KVObjects...), m.R2Objects...) {
			fs = append(fs, field{name: b.VarName, typ: b.Type, optional: true})
		}
		return fs, true
	}
	if p, ok := s.v.ast.Poos[name]; ok {
		fs := make([]field, len(p.Attributes))
		for i, a := range p.Attributes {
			fs[i] = field{name: a.Name, typ: a.Type}
		}
		return fs, true
	}
	return nil, false
}

func (s state) object(value any, name string, partial bool, path string) (any, error) {
	raw, ok := value.(map[string]any)
	if !ok {
		return nil, fail(path, "expected an object for %s", name)
	}
	fs, ok := s.fields(name)
	if !ok {
		return nil, fail(path, "unknown type %s", name)
	}

	sub := s
	sub.partial = partial
	out := make(map[string]any, len(fs))
	for _, f := range fs {
		fpath := f.name
		if path != "" {
			fpath = path + "." + f.name
		}
		fv, present := raw[f.name]
		if !present {
			if f.optional {
				continue
			}
			fv = Undefined
		}
		t := f.typ
		if partial {
			t = partialOf(t)
		}
		c, err := sub.value(fv, t, fpath)
		if err != nil {
			return nil, err
		}
		if c == Undefined {
			continue
		}
		out[f.name] = c
	}

	if partial || !s.instantiate {
		return out, nil
	}
	ctor, ok := s.v.ctors[name]
	if !ok {
		return out, nil
	}
	inst, err := ctor(out)
	if err != nil {
		return nil, &Error{Path: path, Reason: fmt.Sprintf("construct %s: %v", name, err)}
	}
	return inst, nil
}

// partialOf relaxes nested objects to partials.
func partialOf(t idl.CidlType) idl.CidlType {
	switch t := t.(type) {
	case idl.Object:
		return idl.Partial{Name: t.Name}
	case idl.Nullable:
		return idl.Nullable{Inner: partialOf(t.Inner)}
	case idl.Array:
		return idl.Array{Elem: partialOf(t.Elem)}
	}
	return t
}

func scalar(value any, t idl.Scalar, path string) (any, error) {
	switch t {
	case idl.Void:
		return nil, nil
	case idl.JsonValue:
		return value, nil
	case idl.Text:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case idl.Integer:
		if n, ok := toInt(value); ok {
			return n, nil
		}
	case idl.Real:
		if f, ok := toFloat(value); ok {
			return f, nil
		}
	case idl.Boolean:
		switch b := value.(type) {
		case bool:
			return b, nil
		case string:
			if b == "true" || b == "false" {
				return b == "true", nil
			}
		}
	case idl.DateIso:
		switch d := value.(type) {
		case time.Time:
			return d, nil
		case string:
			for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
				if ts, err := time.Parse(layout, d); err == nil {
					return ts, nil
				}
			}
		}
	case idl.Blob:
		switch b := value.(type) {
		case []byte:
			return b, nil
		case string:
			if data, err := base64.StdEncoding.DecodeString(b); err == nil {
				return data, nil
			}
		case []any:
			data := make([]byte, len(b))
			for i, e := range b {
				n, ok := toInt(e)
				if !ok || n < 0 || n > 255 {
					return nil, fail(path, "blob element %d is not a byte", i)
				}
				data[i] = byte(n)
			}
			return data, nil
		}
	case idl.Stream:
		if r, ok := value.(io.Reader); ok {
			return r, nil
		}
	}
	return nil, fail(path, "%v is not a %s", describe(value), t)
}

func toInt(value any) (int64, bool) {
	switch n := value.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return floatToInt(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		if f, err := n.Float64(); err == nil {
			return floatToInt(f)
		}
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

// floatToInt converts integral floats inside the int64 range. float64(MaxInt64)
// rounds up to 2^63, so the upper bound is exclusive.
func floatToInt(f float64) (int64, bool) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func toFloat(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func describe(value any) string {
	switch v := value.(type) {
	case string:
		return strconv.Quote(v)
	case nil:
		return "null"
	}
	return fmt.Sprintf("%T", value)
}
