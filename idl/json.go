package idl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// JSON encoding of CidlType: scalars are strings ("Integer"), composites are
// objects with a single key naming the variant ({"Nullable": "Text"}).

func (s Scalar) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (t DataSource) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"DataSource": t.Model})
}

func (t Inject) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"Inject": t.Name})
}

func (t Object) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"Object": t.Name})
}

func (t Partial) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"Partial": t.Name})
}

func (t Nullable) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]CidlType{"Nullable": t.Inner})
}

func (t Array) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]CidlType{"Array": t.Elem})
}

func (t HttpResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]CidlType{"HttpResult": t.Inner})
}

// UnmarshalType decodes a CidlType from its JSON form.
func UnmarshalType(data []byte) (CidlType, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	if data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return nil, err
		}
		s, ok := ParseScalar(name)
		if !ok {
			return nil, fmt.Errorf("unknown scalar type %q", name)
		}
		return s, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("decode cidl type: %w", err)
	}
	if len(obj) != 1 {
		return nil, fmt.Errorf("cidl type must have exactly one variant key, got %d", len(obj))
	}

	for variant, raw := range obj {
		switch variant {
		case "DataSource", "Inject", "Object", "Partial":
			var name string
			if err := json.Unmarshal(raw, &name); err != nil {
				return nil, fmt.Errorf("decode %s: %w", variant, err)
			}
			switch variant {
			case "DataSource":
				return DataSource{Model: name}, nil
			case "Inject":
				return Inject{Name: name}, nil
			case "Object":
				return Object{Name: name}, nil
			default:
				return Partial{Name: name}, nil
			}
		case "Nullable", "Array", "HttpResult":
			inner, err := UnmarshalType(raw)
			if err != nil {
				return nil, err
			}
			if inner == nil {
				return nil, fmt.Errorf("%s requires an inner type", variant)
			}
			switch variant {
			case "Nullable":
				return Nullable{Inner: inner}, nil
			case "Array":
				return Array{Elem: inner}, nil
			default:
				return HttpResult{Inner: inner}, nil
			}
		default:
			return nil, fmt.Errorf("unknown cidl type variant %q", variant)
		}
	}
	return nil, nil
}

func (v *NamedTypedValue) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name string          `json:"name"`
		Type json.RawMessage `json:"cidl_type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t, err := UnmarshalType(raw.Type)
	if err != nil {
		return fmt.Errorf("%s: %w", raw.Name, err)
	}
	v.Name, v.Type = raw.Name, t
	return nil
}

func (c *Column) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name       string          `json:"name"`
		Type       json.RawMessage `json:"cidl_type"`
		ForeignKey string          `json:"foreign_key_reference"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t, err := UnmarshalType(raw.Type)
	if err != nil {
		return fmt.Errorf("column %s: %w", raw.Name, err)
	}
	c.Name, c.Type, c.ForeignKey = raw.Name, t, raw.ForeignKey
	return nil
}

func (b *ObjectBinding) UnmarshalJSON(data []byte) error {
	var raw struct {
		VarName   string          `json:"var_name"`
		Binding   string          `json:"binding"`
		KeyFormat string          `json:"key_format"`
		Type      json.RawMessage `json:"cidl_type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t, err := UnmarshalType(raw.Type)
	if err != nil {
		return fmt.Errorf("binding %s: %w", raw.VarName, err)
	}
	b.VarName, b.Binding, b.KeyFormat, b.Type = raw.VarName, raw.Binding, raw.KeyFormat, t
	return nil
}

func (m *ApiMethod) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name            string            `json:"name"`
		IsStatic        bool              `json:"is_static"`
		HttpVerb        HttpVerb          `json:"http_verb"`
		ParametersMedia MediaType         `json:"parameters_media"`
		Parameters      []NamedTypedValue `json:"parameters"`
		Injected        []NamedTypedValue `json:"injected"`
		ReturnMedia     MediaType         `json:"return_media"`
		ReturnType      json.RawMessage   `json:"return_type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t, err := UnmarshalType(raw.ReturnType)
	if err != nil {
		return fmt.Errorf("method %s return type: %w", raw.Name, err)
	}
	*m = ApiMethod{
		Name:            raw.Name,
		IsStatic:        raw.IsStatic,
		HttpVerb:        raw.HttpVerb,
		ParametersMedia: raw.ParametersMedia,
		Parameters:      raw.Parameters,
		Injected:        raw.Injected,
		ReturnMedia:     raw.ReturnMedia,
		ReturnType:      t,
	}
	return nil
}

// Encode writes the document as indented JSON.
func Encode(w io.Writer, ast *CloesceAst) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(ast)
}

// Decode reads a document.
func Decode(r io.Reader) (*CloesceAst, error) {
	var ast CloesceAst
	if err := json.NewDecoder(r).Decode(&ast); err != nil {
		return nil, fmt.Errorf("decode cidl: %w", err)
	}
	if ast.Models == nil {
		ast.Models = make(map[string]*Model)
	}
	if ast.Poos == nil {
		ast.Poos = make(map[string]*PlainOldObject)
	}
	if ast.Services == nil {
		ast.Services = make(map[string]*Service)
	}
	return &ast, nil
}

// Load reads a document from path.
func Load(path string) (*CloesceAst, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// Save writes a document to path.
func Save(path string, ast *CloesceAst) error {
	var buf bytes.Buffer
	if err := Encode(&buf, ast); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}
