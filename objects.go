package cloesce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloesce/cloesce/idl"
)

// hydrate loads the receiver of an instance method: the row and its data
// source from the relational store, or the key params of a key-value model,
// plus every key-value and blob attribute found in the object stores.
func (rt *Runtime) hydrate(ctx context.Context, m *idl.Model, keys []string, ds string) (any, error) {
	fields := make(map[string]any)
	if m.IsD1() {
		if rt.orm == nil {
			return nil, Errorf(CodeUnavailable, "no relational store bound for %s", m.Name)
		}
		key, err := rt.validator.Validate(keys[0], m.PrimaryKey.Type)
		if err != nil {
			return nil, prefixPath(err, m.PrimaryKey.Name)
		}
		row, err := rt.orm.Get(ctx, m.Name, key, ds)
		if err != nil {
			return nil, err
		}
		if row == nil {
			return nil, Errorf(CodeNotFound, "%s %s not found", m.Name, keys[0])
		}
		fields = row
	} else {
		for i, k := range m.KeyParams {
			fields[k] = keys[i]
		}
	}

	if err := rt.loadObjects(ctx, m, fields); err != nil {
		return nil, err
	}
	inst, err := rt.validator.Validate(fields, idl.Object{Name: m.Name})
	if err != nil {
		return nil, Errorf(CodeInternal, "stored %s is invalid: %v", m.Name, err)
	}
	return inst, nil
}

func (rt *Runtime) loadObjects(ctx context.Context, m *idl.Model, fields map[string]any) error {
	load := func(b idl.ObjectBinding) error {
		store, ok := rt.objects[b.Binding]
		if !ok {
			return Errorf(CodeInternal, "no object store bound to %s", b.Binding)
		}
		key, err := FormatKey(b.KeyFormat, fields)
		if err != nil {
			return Errorf(CodeInternal, "%s.%s: %v", m.Name, b.VarName, err)
		}
		data, found, err := store.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("load %s from %s: %w", key, b.Binding, err)
		}
		if !found {
			return nil
		}
		v, err := decodeObject(b.Type, data)
		if err != nil {
			return Errorf(CodeInternal, "decode %s from %s: %v", key, b.Binding, err)
		}
		fields[b.VarName] = v
		return nil
	}
	for _, b := range m.KVObjects {
		if err := load(b); err != nil {
			return err
		}
	}
	for _, b := range m.R2Objects {
		if err := load(b); err != nil {
			return err
		}
	}
	return nil
}

// FormatKey fills the {name} placeholders of an object key format from
// fields.
func FormatKey(format string, fields map[string]any) (string, error) {
	var sb strings.Builder
	for {
		open := strings.IndexByte(format, '{')
		if open < 0 {
			sb.WriteString(format)
			return sb.String(), nil
		}
		closing := strings.IndexByte(format[open:], '}')
		if closing < 0 {
			return "", fmt.Errorf("unbalanced braces in key format")
		}
		name := format[open+1 : open+closing]
		v, ok := fields[name]
		if !ok || v == nil {
			return "", fmt.Errorf("no value for {%s}", name)
		}
		sb.WriteString(format[:open])
		sb.WriteString(fmt.Sprint(v))
		format = format[open+closing+1:]
	}
}

func decodeObject(t idl.CidlType, data []byte) (any, error) {
	switch idl.StripNullable(t) {
	case idl.Stream:
		return bytes.NewReader(data), nil
	case idl.Blob:
		return data, nil
	case idl.Text:
		return string(data), nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// crudMethod describes a generated CRUD operation as an ApiMethod so it is
// decoded and validated like any other.
func crudMethod(m *idl.Model, kind idl.CrudKind) *idl.ApiMethod {
	api := &idl.ApiMethod{
		Name:            string(kind),
		HttpVerb:        idl.GET,
		ParametersMedia: idl.MediaJSON,
		Parameters:      []idl.NamedTypedValue{},
		Injected:        []idl.NamedTypedValue{},
		ReturnMedia:     idl.MediaJSON,
		ReturnType:      idl.Object{Name: m.Name},
	}
	switch kind {
	case idl.CrudList:
		api.IsStatic = true
		api.ReturnType = idl.Array{Elem: idl.Object{Name: m.Name}}
	case idl.CrudSave:
		api.IsStatic = true
		api.HttpVerb = idl.POST
		api.Parameters = []idl.NamedTypedValue{{Name: "model", Type: idl.Partial{Name: m.Name}}}
	}
	return api
}

func (rt *Runtime) crudHandler(kind idl.CrudKind) HandlerFunc {
	switch kind {
	case idl.CrudGet:
		return func(ctx context.Context, call *Call) (any, error) {
			return call.Instance, nil
		}
	case idl.CrudList:
		return func(ctx context.Context, call *Call) (any, error) {
			if rt.orm == nil {
				return nil, Errorf(CodeUnavailable, "no relational store bound")
			}
			rows, err := rt.orm.List(ctx, call.Namespace, call.DataSource)
			if err != nil {
				return nil, err
			}
			out := make([]any, len(rows))
			for i, row := range rows {
				if out[i], err = rt.instantiate(ctx, call.Namespace, row); err != nil {
					return nil, err
				}
			}
			return out, nil
		}
	case idl.CrudSave:
		return func(ctx context.Context, call *Call) (any, error) {
			if rt.orm == nil {
				return nil, Errorf(CodeUnavailable, "no relational store bound")
			}
			key, err := rt.orm.Upsert(ctx, call.Namespace, call.Params["model"], call.DataSource)
			if err != nil {
				return nil, err
			}
			row, err := rt.orm.Get(ctx, call.Namespace, key, call.DataSource)
			if err != nil {
				return nil, err
			}
			if row == nil {
				return nil, Errorf(CodeInternal, "%s %v vanished after save", call.Namespace, key)
			}
			return rt.instantiate(ctx, call.Namespace, row)
		}
	}
	return notImplemented
}

func (rt *Runtime) instantiate(ctx context.Context, model string, row map[string]any) (any, error) {
	if err := rt.loadObjects(ctx, rt.ast.Models[model], row); err != nil {
		return nil, err
	}
	inst, err := rt.validator.Validate(row, idl.Object{Name: model})
	if err != nil {
		return nil, Errorf(CodeInternal, "stored %s is invalid: %v", model, err)
	}
	return inst, nil
}
