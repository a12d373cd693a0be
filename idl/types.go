// Package idl defines the interface description shared by the extractor, the
// generators and the runtime. A CloesceAst is built once per compilation,
// written to disk, and loaded read-only by everything downstream.
package idl

import "fmt"

// CidlType is the closed set of type shapes understood by every stage.
//
// Implementations are Scalar, DataSource, Inject, Object, Partial, Nullable,
// Array and HttpResult. Consumers switch over the concrete type; the unexported
// marker method keeps the set closed.
type CidlType interface {
	cidlType()
	String() string
}

// Scalar is a leaf CidlType.
type Scalar int

const (
	Void Scalar = iota
	Integer
	Real
	Text
	Blob
	DateIso
	Boolean
	Stream
	JsonValue
)

var scalarNames = [...]string{
	Void:      "Void",
	Integer:   "Integer",
	Real:      "Real",
	Text:      "Text",
	Blob:      "Blob",
	DateIso:   "DateIso",
	Boolean:   "Boolean",
	Stream:    "Stream",
	JsonValue: "JsonValue",
}

func (Scalar) cidlType() {}

// String returns the wire name of the scalar.
func (s Scalar) String() string {
	if s < 0 || int(s) >= len(scalarNames) {
		return fmt.Sprintf("Scalar(%d)", int(s))
	}
	return scalarNames[s]
}

// ParseScalar returns the scalar with the given wire name.
func ParseScalar(name string) (Scalar, bool) {
	for i, n := range scalarNames {
		if n == name {
			return Scalar(i), true
		}
	}
	return 0, false
}

// DataSource is a string naming one of the data sources declared on Model,
// or the "none" sentinel.
type DataSource struct{ Model string }

// Inject is a dependency-injected value, resolved by the runtime and never sent
// over the wire.
type Inject struct{ Name string }

// Object is a full instance of a Model or PlainOldObject.
type Object struct{ Name string }

// Partial is an instance of a Model or PlainOldObject where every field may be
// absent.
type Partial struct{ Name string }

// Nullable wraps exactly one inner type.
type Nullable struct{ Inner CidlType }

// Array is an ordered sequence of Elem.
type Array struct{ Elem CidlType }

// HttpResult is a tagged result carrying Inner on success.
type HttpResult struct{ Inner CidlType }

func (DataSource) cidlType() {}
func (Inject) cidlType()     {}
func (Object) cidlType()     {}
func (Partial) cidlType()    {}
func (Nullable) cidlType()   {}
func (Array) cidlType()      {}
func (HttpResult) cidlType() {}

func (t DataSource) String() string { return "DataSource(" + t.Model + ")" }
func (t Inject) String() string     { return "Inject(" + t.Name + ")" }
func (t Object) String() string     { return "Object(" + t.Name + ")" }
func (t Partial) String() string    { return "Partial(" + t.Name + ")" }
func (t Nullable) String() string   { return "Nullable(" + typeString(t.Inner) + ")" }
func (t Array) String() string      { return "Array(" + typeString(t.Elem) + ")" }
func (t HttpResult) String() string { return "HttpResult(" + typeString(t.Inner) + ")" }

func typeString(t CidlType) string {
	if t == nil {
		return "<nil>"
	}
	return t.String()
}

// Equal reports whether a and b describe the same type.
func Equal(a, b CidlType) bool {
	switch x := a.(type) {
	case Scalar:
		y, ok := b.(Scalar)
		return ok && x == y
	case DataSource:
		y, ok := b.(DataSource)
		return ok && x == y
	case Inject:
		y, ok := b.(Inject)
		return ok && x == y
	case Object:
		y, ok := b.(Object)
		return ok && x == y
	case Partial:
		y, ok := b.(Partial)
		return ok && x == y
	case Nullable:
		y, ok := b.(Nullable)
		return ok && Equal(x.Inner, y.Inner)
	case Array:
		y, ok := b.(Array)
		return ok && Equal(x.Elem, y.Elem)
	case HttpResult:
		y, ok := b.(HttpResult)
		return ok && Equal(x.Inner, y.Inner)
	default:
		return a == nil && b == nil
	}
}

// IsNullable reports whether t is a Nullable wrapper.
func IsNullable(t CidlType) bool {
	_, ok := t.(Nullable)
	return ok
}

// StripNullable removes one Nullable wrapper, if any.
func StripNullable(t CidlType) CidlType {
	if n, ok := t.(Nullable); ok {
		return n.Inner
	}
	return t
}

// ObjectName returns the Model/PlainOldObject name referenced by an Object,
// Nullable(Object) or Array(Object) shape.
func ObjectName(t CidlType) (string, bool) {
	switch x := t.(type) {
	case Object:
		return x.Name, true
	case Nullable:
		return ObjectName(x.Inner)
	case Array:
		if o, ok := x.Elem.(Object); ok {
			return o.Name, true
		}
	}
	return "", false
}

// IsSQLScalar reports whether t can be stored in a single relational column.
func IsSQLScalar(t CidlType) bool {
	switch x := StripNullable(t).(type) {
	case Scalar:
		switch x {
		case Integer, Real, Text, Blob, DateIso, Boolean, JsonValue:
			return true
		}
	}
	return false
}
