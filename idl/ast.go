package idl

import "sort"

// Version is written into every CloesceAst produced by this module.
const Version = "0.1.0"

// NoDataSource is the sentinel data source name selecting the bare table.
const NoDataSource = "none"

// HttpVerb is the HTTP method an ApiMethod is served on.
type HttpVerb string

const (
	GET    HttpVerb = "GET"
	POST   HttpVerb = "POST"
	PUT    HttpVerb = "PUT"
	PATCH  HttpVerb = "PATCH"
	DELETE HttpVerb = "DELETE"
)

// ParseHttpVerb maps a lowercase directive name ("get", "post", ...) to a verb.
func ParseHttpVerb(s string) (HttpVerb, bool) {
	switch s {
	case "get":
		return GET, true
	case "post":
		return POST, true
	case "put":
		return PUT, true
	case "patch":
		return PATCH, true
	case "delete":
		return DELETE, true
	}
	return "", false
}

// MediaType is the payload encoding of parameters or a return value.
type MediaType string

const (
	MediaJSON  MediaType = "json"
	MediaOctet MediaType = "octet"
)

// CrudKind names a generated CRUD operation.
type CrudKind string

const (
	CrudGet  CrudKind = "get"
	CrudList CrudKind = "list"
	CrudSave CrudKind = "save"
)

// NavKind is the cardinality of a NavigationProperty.
type NavKind string

const (
	OneToOne   NavKind = "one_to_one"
	OneToMany  NavKind = "one_to_many"
	ManyToMany NavKind = "many_to_many"
)

// CloesceAst is the root document.
type CloesceAst struct {
	Version     string                     `json:"version"`
	ProjectName string                     `json:"project_name"`
	WranglerEnv *WranglerEnv               `json:"wrangler_env,omitempty"`
	Models      map[string]*Model          `json:"models"`
	Poos        map[string]*PlainOldObject `json:"poos"`
	Services    map[string]*Service        `json:"services"`
	AppSource   string                     `json:"app_source,omitempty"`
}

// NewAst returns an empty document for project.
func NewAst(project string) *CloesceAst {
	return &CloesceAst{
		Version:     Version,
		ProjectName: project,
		Models:      make(map[string]*Model),
		Poos:        make(map[string]*PlainOldObject),
		Services:    make(map[string]*Service),
	}
}

// ModelNames returns the model names in lexical order.
func (a *CloesceAst) ModelNames() []string {
	names := make([]string, 0, len(a.Models))
	for n := range a.Models {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ServiceNames returns the service names in lexical order.
func (a *CloesceAst) ServiceNames() []string {
	names := make([]string, 0, len(a.Services))
	for n := range a.Services {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NamedTypedValue is a name paired with its type.
type NamedTypedValue struct {
	Name string   `json:"name"`
	Type CidlType `json:"cidl_type"`
}

// Column is a persisted scalar attribute of a Model.
type Column struct {
	Name string   `json:"name"`
	Type CidlType `json:"cidl_type"`
	// ForeignKey names the Model whose primary key this column references.
	ForeignKey string `json:"foreign_key_reference,omitempty"`
}

// NavigationProperty is a relationship edge to another Model.
//
// For OneToOne, ColumnReference is the foreign key column on the declaring
// Model. For OneToMany it is the foreign key column on the referenced Model.
// ManyToMany edges pair up through UniqueID, which also names the junction table.
type NavigationProperty struct {
	VarName         string  `json:"var_name"`
	ModelReference  string  `json:"model_reference"`
	Kind            NavKind `json:"kind"`
	ColumnReference string  `json:"column_reference,omitempty"`
	UniqueID        string  `json:"unique_id,omitempty"`
}

// IsMany reports whether the property hydrates to an array.
func (n *NavigationProperty) IsMany() bool {
	return n.Kind == OneToMany || n.Kind == ManyToMany
}

// IncludeTree selects navigation properties to join and hydrate. A leaf is an
// empty map.
type IncludeTree map[string]IncludeTree

// Keys returns the top level keys in lexical order.
func (t IncludeTree) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ObjectBinding is a Model attribute stored outside the relational store, in
// a key-value namespace or a blob bucket. KeyFormat may reference key params
// and the primary key as {name}.
type ObjectBinding struct {
	VarName   string   `json:"var_name"`
	Binding   string   `json:"binding"`
	KeyFormat string   `json:"key_format"`
	Type      CidlType `json:"cidl_type"`
}

// Model is one persisted entity.
type Model struct {
	Name                 string                 `json:"name"`
	PrimaryKey           *NamedTypedValue       `json:"primary_key,omitempty"`
	Columns              []Column               `json:"columns"`
	NavigationProperties []NavigationProperty   `json:"navigation_properties"`
	KeyParams            []string               `json:"key_params"`
	KVObjects            []ObjectBinding        `json:"kv_objects"`
	R2Objects            []ObjectBinding        `json:"r2_objects"`
	Methods              map[string]*ApiMethod  `json:"methods"`
	DataSources          map[string]IncludeTree `json:"data_sources"`
	Cruds                []CrudKind             `json:"cruds"`
	SourcePath           string                 `json:"source_path"`
}

// NewModel returns a Model with every collection initialized.
func NewModel(name, path string) *Model {
	return &Model{
		Name:                 name,
		Columns:              []Column{},
		NavigationProperties: []NavigationProperty{},
		KeyParams:            []string{},
		KVObjects:            []ObjectBinding{},
		R2Objects:            []ObjectBinding{},
		Methods:              make(map[string]*ApiMethod),
		DataSources:          make(map[string]IncludeTree),
		Cruds:                []CrudKind{},
		SourcePath:           path,
	}
}

// IsD1 reports whether the model is stored in the relational store.
func (m *Model) IsD1() bool { return m.PrimaryKey != nil }

// PrimaryKeyName returns the primary key name, or "" for key-value models.
func (m *Model) PrimaryKeyName() string {
	if m.PrimaryKey == nil {
		return ""
	}
	return m.PrimaryKey.Name
}

// Column returns the column named name.
func (m *Model) Column(name string) (*Column, bool) {
	for i := range m.Columns {
		if m.Columns[i].Name == name {
			return &m.Columns[i], true
		}
	}
	return nil, false
}

// Navigation returns the navigation property named name.
func (m *Model) Navigation(name string) (*NavigationProperty, bool) {
	for i := range m.NavigationProperties {
		if m.NavigationProperties[i].VarName == name {
			return &m.NavigationProperties[i], true
		}
	}
	return nil, false
}

// HasCrud reports whether kind is enabled.
func (m *Model) HasCrud(kind CrudKind) bool {
	for _, c := range m.Cruds {
		if c == kind {
			return true
		}
	}
	return false
}

// KeySegments returns the names addressing one instance: the primary key, or
// the key params in order.
func (m *Model) KeySegments() []string {
	if m.PrimaryKey != nil {
		return []string{m.PrimaryKey.Name}
	}
	return m.KeyParams
}

// ApiMethod is a callable operation on a Model or Service.
type ApiMethod struct {
	Name            string            `json:"name"`
	IsStatic        bool              `json:"is_static"`
	HttpVerb        HttpVerb          `json:"http_verb"`
	ParametersMedia MediaType         `json:"parameters_media"`
	Parameters      []NamedTypedValue `json:"parameters"`
	// Injected lists parameters supplied by the runtime rather than the caller.
	Injected    []NamedTypedValue `json:"injected"`
	ReturnMedia MediaType         `json:"return_media"`
	ReturnType  CidlType          `json:"return_type"`
}

// PlainOldObject is a non-persisted data transfer shape.
type PlainOldObject struct {
	Name       string            `json:"name"`
	Attributes []NamedTypedValue `json:"attributes"`
	SourcePath string            `json:"source_path"`
}

// Service is a stateless container of operations. Attributes are injected.
type Service struct {
	Name       string                `json:"name"`
	Attributes []NamedTypedValue     `json:"attributes"`
	Methods    map[string]*ApiMethod `json:"methods"`
	SourcePath string                `json:"source_path"`
}

// WranglerEnv is the platform binding manifest.
type WranglerEnv struct {
	Name       string            `json:"name"`
	SourcePath string            `json:"source_path"`
	D1Bindings []string          `json:"d1_bindings"`
	KVBindings []string          `json:"kv_bindings"`
	R2Bindings []string          `json:"r2_bindings"`
	Vars       []NamedTypedValue `json:"vars"`
}
