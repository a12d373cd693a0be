package extractor

import (
	"fmt"
	"go/token"
	"strings"
)

// ErrorKind enumerates every reason extraction can fail.
type ErrorKind int

const (
	UnknownType ErrorKind = iota
	MultipleGenericType
	MissingPrimaryKey
	TooManyPrimaryKeys
	NullablePrimaryKey
	InvalidColumnType
	UnknownNavigationPropertyReference
	InvalidNavigationPropertyReference
	MissingNavigationPropertyReference
	MissingManyToManyUniqueId
	MismatchedManyToMany
	InvalidDataSourceDefinition
	InvalidIncludeTree
	MissingWranglerEnv
	TooManyWranglerEnvs
	MissingDatabaseBinding
	AppMissingDefaultExport
	MissingExport
	InvalidDirective
	DuplicateDefinition
	InvalidKeyParam
	InvalidKeyFormat
	CyclicalModelDependency
	InvalidMethodSignature
)

type kindInfo struct {
	name        string
	description string
	suggestion  string
}

var kinds = [...]kindInfo{
	UnknownType: {
		"UnknownType",
		"Encountered an unknown or unsupported type",
		"Use a primitive, a pointer to one, a slice, a declared model or plain old object, or one of the cloesce wrapper types",
	},
	MultipleGenericType: {
		"MultipleGenericType",
		"Generic types may carry at most one type argument",
		"Wrap the values in a plain old object instead of a map or multi-argument generic",
	},
	MissingPrimaryKey: {
		"MissingPrimaryKey",
		"Model has neither a primary key nor key params",
		`Tag exactly one field with cloesce:"pk" or declare key params with cloesce:"key"`,
	},
	TooManyPrimaryKeys: {
		"TooManyPrimaryKeys",
		"Model declares more than one primary key",
		`Keep cloesce:"pk" on a single field`,
	},
	NullablePrimaryKey: {
		"NullablePrimaryKey",
		"A primary key cannot be nullable",
		"Use a non-pointer type for the primary key field",
	},
	InvalidColumnType: {
		"InvalidColumnType",
		"Column type cannot be stored in a relational column",
		"Use an integer, float, string, bool, []byte or time.Time field, or mark the field as a navigation property",
	},
	UnknownNavigationPropertyReference: {
		"UnknownNavigationPropertyReference",
		"Reference to a model that does not exist or is not stored in the database",
		"Check the model name in the fk= or navigation tag",
	},
	InvalidNavigationPropertyReference: {
		"InvalidNavigationPropertyReference",
		"Navigation property does not agree with its foreign key",
		"Make the foreign key reference the navigated model and share the primary key type",
	},
	MissingNavigationPropertyReference: {
		"MissingNavigationPropertyReference",
		"Navigation property names a foreign key column that does not exist",
		"Declare the column with a matching fk= tag",
	},
	MissingManyToManyUniqueId: {
		"MissingManyToManyUniqueId",
		"Many to many navigation property lacks a junction id",
		`Name the junction table, e.g. cloesce:"many_to_many=StudentsCourses"`,
	},
	MismatchedManyToMany: {
		"MismatchedManyToMany",
		"Many to many navigation properties must pair up across two models",
		"Declare exactly one matching many_to_many field with the same id on the referenced model",
	},
	InvalidDataSourceDefinition: {
		"InvalidDataSourceDefinition",
		"Data sources must be package level vars typed cloesce.IncludeTree with a literal initializer",
		"Declare: //cloesce:datasource Model\nvar Name cloesce.IncludeTree = cloesce.IncludeTree{...}",
	},
	InvalidIncludeTree: {
		"InvalidIncludeTree",
		"Include tree references a name that is not a navigation property",
		"Only use navigation property names of the model at each level of the tree",
	},
	MissingWranglerEnv: {
		"MissingWranglerEnv",
		"No environment definition was found",
		"Mark a struct with //cloesce:env",
	},
	TooManyWranglerEnvs: {
		"TooManyWranglerEnvs",
		"More than one environment definition was found",
		"Keep //cloesce:env on a single struct",
	},
	MissingDatabaseBinding: {
		"MissingDatabaseBinding",
		"Environment declares no storage binding",
		"Add a cloesce.D1Database, cloesce.KVNamespace or cloesce.R2Bucket field",
	},
	AppMissingDefaultExport: {
		"AppMissingDefaultExport",
		"A custom app must be the sole exported app value of its file",
		"Declare a single //cloesce:app var with an initializer",
	},
	MissingExport: {
		"MissingExport",
		"Marked declarations must be exported",
		"Capitalize the declaration name",
	},
	InvalidDirective: {
		"InvalidDirective",
		"Malformed or misplaced cloesce directive",
		"Check the directive spelling and that it directly precedes a declaration",
	},
	DuplicateDefinition: {
		"DuplicateDefinition",
		"Name is declared more than once",
		"Rename one of the declarations",
	},
	InvalidKeyParam: {
		"InvalidKeyParam",
		"Key params must be strings",
		`Declare key params as string fields tagged cloesce:"key"`,
	},
	InvalidKeyFormat: {
		"InvalidKeyFormat",
		"Key format references an unknown field",
		"Only reference key params or the primary key as {name}",
	},
	CyclicalModelDependency: {
		"CyclicalModelDependency",
		"Foreign keys form a cycle",
		"Remove one of the foreign keys in the cycle",
	},
	InvalidMethodSignature: {
		"InvalidMethodSignature",
		"Method signature cannot be exposed as an API method",
		"Return T, (T, error) or error, and attach static methods to a model or service",
	},
}

func (k ErrorKind) String() string {
	if k < 0 || int(k) >= len(kinds) {
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
	return kinds[k].name
}

// Description is a human readable explanation of the kind.
func (k ErrorKind) Description() string { return kinds[k].description }

// Suggestion is a remediation hint for the kind.
func (k ErrorKind) Suggestion() string { return kinds[k].suggestion }

// Error is an extraction failure. Extraction stops at the first one.
type Error struct {
	Kind    ErrorKind
	Pos     token.Position
	Context string // e.g. "Person.dogs"
	Snippet string // offending source text, if any
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Pos.IsValid() {
		b.WriteString(e.Pos.String())
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	b.WriteString(": ")
	b.WriteString(e.Kind.Description())
	if e.Context != "" {
		b.WriteString(" (")
		b.WriteString(e.Context)
		b.WriteString(")")
	}
	return b.String()
}

// Is matches another *Error of the same kind, so errors.Is(err,
// &extractor.Error{Kind: extractor.MissingPrimaryKey}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Report renders the error with its suggestion for terminal output.
func (e *Error) Report() string {
	var b strings.Builder
	b.WriteString(e.Error())
	if e.Snippet != "" {
		b.WriteString("\n\n    ")
		b.WriteString(strings.ReplaceAll(e.Snippet, "\n", "\n    "))
	}
	b.WriteString("\n\nhint: ")
	b.WriteString(e.Kind.Suggestion())
	return b.String()
}
