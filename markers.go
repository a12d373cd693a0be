package cloesce

import (
	"context"

	"github.com/cloesce/cloesce/idl"
	"github.com/cloesce/cloesce/orm"
)

// The declarations below are the types model source refers to. The
// extractor recognizes them by name; at runtime they are what handlers
// receive.

// IncludeTree is the type of a data source declaration:
//
//	//cloesce:datasource Person
//	var WithDogs = cloesce.IncludeTree{"dogs": {}}
type IncludeTree = idl.IncludeTree

// Partial is an instance of T where every field may be absent, in its
// validated map form.
type Partial[T any] map[string]any

// DataSource names one of the data sources of model T, or "none".
type DataSource[T any] string

// Inject marks a parameter or service attribute resolved by the runtime
// from the values given to App.WithInjectable.
type Inject[T any] struct {
	Value T
}

// D1Database is the relational store binding of an env.
type D1Database = orm.Store

// ObjectStore is a key-value namespace or blob bucket binding.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// KVNamespace is a key-value binding of an env.
type KVNamespace = ObjectStore

// R2Bucket is a blob bucket binding of an env.
type R2Bucket = ObjectStore
