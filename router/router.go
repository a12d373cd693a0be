// Package router is a path segment trie used to dispatch API calls.
//
// Routes are inserted as segment lists where "{}" marks a single dynamic
// segment. Dynamic segments are captured positionally, left to right.
// Literal segments are preferred over dynamic ones at every level. When the
// literal branch cannot consume the rest of the path, the dynamic branch of
// the same level is tried before the match fails, so "/Person/list" and
// "/Person/{}/get" coexist and "/Person/list/get" reaches the latter with
// "list" as its parameter. A dynamic segment never matches an empty one.
package router

import (
	"errors"
	"fmt"
	"strings"
)

// Param is the segment that matches any single path segment.
const Param = "{}"

// ErrNotFound is wrapped by every failed match.
var ErrNotFound = errors.New("route not found")

// NotFoundError carries the path that failed to match.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("route not found: %s", e.Path)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

type node[H any] struct {
	literals map[string]*node[H]
	param    *node[H]
	handler  H
	callable bool
}

func newNode[H any]() *node[H] {
	return &node[H]{literals: make(map[string]*node[H])}
}

// Router maps paths to handlers. Build it once, then share it read-only;
// Match is safe for concurrent use as long as no Insert runs.
type Router[H any] struct {
	root *node[H]
	n    int
}

// New returns an empty router.
func New[H any]() *Router[H] {
	return &Router[H]{root: newNode[H]()}
}

// Len returns the number of routes.
func (r *Router[H]) Len() int { return r.n }

// Insert adds a route. Inserting the same segments twice is an error.
func (r *Router[H]) Insert(segments []string, h H) error {
	n := r.root
	for _, seg := range segments {
		if seg == Param {
			if n.param == nil {
				n.param = newNode[H]()
			}
			n = n.param
			continue
		}
		next, ok := n.literals[seg]
		if !ok {
			next = newNode[H]()
			n.literals[seg] = next
		}
		n = next
	}
	if n.callable {
		return fmt.Errorf("duplicate route /%s", strings.Join(segments, "/"))
	}
	n.handler, n.callable = h, true
	r.n++
	return nil
}

// InsertPath adds a route written as a slash separated pattern, e.g.
// "/api/Person/{}/speak".
func (r *Router[H]) InsertPath(pattern string, h H) error {
	return r.Insert(Split(pattern), h)
}

// Match is a successful lookup.
type Match[H any] struct {
	Handler H
	Params  []string
}

// Match resolves path. Any failure is a *NotFoundError.
func (r *Router[H]) Match(path string) (Match[H], error) {
	var params []string
	if n := r.root.match(Split(path), &params); n != nil {
		return Match[H]{Handler: n.handler, Params: params}, nil
	}
	return Match[H]{}, &NotFoundError{Path: path}
}

// match walks the trie, trying the literal child before the dynamic one and
// backtracking when a branch dead-ends.
func (n *node[H]) match(segments []string, params *[]string) *node[H] {
	if len(segments) == 0 {
		if n.callable {
			return n
		}
		return nil
	}
	seg, rest := segments[0], segments[1:]
	if next, ok := n.literals[seg]; ok {
		if found := next.match(rest, params); found != nil {
			return found
		}
	}
	if n.param != nil && seg != "" {
		*params = append(*params, seg)
		if found := n.param.match(rest, params); found != nil {
			return found
		}
		*params = (*params)[:len(*params)-1]
	}
	return nil
}

// Split breaks a path into segments, ignoring leading and trailing slashes.
func Split(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
