package treestore

import "encoding/json"

// Node is a raw node read from the store.
type Node struct {
	Path  string
	Value json.RawMessage
}

// Item is a node decoded into T.
type Item[T any] struct {
	Path  string
	Value T
}
