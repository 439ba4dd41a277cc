package server

import (
	"context"
)

// Blog represents a blog post in the blogs collection
type Blog struct {
	ID         interface{} `bson:"_id,omitempty" json:"_id,omitempty"`
	Content    string      `bson:"content" json:"content"`
	Images     []string    `bson:"images,omitempty" json:"images"`
	CreateTime int64       `bson:"createTime,omitempty" json:"createTime"`
	UpdateTime int64       `bson:"updateTime,omitempty" json:"updateTime"`
	IsFavorite bool        `bson:"isFavorite" json:"isFavorite"`
}

// Query represents a paged, sorted listing of a collection
type Query struct {
	SortField  string `json:"sort_field,omitempty"`
	Descending bool   `json:"descending,omitempty"`
	Skip       int64  `json:"skip,omitempty"`
	Limit      int64  `json:"limit,omitempty"`
}

// Collection defines the document operations the dispatcher needs from storage.
// Implementations are injected so tests can substitute an in-memory double.
type Collection interface {
	// Add inserts documents and returns their identifiers in insertion order
	Add(ctx context.Context, docs ...interface{}) ([]string, error)

	// List decodes the documents matched by query into out, which must be a pointer to a slice
	List(ctx context.Context, query *Query, out interface{}) error

	// Update sets fields on the document with the given id and returns the matched count
	Update(ctx context.Context, id string, fields map[string]interface{}) (int64, error)

	// Remove deletes the document with the given id and returns the deleted count
	Remove(ctx context.Context, id string) (int64, error)

	// RemoveAll deletes every document in the collection
	RemoveAll(ctx context.Context) (int64, error)
}
