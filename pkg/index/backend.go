package index

import (
	"context"
	"errors"
)

var (
	// ErrConnection means the backend could not be reached or refused the
	// request as a whole. It is never a signal that an index exists.
	ErrConnection = errors.New("index backend unreachable")
	// ErrSchemaCreate means an absent index could not be created.
	ErrSchemaCreate = errors.New("index creation failed")
	// ErrDocumentNotFound is returned by Get for an unknown id.
	ErrDocumentNotFound = errors.New("document not found")
)

// WriteFailure is a single document the backend refused.
type WriteFailure struct {
	ID     string `json:"id"`
	Status int    `json:"status,omitempty"`
	Reason string `json:"reason"`
}

// BulkResponse is the outcome of one bulk request. A returned error from
// BulkWrite means the request as a whole failed and nothing is known about
// individual documents.
type BulkResponse struct {
	Succeeded int
	Failures  []WriteFailure
}

// Query is a conjunction of exact term matches plus an optional free text match.
type Query struct {
	Terms map[string]string
	Text  string
	From  int
	Size  int

	// Mapping is the index mapping when known. Backends use it to pick the
	// exact match field of analyzed text.
	Mapping Mapping
}

type SearchResult struct {
	Total     int64      `json:"total"`
	Documents []Document `json:"documents"`
}

// Backend is a search index store.
type Backend interface {
	IndexExists(ctx context.Context, name string) (bool, error)
	CreateIndex(ctx context.Context, name string, mapping Mapping) error
	BulkWrite(ctx context.Context, name string, docs []Document) (BulkResponse, error)
	Get(ctx context.Context, name, id string) (*Document, error)
	Search(ctx context.Context, name string, q Query) (SearchResult, error)
}
