package query

import (
	"time"

	"github.com/aerolithdb/aerolithdb/pkg/types"
)

// QueryRequest is a filter/sort/paginate request against one collection.
// Filter and the operand side of SortField both speak the same JSON-value
// vocabulary documents are stored in (map[string]any, []any, and JSON
// scalars) rather than a typed query DSL.
type QueryRequest struct {
	Filter map[string]any
	Sort   []SortField
	Limit  int
	Offset int
}

// SortField is one key in a multi-key stable sort.
type SortField struct {
	Field      string
	Descending bool
}

// QueryResult is what QueryDocuments returns: the page of matching
// documents, the total match count before pagination, how long the scan
// took, and whether every document in it was served from Hot.
type QueryResult struct {
	Documents     []types.Document
	Total         int
	ExecutionTime time.Duration
	FromCache     bool
}
