package query

import (
	"sort"
	"strings"

	"github.com/aerolithdb/aerolithdb/pkg/types"
)

// sortDocuments stably sorts docs in place by fields, evaluated in order —
// the first field that differs between two documents decides their
// relative order, just like a SQL multi-column ORDER BY. A missing field
// sorts before any present value when ascending; Descending reverses the
// whole comparison, so missing fields sort after every present value when
// descending. A sort on a sparse field never panics.
func sortDocuments(docs []types.Document, fields []SortField) {
	if len(fields) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, f := range fields {
			vi, oki := fieldByPath(docs[i].Data, f.Field)
			vj, okj := fieldByPath(docs[j].Data, f.Field)
			cmp := compareForSort(vi, oki, vj, okj)
			if cmp == 0 {
				continue
			}
			if f.Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

// compareForSort returns -1, 0, or 1 for (vi, oki) vs (vj, okj), treating a
// missing field as less than any present value (sortDocuments applies the
// sort direction afterwards), then falling back to numeric or string
// comparison for present values of compatible type.
func compareForSort(vi any, oki bool, vj any, okj bool) int {
	switch {
	case !oki && !okj:
		return 0
	case !oki:
		return -1
	case !okj:
		return 1
	}

	fi, iIsNumber := asFloat(vi)
	fj, jIsNumber := asFloat(vj)
	if iIsNumber && jIsNumber {
		switch {
		case fi < fj:
			return -1
		case fi > fj:
			return 1
		default:
			return 0
		}
	}

	si, iIsString := vi.(string)
	sj, jIsString := vj.(string)
	if iIsString && jIsString {
		return strings.Compare(si, sj)
	}

	// Mixed types across documents: numbers sort before strings.
	switch {
	case iIsNumber && jIsString:
		return -1
	case iIsString && jIsNumber:
		return 1
	}

	// Any other incomparable pairing (e.g. a bool against a number): treat
	// as equal rather than imposing an arbitrary order, deferring to the
	// next sort key or input order.
	return 0
}

// paginate applies offset then limit to a sorted slice. offset beyond the
// slice's length yields an empty page rather than an error; limit <= 0
// means unbounded.
func paginate(docs []types.Document, offset, limit int) []types.Document {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(docs) {
		return []types.Document{}
	}
	end := len(docs)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return docs[offset:end]
}
