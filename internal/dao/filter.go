package dao

import (
	"cmp"
	"slices"
	"strings"

	"go-docspace/internal/model"
)

type FilterType int

const (
	FilterAll FilterType = iota
	FilterFilesOnly
	FilterFoldersOnly
)

type SortField int

const (
	SortByTitle SortField = iota
	SortByModified
	SortBySize
)

// Filter narrows and orders ListChildren. Count <= 0 means no limit.
type Filter struct {
	Type       FilterType
	SearchText string
	SortBy     SortField
	Descending bool
	Offset     int
	Count      int
}

// Apply filters, orders (folders first) and pages entries in memory.
func Apply[T model.ID](entries []model.FileEntry[T], f Filter) []model.FileEntry[T] {
	search := strings.ToLower(strings.TrimSpace(f.SearchText))
	out := make([]model.FileEntry[T], 0, len(entries))
	for _, e := range entries {
		switch {
		case f.Type == FilterFilesOnly && e.EntryType() != model.EntryTypeFile:
			continue
		case f.Type == FilterFoldersOnly && e.EntryType() != model.EntryTypeFolder:
			continue
		case search != "" && !strings.Contains(strings.ToLower(e.Common().Title), search):
			continue
		}
		out = append(out, e)
	}

	slices.SortStableFunc(out, func(a, b model.FileEntry[T]) int {
		if a.EntryType() != b.EntryType() {
			return cmp.Compare(a.EntryType(), b.EntryType())
		}
		var c int
		switch f.SortBy {
		case SortByModified:
			c = a.Common().ModifiedOn.Compare(b.Common().ModifiedOn)
		case SortBySize:
			c = cmp.Compare(sizeOf(a), sizeOf(b))
		default:
			c = cmp.Compare(strings.ToLower(a.Common().Title), strings.ToLower(b.Common().Title))
		}
		if f.Descending {
			c = -c
		}
		return c
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return out[:0]
		}
		out = out[f.Offset:]
	}
	if f.Count > 0 && f.Count < len(out) {
		out = out[:f.Count]
	}
	return out
}

func sizeOf[T model.ID](e model.FileEntry[T]) int64 {
	if file, ok := e.(*model.File[T]); ok {
		return file.ContentLength
	}
	return 0
}
