// Package paging implements 1-based page/size pagination.
package paging

const (
	DefaultSize = 10
	MaxSize     = 100
)

// Page is a 1-based page number plus a page size.
type Page struct {
	Number int
	Size   int
}

// New normalizes number and size: non-positive values fall back to the
// defaults and size is capped at MaxSize.
func New(number, size int) Page {
	if number <= 0 {
		number = 1
	}
	if size <= 0 {
		size = DefaultSize
	}
	if size > MaxSize {
		size = MaxSize
	}
	return Page{Number: number, Size: size}
}

// Offset is the number of rows to skip.
func (p Page) Offset() int {
	if p.Number <= 1 {
		return 0
	}
	return (p.Number - 1) * p.Size
}

// Meta describes a page within a result of total items.
type Meta struct {
	CurrentPage int `json:"currentPage"`
	PageSize    int `json:"pageSize"`
	TotalItems  int `json:"totalItems"`
	TotalPages  int `json:"totalPages"`
}

func (p Page) Meta(total int) Meta {
	pages := 0
	if p.Size > 0 {
		pages = (total + p.Size - 1) / p.Size
	}
	return Meta{
		CurrentPage: p.Number,
		PageSize:    p.Size,
		TotalItems:  total,
		TotalPages:  pages,
	}
}

// Slice returns the window of items selected by p.
func Slice[T any](items []T, p Page) []T {
	start := p.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + p.Size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
