package domain

// Page is the offset/limit pagination used by list queries. A Limit <= 0
// means no limit.
type Page struct {
	Limit   int
	Offset  int
	Reverse bool
}

// NewPage returns a normalized Page.
func NewPage(limit, offset int, reverse bool) Page {
	if limit < 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}
	return Page{Limit: limit, Offset: offset, Reverse: reverse}
}

// Unbounded is the page returning every row in natural order.
var Unbounded = Page{}

// Paginate applies offset and limit to an already sorted list.
func Paginate[T any](items []T, page Page) []T {
	offset := page.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if page.Limit > 0 && page.Limit < len(items) {
		items = items[:page.Limit]
	}
	return items
}
