package mcpservice

import "strconv"

// DefaultPageSize bounds list results when the caller does not configure one.
const DefaultPageSize = 50

// Paginate slices a full, already-filtered result set using a decimal integer
// offset cursor. Filtering must happen before paging so cursors stay stable
// for a given session scope. An unparseable or out-of-range cursor restarts
// from the beginning rather than failing the request.
func Paginate[T any](all []T, pageSize int, cursor string) (items []T, nextCursor string) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	start := 0
	if cursor != "" {
		if n, err := strconv.Atoi(cursor); err == nil && n >= 0 && n <= len(all) {
			start = n
		}
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	items = make([]T, end-start)
	copy(items, all[start:end])
	if end < len(all) {
		nextCursor = strconv.Itoa(end)
	}
	return items, nextCursor
}
