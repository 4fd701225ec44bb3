package persistence

// Page slices items for the given limit/offset and reports whether more remain.
func Page[T any](items []T, limit, offset int) ([]T, bool) {
	if offset < 0 {
		offset = 0
	}

	if offset >= len(items) {
		return make([]T, 0), false
	}

	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	return items[offset:end], end < len(items)
}
