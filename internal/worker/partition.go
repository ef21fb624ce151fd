package worker

// Partition splits items into at most n contiguous, non-empty, disjoint
// slices that preserve input order. Sizes differ by at most one.
func Partition[T any](items []T, n int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if n <= 0 {
		n = 1
	}
	if n > len(items) {
		n = len(items)
	}

	parts := make([][]T, 0, n)
	size, extra := len(items)/n, len(items)%n

	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < extra {
			end++
		}
		parts = append(parts, items[start:end:end])
		start = end
	}

	return parts
}
