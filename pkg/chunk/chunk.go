// Package chunk splits slices into fixed-size pieces for batched writes.
package chunk

// Slices partitions items into consecutive sub-slices of at most size
// elements. The chunks share the backing array of items. A size of zero or
// less yields a single chunk holding everything.
func Slices[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 {
		return [][]T{items}
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
