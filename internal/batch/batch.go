// Package batch splits work into model-call-sized groups.
package batch

// Bounds holds the elastic batch sizing parameters.
type Bounds struct {
	// Size is the target batch size.
	Size int
	// Min is the smallest batch worth a model call; a trailing remainder
	// below Min is absorbed into the previous batch.
	Min int
	// Max caps a batch after absorbing a remainder.
	Max int
}

// Split partitions n items (by index) into batches of [start, end) ranges.
// Every batch has Size items except the last, which absorbs any remainder
// smaller than Min as long as the merged batch stays within Max; otherwise
// the remainder stands as its own batch.
func Split(n int, b Bounds) [][2]int {
	if n <= 0 {
		return nil
	}
	size := b.Size
	if size <= 0 {
		size = 1
	}

	var out [][2]int
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, [2]int{start, end})
	}

	if len(out) >= 2 {
		last := out[len(out)-1]
		remainder := last[1] - last[0]
		prev := out[len(out)-2]
		if remainder < b.Min && (prev[1]-prev[0])+remainder <= b.Max {
			out[len(out)-2] = [2]int{prev[0], last[1]}
			out = out[:len(out)-1]
		}
	}
	return out
}
