package fn

// Span is a half-open index range [Start, End).
type Span struct {
	Start int
	End   int
}

// Len returns End-Start.
func (s Span) Len() int { return s.End - s.Start }

// Ranges splits [0, n) into consecutive spans of at most size elements.
// Returns nil if n <= 0 or size <= 0.
func Ranges(n, size int) []Span {
	if n <= 0 || size <= 0 {
		return nil
	}
	out := make([]Span, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, Span{Start: start, End: end})
	}
	return out
}

// Chunk splits items into chunks of size n. Returns nil if n <= 0.
func Chunk[T any](items []T, n int) [][]T {
	spans := Ranges(len(items), n)
	if spans == nil {
		return nil
	}
	out := make([][]T, len(spans))
	for i, s := range spans {
		out[i] = items[s.Start:s.End]
	}
	return out
}

// Map applies f to each element.
func Map[T, U any](items []T, f func(T) U) []U {
	out := make([]U, len(items))
	for i, v := range items {
		out[i] = f(v)
	}
	return out
}
