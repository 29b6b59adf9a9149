package simulate

import "fmt"

// Batch is an inclusive range of step indexes applied between two persistence points.
type Batch struct {
	From int
	To   int
}

// SplitSteps splits n steps into batches of at most size steps.
func SplitSteps(n, size int) ([]Batch, error) {
	if size <= 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if n < 0 {
		return nil, fmt.Errorf("step count must not be negative")
	}

	batches := make([]Batch, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		end := start + size - 1
		if end >= n {
			end = n - 1
		}
		batches = append(batches, Batch{From: start, To: end})
	}
	return batches, nil
}
