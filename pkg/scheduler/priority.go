package scheduler

import "github.com/AndPuQing/gflow/pkg/models"

// lessReady implements the strict total order of ready jobs, highest
// priority first: larger Priority wins; tie broken by a finite
// TimeLimitSecs (smaller wins) beating an unset one; final tie broken by
// smaller ID (FIFO by submission).
func lessReady(a, b *models.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	aHas, bHas := a.TimeLimitSecs != nil, b.TimeLimitSecs != nil
	if aHas != bHas {
		return aHas
	}
	if aHas && bHas && *a.TimeLimitSecs != *b.TimeLimitSecs {
		return *a.TimeLimitSecs < *b.TimeLimitSecs
	}
	return a.ID < b.ID
}

// sortReady orders a ready-set in place per lessReady, using a stable
// insertion sort since ready-sets are small and determinism under equal
// keys matters more than asymptotic speed here.
func sortReady(jobs []*models.Job) {
	for i := 1; i < len(jobs); i++ {
		for j := i; j > 0 && lessReady(jobs[j], jobs[j-1]); j-- {
			jobs[j], jobs[j-1] = jobs[j-1], jobs[j]
		}
	}
}
