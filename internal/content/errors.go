package content

import (
	"fmt"
	"math"

	"bhasha/internal/services"
)

// DuplicateContentError reports that a new item is too similar to an
// existing one.
type DuplicateContentError struct {
	MatchID    string
	Similarity float64
}

func (e *DuplicateContentError) Error() string {
	return fmt.Sprintf("similar content already exists (ID: %s, similarity: %d%%)", e.MatchID, e.Percent())
}

// Percent returns the similarity as a whole percentage.
func (e *DuplicateContentError) Percent() int {
	return int(math.Round(e.Similarity * 100))
}

// Unwrap classifies the error as a duplicate.
func (e *DuplicateContentError) Unwrap() error {
	return services.ErrDuplicate
}
