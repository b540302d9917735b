package recommend

import (
	"context"
	"fmt"
	"sync"

	"github.com/coursecompass/internal/catalog"
)

// Recommendation is one response item: a model suggestion resolved against
// the course catalog. Matched is false iff Courses is empty; unmatched
// suggestions are kept rather than dropped.
type Recommendation struct {
	SuggestedTitle string        `json:"suggested_title"`
	Reason         string        `json:"reason"`
	Matched        bool          `json:"matched"`
	Courses        []catalog.Ref `json:"courses"`
}

// maxCoursesPerSuggestion bounds how many catalog hits a suggestion carries.
const maxCoursesPerSuggestion = 3

// Matcher resolves suggestions against the course catalog.
type Matcher struct {
	catalog catalog.Store
}

// NewMatcher creates a matcher over the given catalog.
func NewMatcher(store catalog.Store) *Matcher {
	return &Matcher{catalog: store}
}

// Match looks up each suggestion's title in the catalog. Lookups are
// independent and issued concurrently; the returned slice preserves the
// suggestion order. Any lookup failure fails the whole batch.
func (m *Matcher) Match(ctx context.Context, suggestions []Suggestion) ([]Recommendation, error) {
	recommendations := make([]Recommendation, len(suggestions))
	errs := make([]error, len(suggestions))

	var wg sync.WaitGroup
	for i, suggestion := range suggestions {
		wg.Add(1)
		go func(i int, suggestion Suggestion) {
			defer wg.Done()

			courses, err := m.catalog.FindByApproximateTitle(ctx, suggestion.Title, maxCoursesPerSuggestion)
			if err != nil {
				errs[i] = fmt.Errorf("match %q: %w", suggestion.Title, err)
				return
			}

			refs := make([]catalog.Ref, 0, len(courses))
			for _, course := range courses {
				refs = append(refs, course.Ref())
			}

			recommendations[i] = Recommendation{
				SuggestedTitle: suggestion.Title,
				Reason:         suggestion.Reason,
				Matched:        len(refs) > 0,
				Courses:        refs,
			}
		}(i, suggestion)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return recommendations, nil
}
