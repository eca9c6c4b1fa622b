package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRankOrdersByScoreThenOrder(t *testing.T) {
	hits := []Hit{
		{Point: Point{ID: "c", Order: 2}, Score: 0.5},
		{Point: Point{ID: "a", Order: 0}, Score: 0.9},
		{Point: Point{ID: "b", Order: 1}, Score: 0.5},
		{Point: Point{ID: "d", Order: 3}, Score: 0.1},
	}

	got := Rank(hits, 3)

	ids := make([]string, len(got))
	for i, h := range got {
		ids[i] = h.ID
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestRankKeepsAllWhenTopKExceedsLength(t *testing.T) {
	hits := []Hit{{Point: Point{ID: "a"}, Score: 1}}
	assert.Len(t, Rank(hits, 10), 1)
	assert.Empty(t, Rank(nil, 3))
}

func TestMatches(t *testing.T) {
	payload := map[string]any{"course_title": "Intro to X", "lesson_number": float64(2)}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter", nil, true},
		{"string equal", Filter{"course_title": "Intro to X"}, true},
		{"string differs", Filter{"course_title": "Other"}, false},
		{"int against json number", Filter{"lesson_number": 2}, true},
		{"both conditions", Filter{"course_title": "Intro to X", "lesson_number": 2}, true},
		{"one condition fails", Filter{"course_title": "Intro to X", "lesson_number": 3}, false},
		{"missing key", Filter{"instructor": "Ada"}, false},
		{"number vs string", Filter{"lesson_number": "2"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(payload, tt.filter))
		})
	}
}
