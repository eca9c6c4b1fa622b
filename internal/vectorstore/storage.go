package vectorstore

import (
	"context"
	"errors"
	"sort"
)

// Point is a vector with its payload, stored under a stable id.
type Point struct {
	ID      string
	Vector  []float64
	Payload map[string]any
	// Order breaks score ties; lower comes first.
	Order int
}

// Hit is a point returned by a similarity search.
type Hit struct {
	Point
	Score float64
}

// Filter is a set of payload equality conditions that must all hold.
type Filter map[string]any

// ErrDimensionMismatch is returned when a vector does not fit its collection.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Storage persists vectors in named collections and supports filtered
// similarity search. A single Upsert or Delete call is applied atomically:
// concurrent searches see the collection either before or after it.
type Storage interface {
	Init(ctx context.Context, collection string, dimension int) error
	Upsert(ctx context.Context, collection string, points []Point) error
	Search(ctx context.Context, collection string, vector []float64, filter Filter, topK int) ([]Hit, error)
	// Scroll returns every point matching filter, without vectors.
	Scroll(ctx context.Context, collection string, filter Filter) ([]Point, error)
	Delete(ctx context.Context, collection string, filter Filter) error
	// Replace swaps every point matching filter for points in one step.
	// Nothing is written when any point is rejected.
	Replace(ctx context.Context, collection string, filter Filter, points []Point) error
	Clear(ctx context.Context, collection string) error
	Close() error
}

// Rank orders hits by descending score, then ascending Order, and keeps topK.
func Rank(hits []Hit, topK int) []Hit {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Order < hits[j].Order
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// Matches reports whether payload satisfies every condition in f.
func Matches(payload map[string]any, f Filter) bool {
	for k, want := range f {
		got, ok := payload[k]
		if !ok || !equal(got, want) {
			return false
		}
	}
	return true
}

// equal compares payload values; numbers compare by value whatever their Go
// type, since payloads may have been through JSON.
func equal(a, b any) bool {
	fa, aNum := number(a)
	fb, bNum := number(b)
	if aNum || bNum {
		return aNum && bNum && fa == fb
	}
	return a == b
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
