// Package index keeps the course catalog and the chunk content in two
// collections of one vector store. Catalog points embed only the course
// title and are used to resolve fuzzy course names; content points embed
// chunk text and carry course and lesson for filtering.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"courserag/internal/domain"
	"courserag/internal/vectorstore"
)

const (
	CatalogCollection = "course_catalog"
	ContentCollection = "course_content"
)

// payload keys
const (
	keyTitle       = "title"
	keyLink        = "link"
	keyInstructor  = "instructor"
	keyLessonsJSON = "lessons_json"
	keyLessonCount = "lesson_count"
	keySummary     = "summary"

	keyCourseTitle  = "course_title"
	keyLessonNumber = "lesson_number"
	keyChunkIndex   = "chunk_index"
	keyText         = "text"
)

// pointNamespace seeds the deterministic point ids.
var pointNamespace = uuid.MustParse("6f1c3a8e-2b4d-5e7f-9a0b-1c2d3e4f5a6b")

// Filter restricts a content search. Zero values mean "any".
type Filter struct {
	CourseTitle  string
	LessonNumber *int
}

// Entry is a catalog record.
type Entry struct {
	Course  domain.Course
	Summary string
}

type Index struct {
	store    vectorstore.Storage
	embedder domain.Embedder
	log      *zap.Logger

	mu    sync.Mutex
	ready bool
}

func New(store vectorstore.Storage, embedder domain.Embedder, log *zap.Logger) *Index {
	if log == nil {
		log = zap.NewNop()
	}
	return &Index{store: store, embedder: embedder, log: log}
}

// Init creates both collections. It is called lazily by every operation and
// only needs calling directly to surface configuration errors early.
func (ix *Index) Init(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.ready {
		return nil
	}
	dim := ix.embedder.Dimension()
	if dim == 0 {
		// remote embedders learn their dimension from the first response
		v, err := ix.embedder.Embed(ctx, "dimension check")
		if err != nil {
			return fmt.Errorf("detect embedding dimension: %w", err)
		}
		dim = len(v)
	}
	for _, name := range []string{CatalogCollection, ContentCollection} {
		if err := ix.store.Init(ctx, name, dim); err != nil {
			return fmt.Errorf("init %s (embedder %s): %w", name, ix.embedder.Name(), err)
		}
	}
	ix.ready = true
	ix.log.Debug("index ready", zap.String("embedder", ix.embedder.Name()), zap.Int("dimension", dim))
	return nil
}

// UpsertCatalog stores or overwrites the catalog entry for course.Title.
func (ix *Index) UpsertCatalog(ctx context.Context, course domain.Course, summary string) error {
	if err := ix.Init(ctx); err != nil {
		return err
	}
	p, err := ix.catalogPoint(ctx, course, summary)
	if err != nil {
		return err
	}
	return ix.store.Upsert(ctx, CatalogCollection, []vectorstore.Point{p})
}

// UpsertChunks embeds (when needed) and stores chunks, keyed by course title
// and chunk index.
func (ix *Index) UpsertChunks(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	if err := ix.Init(ctx); err != nil {
		return err
	}
	points, err := ix.chunkPoints(ctx, chunks)
	if err != nil {
		return err
	}
	return ix.store.Upsert(ctx, ContentCollection, points)
}

// ReplaceCourse swaps the course's chunk set for chunks and rewrites its
// catalog entry. Every vector is computed before the store is touched, so
// an embedding failure leaves the previous version of the course intact,
// and the chunk swap is a single Replace.
func (ix *Index) ReplaceCourse(ctx context.Context, course domain.Course, chunks []domain.Chunk, summary string) error {
	if err := ix.Init(ctx); err != nil {
		return err
	}
	entry, err := ix.catalogPoint(ctx, course, summary)
	if err != nil {
		return err
	}
	points, err := ix.chunkPoints(ctx, chunks)
	if err != nil {
		return err
	}
	if err := ix.store.Replace(ctx, ContentCollection, vectorstore.Filter{keyCourseTitle: course.Title}, points); err != nil {
		return fmt.Errorf("replace chunks of %q: %w", course.Title, err)
	}
	return ix.store.Upsert(ctx, CatalogCollection, []vectorstore.Point{entry})
}

func (ix *Index) catalogPoint(ctx context.Context, course domain.Course, summary string) (vectorstore.Point, error) {
	vec, err := ix.embedder.Embed(ctx, course.Title)
	if err != nil {
		return vectorstore.Point{}, fmt.Errorf("embed course title: %w", err)
	}
	lessons, err := json.Marshal(course.Lessons)
	if err != nil {
		return vectorstore.Point{}, fmt.Errorf("encode lessons: %w", err)
	}
	return vectorstore.Point{
		ID:     pointID(course.Title),
		Vector: vec,
		Payload: map[string]any{
			keyTitle:       course.Title,
			keyLink:        course.Link,
			keyInstructor:  course.Instructor,
			keyLessonsJSON: string(lessons),
			keyLessonCount: len(course.Lessons),
			keySummary:     summary,
		},
	}, nil
}

func (ix *Index) chunkPoints(ctx context.Context, chunks []domain.Chunk) ([]vectorstore.Point, error) {
	points := make([]vectorstore.Point, len(chunks))
	for i, c := range chunks {
		vec := c.Embedding
		if vec == nil {
			var err error
			vec, err = ix.embedder.Embed(ctx, c.Text)
			if err != nil {
				return nil, fmt.Errorf("embed chunk %d of %q: %w", c.ChunkIndex, c.CourseTitle, err)
			}
		}
		payload := map[string]any{
			keyCourseTitle: c.CourseTitle,
			keyChunkIndex:  c.ChunkIndex,
			keyText:        c.Text,
		}
		if c.LessonNumber != nil {
			payload[keyLessonNumber] = *c.LessonNumber
		}
		points[i] = vectorstore.Point{
			ID:      pointID(fmt.Sprintf("%s#%d", c.CourseTitle, c.ChunkIndex)),
			Vector:  vec,
			Payload: payload,
			Order:   c.ChunkIndex,
		}
	}
	return points, nil
}

// ResolveCourseName maps a possibly partial or misspelled course name to
// the nearest catalog title. An exact title resolves to itself.
func (ix *Index) ResolveCourseName(ctx context.Context, hint string) (string, error) {
	if err := ix.Init(ctx); err != nil {
		return "", err
	}
	exact, err := ix.store.Scroll(ctx, CatalogCollection, vectorstore.Filter{keyTitle: hint})
	if err != nil {
		return "", err
	}
	if len(exact) > 0 {
		return hint, nil
	}
	vec, err := ix.embedder.Embed(ctx, hint)
	if err != nil {
		return "", fmt.Errorf("embed course name: %w", err)
	}
	hits, err := ix.store.Search(ctx, CatalogCollection, vec, nil, 1)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return "", domain.ErrNoSuchCourse
	}
	title, _ := hits[0].Payload[keyTitle].(string)
	ix.log.Debug("resolved course name", zap.String("hint", hint), zap.String("title", title), zap.Float64("score", hits[0].Score))
	return title, nil
}

// Search returns the topK chunks most similar to query. A course hint in
// the filter is resolved first.
func (ix *Index) Search(ctx context.Context, query string, f Filter, topK int) ([]domain.SearchResult, error) {
	if err := ix.Init(ctx); err != nil {
		return nil, err
	}
	filter := vectorstore.Filter{}
	if f.CourseTitle != "" {
		title, err := ix.ResolveCourseName(ctx, f.CourseTitle)
		if err != nil {
			return nil, err
		}
		filter[keyCourseTitle] = title
	}
	if f.LessonNumber != nil {
		filter[keyLessonNumber] = *f.LessonNumber
	}
	vec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := ix.store.Search(ctx, ContentCollection, vec, filter, topK)
	if err != nil {
		return nil, err
	}
	results := make([]domain.SearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, domain.SearchResult{Chunk: chunkFromPayload(h.Payload), Score: h.Score})
	}
	return results, nil
}

// Entries returns every catalog entry sorted by title.
func (ix *Index) Entries(ctx context.Context) ([]Entry, error) {
	if err := ix.Init(ctx); err != nil {
		return nil, err
	}
	pts, err := ix.store.Scroll(ctx, CatalogCollection, nil)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(pts))
	for _, p := range pts {
		e, err := entryFromPayload(p.Payload)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Course.Title < entries[j].Course.Title })
	return entries, nil
}

func (ix *Index) ListCourses(ctx context.Context) (domain.CatalogSummary, error) {
	entries, err := ix.Entries(ctx)
	if err != nil {
		return domain.CatalogSummary{}, err
	}
	titles := make([]string, len(entries))
	for i, e := range entries {
		titles[i] = e.Course.Title
	}
	return domain.CatalogSummary{Total: len(titles), Titles: titles}, nil
}

// CourseOutline returns the catalog entry stored under the exact title.
func (ix *Index) CourseOutline(ctx context.Context, title string) (Entry, error) {
	if err := ix.Init(ctx); err != nil {
		return Entry{}, err
	}
	pts, err := ix.store.Scroll(ctx, CatalogCollection, vectorstore.Filter{keyTitle: title})
	if err != nil {
		return Entry{}, err
	}
	if len(pts) == 0 {
		return Entry{}, domain.ErrNoSuchCourse
	}
	return entryFromPayload(pts[0].Payload)
}

// Clear empties both collections.
func (ix *Index) Clear(ctx context.Context) error {
	if err := ix.Init(ctx); err != nil {
		return err
	}
	var errs []error
	for _, name := range []string{CatalogCollection, ContentCollection} {
		if err := ix.store.Clear(ctx, name); err != nil {
			errs = append(errs, fmt.Errorf("clear %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func pointID(key string) string {
	return uuid.NewSHA1(pointNamespace, []byte(key)).String()
}

func chunkFromPayload(p map[string]any) domain.Chunk {
	c := domain.Chunk{}
	c.Text, _ = p[keyText].(string)
	c.CourseTitle, _ = p[keyCourseTitle].(string)
	if n, ok := toInt(p[keyChunkIndex]); ok {
		c.ChunkIndex = n
	}
	if n, ok := toInt(p[keyLessonNumber]); ok {
		c.LessonNumber = domain.IntPtr(n)
	}
	return c
}

func entryFromPayload(p map[string]any) (Entry, error) {
	var e Entry
	e.Course.Title, _ = p[keyTitle].(string)
	e.Course.Link, _ = p[keyLink].(string)
	e.Course.Instructor, _ = p[keyInstructor].(string)
	e.Summary, _ = p[keySummary].(string)
	if raw, _ := p[keyLessonsJSON].(string); raw != "" {
		if err := json.Unmarshal([]byte(raw), &e.Course.Lessons); err != nil {
			return Entry{}, fmt.Errorf("decode lessons of %q: %w", e.Course.Title, err)
		}
	}
	return e, nil
}

// toInt reads payload numbers, which are float64 once they have been
// through JSON.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
