package index

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courserag/internal/domain"
	"courserag/internal/embedding/hashed"
	"courserag/internal/vectorstore"
	"courserag/internal/vectorstore/memory"
)

func newIndex(t *testing.T) *Index {
	t.Helper()
	ix := New(memory.NewStorage(), hashed.NewEmbedder(512), nil)
	require.NoError(t, ix.Init(context.Background()))
	return ix
}

func course(title string, lessons ...int) domain.Course {
	c := domain.Course{Title: title, Link: "https://example.com/" + title, Instructor: "Ada"}
	for _, n := range lessons {
		c.Lessons = append(c.Lessons, domain.Lesson{Number: n, Title: "Lesson title"})
	}
	return c
}

func chunk(title string, lesson, idx int, text string) domain.Chunk {
	return domain.Chunk{Text: text, CourseTitle: title, LessonNumber: domain.IntPtr(lesson), ChunkIndex: idx}
}

func TestUpsertCatalogRoundTripsThroughListCourses(t *testing.T) {
	ix := newIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.UpsertCatalog(ctx, course("Zeta Course", 1), ""))
	require.NoError(t, ix.UpsertCatalog(ctx, course("Alpha Course", 0, 1), ""))
	require.NoError(t, ix.UpsertCatalog(ctx, course("Alpha Course", 0, 1, 2), "sum"))

	got, err := ix.ListCourses(ctx)
	require.NoError(t, err)
	want := domain.CatalogSummary{Total: 2, Titles: []string{"Alpha Course", "Zeta Course"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ListCourses mismatch (-want +got):\n%s", diff)
	}

	entry, err := ix.CourseOutline(ctx, "Alpha Course")
	require.NoError(t, err)
	assert.Len(t, entry.Course.Lessons, 3)
	assert.Equal(t, "sum", entry.Summary)
	assert.Equal(t, "Ada", entry.Course.Instructor)
}

func TestResolveCourseName(t *testing.T) {
	ix := newIndex(t)
	ctx := context.Background()

	_, err := ix.ResolveCourseName(ctx, "anything")
	assert.ErrorIs(t, err, domain.ErrNoSuchCourse)

	require.NoError(t, ix.UpsertCatalog(ctx, course("Intro to X", 1), ""))
	require.NoError(t, ix.UpsertCatalog(ctx, course("Advanced Y", 1), ""))

	got, err := ix.ResolveCourseName(ctx, "into to x")
	require.NoError(t, err)
	assert.Equal(t, "Intro to X", got)

	for _, hint := range []string{"into to x", "advanced", "Y", "Intro to X"} {
		once, err := ix.ResolveCourseName(ctx, hint)
		require.NoError(t, err)
		twice, err := ix.ResolveCourseName(ctx, once)
		require.NoError(t, err)
		assert.Equal(t, once, twice, "resolve should be idempotent for %q", hint)
	}
}

func TestSearchFiltersAndOrders(t *testing.T) {
	ix := newIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.UpsertCatalog(ctx, course("Intro to X", 1, 2), ""))
	require.NoError(t, ix.UpsertCatalog(ctx, course("Advanced Y", 1), ""))
	require.NoError(t, ix.UpsertChunks(ctx, []domain.Chunk{
		chunk("Intro to X", 1, 0, "Vectors are lists of numbers."),
		chunk("Intro to X", 2, 1, "Vectors are lists of numbers."),
		chunk("Intro to X", 2, 2, "Databases store rows."),
		chunk("Advanced Y", 1, 0, "Vectors are lists of numbers."),
	}))

	res, err := ix.Search(ctx, "vectors numbers", Filter{CourseTitle: "Intro to X"}, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, 0, res[0].Chunk.ChunkIndex)
	assert.Equal(t, 1, res[1].Chunk.ChunkIndex)
	assert.GreaterOrEqual(t, res[0].Score, res[1].Score)
	for _, r := range res {
		assert.Equal(t, "Intro to X", r.Chunk.CourseTitle)
	}

	res, err = ix.Search(ctx, "vectors", Filter{CourseTitle: "into to x", LessonNumber: domain.IntPtr(2)}, 5)
	require.NoError(t, err)
	require.Len(t, res, 2)
	for _, r := range res {
		require.NotNil(t, r.Chunk.LessonNumber)
		assert.Equal(t, 2, *r.Chunk.LessonNumber)
	}

	res, err = ix.Search(ctx, "vectors", Filter{LessonNumber: domain.IntPtr(9)}, 5)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestSearchUnknownCourseOnEmptyCatalog(t *testing.T) {
	ix := newIndex(t)
	_, err := ix.Search(context.Background(), "q", Filter{CourseTitle: "Nope"}, 5)
	assert.ErrorIs(t, err, domain.ErrNoSuchCourse)
}

func TestReplaceCourseDropsStaleChunks(t *testing.T) {
	ix := newIndex(t)
	ctx := context.Background()
	c := course("Intro to X", 1)

	require.NoError(t, ix.ReplaceCourse(ctx, c, []domain.Chunk{
		chunk(c.Title, 1, 0, "one"),
		chunk(c.Title, 1, 1, "two"),
		chunk(c.Title, 1, 2, "three"),
	}, ""))
	require.NoError(t, ix.ReplaceCourse(ctx, c, []domain.Chunk{chunk(c.Title, 1, 0, "only")}, ""))

	res, err := ix.Search(ctx, "only", Filter{CourseTitle: c.Title}, 10)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "only", res[0].Chunk.Text)

	summary, err := ix.ListCourses(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
}

func TestChunksWithoutLessonNumber(t *testing.T) {
	ix := newIndex(t)
	ctx := context.Background()

	require.NoError(t, ix.UpsertChunks(ctx, []domain.Chunk{{Text: "loose text", CourseTitle: "C", ChunkIndex: 0}}))
	res, err := ix.Search(ctx, "loose text", Filter{}, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Nil(t, res[0].Chunk.LessonNumber)
}

func TestClear(t *testing.T) {
	ix := newIndex(t)
	ctx := context.Background()
	require.NoError(t, ix.UpsertCatalog(ctx, course("A"), ""))
	require.NoError(t, ix.Clear(ctx))

	summary, err := ix.ListCourses(ctx)
	require.NoError(t, err)
	assert.Zero(t, summary.Total)
	assert.Empty(t, summary.Titles)
}

func TestPointIDsAreDeterministic(t *testing.T) {
	assert.Equal(t, pointID("Intro to X#3"), pointID("Intro to X#3"))
	assert.NotEqual(t, pointID("Intro to X#3"), pointID("Intro to X#4"))
}

// brokenContent fails writes to the content collection once armed.
type brokenContent struct {
	vectorstore.Storage
	armed bool
}

var errWrite = errors.New("disk full")

func (b *brokenContent) Upsert(ctx context.Context, name string, points []vectorstore.Point) error {
	if b.armed && name == ContentCollection {
		return errWrite
	}
	return b.Storage.Upsert(ctx, name, points)
}

func (b *brokenContent) Replace(ctx context.Context, name string, f vectorstore.Filter, points []vectorstore.Point) error {
	if b.armed && name == ContentCollection {
		return errWrite
	}
	return b.Storage.Replace(ctx, name, f, points)
}

// flakyEmbedder fails on any text containing "poison".
type flakyEmbedder struct {
	*hashed.Embedder
}

func (f flakyEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if strings.Contains(text, "poison") {
		return nil, errors.New("embedding service unavailable")
	}
	return f.Embedder.Embed(ctx, text)
}

func contentTexts(t *testing.T, ix *Index, title string) []string {
	t.Helper()
	pts, err := ix.store.Scroll(context.Background(), ContentCollection, vectorstore.Filter{keyCourseTitle: title})
	require.NoError(t, err)
	var out []string
	for _, p := range pts {
		text, _ := p.Payload[keyText].(string)
		out = append(out, text)
	}
	return out
}

func TestFailedReplaceKeepsPreviousCourse(t *testing.T) {
	store := &brokenContent{Storage: memory.NewStorage()}
	ix := New(store, hashed.NewEmbedder(256), nil)
	ctx := context.Background()
	c := course("Intro to X", 1)

	require.NoError(t, ix.ReplaceCourse(ctx, c, []domain.Chunk{
		chunk(c.Title, 1, 0, "one"),
		chunk(c.Title, 1, 1, "two"),
	}, "old"))

	store.armed = true
	err := ix.ReplaceCourse(ctx, course("Intro to X", 1, 2), []domain.Chunk{chunk(c.Title, 1, 0, "new")}, "new")
	require.ErrorIs(t, err, errWrite)

	assert.ElementsMatch(t, []string{"one", "two"}, contentTexts(t, ix, c.Title))
	entry, err := ix.CourseOutline(ctx, c.Title)
	require.NoError(t, err)
	assert.Equal(t, "old", entry.Summary)
	assert.Len(t, entry.Course.Lessons, 1)
}

func TestEmbeddingFailureLeavesStoreUntouched(t *testing.T) {
	ix := New(memory.NewStorage(), flakyEmbedder{hashed.NewEmbedder(256)}, nil)
	ctx := context.Background()
	c := course("Intro to X", 1)

	require.NoError(t, ix.ReplaceCourse(ctx, c, []domain.Chunk{chunk(c.Title, 1, 0, "one")}, "old"))

	err := ix.ReplaceCourse(ctx, c, []domain.Chunk{
		chunk(c.Title, 1, 0, "fine"),
		chunk(c.Title, 1, 1, "poison pill"),
	}, "new")
	require.Error(t, err)

	assert.Equal(t, []string{"one"}, contentTexts(t, ix, c.Title))
	entry, err := ix.CourseOutline(ctx, c.Title)
	require.NoError(t, err)
	assert.Equal(t, "old", entry.Summary)
}
