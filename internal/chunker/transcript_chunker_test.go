package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sentences(prefix string, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%s sentence number %d talks about retrieval. ", prefix, i)
	}
	return b.String()
}

func TestProcessSingleShortLesson(t *testing.T) {
	body := strings.Repeat("a", 399) + "."
	raw := "Intro to X\nhttp://x\nJane Doe\n\nLesson 1: Basics\n" + body

	doc := NewTranscriptChunker(800, 100, nil, nil).Process([]byte(raw))

	assert.Equal(t, "Intro to X", doc.Course.Title)
	assert.Equal(t, "http://x", doc.Course.Link)
	assert.Equal(t, "Jane Doe", doc.Course.Instructor)
	require.Len(t, doc.Course.Lessons, 1)
	assert.Equal(t, 1, doc.Course.Lessons[0].Number)
	assert.Equal(t, "Basics", doc.Course.Lessons[0].Title)

	require.Len(t, doc.Chunks, 1)
	ch := doc.Chunks[0]
	require.NotNil(t, ch.LessonNumber)
	assert.Equal(t, 1, *ch.LessonNumber)
	assert.Equal(t, 0, ch.ChunkIndex)
	assert.Equal(t, "Intro to X", ch.CourseTitle)
	assert.True(t, strings.HasPrefix(ch.Text, "Lesson 1 content: "))
	assert.Equal(t, LessonMarker(1)+body, ch.Text)
	assert.False(t, doc.DecodeFallback)
}

func TestProcessEmptyTranscript(t *testing.T) {
	doc := NewTranscriptChunker(800, 100, nil, nil).Process(nil)

	assert.Equal(t, "", doc.Course.Title)
	assert.NotNil(t, doc.Course.Lessons)
	assert.Empty(t, doc.Course.Lessons)
	assert.Empty(t, doc.Chunks)
}

func TestProcessMissingHeaderLines(t *testing.T) {
	doc := NewTranscriptChunker(800, 100, nil, nil).Process([]byte("Only A Title\n"))

	assert.Equal(t, "Only A Title", doc.Course.Title)
	assert.Equal(t, "", doc.Course.Link)
	assert.Equal(t, "", doc.Course.Instructor)
	assert.Empty(t, doc.Chunks)
}

func TestProcessStripsCoursePrefixes(t *testing.T) {
	raw := "Course Title: Building Agents\nCourse Link: https://example.com/agents\nCourse Instructor: Ada\n" +
		"Lesson 0: Introduction\nLesson Link: https://example.com/agents/0\nWelcome to the course."

	doc := NewTranscriptChunker(800, 100, nil, nil).Process([]byte(raw))

	assert.Equal(t, "Building Agents", doc.Course.Title)
	assert.Equal(t, "https://example.com/agents", doc.Course.Link)
	assert.Equal(t, "Ada", doc.Course.Instructor)
	require.Len(t, doc.Course.Lessons, 1)
	assert.Equal(t, "https://example.com/agents/0", doc.Course.Lessons[0].Link)
	require.Len(t, doc.Chunks, 1)
	assert.Equal(t, "Lesson 0 content: Welcome to the course.", doc.Chunks[0].Text)
}

func TestProcessLessonWithoutBody(t *testing.T) {
	raw := "T\nL\nI\nLesson 1: Empty\n\nLesson 2: Full\nSome words here."

	doc := NewTranscriptChunker(800, 100, nil, nil).Process([]byte(raw))

	require.Len(t, doc.Course.Lessons, 2)
	require.Len(t, doc.Chunks, 1)
	assert.Equal(t, 2, *doc.Chunks[0].LessonNumber)
	assert.Equal(t, 0, doc.Chunks[0].ChunkIndex)
}

func TestProcessWithoutLessonHeaders(t *testing.T) {
	raw := "T\nL\nI\nA transcript with no lessons. Just text."

	doc := NewTranscriptChunker(800, 100, nil, nil).Process([]byte(raw))

	assert.Empty(t, doc.Course.Lessons)
	require.Len(t, doc.Chunks, 1)
	assert.Nil(t, doc.Chunks[0].LessonNumber)
	assert.Equal(t, "A transcript with no lessons. Just text.", doc.Chunks[0].Text)
}

func TestProcessInvalidUTF8(t *testing.T) {
	raw := []byte("Broken \xff Title\nL\nI\nLesson 1: One\nBody \xfe text.")

	doc := NewTranscriptChunker(800, 100, nil, nil).Process(raw)

	assert.True(t, doc.DecodeFallback)
	assert.Equal(t, "Broken \uFFFD Title", doc.Course.Title)
	require.Len(t, doc.Chunks, 1)
	assert.Contains(t, doc.Chunks[0].Text, "\uFFFD")
}

func TestChunkIndexesAreContiguousAcrossLessons(t *testing.T) {
	raw := "T\nL\nI\n" +
		"Lesson 1: A\n" + sentences("first", 40) + "\n" +
		"Lesson 3: B\n" + sentences("second", 25) + "\n" +
		"Lesson 7: C\n" + sentences("third", 3)

	doc := NewTranscriptChunker(300, 50, nil, nil).Process([]byte(raw))

	require.Greater(t, len(doc.Chunks), 5)
	seen := make(map[int]int)
	for i, ch := range doc.Chunks {
		assert.Equal(t, i, ch.ChunkIndex)
		seen[ch.ChunkIndex]++
	}
	for idx, n := range seen {
		assert.Equal(t, 1, n, "chunk index %d", idx)
	}
	assert.Len(t, doc.Course.Lessons, 3)
	assert.Equal(t, []int{1, 3, 7}, []int{doc.Course.Lessons[0].Number, doc.Course.Lessons[1].Number, doc.Course.Lessons[2].Number})
}

func TestAdjacentChunksOverlapExactly(t *testing.T) {
	const size, overlap = 300, 50
	raw := "T\nL\nI\nLesson 1: A\n" + sentences("alpha", 60)

	doc := NewTranscriptChunker(size, overlap, nil, nil).Process([]byte(raw))
	require.Greater(t, len(doc.Chunks), 2)

	for i := 1; i < len(doc.Chunks); i++ {
		prev := []rune(strings.TrimPrefix(doc.Chunks[i-1].Text, LessonMarker(1)))
		next := []rune(doc.Chunks[i].Text)
		require.GreaterOrEqual(t, len(prev), overlap)
		assert.Equal(t, string(prev[len(prev)-overlap:]), string(next[:overlap]), "chunks %d/%d", i-1, i)
		assert.LessOrEqual(t, len(next), size)
	}
}

func TestChunksEndOnSentenceBoundaries(t *testing.T) {
	raw := "T\nL\nI\nLesson 1: A\n" + sentences("beta", 50)

	doc := NewTranscriptChunker(300, 50, nil, nil).Process([]byte(raw))

	for _, ch := range doc.Chunks[:len(doc.Chunks)-1] {
		assert.True(t, strings.HasSuffix(ch.Text, "."), "chunk %d ends mid-sentence: %q", ch.ChunkIndex, ch.Text)
	}
}

func TestHardLimitWithoutPunctuation(t *testing.T) {
	raw := "T\nL\nI\nLesson 1: A\n" + strings.Repeat("x", 1000)

	doc := NewTranscriptChunker(400, 100, nil, nil).Process([]byte(raw))

	require.Len(t, doc.Chunks, 3)
	assert.Equal(t, LessonMarker(1)+strings.Repeat("x", 400), doc.Chunks[0].Text)
	assert.Len(t, doc.Chunks[1].Text, 400)
	assert.Len(t, doc.Chunks[2].Text, 400)
}

func TestCustomBoundaryPunctuation(t *testing.T) {
	text := []rune("一句话。另一句话。")
	b := NewSentenceBoundary("。")

	assert.Equal(t, len(text), b.LastBoundary(text, 0, len(text)))
	assert.Equal(t, 4, b.LastBoundary(text, 0, 6))
	assert.Equal(t, -1, b.LastBoundary(text, 0, 3))
}

func TestSentenceBoundaryRequiresWhitespace(t *testing.T) {
	b := NewSentenceBoundary("")
	text := []rune("version 1.2 is out. yes")

	assert.Equal(t, 19, b.LastBoundary(text, 0, len(text)))
	assert.Equal(t, -1, b.LastBoundary(text, 0, 15))
}
