package chunker

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"courserag/internal/domain"
)

const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 100
)

var (
	lessonHeaderRe = regexp.MustCompile(`(?i)^lesson\s+(\d+)\s*:\s*(.*)$`)
	lessonLinkRe   = regexp.MustCompile(`(?i)^lesson\s+link\s*:\s*(.*)$`)
	headerPrefixRe = regexp.MustCompile(`(?i)^course\s+(title|link|instructor)\s*:\s*`)
)

// Document is a parsed transcript.
type Document struct {
	Course domain.Course
	Chunks []domain.Chunk
	// DecodeFallback is set when invalid UTF-8 was replaced during decoding.
	DecodeFallback bool
}

// TranscriptChunker parses course transcripts into a Course and
// lesson-tagged, overlapping character windows.
type TranscriptChunker struct {
	size     int
	overlap  int
	boundary BoundaryDetector
	log      *zap.Logger
}

func NewTranscriptChunker(size, overlap int, boundary BoundaryDetector, log *zap.Logger) *TranscriptChunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	// the window must advance by at least a quarter of its size
	if overlap > size/2 {
		overlap = size / 2
	}
	if boundary == nil {
		boundary = NewSentenceBoundary("")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TranscriptChunker{size: size, overlap: overlap, boundary: boundary, log: log}
}

// Size returns the window size in characters.
func (c *TranscriptChunker) Size() int { return c.size }

// Overlap returns the overlap between adjacent chunks in characters.
func (c *TranscriptChunker) Overlap() int { return c.overlap }

// Process parses raw transcript bytes. It never fails: invalid encodings are
// repaired and missing header lines become empty fields.
func (c *TranscriptChunker) Process(raw []byte) Document {
	var doc Document
	text := string(raw)
	if !utf8.Valid(raw) {
		text = strings.ToValidUTF8(text, "\uFFFD")
		doc.DecodeFallback = true
		c.log.Warn("transcript contained invalid UTF-8, substituted replacement characters")
	}
	text = strings.TrimPrefix(text, "\uFEFF")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(text, "\n")

	header, rest := readHeader(lines)
	doc.Course.Title, doc.Course.Link, doc.Course.Instructor = header[0], header[1], header[2]
	doc.Course.Lessons = []domain.Lesson{}

	segments := splitLessons(rest)
	for _, seg := range segments {
		if seg.lesson != nil {
			doc.Course.Lessons = append(doc.Course.Lessons, *seg.lesson)
		}
		pieces := c.split([]rune(normalizeSpace(seg.body)))
		for i, p := range pieces {
			ch := domain.Chunk{
				Text:        p,
				CourseTitle: doc.Course.Title,
				ChunkIndex:  len(doc.Chunks),
			}
			if seg.lesson != nil {
				ch.LessonNumber = domain.IntPtr(seg.lesson.Number)
				if i == 0 {
					ch.Text = LessonMarker(seg.lesson.Number) + p
				}
			}
			doc.Chunks = append(doc.Chunks, ch)
		}
	}
	c.log.Debug("processed transcript",
		zap.String("course", doc.Course.Title),
		zap.Int("lessons", len(doc.Course.Lessons)),
		zap.Int("chunks", len(doc.Chunks)))
	return doc
}

// LessonMarker is the context prefix put on the first chunk of a lesson.
func LessonMarker(n int) string {
	return "Lesson " + strconv.Itoa(n) + " content: "
}

// readHeader takes the first three non-empty lines that precede any lesson
// header and returns them with the remaining lines.
func readHeader(lines []string) ([3]string, []string) {
	var header [3]string
	found := 0
	i := 0
	for ; i < len(lines) && found < 3; i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if lessonHeaderRe.MatchString(line) {
			break
		}
		header[found] = headerPrefixRe.ReplaceAllString(line, "")
		found++
	}
	return header, lines[i:]
}

type segment struct {
	lesson *domain.Lesson
	body   string
}

func splitLessons(lines []string) []segment {
	var (
		segs    []segment
		cur     *segment
		body    strings.Builder
		preface strings.Builder
	)
	flush := func() {
		if cur != nil {
			cur.body = body.String()
			segs = append(segs, *cur)
		}
		body.Reset()
	}
	expectLink := false
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if m := lessonHeaderRe.FindStringSubmatch(line); m != nil {
			flush()
			n, _ := strconv.Atoi(m[1])
			cur = &segment{lesson: &domain.Lesson{Number: n, Title: strings.TrimSpace(m[2])}}
			expectLink = true
			continue
		}
		if expectLink && line != "" {
			expectLink = false
			if m := lessonLinkRe.FindStringSubmatch(line); m != nil {
				cur.lesson.Link = strings.TrimSpace(m[1])
				continue
			}
		}
		if cur == nil {
			preface.WriteString(raw)
			preface.WriteByte('\n')
			continue
		}
		body.WriteString(raw)
		body.WriteByte('\n')
	}
	flush()
	if len(segs) == 0 {
		return []segment{{body: preface.String()}}
	}
	return segs
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// split cuts text into windows of c.size characters. Each window ends at the
// nearest sentence boundary within a quarter window of the hard limit, and
// the next one starts c.overlap characters before that end.
func (c *TranscriptChunker) split(text []rune) []string {
	var out []string
	n := len(text)
	start := 0
	for start < n {
		end := start + c.size
		if end >= n {
			out = append(out, string(text[start:]))
			break
		}
		lo := end - c.size/4
		if floor := start + c.overlap; lo < floor {
			lo = floor
		}
		if b := c.boundary.LastBoundary(text, lo, end); b > 0 {
			end = b
		}
		out = append(out, string(text[start:end]))
		start = end - c.overlap
	}
	return out
}
