package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"courserag/internal/chunker"
	"courserag/internal/domain"
	"courserag/internal/index"
	"courserag/internal/summarizer"
)

var (
	ErrNoDocuments = errors.New("no .txt documents found")
	ErrNoTitle     = errors.New("transcript has no course title")
	ErrEmptyQuery  = errors.New("query is empty")
)

// Answerer produces an answer for one question within a session.
type Answerer interface {
	Answer(ctx context.Context, sessionID, query string) (domain.Answer, error)
}

// Options tune ingestion.
type Options struct {
	// Workers bounds how many files are ingested at once.
	Workers          int
	SummarySentences int
}

// IngestOptions apply to one IngestPaths call.
type IngestOptions struct {
	// SkipExisting leaves courses already in the catalog untouched.
	SkipExisting bool
}

// IngestReport describes the outcome for one file.
type IngestReport struct {
	Path           string
	Course         domain.Course
	Chunks         int
	Skipped        bool
	// DuplicateOf names the file indexed instead when several files in one
	// batch carry the same course title.
	DuplicateOf    string
	DecodeFallback bool
	Err            error
}

type RAGService struct {
	chunker    *chunker.TranscriptChunker
	index      *index.Index
	assistant  Answerer
	summarizer *summarizer.FrequencySummarizer
	opts       Options
	log        *zap.Logger

	// titleLocks serializes index writes per course title.
	titleLocks sync.Map
}

func NewRAGService(ch *chunker.TranscriptChunker, ix *index.Index, assistant Answerer, sum *summarizer.FrequencySummarizer, opts Options, log *zap.Logger) *RAGService {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.SummarySentences <= 0 {
		opts.SummarySentences = summarizer.DefaultMaxSentences
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RAGService{chunker: ch, index: ix, assistant: assistant, summarizer: sum, opts: opts, log: log}
}

// Ingest parses one transcript and replaces the course's catalog entry and
// chunks in the index.
func (s *RAGService) Ingest(ctx context.Context, path string) (domain.Course, error) {
	report, doc := s.parse(ctx, path)
	if report.Err == nil {
		report.Err = s.store(ctx, path, doc)
	}
	return report.Course, report.Err
}

// IngestPaths expands globs and directories into .txt files and ingests them
// with bounded parallelism. A failing file is reported and does not stop
// the others. When several files share a course title, the last one in path
// order is indexed and the others are reported as duplicates.
func (s *RAGService) IngestPaths(ctx context.Context, paths []string, opts IngestOptions) ([]IngestReport, error) {
	files, err := expand(paths)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, ErrNoDocuments
	}
	var existing map[string]bool
	if opts.SkipExisting {
		summary, err := s.index.ListCourses(ctx)
		if err != nil {
			return nil, fmt.Errorf("list existing courses: %w", err)
		}
		existing = make(map[string]bool, len(summary.Titles))
		for _, t := range summary.Titles {
			existing[t] = true
		}
	}

	reports := make([]IngestReport, len(files))
	docs := make([]chunker.Document, len(files))
	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for i, f := range files {
		g.Go(func() error {
			reports[i], docs[i] = s.parse(ctx, f)
			return nil
		})
	}
	_ = g.Wait()

	winner := make(map[string]int)
	for i, r := range reports {
		if r.Err == nil {
			winner[r.Course.Title] = i
		}
	}
	var w errgroup.Group
	w.SetLimit(s.opts.Workers)
	for i := range reports {
		r := &reports[i]
		if r.Err != nil {
			continue
		}
		if keep := winner[r.Course.Title]; keep != i {
			r.Skipped = true
			r.DuplicateOf = files[keep]
			s.log.Warn("duplicate course title in batch",
				zap.String("course", r.Course.Title), zap.String("path", r.Path), zap.String("indexed", r.DuplicateOf))
			continue
		}
		if existing[r.Course.Title] {
			r.Skipped = true
			s.log.Debug("course already indexed, skipping", zap.String("path", r.Path), zap.String("course", r.Course.Title))
			continue
		}
		w.Go(func() error {
			r.Err = s.store(ctx, r.Path, docs[i])
			return nil
		})
	}
	_ = w.Wait()
	return reports, nil
}

// parse reads and chunks one file.
func (s *RAGService) parse(ctx context.Context, path string) (IngestReport, chunker.Document) {
	report := IngestReport{Path: path}
	if err := ctx.Err(); err != nil {
		report.Err = err
		return report, chunker.Document{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		report.Err = fmt.Errorf("read %s: %w", path, err)
		return report, chunker.Document{}
	}
	doc := s.chunker.Process(data)
	report.Course = doc.Course
	report.Chunks = len(doc.Chunks)
	report.DecodeFallback = doc.DecodeFallback
	if doc.Course.Title == "" {
		report.Err = fmt.Errorf("%s: %w", path, ErrNoTitle)
	}
	return report, doc
}

// store writes a parsed document to the index. Writes for one title never
// overlap.
func (s *RAGService) store(ctx context.Context, path string, doc chunker.Document) error {
	log := s.log.With(zap.String("path", path), zap.String("course", doc.Course.Title))
	mu, _ := s.titleLocks.LoadOrStore(doc.Course.Title, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	summary := s.summarize(doc.Chunks)
	if err := s.index.ReplaceCourse(ctx, doc.Course, doc.Chunks, summary); err != nil {
		log.Error("ingest failed", zap.Error(err))
		return fmt.Errorf("index %s: %w", path, err)
	}
	log.Info("ingested course",
		zap.Int("lessons", len(doc.Course.Lessons)),
		zap.Int("chunks", len(doc.Chunks)),
		zap.Bool("decode_fallback", doc.DecodeFallback),
	)
	return nil
}

// summarize works on the chunk text with the overlapping tails removed.
func (s *RAGService) summarize(chunks []domain.Chunk) string {
	if s.summarizer == nil || len(chunks) == 0 {
		return ""
	}
	overlap := s.chunker.Overlap()
	var b strings.Builder
	for i, c := range chunks {
		text := c.Text
		if i > 0 && sameLesson(chunks[i-1], c) {
			r := []rune(text)
			if len(r) > overlap {
				text = string(r[overlap:])
			}
		}
		b.WriteString(text)
		b.WriteString(" ")
	}
	return s.summarizer.Summarize(b.String(), s.opts.SummarySentences)
}

func sameLesson(a, b domain.Chunk) bool {
	if a.LessonNumber == nil || b.LessonNumber == nil {
		return a.LessonNumber == nil && b.LessonNumber == nil
	}
	return *a.LessonNumber == *b.LessonNumber
}

// Answer answers query. An empty sessionID starts a new session.
func (s *RAGService) Answer(ctx context.Context, query, sessionID string) (domain.Answer, error) {
	if strings.TrimSpace(query) == "" {
		return domain.Answer{}, ErrEmptyQuery
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return s.assistant.Answer(ctx, sessionID, query)
}

func (s *RAGService) ListCourses(ctx context.Context) (domain.CatalogSummary, error) {
	return s.index.ListCourses(ctx)
}

// Courses returns full catalog entries, summaries included.
func (s *RAGService) Courses(ctx context.Context) ([]index.Entry, error) {
	return s.index.Entries(ctx)
}

// ClearAll removes every course and chunk from the index.
func (s *RAGService) ClearAll(ctx context.Context) error {
	return s.index.Clear(ctx)
}

// expand resolves globs and walks directories, keeping .txt files. The
// result is sorted and free of duplicates.
func expand(paths []string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		if strings.EqualFold(filepath.Ext(p), ".txt") && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, p := range paths {
		matches, err := filepath.Glob(p)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", p, err)
		}
		if matches == nil {
			matches = []string{p}
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				// let ingestion report the missing file
				add(m)
				continue
			}
			if !info.IsDir() {
				add(m)
				continue
			}
			err = filepath.WalkDir(m, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return err
				}
				if !d.IsDir() {
					add(path)
				}
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("walk %s: %w", m, err)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}
