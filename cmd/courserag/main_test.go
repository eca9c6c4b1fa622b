package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courserag/internal/domain"
	"courserag/internal/service"
)

const transcript = `Course Title: Building Retrieval Systems
Course Link: https://example.com/rag
Course Instructor: Grace

Lesson 1: Embeddings
Embeddings turn text into vectors. Similar texts get similar vectors.
Lesson 2: Search
Vector search ranks chunks by cosine similarity to the query.
`

func writeConfig(t *testing.T) (cfg, docs string) {
	t.Helper()
	dir := t.TempDir()
	docs = filepath.Join(dir, "docs")
	require.NoError(t, os.MkdirAll(docs, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "rag.txt"), []byte(transcript), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "notes.md"), []byte("ignored"), 0o644))

	cfg = filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(`
vector_store:
  type: sqlite
  sqlite:
    path: `+filepath.Join(dir, "index.db")+`
llm:
  api_key_env: COURSERAG_TEST_UNSET_KEY
`), 0o644))
	return cfg, docs
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestIngestThenListCourses(t *testing.T) {
	cfg, docs := writeConfig(t)

	out, err := run(t, "ingest", "--config", cfg, docs)
	require.NoError(t, err)
	assert.Contains(t, out, "OK    ")
	assert.Contains(t, out, "Building Retrieval Systems (2 lessons")

	out, err = run(t, "ingest", "--config", cfg, docs)
	require.NoError(t, err)
	assert.Contains(t, out, "SKIP  ")

	out, err = run(t, "courses", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "1 courses")
	assert.Contains(t, out, "Building Retrieval Systems")
}

func TestAskWithoutModelKeyFails(t *testing.T) {
	cfg, _ := writeConfig(t)
	_, err := run(t, "ask", "--config", cfg, "what", "are", "embeddings?")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrModelCall))
}

func TestPrintReports(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	t.Cleanup(func() { rootCmd.SetOut(nil) })

	printReports(rootCmd, []service.IngestReport{
		{Path: "a.txt", Course: domain.Course{Title: "A"}, Chunks: 3, DecodeFallback: true},
		{Path: "b.txt", Err: service.ErrNoTitle},
		{Path: "c.txt", Course: domain.Course{Title: "C"}, Skipped: true},
		{Path: "d.txt", Course: domain.Course{Title: "D"}, Skipped: true, DuplicateOf: "e.txt"},
	})
	assert.Equal(t, "OK    a.txt: A (0 lessons, 3 chunks, invalid UTF-8 replaced)\n"+
		"FAIL  b.txt: transcript has no course title\n"+
		"SKIP  c.txt (C already indexed)\n"+
		"SKIP  d.txt (D duplicates e.txt)\n", out.String())
}
