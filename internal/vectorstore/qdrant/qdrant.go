package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"courserag/internal/vectorstore"
)

// orderKey carries Point.Order inside the payload; it is stripped on read.
const orderKey = "_order"

const scrollPage = 256

// Storage is a minimal REST client to Qdrant.
// It assumes cosine distance and creates collections if missing.
type Storage struct {
	url    string
	apiKey string
	prefix string
	client *http.Client

	mu         sync.Mutex
	dimensions map[string]int
}

type Config struct {
	URL              string
	APIKey           string
	CollectionPrefix string
	Timeout          time.Duration
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Storage{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		prefix:     cfg.CollectionPrefix,
		client:     &http.Client{Timeout: timeout},
		dimensions: make(map[string]int),
	}
}

func (s *Storage) Init(ctx context.Context, name string, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	var info struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	status, err := s.do(ctx, http.MethodGet, s.collectionURL(name), nil, &info)
	switch {
	case status == http.StatusNotFound:
		if err := s.create(ctx, name, dimension); err != nil {
			return err
		}
	case err != nil:
		return err
	case info.Result.Config.Params.Vectors.Size != dimension:
		return fmt.Errorf("collection %s: %w (have %d, want %d)", name, vectorstore.ErrDimensionMismatch,
			info.Result.Config.Params.Vectors.Size, dimension)
	}
	s.mu.Lock()
	s.dimensions[name] = dimension
	s.mu.Unlock()
	return nil
}

func (s *Storage) create(ctx context.Context, name string, dimension int) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	_, err := s.do(ctx, http.MethodPut, s.collectionURL(name), body, nil)
	return err
}

func (s *Storage) Upsert(ctx context.Context, name string, points []vectorstore.Point) error {
	if len(points) == 0 {
		return nil
	}
	dim, err := s.dimension(name)
	if err != nil {
		return err
	}
	body := make([]map[string]any, len(points))
	for i, p := range points {
		if len(p.Vector) != dim {
			return vectorstore.ErrDimensionMismatch
		}
		payload := make(map[string]any, len(p.Payload)+1)
		for k, v := range p.Payload {
			payload[k] = v
		}
		payload[orderKey] = p.Order
		body[i] = map[string]any{
			"id":      p.ID,
			"vector":  p.Vector,
			"payload": payload,
		}
	}
	_, err = s.do(ctx, http.MethodPut, s.collectionURL(name)+"/points?wait=true", map[string]any{"points": body}, nil)
	return err
}

type scoredPoint struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
	Vector  []float64      `json:"vector"`
}

func (s *Storage) Search(ctx context.Context, name string, vector []float64, filter vectorstore.Filter, topK int) ([]vectorstore.Hit, error) {
	if topK <= 0 {
		topK = 5
	}
	// over-fetch so equal scores at the cut can be re-ordered deterministically
	req := map[string]any{
		"vector":       vector,
		"limit":        topK * 2,
		"with_payload": true,
	}
	if f := toFilter(filter); f != nil {
		req["filter"] = f
	}
	var resp struct {
		Result []scoredPoint `json:"result"`
	}
	if _, err := s.do(ctx, http.MethodPost, s.collectionURL(name)+"/points/search", req, &resp); err != nil {
		return nil, err
	}
	hits := make([]vectorstore.Hit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, vectorstore.Hit{Point: toPoint(r), Score: r.Score})
	}
	return vectorstore.Rank(hits, topK), nil
}

func (s *Storage) Scroll(ctx context.Context, name string, filter vectorstore.Filter) ([]vectorstore.Point, error) {
	var (
		out    []vectorstore.Point
		offset any
	)
	for {
		req := map[string]any{
			"limit":        scrollPage,
			"with_payload": true,
			"with_vector":  false,
		}
		if f := toFilter(filter); f != nil {
			req["filter"] = f
		}
		if offset != nil {
			req["offset"] = offset
		}
		var resp struct {
			Result struct {
				Points         []scoredPoint `json:"points"`
				NextPageOffset any           `json:"next_page_offset"`
			} `json:"result"`
		}
		if _, err := s.do(ctx, http.MethodPost, s.collectionURL(name)+"/points/scroll", req, &resp); err != nil {
			return nil, err
		}
		for _, r := range resp.Result.Points {
			out = append(out, toPoint(r))
		}
		if resp.Result.NextPageOffset == nil {
			break
		}
		offset = resp.Result.NextPageOffset
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}

func (s *Storage) Delete(ctx context.Context, name string, filter vectorstore.Filter) error {
	f := toFilter(filter)
	if f == nil {
		return s.Clear(ctx, name)
	}
	_, err := s.do(ctx, http.MethodPost, s.collectionURL(name)+"/points/delete?wait=true", map[string]any{"filter": f}, nil)
	return err
}

// Replace upserts points and then deletes the matching points that were not
// rewritten. Qdrant has no multi-request transaction, so readers may briefly
// see the new points next to stale ones; they never see the old set vanish
// before the new one is written.
func (s *Storage) Replace(ctx context.Context, name string, filter vectorstore.Filter, points []vectorstore.Point) error {
	if len(points) == 0 {
		return s.Delete(ctx, name, filter)
	}
	if err := s.Upsert(ctx, name, points); err != nil {
		return err
	}
	ids := make([]string, len(points))
	for i, p := range points {
		ids[i] = p.ID
	}
	f := toFilter(filter)
	if f == nil {
		f = map[string]any{}
	}
	f["must_not"] = []map[string]any{{"has_id": ids}}
	_, err := s.do(ctx, http.MethodPost, s.collectionURL(name)+"/points/delete?wait=true", map[string]any{"filter": f}, nil)
	return err
}

// Clear drops the collection and recreates it with the dimension it was
// initialized with.
func (s *Storage) Clear(ctx context.Context, name string) error {
	dim, err := s.dimension(name)
	if err != nil {
		return err
	}
	status, err := s.do(ctx, http.MethodDelete, s.collectionURL(name), nil, nil)
	if err != nil && status != http.StatusNotFound {
		return err
	}
	return s.create(ctx, name, dim)
}

func (s *Storage) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Storage) dimension(name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dim, ok := s.dimensions[name]
	if !ok {
		return 0, fmt.Errorf("collection %s not initialized", name)
	}
	return dim, nil
}

func (s *Storage) collectionURL(name string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.url, s.prefix, name)
}

func toFilter(f vectorstore.Filter) map[string]any {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	must := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		must = append(must, map[string]any{
			"key":   k,
			"match": map[string]any{"value": f[k]},
		})
	}
	return map[string]any{"must": must}
}

func toPoint(r scoredPoint) vectorstore.Point {
	p := vectorstore.Point{
		ID:      fmt.Sprint(r.ID),
		Vector:  r.Vector,
		Payload: r.Payload,
	}
	if p.Payload == nil {
		p.Payload = map[string]any{}
	}
	if v, ok := p.Payload[orderKey].(float64); ok {
		p.Order = int(v)
	}
	delete(p.Payload, orderKey)
	return p
}

// do sends body as JSON and decodes the response into out when given. The
// HTTP status is returned alongside any error so callers can react to 404.
func (s *Storage) do(ctx context.Context, method, url string, body, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode qdrant request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("qdrant %s %s failed: %s: %s", method, url, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode qdrant response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
