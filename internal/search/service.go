package search

import (
	"sync"

	"go.uber.org/zap"

	"labportal/client/internal/logging"
	"labportal/client/internal/remote"
)

// Index is both sides of a search backend. *Meili implements it.
type Index interface {
	Searcher
	Indexer
}

// Service tries the index first and falls back to the in-memory scan.
type Service struct {
	index    Index
	fallback Searcher
	logger   *zap.Logger

	mu      sync.Mutex
	last    []remote.Feedback
	indexed map[string]Record
	closed  bool

	jobs   chan job
	worker sync.WaitGroup
}

type job struct {
	upserts []Record
	removed []string
}

// NewService creates a search service. index may be nil when Meilisearch is not
// configured.
func NewService(index Index, fallback Searcher, logger *zap.Logger) *Service {
	s := &Service{
		index:    index,
		fallback: fallback,
		logger:   logging.OrNop(logger).With(zap.String("component", "search")),
		indexed:  make(map[string]Record),
		jobs:     make(chan job, 64),
	}
	s.worker.Add(1)
	go s.run()
	return s
}

// run applies index changes one at a time so a delete never overtakes the add it
// follows.
func (s *Service) run() {
	defer s.worker.Done()
	for j := range s.jobs {
		if len(j.upserts) > 0 {
			if err := s.index.IndexFeedback(j.upserts); err != nil {
				s.logger.Warn("index feedback", zap.Int("count", len(j.upserts)), zap.Error(err))
			}
		}
		if len(j.removed) > 0 {
			if err := s.index.DeleteFeedback(j.removed); err != nil {
				s.logger.Warn("delete feedback from index", zap.Strings("ids", j.removed), zap.Error(err))
			}
		}
	}
}

func (s *Service) indexReady() bool {
	return s.index != nil && s.index.Healthy()
}

func (s *Service) Search(q Query) Response {
	if s.indexReady() {
		results, total, err := s.index.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: BackendMeili}
		}
		s.logger.Warn("meilisearch error, falling back to memory scan", zap.Error(err))
	}

	results, total, err := s.fallback.Search(q)
	if err != nil {
		s.logger.Warn("memory search failed", zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text, Backend: BackendMemory}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: BackendMemory}
}

// Sync mirrors items into the index (fire-and-forget). Only records that changed
// since the last push are sent.
func (s *Service) Sync(items []remote.Feedback) {
	s.mu.Lock()
	s.last = items
	s.mu.Unlock()
	if !s.indexReady() {
		return
	}
	s.push(items)
}

// Reindex pushes the last synced items again, for use after the index comes back.
func (s *Service) Reindex() {
	s.mu.Lock()
	items := s.last
	s.indexed = make(map[string]Record)
	s.mu.Unlock()
	if !s.indexReady() {
		return
	}
	s.push(items)
}

func (s *Service) push(items []remote.Feedback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	next := make(map[string]Record, len(items))
	var j job
	for _, f := range items {
		rec := recordOf(f)
		next[rec.ID] = rec
		if prev, ok := s.indexed[rec.ID]; !ok || prev != rec {
			j.upserts = append(j.upserts, rec)
		}
	}
	for id := range s.indexed {
		if _, ok := next[id]; !ok {
			j.removed = append(j.removed, id)
		}
	}
	s.indexed = next

	if len(j.upserts) == 0 && len(j.removed) == 0 {
		return
	}
	s.jobs <- j
}

// Close drains queued index changes. Later syncs are dropped.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()
	s.worker.Wait()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
