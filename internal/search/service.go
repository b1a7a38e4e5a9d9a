package search

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"logistics/api/internal/registry"
	"logistics/api/internal/store"
)

// Service is the facade that tries the index first and falls back to the
// exact filter over the mirrored collection.
type Service struct {
	index  Index
	source Source
	log    *zap.Logger

	retry time.Duration

	mu      sync.Mutex
	indexed map[string]struct{}
	lastSeq uint64
	// stale holds a snapshot the index has not accepted yet.
	stale    []store.Company
	hasStale bool

	pending chan []store.Company
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewService creates a search service. index may be nil if Meilisearch is not
// configured.
func NewService(index Index, source Source, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		index:   index,
		source:  source,
		log:     log,
		retry:   5 * time.Second,
		indexed: make(map[string]struct{}),
		pending: make(chan []store.Company, 1),
		done:    make(chan struct{}),
	}
	if index != nil {
		s.wg.Add(1)
		go s.indexLoop()
	}
	return s
}

// Lookup finds at most registry.LookupLimit companies for the dashboard.
func (s *Service) Lookup(query string) Response {
	resp := Response{Results: []store.Company{}, Query: query, Engine: EngineFilter}
	if strings.TrimSpace(query) == "" {
		return resp
	}

	companies := s.source.Companies()
	if s.index != nil && s.index.Healthy() && !s.behind() {
		ids, total, err := s.index.Search(query, registry.LookupLimit)
		if err == nil {
			resp.Results = resolve(companies, ids)
			resp.Total = total
			resp.Engine = EngineMeili
			return resp
		}
		s.log.Warn("meilisearch error, falling back to filter", zap.Error(err))
	}

	matches := registry.Filter(companies, query)
	resp.Total = len(matches)
	if len(matches) > registry.LookupLimit {
		matches = matches[:registry.LookupLimit]
	}
	resp.Results = matches
	return resp
}

// resolve maps index hits onto the mirror. Hits for companies that no longer
// exist are dropped.
func resolve(companies []store.Company, ids []string) []store.Company {
	byID := make(map[string]store.Company, len(companies))
	for _, c := range companies {
		byID[c.ID] = c
	}
	out := make([]store.Company, 0, len(ids))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Sync queues a full company snapshot for indexing. seq orders snapshots;
// one older than the last queued is ignored. Only the latest queued snapshot
// is indexed.
func (s *Service) Sync(companies []store.Company, seq uint64) {
	if s.index == nil {
		return
	}
	s.mu.Lock()
	if seq != 0 && seq <= s.lastSeq {
		s.mu.Unlock()
		return
	}
	s.lastSeq = seq
	s.mu.Unlock()

	for {
		select {
		case s.pending <- companies:
			return
		default:
		}
		select {
		case <-s.pending:
		default:
		}
	}
}

func (s *Service) indexLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.retry)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case companies := <-s.pending:
			s.apply(companies)
		case <-ticker.C:
			s.retryStale()
		}
	}
}

// behind reports whether the index is missing the latest snapshot.
func (s *Service) behind() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasStale
}

func (s *Service) markStale(companies []store.Company) {
	s.mu.Lock()
	s.stale = companies
	s.hasStale = true
	s.mu.Unlock()
}

// retryStale re-applies the snapshot the index missed while it was down.
func (s *Service) retryStale() {
	s.mu.Lock()
	companies, ok := s.stale, s.hasStale
	s.mu.Unlock()
	if ok {
		s.apply(companies)
	}
}

// apply pushes companies to the index and deletes the ones that disappeared
// since the previous snapshot. A snapshot the index cannot take is kept for
// retryStale.
func (s *Service) apply(companies []store.Company) {
	if !s.index.Healthy() {
		s.markStale(companies)
		return
	}

	records := make([]CompanyRecord, 0, len(companies))
	current := make(map[string]struct{}, len(companies))
	for _, c := range companies {
		records = append(records, recordFor(c))
		current[c.ID] = struct{}{}
	}
	if err := s.index.IndexCompanies(records); err != nil {
		s.log.Warn("index companies", zap.Error(err))
		s.markStale(companies)
		return
	}

	s.mu.Lock()
	previous := s.indexed
	s.indexed = current
	s.stale = nil
	s.hasStale = false
	s.mu.Unlock()

	for id := range previous {
		if _, ok := current[id]; ok {
			continue
		}
		if err := s.index.DeleteCompany(id); err != nil {
			s.log.Warn("delete company from index", zap.String("id", id), zap.Error(err))
		}
	}
}

// Close stops the indexing worker.
func (s *Service) Close() {
	select {
	case <-s.done:
		return
	default:
		close(s.done)
	}
	s.wg.Wait()
}
