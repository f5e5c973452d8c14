package search

import (
	"context"

	"go.uber.org/zap"
)

type index interface {
	Searcher
	Indexer
	IndexAll(projects []ProjectRecord, tasks []TaskRecord, vendors []VendorRecord) error
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili  index
	pgfts  Searcher
	loader recordLoader
	logger *zap.Logger
}

type recordLoader interface {
	LoadAllRecords(ctx context.Context) ([]ProjectRecord, []TaskRecord, []VendorRecord, error)
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{logger: logger.Named("search")}
	if meili != nil {
		s.meili = meili
	}
	if pgfts != nil {
		s.pgfts = pgfts
		s.loader = pgfts
	}
	return s
}

func (s *Service) indexReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	empty := Response{Results: []Result{}, Total: 0, Query: q.Text}
	if q.CompanyID == "" {
		return empty
	}

	if s.indexReady() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back to pgfts", zap.Error(err))
	}

	if s.pgfts == nil {
		return empty
	}
	results, total, err := s.pgfts.Search(q)
	if err != nil {
		s.logger.Error("pgfts search failed", zap.Error(err))
		return empty
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexProject indexes a project (fire-and-forget to Meilisearch).
func (s *Service) IndexProject(p ProjectRecord) {
	s.async("index project", p.ID, func() error { return s.meili.IndexProject(p) })
}

func (s *Service) IndexTask(t TaskRecord) {
	s.async("index task", t.ID, func() error { return s.meili.IndexTask(t) })
}

func (s *Service) IndexVendor(v VendorRecord) {
	s.async("index vendor", v.ID, func() error { return s.meili.IndexVendor(v) })
}

func (s *Service) DeleteProject(id string) {
	s.async("delete project", id, func() error { return s.meili.DeleteProject(id) })
}

func (s *Service) DeleteTask(id string) {
	s.async("delete task", id, func() error { return s.meili.DeleteTask(id) })
}

func (s *Service) DeleteVendor(id string) {
	s.async("delete vendor", id, func() error { return s.meili.DeleteVendor(id) })
}

func (s *Service) async(op, id string, fn func() error) {
	if !s.indexReady() {
		return
	}
	go func() {
		if err := fn(); err != nil {
			s.logger.Warn(op+" failed", zap.String("id", id), zap.Error(err))
		}
	}()
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into Meilisearch.
// Called at startup when Meilisearch is reachable.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if !s.indexReady() || s.loader == nil {
		return
	}
	projects, tasks, vendors, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Error("reindex load failed", zap.Error(err))
		return
	}
	if err := s.meili.IndexAll(projects, tasks, vendors); err != nil {
		s.logger.Error("reindex failed", zap.Error(err))
		return
	}
	s.logger.Info("reindexed",
		zap.Int("projects", len(projects)),
		zap.Int("tasks", len(tasks)),
		zap.Int("vendors", len(vendors)),
	)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
