package progression

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// runStats counts what a single run did, its fields are logged when the
// run finishes.
type runStats struct {
	StartTime time.Time
	EndTime   time.Time

	mu                   sync.Mutex
	EdgesMerged          uint
	EdgesSkipped         uint
	EdgesFailed          uint
	AdditionalEdges      uint
	MergeRequestsCreated uint
	MergeRequestsReused  uint
	Retries              uint
}

func newRunStats() *runStats {
	return &runStats{StartTime: time.Now()}
}

func (s *runStats) add(mutate func(*runStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mutate(s)
}

func (s *runStats) LogFields() []zap.Field {
	s.mu.Lock()
	defer s.mu.Unlock()

	return []zap.Field{
		zap.Duration("run_duration", s.EndTime.Sub(s.StartTime)),
		zap.Uint("run.edges_merged", s.EdgesMerged),
		zap.Uint("run.edges_skipped", s.EdgesSkipped),
		zap.Uint("run.edges_failed", s.EdgesFailed),
		zap.Uint("run.additional_edges", s.AdditionalEdges),
		zap.Uint("run.merge_requests_created", s.MergeRequestsCreated),
		zap.Uint("run.merge_requests_reused", s.MergeRequestsReused),
		zap.Uint("run.retries", s.Retries),
	}
}
