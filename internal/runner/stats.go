package runner

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// historyLimit bounds the rolling per-account outcome history.
const historyLimit = 100

// RunRecord is one account-cycle outcome kept in the rolling history.
type RunRecord struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Timestamp time.Time `json:"timestamp"`
	NewOffers int       `json:"new_offers"`
	Status    string    `json:"status"`
}

// Stats is the process-lifetime aggregate of poll-cycle outcomes. It is
// mutated concurrently by workers and reset only by process restart.
type Stats struct {
	mu sync.Mutex

	totalRuns      int
	successfulRuns int
	failedRuns     int
	totalNewOffers int
	lastCheck      *time.Time
	running        int
	history        []RunRecord
}

// NewStats creates an empty aggregate.
func NewStats() *Stats {
	return &Stats{}
}

// MarkCheck records the start of a readiness check.
func (s *Stats) MarkCheck(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t = t.UTC()
	s.lastCheck = &t
}

// AddRunning adjusts the currently-running worker count.
func (s *Stats) AddRunning(delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running += delta
}

// Record aggregates one account-cycle outcome, in arrival order.
func (s *Stats) Record(email string, ok bool, newOffers int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalRuns++
	status := "failed"
	if ok {
		status = "success"
		s.successfulRuns++
		s.totalNewOffers += newOffers
	} else {
		s.failedRuns++
		newOffers = 0
	}

	s.history = append(s.history, RunRecord{
		ID:        uuid.NewString(),
		Email:     email,
		Timestamp: time.Now().UTC(),
		NewOffers: newOffers,
		Status:    status,
	})
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
}

// Snapshot is a point-in-time copy of the aggregate for read endpoints.
type Snapshot struct {
	TotalRuns         int         `json:"total_runs"`
	SuccessfulRuns    int         `json:"successful_runs"`
	FailedRuns        int         `json:"failed_runs"`
	TotalNewOffers    int         `json:"total_new_offers"`
	LastCheck         *time.Time  `json:"last_check"`
	CurrentlyRunning  int         `json:"currently_running"`
	AccountsProcessed []RunRecord `json:"accounts_processed"`
}

// Snapshot returns a consistent copy of the current counters and history.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := make([]RunRecord, len(s.history))
	copy(history, s.history)

	var lastCheck *time.Time
	if s.lastCheck != nil {
		t := *s.lastCheck
		lastCheck = &t
	}

	return Snapshot{
		TotalRuns:         s.totalRuns,
		SuccessfulRuns:    s.successfulRuns,
		FailedRuns:        s.failedRuns,
		TotalNewOffers:    s.totalNewOffers,
		LastCheck:         lastCheck,
		CurrentlyRunning:  s.running,
		AccountsProcessed: history,
	}
}
