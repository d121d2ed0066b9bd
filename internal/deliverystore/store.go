// Package deliverystore keeps an in-memory record of recent webhook
// deliveries and how their pipeline runs ended.
package deliverystore

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cexll/swe-action/internal/pipeline"
)

type Status string

const (
	StatusQueued   Status = "queued"
	StatusRunning  Status = "running"
	StatusPrepared Status = "prepared"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

const defaultLimit = 200

type Delivery struct {
	ID     string `json:"id"`
	Event  string `json:"event"`
	Key    string `json:"key"`
	Status Status `json:"status"`

	Stage     string   `json:"stage,omitempty"`
	Error     string   `json:"error,omitempty"`
	Reason    string   `json:"reason,omitempty"`
	CommentID int64    `json:"comment_id,omitempty"`
	Branch    string   `json:"branch,omitempty"`
	Degraded  []string `json:"degraded,omitempty"`

	ReceivedAt time.Time `json:"received_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store holds at most limit deliveries; the oldest are evicted first.
type Store struct {
	mu    sync.RWMutex
	items map[string]*Delivery
	order []string
	limit int
	now   func() time.Time
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = defaultLimit
	}
	return &Store{
		items: make(map[string]*Delivery),
		limit: limit,
		now:   time.Now,
	}
}

// Queued records an accepted delivery.
func (s *Store) Queued(id, event, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if _, ok := s.items[id]; !ok {
		s.order = append(s.order, id)
	}
	s.items[id] = &Delivery{
		ID:         id,
		Event:      event,
		Key:        key,
		Status:     StatusQueued,
		ReceivedAt: now,
		UpdatedAt:  now,
	}
	for len(s.order) > s.limit {
		delete(s.items, s.order[0])
		s.order = s.order[1:]
	}
}

// Started marks a delivery as running.
func (s *Store) Started(id string) {
	s.update(id, func(d *Delivery) { d.Status = StatusRunning })
}

// Finished records the outcome of a pipeline run.
func (s *Store) Finished(id string, report *pipeline.Report, err error) {
	s.update(id, func(d *Delivery) {
		if report != nil {
			d.CommentID = report.CommentID
			d.Degraded = append([]string(nil), report.Degraded...)
			if report.Branch != nil {
				d.Branch = report.Branch.CurrentBranch
			}
		}
		switch {
		case err != nil:
			d.Status = StatusFailed
			d.Error = err.Error()
			var stageErr *pipeline.StageError
			if errors.As(err, &stageErr) {
				d.Stage = stageErr.Stage
			}
		case report != nil && !report.Triggered:
			d.Status = StatusSkipped
			d.Reason = report.SkipReason
		default:
			d.Status = StatusPrepared
		}
	})
}

func (s *Store) update(id string, fn func(*Delivery)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.items[id]; ok {
		fn(d)
		d.UpdatedAt = s.now()
	}
}

// Get returns a copy of the delivery.
func (s *Store) Get(id string) (Delivery, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.items[id]
	if !ok {
		return Delivery{}, false
	}
	return *d, true
}

// List returns copies of all deliveries, newest first.
func (s *Store) List() []Delivery {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Delivery, 0, len(s.items))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, *s.items[s.order[i]])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ReceivedAt.After(out[j].ReceivedAt)
	})
	return out
}
