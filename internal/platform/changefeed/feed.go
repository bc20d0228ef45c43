// Package changefeed fans database row changes out to in-process subscribers.
// A Listener turns Postgres notifications into Changes and a Feed delivers them
// to every matching Subscription.
package changefeed

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clinic/clinic/internal/platform/telemetry"
)

type EventType string

const (
	Insert  EventType = "INSERT"
	Update  EventType = "UPDATE"
	Delete  EventType = "DELETE"
	AnyType EventType = "*"
)

const AnyTable = "*"

// Change is one row-level change. Seq increases monotonically per Feed, so a
// consumer can drop anything older than what it has already applied.
type Change struct {
	Seq      uint64          `json:"seq"`
	Table    string          `json:"table"`
	Type     EventType       `json:"type"`
	RecordID string          `json:"id"`
	Record   json.RawMessage `json:"record,omitempty"`
	Old      json.RawMessage `json:"old,omitempty"`
	At       time.Time       `json:"at"`
}

// Audience returns the user ids a change concerns: the patient_id and
// doctor_id of the new row and, for updates that moved the row, the old one.
func (c Change) Audience() []string {
	var ids []string
	seen := map[string]bool{}
	for _, raw := range []json.RawMessage{c.Record, c.Old} {
		if len(raw) == 0 {
			continue
		}
		var row struct {
			PatientID string `json:"patient_id"`
			DoctorID  string `json:"doctor_id"`
		}
		if err := json.Unmarshal(raw, &row); err != nil {
			continue
		}
		for _, id := range []string{row.PatientID, row.DoctorID} {
			if id != "" && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// Filter selects changes by table and event type. Empty fields match anything.
type Filter struct {
	Table string
	Type  EventType
}

func (f Filter) Matches(c Change) bool {
	if f.Table != "" && f.Table != AnyTable && f.Table != c.Table {
		return false
	}
	if f.Type != "" && f.Type != AnyType && f.Type != c.Type {
		return false
	}
	return true
}

// Subscription receives matching changes on C until it is cancelled, either
// explicitly or by its context ending. C is closed on cancellation.
type Subscription struct {
	C <-chan Change

	ch      chan Change
	id      uint64
	filter  Filter
	feed    *Feed
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
}

func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.feed.remove(s.id)
		close(s.done)
		close(s.ch)
	})
}

// Dropped returns how many changes were discarded because C was full.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Feed is the subscription manager. Publish never blocks on a slow subscriber.
type Feed struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextID  uint64
	seq     atomic.Uint64
	metrics *telemetry.Metrics
}

func NewFeed(metrics *telemetry.Metrics) *Feed {
	return &Feed{
		subs:    make(map[uint64]*Subscription),
		metrics: metrics,
	}
}

const defaultBuffer = 64

// Subscribe registers a subscriber. The subscription ends when ctx is done.
func (f *Feed) Subscribe(ctx context.Context, filter Filter, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan Change, buffer)

	f.mu.Lock()
	f.nextID++
	sub := &Subscription{
		C:      ch,
		ch:     ch,
		id:     f.nextID,
		filter: filter,
		feed:   f,
		done:   make(chan struct{}),
	}
	f.subs[sub.id] = sub
	f.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			sub.Cancel()
		case <-sub.done:
		}
	}()
	return sub
}

func (f *Feed) remove(id uint64) {
	f.mu.Lock()
	delete(f.subs, id)
	f.mu.Unlock()
}

// Publish stamps c with the next sequence number and delivers it to every
// matching subscriber. It returns the stamped change.
func (f *Feed) Publish(c Change) Change {
	c.Seq = f.seq.Add(1)
	if c.At.IsZero() {
		c.At = time.Now().UTC()
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	dropped := 0
	for _, sub := range f.subs {
		if !sub.filter.Matches(c) {
			continue
		}
		select {
		case sub.ch <- c:
		default:
			sub.dropped.Add(1)
			dropped++
		}
	}
	f.metrics.AddDropped(dropped)
	return c
}

// LastSeq is the sequence number of the most recent change.
func (f *Feed) LastSeq() uint64 {
	return f.seq.Load()
}

func (f *Feed) SubscriberCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Close cancels every subscription.
func (f *Feed) Close() {
	f.mu.RLock()
	subs := make([]*Subscription, 0, len(f.subs))
	for _, s := range f.subs {
		subs = append(subs, s)
	}
	f.mu.RUnlock()

	for _, s := range subs {
		s.Cancel()
	}
}
