package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"signalgate/src/metrics"
	"signalgate/src/model"
)

// Store is the durable side of the ledger.
type Store interface {
	AppendRejection(ctx context.Context, rec *model.RejectionRecord) error
	AppendEvent(ctx context.Context, ev *model.AnalystEvent) error
	LoadRejections(ctx context.Context) ([]model.RejectionRecord, error)
	LoadEvents(ctx context.Context) ([]model.AnalystEvent, error)
}

// ExceptionSink persists write failures for later review.
type ExceptionSink interface {
	Create(ctx context.Context, exc *model.Exception) error
}

const (
	EntryRejection    = "rejection"
	EntryAnalystEvent = "analyst_event"
)

// Entry is what subscribers receive, in append order.
type Entry struct {
	Type      string                 `json:"type"`
	Rejection *model.RejectionRecord `json:"rejection,omitempty"`
	Event     *model.AnalystEvent    `json:"event,omitempty"`
}

// Ledger is the append-only audit trail of rejections and analyst state
// changes. The in-memory copy is authoritative for reads; the store is
// best-effort and a failed write never loses the in-memory record.
type Ledger struct {
	logger     *logrus.Entry
	store      Store
	exceptions ExceptionSink
	metrics    *metrics.Recorder
	now        func() time.Time

	mu         sync.RWMutex
	rejections []model.RejectionRecord
	events     []model.AnalystEvent
	nextSeq    uint64
	nextEvSeq  uint64

	subMu   sync.Mutex
	subs    map[int]chan Entry
	nextSub int
}

func New(logger *logrus.Entry, store Store, exceptions ExceptionSink, rec *metrics.Recorder) *Ledger {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Ledger{
		logger:     logger.WithField("component", "ledger"),
		store:      store,
		exceptions: exceptions,
		metrics:    rec,
		now:        time.Now,
		nextSeq:    1,
		nextEvSeq:  1,
		subs:       map[int]chan Entry{},
	}
}

// Load restores previously stored entries and continues their sequences.
func (l *Ledger) Load(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	recs, err := l.store.LoadRejections(ctx)
	if err != nil {
		return fmt.Errorf("load rejections: %w", err)
	}
	evs, err := l.store.LoadEvents(ctx)
	if err != nil {
		return fmt.Errorf("load analyst events: %w", err)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })
	sort.Slice(evs, func(i, j int) bool { return evs[i].Seq < evs[j].Seq })

	l.mu.Lock()
	defer l.mu.Unlock()
	l.rejections = recs
	l.events = evs
	l.nextSeq, l.nextEvSeq = 1, 1
	if n := len(recs); n > 0 {
		l.nextSeq = recs[n-1].Seq + 1
	}
	if n := len(evs); n > 0 {
		l.nextEvSeq = evs[n-1].Seq + 1
	}
	l.logger.WithFields(logrus.Fields{"rejections": len(recs), "events": len(evs)}).Info("ledger loaded")
	return nil
}

// Append records a rejection. Seq and RecordedAt are both assigned here, so
// sequence order and time order agree. The returned record carries its
// sequence number even when the durable write failed; in that case the error
// wraps ErrLedgerWrite.
func (l *Ledger) Append(ctx context.Context, rec model.RejectionRecord) (model.RejectionRecord, error) {
	l.mu.Lock()
	rec.Seq = l.nextSeq
	l.nextSeq++
	var last time.Time
	if n := len(l.rejections); n > 0 {
		last = l.rejections[n-1].RecordedAt
	}
	rec.RecordedAt = l.stamp(last)
	l.rejections = append(l.rejections, rec)
	published := rec
	l.publish(Entry{Type: EntryRejection, Rejection: &published})
	l.mu.Unlock()

	if l.store == nil {
		return rec, nil
	}
	if err := l.store.AppendRejection(ctx, &rec); err != nil {
		return rec, l.writeFailed(ctx, EntryRejection, "Append", err, map[string]interface{}{
			"seq":       rec.Seq,
			"signal_id": rec.SignalID,
			"rule_id":   rec.RuleID,
		})
	}
	return rec, nil
}

// AppendEvent records an analyst state change next to the rejections.
func (l *Ledger) AppendEvent(ctx context.Context, ev model.AnalystEvent) error {
	l.mu.Lock()
	ev.Seq = l.nextEvSeq
	l.nextEvSeq++
	var last time.Time
	if n := len(l.events); n > 0 {
		last = l.events[n-1].RecordedAt
	}
	ev.RecordedAt = l.stamp(last)
	l.events = append(l.events, ev)
	published := ev
	l.publish(Entry{Type: EntryAnalystEvent, Event: &published})
	l.mu.Unlock()

	if l.store == nil {
		return nil
	}
	if err := l.store.AppendEvent(ctx, &ev); err != nil {
		return l.writeFailed(ctx, EntryAnalystEvent, "AppendEvent", err, map[string]interface{}{
			"seq":        ev.Seq,
			"analyst_id": ev.AnalystID,
			"kind":       ev.Kind,
		})
	}
	return nil
}

func (l *Ledger) writeFailed(ctx context.Context, kind, method string, cause error, fields map[string]interface{}) error {
	l.logger.WithError(cause).WithFields(fields).Error("ledger write failed, entry kept in memory only")
	l.metrics.RecordLedgerFailure(kind)

	if l.exceptions != nil {
		raw, _ := json.Marshal(fields)
		exc := &model.Exception{
			Service: "signalgate",
			Module:  "ledger",
			Method:  method,
			Message: cause.Error(),
			Level:   "error",
			Context: string(raw),
		}
		if err := l.exceptions.Create(ctx, exc); err != nil {
			l.logger.WithError(err).Warn("failed to persist ledger exception")
		}
	}
	return fmt.Errorf("%w: %v", model.ErrLedgerWrite, cause)
}

// stamp runs under mu. A clock step backwards reuses the previous time.
func (l *Ledger) stamp(last time.Time) time.Time {
	now := l.now().UTC()
	if now.Before(last) {
		return last
	}
	return now
}

// Query selects rejections in arrival order.
type Query struct {
	From      time.Time
	To        time.Time
	AccountID model.AccountID
	AnalystID model.AnalystID
	RuleID    model.RuleID
	AfterSeq  uint64
	Limit     int
}

type Page struct {
	Records []model.RejectionRecord `json:"records"`
	// NextAfter is the cursor for the following page, zero when exhausted.
	NextAfter uint64 `json:"next_after"`
	Total     int    `json:"total"`
}

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Query returns one page of matching rejections. Total counts the matches
// after AfterSeq, including those beyond the page.
func (l *Ledger) Query(q Query) Page {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	start := sort.Search(len(l.rejections), func(i int) bool { return l.rejections[i].Seq > q.AfterSeq })
	page := Page{Records: []model.RejectionRecord{}}
	for _, r := range l.rejections[start:] {
		if !matches(r, q) {
			continue
		}
		page.Total++
		if len(page.Records) < limit {
			page.Records = append(page.Records, r)
		} else if page.NextAfter == 0 {
			page.NextAfter = page.Records[len(page.Records)-1].Seq
		}
	}
	return page
}

func matches(r model.RejectionRecord, q Query) bool {
	if !q.From.IsZero() && r.RecordedAt.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !r.RecordedAt.Before(q.To) {
		return false
	}
	if q.AccountID != "" && r.AccountID != q.AccountID {
		return false
	}
	if q.AnalystID != "" && r.AnalystID != q.AnalystID {
		return false
	}
	if q.RuleID != "" && r.RuleID != q.RuleID {
		return false
	}
	return true
}

// Events returns analyst events in order, optionally for one analyst.
func (l *Ledger) Events(analyst model.AnalystID, limit int) []model.AnalystEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := []model.AnalystEvent{}
	for _, ev := range l.events {
		if analyst != "" && ev.AnalystID != analyst {
			continue
		}
		out = append(out, ev)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Stats summarizes rejections for the dashboard.
type Stats struct {
	Total     int                  `json:"total"`
	ByRule    map[model.RuleID]int `json:"by_rule"`
	Since     time.Time            `json:"since"`
	LastSeq   uint64               `json:"last_seq"`
	LastEvent uint64               `json:"last_event_seq"`
}

// Stats counts rejections recorded at or after since.
func (l *Ledger) Stats(since time.Time) Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := Stats{ByRule: map[model.RuleID]int{}, Since: since}
	for _, r := range l.rejections {
		if r.RecordedAt.Before(since) {
			continue
		}
		s.Total++
		s.ByRule[r.RuleID]++
	}
	if n := len(l.rejections); n > 0 {
		s.LastSeq = l.rejections[n-1].Seq
	}
	if n := len(l.events); n > 0 {
		s.LastEvent = l.events[n-1].Seq
	}
	return s
}

// Subscribe streams new entries. Slow subscribers miss entries rather than
// stall the writers. Call the returned func to unsubscribe.
func (l *Ledger) Subscribe(buffer int) (<-chan Entry, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Entry, buffer)

	l.subMu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	l.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.subMu.Lock()
			delete(l.subs, id)
			l.subMu.Unlock()
			close(ch)
		})
	}
}

// publish runs under l.mu so subscribers see entries in sequence order.
func (l *Ledger) publish(e Entry) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	for id, ch := range l.subs {
		select {
		case ch <- e:
		default:
			l.logger.WithField("subscriber", id).Warn("subscriber lagging, entry dropped")
		}
	}
}
