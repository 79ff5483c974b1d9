package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"signalgate/src/model"
)

// ErrInvalidRequest marks operator input the registry refuses.
var ErrInvalidRequest = errors.New("invalid analyst request")

// Store persists analysts. Implemented by repository.AnalystRepository.
type Store interface {
	Save(ctx context.Context, a *model.Analyst) error
	List(ctx context.Context) ([]model.Analyst, error)
}

// EventSink receives analyst state-change records. Implemented by the ledger.
type EventSink interface {
	AppendEvent(ctx context.Context, ev model.AnalystEvent) error
}

// Mutation changes one analyst under its lock. A returned event is emitted
// after the change is stored.
type Mutation = func(a *model.Analyst) (*model.AnalystEvent, error)

type entry struct {
	mu sync.Mutex
	a  model.Analyst
}

// Registry is the durable set of analysts. Readers get copies; every change
// goes through a per-analyst lock and is written through to the store.
type Registry struct {
	logger *logrus.Entry
	store  Store
	events EventSink
	now    func() time.Time

	mu       sync.RWMutex
	entries  map[model.AnalystID]*entry
	bySource map[string]model.AnalystID
}

func New(logger *logrus.Entry, store Store, events EventSink) *Registry {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Registry{
		logger:   logger.WithField("component", "registry"),
		store:    store,
		events:   events,
		now:      time.Now,
		entries:  map[model.AnalystID]*entry{},
		bySource: map[string]model.AnalystID{},
	}
}

// Load replaces the in-memory set with what the store holds.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	list, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("load analysts: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[model.AnalystID]*entry, len(list))
	r.bySource = map[string]model.AnalystID{}
	for _, a := range list {
		r.entries[a.ID] = &entry{a: a}
		if a.SourceRef != "" && !a.Removed {
			r.bySource[a.SourceRef] = a.ID
		}
	}
	r.logger.WithField("count", len(list)).Info("analysts loaded")
	return nil
}

type RegisterRequest struct {
	Name      string
	Source    model.AnalystSource
	SourceRef string
	Notes     string
	Disabled  bool
}

// Register adds an analyst. The id is derived from the name once and a
// numeric suffix is appended on collision.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (model.Analyst, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return model.Analyst{}, fmt.Errorf("%w: analyst name is required", ErrInvalidRequest)
	}
	if req.Source == "" {
		req.Source = model.AnalystSourceManual
	}
	ref := model.NormalizeSourceRef(req.SourceRef)

	r.mu.Lock()
	if ref != "" {
		if owner, ok := r.bySource[ref]; ok {
			r.mu.Unlock()
			return model.Analyst{}, fmt.Errorf("%w: source %q already belongs to %s", model.ErrConfigurationConflict, ref, owner)
		}
	}
	base := model.AnalystIDFromName(name)
	id := base
	for n := 2; r.entries[id] != nil; n++ {
		id = model.AnalystID(fmt.Sprintf("%s_%d", base, n))
	}

	now := r.now().UTC()
	a := model.Analyst{
		ID:        id,
		Name:      name,
		Source:    req.Source,
		SourceRef: ref,
		Notes:     req.Notes,
		Enabled:   !req.Disabled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if r.store != nil {
		if err := r.store.Save(ctx, &a); err != nil {
			r.mu.Unlock()
			return model.Analyst{}, fmt.Errorf("save analyst %s: %w", id, err)
		}
	}
	r.entries[id] = &entry{a: a}
	if ref != "" {
		r.bySource[ref] = id
	}
	r.mu.Unlock()

	r.logger.WithFields(logrus.Fields{"analyst_id": id, "source": a.Source}).Info("analyst registered")
	r.emit(ctx, model.AnalystEvent{
		AnalystID: id,
		Kind:      model.AnalystEventRegistered,
		Reason:    fmt.Sprintf("registered %s (%s)", name, a.Source),
		Actor:     model.ActorOperator,
	})
	return a, nil
}

// Get returns a snapshot of the analyst.
func (r *Registry) Get(id model.AnalystID) (model.Analyst, bool) {
	e := r.lookup(id)
	if e == nil {
		return model.Analyst{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.a, true
}

// ResolveSource maps a raw external handle to the analyst registered for it.
func (r *Registry) ResolveSource(raw string) (model.AnalystID, bool) {
	ref := model.NormalizeSourceRef(raw)
	if ref == "" {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.bySource[ref]
	return id, ok
}

// List returns snapshots ordered by id. Removed analysts are included only
// when asked for.
func (r *Registry) List(includeRemoved bool) []model.Analyst {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]model.Analyst, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		a := e.a
		e.mu.Unlock()
		if a.Removed && !includeRemoved {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetEnabled is the operator toggle. Re-enabling clears the below-floor streak
// so the tracker starts counting again.
func (r *Registry) SetEnabled(ctx context.Context, id model.AnalystID, enabled bool, reason string) (model.Analyst, error) {
	return r.Update(ctx, id, func(a *model.Analyst) (*model.AnalystEvent, error) {
		if a.Removed {
			return nil, fmt.Errorf("%w: analyst %s was removed", ErrInvalidRequest, id)
		}
		if a.Enabled == enabled {
			return nil, nil
		}
		a.Enabled = enabled
		kind := model.AnalystEventDisabled
		if enabled {
			kind = model.AnalystEventEnabled
			a.BelowFloorStreak = 0
		}
		if reason == "" {
			reason = "operator " + string(kind) + " analyst"
		}
		return &model.AnalystEvent{Kind: kind, Reason: reason, Actor: model.ActorOperator}, nil
	})
}

// Remove retires an analyst. The row stays so ledger entries keep resolving.
func (r *Registry) Remove(ctx context.Context, id model.AnalystID, reason string) (model.Analyst, error) {
	a, err := r.Update(ctx, id, func(a *model.Analyst) (*model.AnalystEvent, error) {
		if a.Removed {
			return nil, nil
		}
		now := r.now().UTC()
		a.Removed = true
		a.Enabled = false
		a.RemovedAt = &now
		if reason == "" {
			reason = "operator removed analyst"
		}
		return &model.AnalystEvent{Kind: model.AnalystEventRemoved, Reason: reason, Actor: model.ActorOperator}, nil
	})
	if err != nil {
		return a, err
	}
	if a.SourceRef != "" {
		r.mu.Lock()
		if r.bySource[a.SourceRef] == id {
			delete(r.bySource, a.SourceRef)
		}
		r.mu.Unlock()
	}
	return a, nil
}

// Update applies fn to the analyst under its lock. The change is stored
// before it becomes visible; a store error leaves the analyst untouched.
func (r *Registry) Update(ctx context.Context, id model.AnalystID, fn Mutation) (model.Analyst, error) {
	e := r.lookup(id)
	if e == nil {
		return model.Analyst{}, fmt.Errorf("%w: %s", model.ErrUnknownAnalyst, id)
	}

	e.mu.Lock()
	next := e.a
	ev, err := fn(&next)
	if err != nil {
		cur := e.a
		e.mu.Unlock()
		return cur, err
	}
	if ev == nil && next == e.a {
		e.mu.Unlock()
		return next, nil
	}
	next.UpdatedAt = r.now().UTC()
	if r.store != nil {
		if err := r.store.Save(ctx, &next); err != nil {
			cur := e.a
			e.mu.Unlock()
			return cur, fmt.Errorf("save analyst %s: %w", id, err)
		}
	}
	e.a = next
	e.mu.Unlock()

	if ev != nil {
		ev.AnalystID = id
		if ev.ExpectedValue == 0 {
			ev.ExpectedValue = next.ExpectedValue
		}
		r.logger.WithFields(logrus.Fields{
			"analyst_id": id,
			"kind":       ev.Kind,
			"actor":      ev.Actor,
		}).Info(ev.Reason)
		r.emit(ctx, *ev)
	}
	return next, nil
}

func (r *Registry) lookup(id model.AnalystID) *entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[id]
}

// emit never fails the caller; the sink reports its own write failures.
func (r *Registry) emit(ctx context.Context, ev model.AnalystEvent) {
	if r.events == nil {
		return
	}
	if err := r.events.AppendEvent(ctx, ev); err != nil {
		r.logger.WithError(err).WithField("analyst_id", ev.AnalystID).Warn("failed to record analyst event")
	}
}
