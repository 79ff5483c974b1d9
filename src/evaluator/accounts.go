package evaluator

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"signalgate/src/model"
)

// AccountStore persists account state. Implemented by repository.AccountRepository.
type AccountStore interface {
	Save(ctx context.Context, a *model.AccountState) error
	List(ctx context.Context) ([]model.AccountState, error)
}

// account is the serialization point for one account: every evaluation,
// fill and daily reset for it runs with mu held.
type account struct {
	mu    sync.Mutex
	state model.AccountState
}

type book struct {
	mu       sync.RWMutex
	accounts map[model.AccountID]*account
}

func newBook() *book {
	return &book{accounts: map[model.AccountID]*account{}}
}

func (b *book) get(id model.AccountID) *account {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.accounts[id]
}

// open returns the existing account or creates it from state.
func (b *book) open(state model.AccountState) (*account, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if a, ok := b.accounts[state.AccountID]; ok {
		return a, false
	}
	if state.OpenExposure == nil {
		state.OpenExposure = model.Exposure{}
	}
	if state.OpenFills == nil {
		state.OpenFills = model.OpenFills{}
	}
	a := &account{state: state}
	b.accounts[state.AccountID] = a
	return a, true
}

func (b *book) all() []*account {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*account, 0, len(b.accounts))
	for _, a := range b.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].state.AccountID < out[j].state.AccountID })
	return out
}

// snapshot copies the state under the account lock.
func (a *account) snapshot() model.AccountState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Clone()
}

// signedSize is positive for buys and negative for sells.
func signedSize(side model.Side, size decimal.Decimal) decimal.Decimal {
	if side == model.SideSell {
		return size.Neg()
	}
	return size
}

func (a *account) addExposure(symbol string, delta decimal.Decimal) {
	next := a.state.OpenExposure[symbol].Add(delta)
	if next.IsZero() {
		delete(a.state.OpenExposure, symbol)
		return
	}
	a.state.OpenExposure[symbol] = next
}

func validateFill(f model.FillResult) error {
	if f.FillID == "" {
		return fmt.Errorf("%w: missing fill id", model.ErrMalformedSettlement)
	}
	if !f.Size.IsPositive() {
		return fmt.Errorf("%w: fill size must be positive", model.ErrMalformedSettlement)
	}
	switch f.Kind {
	case model.FillOpen, model.FillClose:
	default:
		return fmt.Errorf("%w: unsupported fill kind %q", model.ErrMalformedSettlement, f.Kind)
	}
	return nil
}
