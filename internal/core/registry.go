package core

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"unitofwork/pkg/domain"
)

// Registry maps transaction ids to live transactions. Objects never point back
// at their transactions; FindTransactions answers "who holds me" instead.
// Registry is safe for concurrent use. Its lock covers map access only.
type Registry struct {
	mu   sync.RWMutex
	live map[uuid.UUID]*Transaction
}

// Holding pairs a transaction with the state it tracks an object under.
type Holding struct {
	Transaction *Transaction
	State       domain.State
}

var defaultRegistry = NewRegistry()

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{live: make(map[uuid.UUID]*Transaction)}
}

// DefaultRegistry returns the process-wide registry used when no other is
// configured.
func DefaultRegistry() *Registry { return defaultRegistry }

// Register adds tx under its id.
func (r *Registry) Register(tx *Transaction) {
	r.mu.Lock()
	r.live[tx.id] = tx
	r.mu.Unlock()
}

// Unregister removes the transaction with id. Unknown ids are ignored.
func (r *Registry) Unregister(id uuid.UUID) {
	r.mu.Lock()
	delete(r.live, id)
	r.mu.Unlock()
}

// Lookup returns the live transaction with id.
func (r *Registry) Lookup(id uuid.UUID) (*Transaction, error) {
	r.mu.RLock()
	tx, ok := r.live[id]
	r.mu.RUnlock()
	if !ok {
		return nil, &domain.TransactionNotFoundError{ID: id.String()}
	}
	return tx, nil
}

// LookupString parses id and looks it up.
func (r *Registry) LookupString(id string) (*Transaction, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, &domain.TransactionNotFoundError{ID: id}
	}
	return r.Lookup(parsed)
}

// Len returns the number of live transactions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}

// FindTransactions lists every live transaction tracking obj together with the
// state it is tracked under, ordered by transaction id.
func (r *Registry) FindTransactions(obj *domain.Object) []Holding {
	r.mu.RLock()
	txs := make([]*Transaction, 0, len(r.live))
	for _, tx := range r.live {
		txs = append(txs, tx)
	}
	r.mu.RUnlock()

	sort.Slice(txs, func(i, j int) bool { return txs[i].id.String() < txs[j].id.String() })
	var out []Holding
	for _, tx := range txs {
		if state, ok := tx.StateOf(obj); ok {
			out = append(out, Holding{Transaction: tx, State: state})
		}
	}
	return out
}
