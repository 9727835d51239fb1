// Package nonce provides the per-account nonce cache EVM submission uses so
// back-to-back transactions never reuse a nonce the network has not yet
// counted. It is grounded on the mutex-guarded pending-nonce bookkeeping in
// node/sc/bridge_tx_pool.go (BridgeTxPool tracks the next nonce to assign
// locally and only re-synchronizes from the network on error or at
// startup).
package nonce

import (
	"context"
	"sync"
)

// Source is the subset of an RPC client the Manager needs to learn the
// network's view of an account's next nonce.
type Source interface {
	PendingNonceAt(ctx context.Context, account [20]byte) (uint64, error)
}

// Manager hands out monotonically increasing nonces for a single account.
// Every Next call reads PendingNonceAt; the locally cached next value covers
// submissions the network's pending count does not reflect yet (spec.md §4.7).
type Manager struct {
	mu   sync.Mutex
	next uint64
	seen bool
}

// NewManager returns a Manager with no cached nonce; the first Next() call
// always consults source.
func NewManager() *Manager {
	return &Manager{}
}

// Next returns the next nonce to use, taking the larger of the locally
// cached value and the network's pending nonce so a nonce is never reused
// after a process restart (spec.md §4.7: "next = max(cachedNext,
// networkPendingNonce)").
func (m *Manager) Next(ctx context.Context, account [20]byte, source Source) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	network, err := source.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, err
	}

	next := network
	if m.seen && m.next > next {
		next = m.next
	}

	m.next = next + 1
	m.seen = true
	return next, nil
}

// Reset forces the next Next() call to trust the network's pending nonce
// again, discarding the local cache. Called after a submission fails so a
// stuck/replaced transaction doesn't poison every following nonce
// assignment (spec.md §4.7, error-recovery note).
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = false
	m.next = 0
}
