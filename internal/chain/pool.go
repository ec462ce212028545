// =================================
// File: internal/chain/pool.go
// =================================
package chain

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
)

// rpcNode is one endpoint of the pool with its health state.
type rpcNode struct {
	client *rpc.Client
	url    string

	mu     sync.RWMutex
	active bool

	successCount uint64
	errorCount   uint64
}

func (n *rpcNode) setActive(state bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.active = state
}

func (n *rpcNode) isActive() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.active
}

func (n *rpcNode) recordResult(success bool) {
	if success {
		atomic.AddUint64(&n.successCount, 1)
	} else {
		atomic.AddUint64(&n.errorCount, 1)
	}
}

// pool rotates across RPC endpoints round-robin, skipping nodes that
// were marked inactive after a failed call. Inactive nodes are retried
// after reviveAfter so a flapping endpoint can rejoin.
type pool struct {
	nodes   []*rpcNode
	counter uint64

	mu          sync.Mutex
	deactivated map[*rpcNode]time.Time
}

const reviveAfter = 30 * time.Second

func newPool(nodes []*rpcNode) *pool {
	return &pool{
		nodes:       nodes,
		deactivated: make(map[*rpcNode]time.Time),
	}
}

func (p *pool) next() *rpcNode {
	p.reviveStale()
	for i := 0; i < len(p.nodes); i++ {
		idx := atomic.AddUint64(&p.counter, 1) % uint64(len(p.nodes))
		node := p.nodes[idx]
		if node.isActive() {
			return node
		}
	}
	return nil
}

func (p *pool) markFailed(n *rpcNode) {
	n.setActive(false)
	p.mu.Lock()
	p.deactivated[n] = time.Now()
	p.mu.Unlock()
}

func (p *pool) reviveStale() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for node, since := range p.deactivated {
		if now.Sub(since) >= reviveAfter {
			node.setActive(true)
			delete(p.deactivated, node)
		}
	}
}

func (p *pool) hasActive() bool {
	for _, n := range p.nodes {
		if n.isActive() {
			return true
		}
	}
	return false
}
