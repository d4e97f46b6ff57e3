package frontrun

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Tracker is the single session slot.
type Tracker struct {
	mu     sync.Mutex
	active bool
	victim common.Hash
}

// TryBegin claims the slot for victim and reports whether it succeeded.
func (t *Tracker) TryBegin(victim common.Hash) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active {
		return false
	}
	t.active = true
	t.victim = victim
	return true
}

// End releases the slot if it is held for victim. Calling it again is a no-op.
func (t *Tracker) End(victim common.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active && t.victim == victim {
		t.active = false
		t.victim = common.Hash{}
	}
}

func (t *Tracker) Active() (common.Hash, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.victim, t.active
}
