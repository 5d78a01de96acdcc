// Package guard implements the sequencing checks wrapped around pool
// mutations: a non-reentrant token held for the duration of a swap, and
// a minimum elapsed-block gap between a liquidity deposit and a
// subsequent withdrawal or transfer by the same actor. The block gap is
// a sequencing check on recorded block numbers, not a lock; it exists to
// stop flash-loan-style extraction of the coverage spread without
// bearing inventory risk.
package guard

import (
	"sync"

	"github.com/ammlabs/coverage-engine/internal/errcode"
)

var (
	// ErrReentrancy is returned when a pool operation re-enters while a
	// prior one still holds the guard.
	ErrReentrancy = errcode.New("REENTRANCY", "guard: reentrant pool operation")

	// ErrBlockGap is returned when a withdrawal or transfer follows a
	// deposit by the same actor within the minimum block gap.
	ErrBlockGap = errcode.New("JIT_BLOCK_GAP", "guard: minimum block gap after deposit not elapsed")
)

// Reentrancy is an explicit non-reentrant token. Enter fails instead of
// blocking: a reentrant call during the external-transfer phase would
// observe half-applied reserve state.
type Reentrancy struct {
	mu   sync.Mutex
	held bool
}

// Enter acquires the guard or fails with ErrReentrancy.
func (g *Reentrancy) Enter() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held {
		return ErrReentrancy
	}
	g.held = true
	return nil
}

// Exit releases the guard. Calling Exit without a matching Enter is a
// programming error and panics.
func (g *Reentrancy) Exit() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.held {
		panic("guard: Exit without Enter")
	}
	g.held = false
}

// BlockGap records the block height of each actor's most recent deposit
// and rejects exits that follow too quickly.
type BlockGap struct {
	mu       sync.Mutex
	minGap   uint64
	deposits map[string]uint64
}

// NewBlockGap creates a guard requiring minGap elapsed blocks between a
// deposit and the depositor's next exit.
func NewBlockGap(minGap uint64) *BlockGap {
	return &BlockGap{minGap: minGap, deposits: make(map[string]uint64)}
}

// RecordDeposit notes that actor deposited at the given block height.
func (g *BlockGap) RecordDeposit(actor string, block uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deposits[actor] = block
}

// CheckExit fails with ErrBlockGap when the actor's last recorded
// deposit is fewer than minGap blocks before the given height. Actors
// with no recorded deposit pass.
func (g *BlockGap) CheckExit(actor string, block uint64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	last, ok := g.deposits[actor]
	if !ok {
		return nil
	}
	if block < last+g.minGap {
		return ErrBlockGap
	}
	return nil
}
