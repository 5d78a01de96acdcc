package pool

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/ammlabs/coverage-engine/internal/errcode"
)

var (
	ErrInsufficientBalance   = errcode.New("INSUFFICIENT_BALANCE", "token: insufficient balance")
	ErrInsufficientAllowance = errcode.New("INSUFFICIENT_ALLOWANCE", "token: insufficient allowance")
)

// Token is the settlement interface a pool uses to move assets during a
// swap. The pool itself is addressed by its ID.
type Token interface {
	BalanceOf(ctx context.Context, account string) (decimal.Decimal, error)
	Transfer(ctx context.Context, from, to string, amount decimal.Decimal) (err error)
	TransferFrom(ctx context.Context, spender, from, to string, amount decimal.Decimal) error
}

// MemoryToken is an in-process Token with balances and allowances, used
// by the default deployment and by tests.
type MemoryToken struct {
	mu         sync.Mutex
	balances   map[string]decimal.Decimal
	allowances map[string]map[string]decimal.Decimal // owner -> spender -> amount
}

func NewMemoryToken() *MemoryToken {
	return &MemoryToken{
		balances:   make(map[string]decimal.Decimal),
		allowances: make(map[string]map[string]decimal.Decimal),
	}
}

// Mint credits an account outside of any transfer, for seeding state.
func (t *MemoryToken) Mint(account string, amount decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[account] = t.balances[account].Add(amount)
}

// Approve lets spender move up to amount from owner's balance.
func (t *MemoryToken) Approve(owner, spender string, amount decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[string]decimal.Decimal)
	}
	t.allowances[owner][spender] = amount
}

func (t *MemoryToken) BalanceOf(_ context.Context, account string) (decimal.Decimal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[account], nil
}

func (t *MemoryToken) Transfer(_ context.Context, from, to string, amount decimal.Decimal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(from, to, amount)
}

func (t *MemoryToken) TransferFrom(_ context.Context, spender, from, to string, amount decimal.Decimal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	allowed := t.allowances[from][spender]
	if allowed.LessThan(amount) {
		return ErrInsufficientAllowance
	}
	if err := t.move(from, to, amount); err != nil {
		return err
	}
	t.allowances[from][spender] = allowed.Sub(amount)
	return nil
}

func (t *MemoryToken) move(from, to string, amount decimal.Decimal) error {
	if t.balances[from].LessThan(amount) {
		return ErrInsufficientBalance
	}
	t.balances[from] = t.balances[from].Sub(amount)
	t.balances[to] = t.balances[to].Add(amount)
	return nil
}
