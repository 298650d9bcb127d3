package pool

import (
	"math/big"

	"github.com/tranchepool/riskplane/riskerr"
	"github.com/tranchepool/riskplane/riskmath"
)

// RequestWithdraw locks shares into pendingShares. It is allowed while the
// pool is paused (safe-exit, spec §4.D). Sequential calls from one holder
// while their last request is still open coalesce into it rather than
// opening a new entry (spec §3, testable property 9).
func (p *Pool) RequestWithdraw(tranche Tranche, shares *big.Int, holder string) (uint64, error) {
	if shares == nil || shares.Sign() <= 0 {
		return 0, riskerr.ErrZeroAmount
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pos := p.position(tranche, holder)
	freeShares := new(big.Int).Sub(pos.Shares, pos.PendingShares)
	if shares.Cmp(freeShares) > 0 {
		return 0, riskerr.ErrInsufficientFreeShares
	}

	reqs := p.requests[tranche]

	if pos.hasOpenRequest {
		req := reqs[pos.LastOpenRequestIndex]
		if !req.Fulfilled && !req.Cancelled {
			req.Shares = new(big.Int).Add(req.Shares, shares)
			pos.PendingShares = new(big.Int).Add(pos.PendingShares, shares)
			return req.Index, nil
		}
		pos.hasOpenRequest = false
	}

	if pos.OpenRequestCount >= MaxOpenRequests {
		return 0, riskerr.ErrTooManyOpenRequests
	}

	index := uint64(len(reqs))
	req := &WithdrawRequest{
		Index:     index,
		Holder:    holder,
		Shares:    new(big.Int).Set(shares),
		CreatedAt: p.clock.Now(),
	}
	p.requests[tranche] = append(reqs, req)
	pos.PendingShares = new(big.Int).Add(pos.PendingShares, shares)
	pos.OpenRequestCount++
	pos.LastOpenRequestIndex = index
	pos.hasOpenRequest = true

	return index, nil
}

// CancelWithdraw unlocks the pending shares on an Open request and marks it
// Cancelled. Only the owning holder may cancel, only while the request is
// still open, and never while the pool is paused (spec §4.D).
func (p *Pool) CancelWithdraw(tranche Tranche, index uint64, holder string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.paused {
		return riskerr.ErrEnforcedPause
	}

	req, err := p.requestAtLocked(tranche, index)
	if err != nil {
		return err
	}
	if req.Holder != holder {
		return riskerr.ErrUnauthorized
	}
	if req.Fulfilled || req.Cancelled {
		return riskerr.ErrInvalidLoanState
	}

	req.Cancelled = true
	pos := p.position(tranche, holder)
	pos.PendingShares = riskmath.SaturatingSub(pos.PendingShares, req.Shares)
	pos.OpenRequestCount--
	if pos.LastOpenRequestIndex == index {
		pos.hasOpenRequest = false
	}
	return nil
}

// FulfillWithdraw executes an Open request: it burns shares, transfers
// assets, and marks the request Fulfilled. Any caller may fulfill (spec
// §4.D: index-addressable, not strict FIFO).
func (p *Pool) FulfillWithdraw(tranche Tranche, index uint64) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.paused {
		return nil, riskerr.ErrEnforcedPause
	}

	req, err := p.requestAtLocked(tranche, index)
	if err != nil {
		return nil, err
	}
	if req.Fulfilled || req.Cancelled {
		return nil, riskerr.ErrInvalidLoanState
	}
	if p.stressMode {
		return nil, riskerr.ErrStressModeLocked
	}
	if p.seniorPriorityActive && tranche == Junior {
		if !p.seniorPriorityWindowElapsedLocked() {
			return nil, riskerr.ErrSeniorPriorityActive
		}
		// Auto-expiry lifts priority as a side-effect of this call.
		p.seniorPriorityActive = false
	}

	t := p.tranches[tranche]
	assets, err := riskmath.ConvertToAssets(req.Shares, t.VirtualBalance, t.TotalShares)
	if err != nil {
		p.fatalLocked(err)
		return nil, riskerr.Wrap(riskerr.ErrArithmeticOverflow, err)
	}
	if assets.Cmp(t.VirtualBalance) > 0 {
		return nil, riskerr.ErrInsufficientLiquidity
	}

	pos := p.position(tranche, req.Holder)
	pos.Shares = riskmath.SaturatingSub(pos.Shares, req.Shares)
	pos.PendingShares = riskmath.SaturatingSub(pos.PendingShares, req.Shares)
	pos.OpenRequestCount--
	if pos.LastOpenRequestIndex == index {
		pos.hasOpenRequest = false
	}

	t.TotalShares = riskmath.SaturatingSub(t.TotalShares, req.Shares)
	t.VirtualBalance = riskmath.SaturatingSub(t.VirtualBalance, assets)
	p.cash = riskmath.SaturatingSub(p.cash, assets)

	req.Fulfilled = true

	return assets, nil
}

func (p *Pool) requestAtLocked(tranche Tranche, index uint64) (*WithdrawRequest, error) {
	reqs := p.requests[tranche]
	if index >= uint64(len(reqs)) {
		return nil, riskerr.ErrInvalidLoanState
	}
	return reqs[index], nil
}

// RequestSnapshot returns a copy of a withdraw request for observability.
func (p *Pool) RequestSnapshot(tranche Tranche, index uint64) (WithdrawRequest, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	req, err := p.requestAtLocked(tranche, index)
	if err != nil {
		return WithdrawRequest{}, err
	}
	return WithdrawRequest{
		Index:     req.Index,
		Holder:    req.Holder,
		Shares:    new(big.Int).Set(req.Shares),
		Fulfilled: req.Fulfilled,
		Cancelled: req.Cancelled,
		CreatedAt: req.CreatedAt,
	}, nil
}

// PositionSnapshot returns a copy of a holder's position in a tranche.
func (p *Pool) PositionSnapshot(tranche Tranche, holder string) Position {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pos, ok := p.positions[tranche][holder]
	if !ok {
		return Position{Shares: big.NewInt(0), PendingShares: big.NewInt(0)}
	}
	return *pos.clone()
}
