package pool

import (
	"math/big"

	"github.com/tranchepool/riskplane/riskerr"
	"github.com/tranchepool/riskplane/riskmath"
)

// DepositEvent is emitted by Deposit for downstream observers (spec §4.C).
type DepositEvent struct {
	Tranche Tranche
	Holder  string
	Assets  *big.Int
	Shares  *big.Int
}

// Deposit mints tranche shares for assets contributed by holder (spec §4.C).
func (p *Pool) Deposit(tranche Tranche, assets *big.Int, holder string) (DepositEvent, error) {
	if assets == nil || assets.Sign() <= 0 {
		return DepositEvent{}, riskerr.ErrZeroAmount
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.paused {
		return DepositEvent{}, riskerr.ErrEnforcedPause
	}

	t := p.tranches[tranche]
	if t.DepositCap.Sign() > 0 {
		projected := new(big.Int).Add(t.VirtualBalance, assets)
		if projected.Cmp(t.DepositCap) > 0 {
			return DepositEvent{}, riskerr.ErrTrancheDepositCapExceeded
		}
	}

	if tranche == Senior {
		juniorBal := p.tranches[Junior].VirtualBalance
		projectedSeniorBal := new(big.Int).Add(t.VirtualBalance, assets)
		total := new(big.Int).Add(juniorBal, projectedSeniorBal)
		if riskmath.RatioBps(juniorBal, total) < p.params.MinSubordinationBps {
			return DepositEvent{}, riskerr.ErrSubordinationTooLow
		}
	}

	shares, err := riskmath.ConvertToShares(assets, t.VirtualBalance, t.TotalShares)
	if err != nil {
		p.fatalLocked(err)
		return DepositEvent{}, riskerr.Wrap(riskerr.ErrArithmeticOverflow, err)
	}

	pos := p.position(tranche, holder)
	pos.Shares = new(big.Int).Add(pos.Shares, shares)
	t.TotalShares = new(big.Int).Add(t.TotalShares, shares)
	t.VirtualBalance = new(big.Int).Add(t.VirtualBalance, assets)
	p.cash = new(big.Int).Add(p.cash, assets)

	if tranche == Junior && t.VirtualBalance.Cmp(t.JuniorHighWaterMark) > 0 {
		t.JuniorHighWaterMark = new(big.Int).Set(t.VirtualBalance)
	}

	return DepositEvent{Tranche: tranche, Holder: holder, Assets: new(big.Int).Set(assets), Shares: shares}, nil
}

// Withdraw instantly redeems shares for assets (spec §4.C). Junior
// withdrawals additionally enforce the post-withdrawal subordination floor,
// except when the withdrawal leaves both tranches empty.
func (p *Pool) Withdraw(tranche Tranche, shares *big.Int, holder string) (*big.Int, error) {
	if shares == nil || shares.Sign() <= 0 {
		return nil, riskerr.ErrZeroAmount
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.paused {
		return nil, riskerr.ErrEnforcedPause
	}
	if p.stressMode {
		return nil, riskerr.ErrStressModeLocked
	}

	pos := p.position(tranche, holder)
	freeShares := new(big.Int).Sub(pos.Shares, pos.PendingShares)
	if shares.Cmp(freeShares) > 0 {
		return nil, riskerr.ErrInsufficientFreeShares
	}

	t := p.tranches[tranche]
	assets, err := riskmath.ConvertToAssets(shares, t.VirtualBalance, t.TotalShares)
	if err != nil {
		p.fatalLocked(err)
		return nil, riskerr.Wrap(riskerr.ErrArithmeticOverflow, err)
	}
	if assets.Cmp(t.VirtualBalance) > 0 {
		return nil, riskerr.ErrInsufficientLiquidity
	}

	if tranche == Junior {
		projectedJunior := riskmath.SaturatingSub(t.VirtualBalance, assets)
		total := new(big.Int).Add(projectedJunior, p.tranches[Senior].VirtualBalance)
		if total.Sign() > 0 && riskmath.RatioBps(projectedJunior, total) < p.params.MinSubordinationBps {
			return nil, riskerr.ErrSubordinationTooLow
		}
	}

	pos.Shares = new(big.Int).Sub(pos.Shares, shares)
	t.TotalShares = new(big.Int).Sub(t.TotalShares, shares)
	t.VirtualBalance = riskmath.SaturatingSub(t.VirtualBalance, assets)
	p.cash = riskmath.SaturatingSub(p.cash, assets)

	return assets, nil
}
