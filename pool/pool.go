package pool

import (
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"github.com/tranchepool/riskplane/clock"
	"github.com/tranchepool/riskplane/riskerr"
	"github.com/tranchepool/riskplane/riskmath"
	"github.com/tranchepool/riskplane/waterfall"
)

// FatalHandler is invoked when the pool hits a condition spec §7 classifies
// as Fatal (abort the process or take the pool offline): an arithmetic
// overflow in the waterfall/NAV kernel, or an INV-1/INV-3/INV-6 violation
// caught by a self-audit. The pool is always paused before the handler
// runs, so the default panic (or any override) races nothing: no further
// mutation can be admitted once paused.
type FatalHandler func(error)

// BreakerHook lets the pool notify the breaker engine of pool-originated
// incidents (e.g. JuniorDepletion) without the pool importing the breaker
// package, keeping the dependency direction the same as the teacher's
// nativecommon.PauseView injection (native/lending/engine.go SetPauses).
type BreakerHook interface {
	OpenJuniorDepletionIncident(poolID string, subordinationBps uint64)
}

type loanExposure struct {
	outstanding  [2]*big.Int // indexed by Tranche: principal still owed
	lossAbsorbed [2]*big.Int // indexed by Tranche: bad debt recorded against this loan, not yet recovered
}

func newLoanExposure() *loanExposure {
	return &loanExposure{
		outstanding:  [2]*big.Int{big.NewInt(0), big.NewInt(0)},
		lossAbsorbed: [2]*big.Int{big.NewInt(0), big.NewInt(0)},
	}
}

func (l *loanExposure) total() *big.Int {
	return new(big.Int).Add(l.outstanding[Junior], l.outstanding[Senior])
}

// Pool is the single-writer owner of a tranched pool's accounting state
// (spec §5): every mutating operation takes the write lock; invariant/
// enforcement reads take the read lock so they observe a consistent
// snapshot without blocking behind a long-running mutation.
type Pool struct {
	mu sync.RWMutex

	id     string
	params RiskParameters

	tranches  [2]*TrancheState
	positions [2]map[string]*Position
	requests  [2][]*WithdrawRequest

	registeredLoans map[string]LoanCapability
	exposures       map[string]*loanExposure

	cash *big.Int

	paused                    bool
	stressMode                bool
	seniorPriorityActive      bool
	seniorPriorityActivatedAt int64
	launchParamsLocked        bool
	lastAccrualAt             int64

	fees FeeAccrual

	clock  clock.Clock
	logger *slog.Logger
	hook   BreakerHook
	fatal  FatalHandler
}

// New constructs an empty pool with the given identifier, risk parameters,
// and injected clock. A nil clock defaults to the system clock.
func New(id string, params RiskParameters, c clock.Clock, logger *slog.Logger) *Pool {
	if c == nil {
		c = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		id:              id,
		params:          params,
		registeredLoans: make(map[string]LoanCapability),
		exposures:       make(map[string]*loanExposure),
		cash:            big.NewInt(0),
		fees:            FeeAccrual{ProtocolFees: big.NewInt(0)},
		clock:           c,
		logger:          logger,
		fatal:           func(err error) { panic(err) },
		lastAccrualAt:   c.Now(),
	}
	p.tranches[Junior] = newTrancheState()
	p.tranches[Senior] = newTrancheState()
	p.tranches[Senior].TargetYieldBps = params.SeniorTargetYieldBps
	p.positions[Junior] = make(map[string]*Position)
	p.positions[Senior] = make(map[string]*Position)
	return p
}

// SetBreakerHook wires the breaker-notification collaborator used by
// recordBadDebt to open a JuniorDepletion incident (spec §4.C).
func (p *Pool) SetBreakerHook(hook BreakerHook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hook = hook
}

// SetFatalHandler overrides the default panic-on-Fatal behavior (spec §7).
// A nil handler restores the panic default.
func (p *Pool) SetFatalHandler(h FatalHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h == nil {
		h = func(err error) { panic(err) }
	}
	p.fatal = h
}

// fatalLocked pauses the pool and escalates err to the injected FatalHandler
// (spec §7: "abort the process or take the pool offline"). Callers must
// already hold p.mu for writing.
func (p *Pool) fatalLocked(err error) {
	p.paused = true
	p.fatal(err)
}

// ID returns the pool identifier.
func (p *Pool) ID() string { return p.id }

func (p *Pool) position(tranche Tranche, holder string) *Position {
	pos, ok := p.positions[tranche][holder]
	if !ok {
		pos = newPosition()
		p.positions[tranche][holder] = pos
	}
	return pos
}

// RegisterLoan authorizes a loan collaborator to call AllocateToLoan,
// OnLoanRepayment, RecordBadDebt, and OnCollateralRecovery for its ID,
// replacing the runtime-polymorphic "bare address" dispatch the teacher's
// single-chain module used (spec §9 design notes).
func (p *Pool) RegisterLoan(cap LoanCapability) error {
	if cap == nil || strings.TrimSpace(cap.LoanID()) == "" {
		return riskerr.ErrZeroAddress
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registeredLoans[cap.LoanID()] = cap
	if _, ok := p.exposures[cap.LoanID()]; !ok {
		p.exposures[cap.LoanID()] = newLoanExposure()
	}
	return nil
}

func (p *Pool) authorizedLoan(cap LoanCapability) error {
	if cap == nil {
		return riskerr.ErrUnauthorized
	}
	registered, ok := p.registeredLoans[cap.LoanID()]
	if !ok || registered != cap {
		return riskerr.ErrUnauthorized
	}
	return nil
}

// Snapshot is a read-only view of pool state for metric projection and
// observability consumers (SPEC_FULL §12).
type Snapshot struct {
	Junior, Senior TrancheState
	Cash           *big.Int
	TotalBadDebt   *big.Int
	TotalAssetsNAV *big.Int
	Paused         bool
	StressMode     bool
	SeniorPriority bool
}

// Snapshot returns a deep, consistent snapshot of the pool state under a
// shared read lock (spec §5).
func (p *Pool) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Snapshot{
		Junior:         *p.tranches[Junior].clone(),
		Senior:         *p.tranches[Senior].clone(),
		Cash:           new(big.Int).Set(p.cash),
		TotalBadDebt:   p.totalBadDebtLocked(),
		TotalAssetsNAV: p.totalAssetsNAVLocked(),
		Paused:         p.paused,
		StressMode:     p.stressMode,
		SeniorPriority: p.seniorPriorityActive,
	}
}

func (p *Pool) totalBadDebtLocked() *big.Int {
	return new(big.Int).Add(p.tranches[Junior].BadDebt, p.tranches[Senior].BadDebt)
}

func (p *Pool) totalPrincipalOutstandingLocked() *big.Int {
	return new(big.Int).Add(p.tranches[Junior].PrincipalAllocated, p.tranches[Senior].PrincipalAllocated)
}

func (p *Pool) totalAssetsNAVLocked() *big.Int {
	nav := new(big.Int).Add(p.cash, p.totalPrincipalOutstandingLocked())
	return riskmath.SaturatingSub(nav, p.totalBadDebtLocked())
}

func (p *Pool) subordinationBpsLocked() uint64 {
	total := new(big.Int).Add(p.tranches[Junior].VirtualBalance, p.tranches[Senior].VirtualBalance)
	return riskmath.RatioBps(p.tranches[Junior].VirtualBalance, total)
}

// --- Administrative controls (spec §4.C) ---

// Pause gates deposits, instant withdraw, cancel, and fulfill. It never gates
// RequestWithdraw (safe-exit).
func (p *Pool) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
}

// Unpause lifts the pause gate.
func (p *Pool) Unpause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
}

// IsPaused reports the current pause state under a shared read lock.
func (p *Pool) IsPaused() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused
}

// SetStressMode transitions stress mode. Entering stress mode also activates
// seniorPriorityActive (spec §4.C); leaving it does not clear priority, which
// persists until ClearSeniorPriority or auto-expiry.
func (p *Pool) SetStressMode(active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stressMode = active
	if active {
		p.activateSeniorPriorityLocked()
	}
}

func (p *Pool) activateSeniorPriorityLocked() {
	p.seniorPriorityActive = true
	p.seniorPriorityActivatedAt = p.clock.Now()
}

// ClearSeniorPriority explicitly lifts Junior fulfillment priority gating.
func (p *Pool) ClearSeniorPriority() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seniorPriorityActive = false
}

func (p *Pool) seniorPriorityWindowElapsedLocked() bool {
	if !p.seniorPriorityActive {
		return false
	}
	window := p.params.SeniorPriorityMaxSeconds
	if window <= 0 {
		window = DefaultSeniorPriorityMaxSeconds
	}
	return p.clock.Now()-p.seniorPriorityActivatedAt >= window
}

// LockLaunchParameters is a one-way transition after which the parameter
// setters below fail LaunchParametersLocked (spec §4.C).
func (p *Pool) LockLaunchParameters() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.launchParamsLocked = true
}

// SetSeniorAllocationBps updates the allocation split, bounded to [5000,9000].
func (p *Pool) SetSeniorAllocationBps(bps uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.launchParamsLocked {
		return riskerr.ErrLaunchParametersLocked
	}
	if bps < 5000 || bps > 9000 {
		return riskerr.ErrAllocationRatioOutOfBounds
	}
	p.params.SeniorAllocationBps = bps
	return nil
}

// SetMinSubordinationBps updates the minimum post-deposit subordination floor
// enforced on Senior deposits.
func (p *Pool) SetMinSubordinationBps(bps uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.launchParamsLocked {
		return riskerr.ErrLaunchParametersLocked
	}
	p.params.MinSubordinationBps = bps
	return nil
}

// SetJuniorCoverageFloorBps updates the post-allocation coverage floor
// (INV-7).
func (p *Pool) SetJuniorCoverageFloorBps(bps uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.launchParamsLocked {
		return riskerr.ErrLaunchParametersLocked
	}
	p.params.JuniorCoverageFloorBps = bps
	return nil
}

// SetSeniorTargetYield updates Senior's per-repayment interest cap.
func (p *Pool) SetSeniorTargetYield(bps uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.launchParamsLocked {
		return riskerr.ErrLaunchParametersLocked
	}
	p.params.SeniorTargetYieldBps = bps
	p.tranches[Senior].TargetYieldBps = bps
	return nil
}

// Params returns a copy of the current risk parameters.
func (p *Pool) Params() RiskParameters {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.params
}

// SetDepositCap configures the maximum cumulative virtualBalance allowed for
// a tranche; zero means unlimited.
func (p *Pool) SetDepositCap(tranche Tranche, cap *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cap == nil {
		cap = big.NewInt(0)
	}
	p.tranches[tranche].DepositCap = new(big.Int).Set(cap)
}

// FeeAccrualSnapshot returns a copy of the protocol fee accrual bookkeeping
// (SPEC_FULL §12).
func (p *Pool) FeeAccrualSnapshot() FeeAccrual {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return FeeAccrual{ProtocolFees: new(big.Int).Set(p.fees.ProtocolFees)}
}

// loss/recovery helpers used by RecordBadDebt/OnCollateralRecovery, grounded
// on waterfall.ApplyLoss/ApplyRecovery.
func (p *Pool) applyLossLocked(loss *big.Int) waterfall.LossResult {
	res := waterfall.ApplyLoss(waterfall.Balances{
		JuniorVirtualBalance: p.tranches[Junior].VirtualBalance,
		SeniorVirtualBalance: p.tranches[Senior].VirtualBalance,
	}, loss)
	p.tranches[Junior].VirtualBalance = res.Junior
	p.tranches[Senior].VirtualBalance = res.Senior
	p.cash = riskmath.SaturatingSub(p.cash, new(big.Int).Add(res.JuniorAbsorbed, res.SeniorAbsorbed))
	return res
}

func (p *Pool) applyRecoveryLocked(juniorLossAbsorbed, seniorLossAbsorbed, recovery *big.Int) waterfall.RecoveryResult {
	res := waterfall.ApplyRecovery(waterfall.Balances{
		JuniorVirtualBalance: p.tranches[Junior].VirtualBalance,
		SeniorVirtualBalance: p.tranches[Senior].VirtualBalance,
	}, juniorLossAbsorbed, seniorLossAbsorbed, recovery)
	p.tranches[Junior].VirtualBalance = res.Junior
	p.tranches[Senior].VirtualBalance = res.Senior
	return res
}
