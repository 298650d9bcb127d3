// Package loanbook computes the credit and liquidity metrics the circuit
// breaker evaluates on a schedule (spec §4.F). Every projection here is a
// pure function over an injected LoanBook view — the loan origination
// lifecycle, fiat settlement rail, and partner capital pools all live
// outside this module's boundary and are only ever read through this
// interface.
package loanbook

import "math/big"

// LoanStatus is the lifecycle stage of an individual loan as seen from the
// risk control plane's boundary. Origination, disbursement wizardry, and
// collateral custody happen upstream; only the terminal classification
// matters here.
type LoanStatus uint8

const (
	LoanActive LoanStatus = iota
	LoanRepaid
	LoanDefaulted
)

// FiatDirection is the settlement-rail direction of a FiatTransfer relative
// to the protocol: Outbound funds a loan's disbursement, Inbound represents
// a borrower repayment routed through fiat rails.
type FiatDirection uint8

const (
	FiatOutbound FiatDirection = iota
	FiatInbound
)

// FiatTransferStatus tracks a fiat transfer through the settlement rail.
// Confirmed and PayoutConfirmed are the two "proof-acceptable" states a
// loan's disbursement can point to.
type FiatTransferStatus uint8

const (
	FiatPending FiatTransferStatus = iota
	FiatConfirmed
	FiatPayoutConfirmed
	FiatFailed
)

// Loan is the read-only projection of a loan the breaker's metrics care
// about: its lifecycle status, which partner originated it, which pool
// funded it, and the principal amounts needed for rate/drawdown math.
type Loan struct {
	ID               string
	PartnerID        string
	PoolID           string
	Status           LoanStatus
	Principal        *big.Int
	OpenedAt         int64
	LastStatusChange int64
}

// ChainAction is an on-chain record a fiat transfer may link to as proof of
// settlement. A transfer can be linked without yet having a confirmed
// transaction hash — that gap is exactly what fiatConfirmedNoChainRecord
// watches for.
type ChainAction struct {
	TxHash string
}

// FiatTransfer is the read-only projection of a settlement-rail transfer.
type FiatTransfer struct {
	ID          string
	LoanID      string
	Direction   FiatDirection
	Status      FiatTransferStatus
	ChainAction *ChainAction // nil if the transfer has no linked on-chain record at all
}

// PartnerPool is a partner's funding line against a given pool: the
// capacity a partner agreement grants, and how much of it is currently
// drawn by active loans.
type PartnerPool struct {
	PoolID      string
	PartnerID   string
	Capacity    *big.Int
	Outstanding *big.Int
}

// LoanBook is the external collaborator every projection in this package
// reads through. Implementations own the loan lifecycle state machine,
// fiat webhook parsing, and persistence choice — all explicitly out of
// scope for the risk control plane itself.
type LoanBook interface {
	LoansByStatus(status LoanStatus) []Loan
	LoansByPartner(partnerID string) []Loan
	FiatTransfersByStatus(statuses ...FiatTransferStatus) []FiatTransfer
	FiatTransfersByDirection(dir FiatDirection) []FiatTransfer
	PartnerPools() []PartnerPool
	Partners() []string
}
