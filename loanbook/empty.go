package loanbook

// EmptyBook is a LoanBook that holds nothing. It exists for deployments
// where no live loan-ledger adapter has been wired yet: every metric
// projection over it reports "no data" rather than panicking, so the
// scheduler's fail-closed path (not this type) is what drives breaker
// behavior until a real adapter is configured.
type EmptyBook struct{}

func (EmptyBook) LoansByStatus(LoanStatus) []Loan                         { return nil }
func (EmptyBook) LoansByPartner(string) []Loan                            { return nil }
func (EmptyBook) FiatTransfersByStatus(...FiatTransferStatus) []FiatTransfer { return nil }
func (EmptyBook) FiatTransfersByDirection(FiatDirection) []FiatTransfer   { return nil }
func (EmptyBook) PartnerPools() []PartnerPool                            { return nil }
func (EmptyBook) Partners() []string                                     { return nil }
