package domain

import "time"

// CreditKind distinguishes ledger rows.
type CreditKind string

const (
	CreditKindCharge CreditKind = "CHARGE"
	CreditKindRefund CreditKind = "REFUND"
)

// CreditTransaction is an append-only ledger entry. CreditsUsed is positive for
// a charge and negative for a refund.
type CreditTransaction struct {
	ID           string
	OwnerID      string
	Kind         CreditKind
	CreditsUsed  int
	RelatedJobID string
	Reason       string
	CreatedAt    time.Time
}

// CreditBalance is the cached view on the user record.
type CreditBalance struct {
	OwnerID      string
	CreditsLimit int
	CreditsUsed  int
}

// Available returns the remaining credits.
func (b CreditBalance) Available() int {
	return b.CreditsLimit - b.CreditsUsed
}

// LedgerDrift reports a mismatch between the cached total and the log.
type LedgerDrift struct {
	OwnerID  string
	Cached   int
	Replayed int
}
