package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferIntent is a token movement decoded from a single instruction,
// before owner resolution and decimal scaling.
type TransferIntent struct {
	Source      string // source token account
	Destination string // destination token account
	Authority   string // signing owner/delegate (may be empty)
	Mint        string // empty for plain Transfer
	RawAmount   uint64 // amount in base units
	Decimals    *int   // decimals carried by the instruction, if any
}

// TransferRecord is the canonical, persisted transfer.
// Corresponds to categorized_transfers table in PostgreSQL.
type TransferRecord struct {
	TxHash           string
	Chain            Chain
	TokenSymbol      string
	TokenAddress     string
	FromAddress      string
	ToAddress        string
	Amount           decimal.Decimal // scaled by resolved decimals, never negative
	Timestamp        time.Time
	BlockNumber      int64   // slot on Solana
	SenderCategory   *string // nullable
	SenderLabel      *string // nullable
	ReceiverCategory *string // nullable
	ReceiverLabel    *string // nullable
}

// TransferKey is the natural key of a TransferRecord.
type TransferKey struct {
	TxHash       string
	TokenAddress string
	FromAddress  string
	ToAddress    string
	Amount       string // canonical decimal string
}

// Key returns the natural key of the record.
func (r *TransferRecord) Key() TransferKey {
	return TransferKey{
		TxHash:       r.TxHash,
		TokenAddress: r.TokenAddress,
		FromAddress:  r.FromAddress,
		ToAddress:    r.ToAddress,
		Amount:       r.Amount.String(),
	}
}

// NeedsTags reports whether any category or label is still null.
func (r *TransferRecord) NeedsTags() bool {
	return r.SenderCategory == nil || r.SenderLabel == nil ||
		r.ReceiverCategory == nil || r.ReceiverLabel == nil
}
