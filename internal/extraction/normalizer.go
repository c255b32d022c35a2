package extraction

import (
	"context"
	"time"

	"go.uber.org/zap"

	"stablecoin-transfers/internal/domain"
)

// DiscardReason explains why an intent produced no record.
type DiscardReason string

const (
	DiscardNone               DiscardReason = ""
	DiscardMintUnresolved     DiscardReason = "mint_unresolved"
	DiscardMintMismatch       DiscardReason = "mint_mismatch"
	DiscardSenderUnresolved   DiscardReason = "sender_unresolved"
	DiscardReceiverUnresolved DiscardReason = "receiver_unresolved"
	DiscardInvalidAmount      DiscardReason = "invalid_amount"
)

// TxMeta carries the transaction-level fields of a record.
type TxMeta struct {
	Hash      string
	Slot      int64
	Timestamp time.Time
}

// Normalizer turns decoded intents into canonical transfer records.
type Normalizer struct {
	owners *OwnerResolver
	mints  *MintDecimals
	logger *zap.Logger
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(owners *OwnerResolver, mints *MintDecimals, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{owners: owners, mints: mints, logger: logger}
}

// Normalize resolves mint, decimals, sender and receiver for intent and
// scales its amount. Intents for other mints or with unresolvable parts
// are discarded with a reason.
//
// Decimals: intent, then source account, then the token's canonical value.
// Sender: authority, then owner of source, then source.
// Receiver: owner of destination, then destination.
func (n *Normalizer) Normalize(ctx context.Context, intent domain.TransferIntent, token domain.Token, meta TxMeta) (domain.TransferRecord, DiscardReason) {
	mint := intent.Mint
	decimals := intent.Decimals

	if mint == "" || decimals == nil {
		if src, ok := n.owners.Account(ctx, intent.Source); ok {
			if mint == "" {
				mint = src.Mint
			}
			if decimals == nil {
				decimals = src.Decimals
			}
		}
	}

	if mint == "" {
		return n.discard(meta, DiscardMintUnresolved)
	}
	if mint != token.Address {
		return domain.TransferRecord{}, DiscardMintMismatch
	}

	var scale int
	if decimals != nil {
		scale = *decimals
	} else {
		scale = n.mints.Decimals(ctx, token)
	}
	amount, err := domain.ScaleUint64(intent.RawAmount, scale)
	if err != nil {
		return n.discard(meta, DiscardInvalidAmount)
	}

	sender := intent.Authority
	if sender == "" {
		sender, _ = n.owners.Owner(ctx, intent.Source)
	}
	if sender == "" {
		sender = intent.Source
	}
	if sender == "" {
		return n.discard(meta, DiscardSenderUnresolved)
	}

	receiver, _ := n.owners.Owner(ctx, intent.Destination)
	if receiver == "" {
		receiver = intent.Destination
	}
	if receiver == "" {
		return n.discard(meta, DiscardReceiverUnresolved)
	}

	return domain.TransferRecord{
		TxHash:       meta.Hash,
		Chain:        token.Chain,
		TokenSymbol:  token.Symbol,
		TokenAddress: token.Address,
		FromAddress:  sender,
		ToAddress:    receiver,
		Amount:       amount,
		Timestamp:    meta.Timestamp,
		BlockNumber:  meta.Slot,
	}, DiscardNone
}

func (n *Normalizer) discard(meta TxMeta, reason DiscardReason) (domain.TransferRecord, DiscardReason) {
	n.logger.Debug("transfer discarded", zap.String("tx", meta.Hash), zap.String("reason", string(reason)))
	return domain.TransferRecord{}, reason
}
