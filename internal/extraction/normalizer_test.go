package extraction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stablecoin-transfers/internal/domain"
	"stablecoin-transfers/internal/solana/stub"
)

func newTestNormalizer(rpc *stub.RPCClient) *Normalizer {
	return NewNormalizer(NewOwnerResolver(rpc, nil, nil), NewMintDecimals(rpc, nil), nil)
}

func testMeta() TxMeta {
	return TxMeta{Hash: "sig1", Slot: 42, Timestamp: time.Unix(windowFrom+60, 0).UTC()}
}

func TestNormalize_PlainTransferResolvesThroughSource(t *testing.T) {
	rpc := stub.NewRPCClient()
	rpc.AddTokenAccount("srcAta", testMint, "walletA", 6)
	rpc.AddTokenAccount("dstAta", testMint, "walletB", 6)
	n := newTestNormalizer(rpc)

	rec, reason := n.Normalize(context.Background(), domain.TransferIntent{
		Source: "srcAta", Destination: "dstAta", RawAmount: 1_500_000,
	}, testToken(), testMeta())

	require.Equal(t, DiscardNone, reason)
	assert.Equal(t, "sig1", rec.TxHash)
	assert.Equal(t, domain.ChainSolana, rec.Chain)
	assert.Equal(t, "USDC", rec.TokenSymbol)
	assert.Equal(t, testMint, rec.TokenAddress)
	assert.Equal(t, "walletA", rec.FromAddress)
	assert.Equal(t, "walletB", rec.ToAddress)
	assert.Equal(t, "1.5", rec.Amount.String())
	assert.Equal(t, int64(42), rec.BlockNumber)
	assert.Equal(t, testMeta().Timestamp, rec.Timestamp)
	assert.Nil(t, rec.SenderCategory)
}

func TestNormalize_AuthorityWinsOverSourceOwner(t *testing.T) {
	rpc := stub.NewRPCClient()
	rpc.AddTokenAccount("srcAta", testMint, "walletA", 6)
	n := newTestNormalizer(rpc)
	d := 6

	rec, reason := n.Normalize(context.Background(), domain.TransferIntent{
		Source: "srcAta", Destination: "unknownAta", Authority: "delegate",
		Mint: testMint, RawAmount: 1, Decimals: &d,
	}, testToken(), testMeta())

	require.Equal(t, DiscardNone, reason)
	assert.Equal(t, "delegate", rec.FromAddress)
	assert.Equal(t, "unknownAta", rec.ToAddress, "unresolved destination falls back to the account itself")
	assert.Equal(t, "0.000001", rec.Amount.String())
	assert.Equal(t, 1, rpc.Calls("getAccountInfo"), "only the destination is looked up")
}

func TestNormalize_DecimalsPriority(t *testing.T) {
	ctx := context.Background()

	t.Run("source account decimals", func(t *testing.T) {
		rpc := stub.NewRPCClient()
		rpc.AddTokenAccount("srcAta", testMint, "walletA", 2)
		n := newTestNormalizer(rpc)

		rec, reason := n.Normalize(ctx, domain.TransferIntent{
			Source: "srcAta", Destination: "d", Authority: "a", RawAmount: 150,
		}, testToken(), testMeta())

		require.Equal(t, DiscardNone, reason)
		assert.Equal(t, "1.5", rec.Amount.String())
	})

	t.Run("mint supply decimals", func(t *testing.T) {
		rpc := stub.NewRPCClient()
		rpc.AddMint(testMint, 2)
		n := newTestNormalizer(rpc)
		token := domain.Token{Symbol: "USDC", Chain: domain.ChainSolana, Address: testMint}

		rec, reason := n.Normalize(ctx, domain.TransferIntent{
			Source: "s", Destination: "d", Authority: "a", Mint: testMint, RawAmount: 150,
		}, token, testMeta())

		require.Equal(t, DiscardNone, reason)
		assert.Equal(t, "1.5", rec.Amount.String())
	})

	t.Run("default decimals", func(t *testing.T) {
		rpc := stub.NewRPCClient()
		n := newTestNormalizer(rpc)
		token := domain.Token{Symbol: "USDC", Chain: domain.ChainSolana, Address: testMint}

		rec, reason := n.Normalize(ctx, domain.TransferIntent{
			Source: "s", Destination: "d", Authority: "a", Mint: testMint, RawAmount: 1_500_000,
		}, token, testMeta())

		require.Equal(t, DiscardNone, reason)
		assert.Equal(t, "1.5", rec.Amount.String())
	})
}

func TestNormalize_Discards(t *testing.T) {
	d6, d19 := 6, 19
	tests := []struct {
		name   string
		intent domain.TransferIntent
		want   DiscardReason
	}{
		{"unknown source without mint", domain.TransferIntent{Source: "ghost", Destination: "d", RawAmount: 1}, DiscardMintUnresolved},
		{"other mint", domain.TransferIntent{Source: "s", Destination: "d", Authority: "a", Mint: otherMint, Decimals: &d6, RawAmount: 1}, DiscardMintMismatch},
		{"decimals out of range", domain.TransferIntent{Source: "s", Destination: "d", Authority: "a", Mint: testMint, Decimals: &d19, RawAmount: 1}, DiscardInvalidAmount},
		{"no sender", domain.TransferIntent{Destination: "d", Mint: testMint, Decimals: &d6, RawAmount: 1}, DiscardSenderUnresolved},
		{"no receiver", domain.TransferIntent{Source: "s", Authority: "a", Mint: testMint, Decimals: &d6, RawAmount: 1}, DiscardReceiverUnresolved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newTestNormalizer(stub.NewRPCClient())
			_, reason := n.Normalize(context.Background(), tt.intent, testToken(), testMeta())
			assert.Equal(t, tt.want, reason)
		})
	}
}

func TestNormalize_AmountRoundTrip(t *testing.T) {
	n := newTestNormalizer(stub.NewRPCClient())
	for _, decimals := range []int{0, 2, 6, 9, 18} {
		d := decimals
		raw := uint64(123_456_789)
		rec, reason := n.Normalize(context.Background(), domain.TransferIntent{
			Source: "s", Destination: "d", Authority: "a", Mint: testMint, Decimals: &d, RawAmount: raw,
		}, testToken(), testMeta())

		require.Equal(t, DiscardNone, reason)
		assert.Equal(t, int64(raw), rec.Amount.Shift(int32(decimals)).IntPart(), "decimals=%d", decimals)
	}
}
