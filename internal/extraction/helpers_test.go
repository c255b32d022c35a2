package extraction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mr-tron/base58"

	"stablecoin-transfers/internal/domain"
	"stablecoin-transfers/internal/solana"
	"stablecoin-transfers/internal/solana/stub"
)

const (
	testMint   = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	otherMint  = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
	windowFrom = int64(1_700_000_000)
	windowTo   = int64(1_700_003_600)
)

func testWindow() domain.ExtractionWindow {
	return domain.ExtractionWindow{
		Start:        time.Unix(windowFrom, 0).UTC(),
		End:          time.Unix(windowTo, 0).UTC(),
		Chain:        domain.ChainSolana,
		TokenAddress: testMint,
	}
}

func testToken() domain.Token {
	d := 6
	return domain.Token{Symbol: "USDC", Chain: domain.ChainSolana, Address: testMint, Decimals: &d}
}

func ptr[T any](v T) *T {
	return &v
}

// sig builds a successful signature entry.
func sig(name string, slot, blockTime int64) solana.SignatureInfo {
	return solana.SignatureInfo{Signature: name, Slot: slot, BlockTime: ptr(blockTime)}
}

// sigs builds n signatures newest first, starting at newest and stepping back.
func sigs(prefix string, n int, newest, step int64) []solana.SignatureInfo {
	out := make([]solana.SignatureInfo, n)
	for i := 0; i < n; i++ {
		out[i] = sig(fmt.Sprintf("%s%d", prefix, i), 1000-int64(i), newest-int64(i)*step)
	}
	return out
}

func refIDs(refs []domain.CandidateReference) []string {
	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.ID
	}
	return ids
}

// flakyRPC fails signature pages for an address after okPages successful calls.
type flakyRPC struct {
	*stub.RPCClient
	address string
	okPages int
	calls   int
}

func (f *flakyRPC) GetSignaturesForAddress(ctx context.Context, address string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	if address == f.address {
		f.calls++
		if f.calls > f.okPages {
			return nil, errors.New("connection reset")
		}
	}
	return f.RPCClient.GetSignaturesForAddress(ctx, address, opts)
}

// key returns a deterministic 32-byte base58 pubkey.
func key(b byte) string {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = b
	}
	return base58.Encode(raw)
}

// checkedTransferTx builds a transaction with one raw TransferChecked of
// testMint from srcAta to dstAta signed by authority.
func checkedTransferTx(signature string, slot, blockTime int64, srcAta, dstAta, authority string, amount uint64) *solana.Transaction {
	return &solana.Transaction{
		Signature: signature,
		Slot:      slot,
		BlockTime: ptr(blockTime),
		Meta:      &solana.TransactionMeta{},
		Message: &solana.TransactionMessage{
			AccountKeys: []string{authority, srcAta, testMint, dstAta, solana.TokenProgramID},
			Instructions: []solana.Instruction{{
				ProgramID: solana.TokenProgramID,
				Accounts:  indexRefs(1, 2, 3, 0),
				Data:      encodeTokenIx(12, amount, 6),
			}},
		},
	}
}

// plainTransferTx builds a transaction with one raw Transfer (no mint).
func plainTransferTx(signature string, slot, blockTime int64, srcAta, dstAta, authority string, amount uint64) *solana.Transaction {
	return &solana.Transaction{
		Signature: signature,
		Slot:      slot,
		BlockTime: ptr(blockTime),
		Meta:      &solana.TransactionMeta{},
		Message: &solana.TransactionMessage{
			AccountKeys: []string{authority, srcAta, dstAta, solana.TokenProgramID},
			Instructions: []solana.Instruction{{
				ProgramID: solana.TokenProgramID,
				Accounts:  indexRefs(1, 2, 0),
				Data:      encodeTokenIx(3, amount),
			}},
		},
	}
}
