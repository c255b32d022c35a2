// Package extraction turns Solana token activity in a time window into
// canonical transfer records: pagination, fetching, decoding, owner
// resolution and normalization.
package extraction

import (
	"encoding/binary"
	"encoding/json"
	"strconv"

	"github.com/mr-tron/base58"

	"stablecoin-transfers/internal/domain"
	"stablecoin-transfers/internal/solana"
)

// Token program instruction discriminators.
const (
	instructionTransfer        = 3
	instructionTransferChecked = 12
)

// Parsed instruction types emitted by jsonParsed encoding.
const (
	parsedTypeTransfer        = "transfer"
	parsedTypeTransferChecked = "transferChecked"
)

// DecodeInstruction decodes a raw token-program Transfer or TransferChecked
// instruction. Any other program, opcode or malformed payload yields false.
func DecodeInstruction(ix solana.Instruction, accountKeys []string) (domain.TransferIntent, bool) {
	if !solana.IsTokenProgram(ix.ProgramID) || ix.Data == "" {
		return domain.TransferIntent{}, false
	}

	data, err := base58.Decode(ix.Data)
	if err != nil || len(data) < 9 {
		return domain.TransferIntent{}, false
	}

	var (
		layout   []string
		decimals *int
	)
	switch data[0] {
	case instructionTransfer:
		layout = []string{"source", "destination", "authority"}
	case instructionTransferChecked:
		layout = []string{"source", "mint", "destination", "authority"}
		if len(data) >= 10 {
			d := int(data[9])
			decimals = &d
		}
	default:
		return domain.TransferIntent{}, false
	}

	if len(ix.Accounts) < len(layout) {
		return domain.TransferIntent{}, false
	}

	accounts := make(map[string]string, len(layout))
	for i, role := range layout {
		addr, ok := ix.Accounts[i].Resolve(accountKeys)
		if !ok {
			return domain.TransferIntent{}, false
		}
		accounts[role] = addr
	}

	return domain.TransferIntent{
		Source:      accounts["source"],
		Destination: accounts["destination"],
		Authority:   accounts["authority"],
		Mint:        accounts["mint"],
		RawAmount:   binary.LittleEndian.Uint64(data[1:9]),
		Decimals:    decimals,
	}, true
}

// parsedTransferInfo is the info object of a parsed transfer/transferChecked.
type parsedTransferInfo struct {
	Source            string `json:"source"`
	Destination       string `json:"destination"`
	Authority         string `json:"authority"`
	MultisigAuthority string `json:"multisigAuthority"`
	Mint              string `json:"mint"`
	Amount            string `json:"amount"`
	TokenAmount       *struct {
		Amount   string `json:"amount"`
		Decimals *int   `json:"decimals"`
	} `json:"tokenAmount"`
}

// intentFromParsed builds an intent from a structured parse. The second
// result is false when the payload is not a transfer; the third is false
// when it is a transfer whose amount cannot be read.
func intentFromParsed(p *solana.ParsedInstruction) (intent domain.TransferIntent, isTransfer, amountOK bool) {
	if p.Type != parsedTypeTransfer && p.Type != parsedTypeTransferChecked {
		return domain.TransferIntent{}, false, false
	}

	var info parsedTransferInfo
	if err := json.Unmarshal(p.Info, &info); err != nil {
		return domain.TransferIntent{}, true, false
	}

	intent = domain.TransferIntent{
		Source:      info.Source,
		Destination: info.Destination,
		Authority:   info.Authority,
		Mint:        info.Mint,
	}
	if intent.Authority == "" {
		intent.Authority = info.MultisigAuthority
	}

	amount := info.Amount
	if info.TokenAmount != nil {
		if amount == "" {
			amount = info.TokenAmount.Amount
		}
		intent.Decimals = info.TokenAmount.Decimals
	}

	raw, err := strconv.ParseUint(amount, 10, 64)
	if err != nil {
		return intent, true, false
	}
	intent.RawAmount = raw
	return intent, true, true
}

// ExtractIntents scans top-level and inner instructions for token transfers.
// A structured parse from a token program is trusted as-is; instructions
// without one are decoded from their binary payload. The second result
// counts transfers whose amount could not be read.
func ExtractIntents(tx *solana.Transaction) ([]domain.TransferIntent, int) {
	if tx == nil || tx.Message == nil {
		return nil, 0
	}

	var (
		intents   []domain.TransferIntent
		malformed int
	)
	keys := tx.Message.AccountKeys

	visit := func(ix solana.Instruction) {
		if ix.Parsed != nil {
			if !solana.IsParsedTokenProgram(ix.Program) && !solana.IsTokenProgram(ix.ProgramID) {
				return
			}
			intent, isTransfer, ok := intentFromParsed(ix.Parsed)
			switch {
			case !isTransfer:
			case !ok:
				malformed++
			default:
				intents = append(intents, intent)
			}
			return
		}
		if intent, ok := DecodeInstruction(ix, keys); ok {
			intents = append(intents, intent)
		}
	}

	for _, ix := range tx.Message.Instructions {
		visit(ix)
	}
	if tx.Meta != nil {
		for _, group := range tx.Meta.InnerInstructions {
			for _, ix := range group.Instructions {
				visit(ix)
			}
		}
	}

	return intents, malformed
}
