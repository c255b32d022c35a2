package extraction

import (
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stablecoin-transfers/internal/solana"
)

// encodeTokenIx builds base58 instruction data: opcode | amount (LE u64) | extra.
func encodeTokenIx(opcode byte, amount uint64, extra ...byte) string {
	data := make([]byte, 9, 9+len(extra))
	data[0] = opcode
	binary.LittleEndian.PutUint64(data[1:9], amount)
	return base58.Encode(append(data, extra...))
}

func indexRefs(idx ...int) []solana.AccountRef {
	refs := make([]solana.AccountRef, len(idx))
	for i, v := range idx {
		refs[i] = solana.IndexRef(v)
	}
	return refs
}

func TestDecodeInstruction_Transfer(t *testing.T) {
	keys := []string{"payer", "srcAta", "dstAta", solana.TokenProgramID}
	ix := solana.Instruction{
		ProgramID: solana.TokenProgramID,
		Accounts:  indexRefs(1, 2, 0),
		Data:      encodeTokenIx(3, 1_500_000),
	}

	intent, ok := DecodeInstruction(ix, keys)

	require.True(t, ok)
	assert.Equal(t, "srcAta", intent.Source)
	assert.Equal(t, "dstAta", intent.Destination)
	assert.Equal(t, "payer", intent.Authority)
	assert.Empty(t, intent.Mint)
	assert.Equal(t, uint64(1_500_000), intent.RawAmount)
	assert.Nil(t, intent.Decimals)
}

func TestDecodeInstruction_TransferChecked(t *testing.T) {
	keys := []string{"owner", "srcAta", "mintA", "dstAta"}
	ix := solana.Instruction{
		ProgramID: solana.Token2022ProgramID,
		Accounts:  indexRefs(1, 2, 3, 0),
		Data:      encodeTokenIx(12, 42, 6),
	}

	intent, ok := DecodeInstruction(ix, keys)

	require.True(t, ok)
	assert.Equal(t, "srcAta", intent.Source)
	assert.Equal(t, "mintA", intent.Mint)
	assert.Equal(t, "dstAta", intent.Destination)
	assert.Equal(t, "owner", intent.Authority)
	assert.Equal(t, uint64(42), intent.RawAmount)
	require.NotNil(t, intent.Decimals)
	assert.Equal(t, 6, *intent.Decimals)
}

func TestDecodeInstruction_InlinePubkeys(t *testing.T) {
	ix := solana.Instruction{
		ProgramID: solana.TokenProgramID,
		Accounts:  []solana.AccountRef{solana.PubkeyRef("a"), solana.PubkeyRef("b"), solana.PubkeyRef("c")},
		Data:      encodeTokenIx(3, 7),
	}

	intent, ok := DecodeInstruction(ix, nil)

	require.True(t, ok)
	assert.Equal(t, "a", intent.Source)
	assert.Equal(t, "b", intent.Destination)
}

func TestDecodeInstruction_Rejects(t *testing.T) {
	keys := []string{"k0", "k1", "k2", "k3"}
	tests := []struct {
		name string
		ix   solana.Instruction
	}{
		{"other opcode", solana.Instruction{ProgramID: solana.TokenProgramID, Accounts: indexRefs(0, 1, 2), Data: encodeTokenIx(7, 1)}},
		{"foreign program", solana.Instruction{ProgramID: "11111111111111111111111111111111", Accounts: indexRefs(0, 1, 2), Data: encodeTokenIx(3, 1)}},
		{"short payload", solana.Instruction{ProgramID: solana.TokenProgramID, Accounts: indexRefs(0, 1, 2), Data: base58.Encode([]byte{3, 1, 0, 0})}},
		{"missing accounts", solana.Instruction{ProgramID: solana.TokenProgramID, Accounts: indexRefs(0, 1, 2), Data: encodeTokenIx(12, 1, 6)}},
		{"index out of range", solana.Instruction{ProgramID: solana.TokenProgramID, Accounts: indexRefs(0, 9, 2), Data: encodeTokenIx(3, 1)}},
		{"invalid base58", solana.Instruction{ProgramID: solana.TokenProgramID, Accounts: indexRefs(0, 1, 2), Data: "0OIl"}},
		{"empty data", solana.Instruction{ProgramID: solana.TokenProgramID, Accounts: indexRefs(0, 1, 2)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := DecodeInstruction(tt.ix, keys)
			assert.False(t, ok)
		})
	}
}

func parsedIx(program, typ string, info interface{}) solana.Instruction {
	raw, _ := json.Marshal(info)
	programID := solana.TokenProgramID
	if program == "system" {
		programID = "11111111111111111111111111111111"
	}
	return solana.Instruction{
		ProgramID: programID,
		Program:   program,
		Parsed:    &solana.ParsedInstruction{Type: typ, Info: raw},
	}
}

func TestExtractIntents(t *testing.T) {
	tx := &solana.Transaction{
		Signature: "sig",
		Message: &solana.TransactionMessage{
			AccountKeys: []string{"owner", "srcAta", "dstAta"},
			Instructions: []solana.Instruction{
				parsedIx("spl-token", "transferChecked", map[string]interface{}{
					"source": "s1", "mint": "mintA", "destination": "d1", "authority": "w1",
					"tokenAmount": map[string]interface{}{"amount": "2500000", "decimals": 6},
				}),
				parsedIx("spl-token", "closeAccount", map[string]interface{}{"account": "x"}),
				parsedIx("system", "transfer", map[string]interface{}{"source": "a", "destination": "b", "lamports": 5}),
			},
		},
		Meta: &solana.TransactionMeta{
			InnerInstructions: []solana.InnerInstructions{{
				Index: 0,
				Instructions: []solana.Instruction{
					{ProgramID: solana.TokenProgramID, Accounts: indexRefs(1, 2, 0), Data: encodeTokenIx(3, 99)},
					parsedIx("spl-token", "transfer", map[string]interface{}{
						"source": "s2", "destination": "d2", "multisigAuthority": "ms", "amount": "12",
					}),
					parsedIx("spl-token-2022", "transfer", map[string]interface{}{
						"source": "s3", "destination": "d3", "authority": "w3", "amount": "not-a-number",
					}),
				},
			}},
		},
	}

	intents, malformed := ExtractIntents(tx)

	require.Len(t, intents, 3)
	assert.Equal(t, 1, malformed)

	assert.Equal(t, "mintA", intents[0].Mint)
	assert.Equal(t, uint64(2_500_000), intents[0].RawAmount)
	require.NotNil(t, intents[0].Decimals)
	assert.Equal(t, 6, *intents[0].Decimals)

	assert.Equal(t, "srcAta", intents[1].Source)
	assert.Equal(t, uint64(99), intents[1].RawAmount)

	assert.Equal(t, "ms", intents[2].Authority)
	assert.Equal(t, uint64(12), intents[2].RawAmount)
}

func TestExtractIntents_NoMessage(t *testing.T) {
	intents, malformed := ExtractIntents(&solana.Transaction{Signature: "x"})
	assert.Empty(t, intents)
	assert.Zero(t, malformed)
}
