package solana

import "encoding/json"

// SignatureInfo from getSignaturesForAddress.
type SignatureInfo struct {
	Signature string
	Slot      int64
	BlockTime *int64
	Err       interface{}
}

// SignaturesOpts defines optional pagination parameters for getSignaturesForAddress.
type SignaturesOpts struct {
	Before string // Start searching backwards from this signature
	Until  string // Search until this signature
	Limit  int    // Maximum number of signatures to return
}

// Transaction represents a decoded Solana transaction.
type Transaction struct {
	Slot      int64
	Signature string
	BlockTime *int64 // Unix timestamp (seconds), nil if unknown
	Meta      *TransactionMeta
	Message   *TransactionMessage
}

// Failed reports whether the transaction executed with an error.
func (tx *Transaction) Failed() bool {
	return tx.Meta != nil && tx.Meta.Err != nil
}

// TransactionMeta contains transaction metadata.
type TransactionMeta struct {
	Err               interface{}
	LogMessages       []string
	InnerInstructions []InnerInstructions
}

// TransactionMessage contains the resolved message.
// AccountKeys already includes addresses loaded from lookup tables.
type TransactionMessage struct {
	AccountKeys  []string
	Instructions []Instruction
}

// InnerInstructions are the CPI instructions emitted by one top-level instruction.
type InnerInstructions struct {
	Index        int
	Instructions []Instruction
}

// Instruction is a single instruction in either parsed or raw form.
// Parsed is set only when the node decoded it into a structured object.
type Instruction struct {
	ProgramID string
	Program   string // parsed program name, e.g. "spl-token"
	Parsed    *ParsedInstruction
	Accounts  []AccountRef
	Data      string // base58
}

// ParsedInstruction is the structured form returned by jsonParsed encoding.
type ParsedInstruction struct {
	Type string
	Info json.RawMessage
}

// AccountRef refers to an instruction account either by index into the
// message account keys or by inline pubkey.
type AccountRef struct {
	Index  int
	Pubkey string
}

// IndexRef returns a reference by account key index.
func IndexRef(i int) AccountRef {
	return AccountRef{Index: i}
}

// PubkeyRef returns a reference by inline pubkey.
func PubkeyRef(pubkey string) AccountRef {
	return AccountRef{Index: -1, Pubkey: pubkey}
}

// Resolve returns the account address for the reference.
func (r AccountRef) Resolve(keys []string) (string, bool) {
	if r.Pubkey != "" {
		return r.Pubkey, true
	}
	if r.Index >= 0 && r.Index < len(keys) {
		return keys[r.Index], true
	}
	return "", false
}

// Block represents a Solana block.
type Block struct {
	Slot         int64
	BlockTime    *int64
	Transactions []Transaction
}

// AccountInfo is the account state returned by getAccountInfo.
type AccountInfo struct {
	Lamports   uint64
	Owner      string // owning program
	Executable bool
	Data       []byte // raw bytes when the node returned binary data
	Parsed     *ParsedAccount
}

// ParsedAccount is the jsonParsed view of a token account or mint.
type ParsedAccount struct {
	Program  string // "spl-token" or "spl-token-2022"
	Type     string // "account" or "mint"
	Mint     string // token accounts only
	Owner    string // token accounts only
	Decimals *int
}

// TokenSupply from getTokenSupply.
type TokenSupply struct {
	Amount   string
	Decimals int
}
