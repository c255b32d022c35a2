package solana

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
)

// Raw RPC payloads. Several fields change shape depending on encoding and
// program, so each polymorphic field decodes itself and falls back to the
// zero value on an unexpected shape instead of failing the whole response.

// getTransactionResult is the raw RPC response for getTransaction and for
// each entry of a full getBlock.
type getTransactionResult struct {
	Slot        int64          `json:"slot"`
	BlockTime   *int64         `json:"blockTime"`
	Meta        *wireMeta      `json:"meta"`
	Transaction wireTxEnvelope `json:"transaction"`
}

type wireMeta struct {
	Err               interface{}          `json:"err"`
	LogMessages       []string             `json:"logMessages"`
	InnerInstructions []wireInner          `json:"innerInstructions"`
	LoadedAddresses   *wireLoadedAddresses `json:"loadedAddresses"`
}

type wireInner struct {
	Index        int               `json:"index"`
	Instructions []wireInstruction `json:"instructions"`
}

type wireLoadedAddresses struct {
	Writable []string `json:"writable"`
	Readonly []string `json:"readonly"`
}

// wireTxEnvelope is an object for json/jsonParsed encodings and a
// [data, encoding] pair for binary encodings, which carry nothing we decode.
type wireTxEnvelope struct {
	Signatures []string
	Message    *wireMessage
}

func (e *wireTxEnvelope) UnmarshalJSON(b []byte) error {
	if !isJSONObject(b) {
		return nil
	}
	var raw struct {
		Signatures []string     `json:"signatures"`
		Message    *wireMessage `json:"message"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil
	}
	e.Signatures = raw.Signatures
	e.Message = raw.Message
	return nil
}

type wireMessage struct {
	AccountKeys  []wireAccountKey  `json:"accountKeys"`
	Instructions []wireInstruction `json:"instructions"`
}

// wireAccountKey is a bare pubkey string (json) or {pubkey, signer, ...} (jsonParsed).
type wireAccountKey struct {
	Pubkey string
	Object bool
}

func (k *wireAccountKey) UnmarshalJSON(b []byte) error {
	switch {
	case isJSONString(b):
		_ = json.Unmarshal(b, &k.Pubkey)
	case isJSONObject(b):
		var obj struct {
			Pubkey string `json:"pubkey"`
		}
		if json.Unmarshal(b, &obj) == nil {
			k.Pubkey = obj.Pubkey
			k.Object = true
		}
	}
	return nil
}

type wireInstruction struct {
	ProgramID      looseString      `json:"programId"`
	ProgramIDIndex *int             `json:"programIdIndex"`
	Program        looseString      `json:"program"`
	Parsed         json.RawMessage  `json:"parsed"`
	Accounts       []wireAccountRef `json:"accounts"`
	Data           looseString      `json:"data"`
}

// wireAccountRef is an index (json) or a pubkey (jsonParsed partially decoded).
type wireAccountRef AccountRef

func (r *wireAccountRef) UnmarshalJSON(b []byte) error {
	r.Index = -1
	switch {
	case isJSONString(b):
		_ = json.Unmarshal(b, &r.Pubkey)
	default:
		var idx int
		if json.Unmarshal(b, &idx) == nil {
			r.Index = idx
		}
	}
	return nil
}

// looseString decodes JSON strings and ignores every other shape.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	var v string
	if isJSONString(b) && json.Unmarshal(b, &v) == nil {
		*s = looseString(v)
	}
	return nil
}

// toTransaction converts the raw payload. signature overrides the first
// envelope signature when known.
func (r *getTransactionResult) toTransaction(signature string) *Transaction {
	tx := &Transaction{
		Slot:      r.Slot,
		Signature: signature,
		BlockTime: r.BlockTime,
	}
	if tx.Signature == "" && len(r.Transaction.Signatures) > 0 {
		tx.Signature = r.Transaction.Signatures[0]
	}

	var keys []string
	if msg := r.Transaction.Message; msg != nil {
		keys = make([]string, 0, len(msg.AccountKeys))
		stringForm := false
		for _, k := range msg.AccountKeys {
			keys = append(keys, k.Pubkey)
			if !k.Object {
				stringForm = true
			}
		}
		// jsonParsed already lists lookup-table keys inline; json does not.
		if stringForm && r.Meta != nil && r.Meta.LoadedAddresses != nil {
			keys = append(keys, r.Meta.LoadedAddresses.Writable...)
			keys = append(keys, r.Meta.LoadedAddresses.Readonly...)
		}
		tx.Message = &TransactionMessage{
			AccountKeys:  keys,
			Instructions: convertInstructions(msg.Instructions, keys),
		}
	}

	if r.Meta != nil {
		meta := &TransactionMeta{
			Err:         r.Meta.Err,
			LogMessages: r.Meta.LogMessages,
		}
		for _, inner := range r.Meta.InnerInstructions {
			meta.InnerInstructions = append(meta.InnerInstructions, InnerInstructions{
				Index:        inner.Index,
				Instructions: convertInstructions(inner.Instructions, keys),
			})
		}
		tx.Meta = meta
	}

	return tx
}

func convertInstructions(raw []wireInstruction, keys []string) []Instruction {
	out := make([]Instruction, 0, len(raw))
	for _, w := range raw {
		ix := Instruction{
			ProgramID: string(w.ProgramID),
			Program:   string(w.Program),
			Data:      string(w.Data),
		}
		if ix.ProgramID == "" && w.ProgramIDIndex != nil {
			if i := *w.ProgramIDIndex; i >= 0 && i < len(keys) {
				ix.ProgramID = keys[i]
			}
		}
		if isJSONObject(w.Parsed) {
			var p struct {
				Type string          `json:"type"`
				Info json.RawMessage `json:"info"`
			}
			if json.Unmarshal(w.Parsed, &p) == nil {
				ix.Parsed = &ParsedInstruction{Type: p.Type, Info: p.Info}
			}
		}
		for _, a := range w.Accounts {
			ix.Accounts = append(ix.Accounts, AccountRef(a))
		}
		out = append(out, ix)
	}
	return out
}

// getAccountInfoResult is the raw RPC response for getAccountInfo.
type getAccountInfoResult struct {
	Value *struct {
		Lamports   uint64          `json:"lamports"`
		Owner      string          `json:"owner"`
		Executable bool            `json:"executable"`
		Data       json.RawMessage `json:"data"`
	} `json:"value"`
}

func (r *getAccountInfoResult) toAccountInfo() *AccountInfo {
	info := &AccountInfo{
		Lamports:   r.Value.Lamports,
		Owner:      r.Value.Owner,
		Executable: r.Value.Executable,
	}

	data := r.Value.Data
	switch {
	case isJSONObject(data):
		var parsed struct {
			Program string `json:"program"`
			Parsed  struct {
				Type string `json:"type"`
				Info struct {
					Mint        string `json:"mint"`
					Owner       string `json:"owner"`
					Decimals    *int   `json:"decimals"`
					TokenAmount *struct {
						Decimals *int `json:"decimals"`
					} `json:"tokenAmount"`
				} `json:"info"`
			} `json:"parsed"`
		}
		if json.Unmarshal(data, &parsed) == nil {
			pa := &ParsedAccount{
				Program:  parsed.Program,
				Type:     parsed.Parsed.Type,
				Mint:     parsed.Parsed.Info.Mint,
				Owner:    parsed.Parsed.Info.Owner,
				Decimals: parsed.Parsed.Info.Decimals,
			}
			if pa.Decimals == nil && parsed.Parsed.Info.TokenAmount != nil {
				pa.Decimals = parsed.Parsed.Info.TokenAmount.Decimals
			}
			info.Parsed = pa
		}
	case bytes.HasPrefix(bytes.TrimSpace(data), []byte("[")):
		var pair []string
		if json.Unmarshal(data, &pair) == nil && len(pair) == 2 && pair[1] == "base64" {
			if raw, err := base64.StdEncoding.DecodeString(pair[0]); err == nil {
				info.Data = raw
			}
		}
	}

	return info
}

// getTokenSupplyResult is the raw RPC response for getTokenSupply.
type getTokenSupplyResult struct {
	Value *struct {
		Amount   string `json:"amount"`
		Decimals int    `json:"decimals"`
	} `json:"value"`
}

// getBlockResult is the raw RPC response for getBlock.
type getBlockResult struct {
	BlockTime    *int64                 `json:"blockTime"`
	Transactions []getTransactionResult `json:"transactions"`
}

// getSignaturesResult is the raw RPC response item for getSignaturesForAddress.
type getSignaturesResult struct {
	Signature string      `json:"signature"`
	Slot      int64       `json:"slot"`
	BlockTime *int64      `json:"blockTime"`
	Err       interface{} `json:"err"`
}

func isJSONObject(b []byte) bool {
	b = bytes.TrimSpace(b)
	return len(b) > 0 && b[0] == '{'
}

func isJSONString(b []byte) bool {
	b = bytes.TrimSpace(b)
	return len(b) > 0 && b[0] == '"'
}

func isJSONNull(b []byte) bool {
	b = bytes.TrimSpace(b)
	return len(b) == 0 || bytes.Equal(b, []byte("null"))
}
