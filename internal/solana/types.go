package solana

import (
	"encoding/json"
	"fmt"
)

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

// AccountInfo represents Solana account information.
type AccountInfo struct {
	Lamports   uint64 `json:"lamports"`
	Owner      string `json:"owner"`
	Data       string `json:"data"` // base64 encoded
	Executable bool   `json:"executable"`
	RentEpoch  uint64 `json:"rentEpoch"`
}

// TokenAccount is a token account returned by getTokenAccountsByOwner.
type TokenAccount struct {
	Pubkey string
	Mint   string
	Owner  string
	Amount string // raw smallest units
}

// ParsedTransaction is a transaction fetched with jsonParsed encoding.
type ParsedTransaction struct {
	Signature string
	Slot      int64
	BlockTime *int64
	Meta      *ParsedMeta
	Message   ParsedMessage
}

// ParsedMeta contains the token balance snapshots of a transaction.
type ParsedMeta struct {
	Err               interface{}
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
	InnerInstructions []InnerInstructions
	LogMessages       []string
}

// TokenBalance is a per-account token balance snapshot.
type TokenBalance struct {
	AccountIndex  int           `json:"accountIndex"`
	Mint          string        `json:"mint"`
	Owner         string        `json:"owner"`
	UITokenAmount UITokenAmount `json:"uiTokenAmount"`
}

// UITokenAmount holds raw and display amounts of a balance.
type UITokenAmount struct {
	Amount         string `json:"amount"`
	Decimals       int    `json:"decimals"`
	UIAmountString string `json:"uiAmountString"`
}

// ParsedMessage holds account keys and top-level instructions.
type ParsedMessage struct {
	AccountKeys  []string
	Instructions []ParsedInstruction
}

// InnerInstructions are instructions invoked by the top-level instruction at Index.
type InnerInstructions struct {
	Index        int
	Instructions []ParsedInstruction
}

// ParsedInstruction is an instruction decoded by the RPC node.
// Type and Info are empty for programs the node cannot parse.
type ParsedInstruction struct {
	Program   string
	ProgramID string
	Type      string
	Info      InstructionInfo
}

// InstructionInfo is the subset of parsed instruction fields used for transfers.
type InstructionInfo struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Authority   string `json:"authority"`
	Mint        string `json:"mint"`
}

// AccountKey returns the account key at index or empty string when out of range.
func (m ParsedMessage) AccountKey(index int) string {
	if index < 0 || index >= len(m.AccountKeys) {
		return ""
	}
	return m.AccountKeys[index]
}

// IndexOf returns the index of key in the account key list or -1.
func (m ParsedMessage) IndexOf(key string) int {
	if key == "" {
		return -1
	}
	for i, k := range m.AccountKeys {
		if k == key {
			return i
		}
	}
	return -1
}

// accountKey decodes both plain string keys and jsonParsed {pubkey, ...} objects.
type accountKey string

func (k *accountKey) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*k = accountKey(s)
		return nil
	}
	var obj struct {
		Pubkey string `json:"pubkey"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("decode account key: %w", err)
	}
	*k = accountKey(obj.Pubkey)
	return nil
}

// rawInstruction is an instruction as returned by jsonParsed encoding.
// Parsed is an object for known programs, a string for some (memo), absent otherwise.
type rawInstruction struct {
	Program   string          `json:"program"`
	ProgramID string          `json:"programId"`
	Parsed    json.RawMessage `json:"parsed"`
}

func (r rawInstruction) decode() ParsedInstruction {
	ix := ParsedInstruction{
		Program:   r.Program,
		ProgramID: r.ProgramID,
	}
	if len(r.Parsed) == 0 || r.Parsed[0] != '{' {
		return ix
	}
	var parsed struct {
		Type string          `json:"type"`
		Info InstructionInfo `json:"info"`
	}
	if err := json.Unmarshal(r.Parsed, &parsed); err == nil {
		ix.Type = parsed.Type
		ix.Info = parsed.Info
	}
	return ix
}

// getParsedTransactionResult is the raw RPC response for getTransaction (jsonParsed).
type getParsedTransactionResult struct {
	Slot        int64            `json:"slot"`
	BlockTime   *int64           `json:"blockTime"`
	Meta        *rawMeta         `json:"meta"`
	Transaction *rawParsedTxBody `json:"transaction"`
}

type rawMeta struct {
	Err               interface{}    `json:"err"`
	PreTokenBalances  []TokenBalance `json:"preTokenBalances"`
	PostTokenBalances []TokenBalance `json:"postTokenBalances"`
	InnerInstructions []struct {
		Index        int              `json:"index"`
		Instructions []rawInstruction `json:"instructions"`
	} `json:"innerInstructions"`
	LogMessages []string `json:"logMessages"`
}

type rawParsedTxBody struct {
	Signatures []string `json:"signatures"`
	Message    struct {
		AccountKeys  []accountKey     `json:"accountKeys"`
		Instructions []rawInstruction `json:"instructions"`
	} `json:"message"`
}

// toParsedTransaction converts the raw response into the public type.
func (r *getParsedTransactionResult) toParsedTransaction(signature string) *ParsedTransaction {
	tx := &ParsedTransaction{
		Signature: signature,
		Slot:      r.Slot,
		BlockTime: r.BlockTime,
	}

	if r.Meta != nil {
		meta := &ParsedMeta{
			Err:               r.Meta.Err,
			PreTokenBalances:  r.Meta.PreTokenBalances,
			PostTokenBalances: r.Meta.PostTokenBalances,
			LogMessages:       r.Meta.LogMessages,
		}
		for _, inner := range r.Meta.InnerInstructions {
			group := InnerInstructions{Index: inner.Index}
			for _, raw := range inner.Instructions {
				group.Instructions = append(group.Instructions, raw.decode())
			}
			meta.InnerInstructions = append(meta.InnerInstructions, group)
		}
		tx.Meta = meta
	}

	if r.Transaction != nil {
		if signature == "" && len(r.Transaction.Signatures) > 0 {
			tx.Signature = r.Transaction.Signatures[0]
		}
		for _, k := range r.Transaction.Message.AccountKeys {
			tx.Message.AccountKeys = append(tx.Message.AccountKeys, string(k))
		}
		for _, raw := range r.Transaction.Message.Instructions {
			tx.Message.Instructions = append(tx.Message.Instructions, raw.decode())
		}
	}

	return tx
}
