package chain

import (
	"encoding/hex"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/ipfs/go-cid"
)

// TxContent is a recognised broadcast pointer from a transaction input.
type TxContent struct {
	Type string
	CID  string
	Raw  json.RawMessage
}

// DecodeAndCheckTxData runs the input through hex decoding (when 0x-prefixed
// text), UTF-8 validation, JSON parsing, the broadcast shape check and CID
// parsing. Any failure yields ok == false.
func DecodeAndCheckTxData(input []byte) (*TxContent, bool) {
	if len(input) == 0 {
		return nil, false
	}

	data := input
	if s := string(input); strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		if s == "0x" || s == "0X" {
			return nil, false
		}
		decoded, err := hex.DecodeString(s[2:])
		if err != nil {
			return nil, false
		}
		data = decoded
	}

	if !utf8.Valid(data) {
		return nil, false
	}

	var parsed map[string]json.RawMessage
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, false
	}

	var typ string
	if err := json.Unmarshal(parsed["type"], &typ); err != nil || typ != "broadcast" {
		return nil, false
	}
	var id string
	if err := json.Unmarshal(parsed["cid"], &id); err != nil {
		return nil, false
	}
	if _, err := cid.Decode(id); err != nil {
		return nil, false
	}

	return &TxContent{
		Type: typ,
		CID:  id,
		Raw:  json.RawMessage(data),
	}, true
}
