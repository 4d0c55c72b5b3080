package rpc

import "encoding/json"

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeDuplicateMsg   = -32010
	codeRateLimited    = -32020
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// AccountResult is the JSON shape returned by accounts_getAccount.
type AccountResult struct {
	Address   string `json:"address"`
	PublicKey string `json:"publicKey"`
	Nonce     uint64 `json:"nonce"`
}

// SubmitResult is the JSON shape returned by accounts_submitMessage.
type SubmitResult struct {
	Address string `json:"address"`
	Payload string `json:"payload,omitempty"`
}
