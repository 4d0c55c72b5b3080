package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	coreerrors "stratachain/core/errors"
	"stratachain/core/types"
	"stratachain/crypto"
)

type getAccountParams struct {
	PublicKey string `json:"publicKey"`
}

func (s *Server) handleGetAccount(w http.ResponseWriter, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, req.ID, codeInvalidParams, "expected one parameter object")
		return
	}
	var params getAccountParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, req.ID, codeInvalidParams, "invalid parameter object")
		return
	}
	pubKey, err := decodeHexParam(params.PublicKey)
	if err != nil {
		writeError(w, req.ID, codeInvalidParams, "publicKey must be hex encoded")
		return
	}

	account, err := s.processor.GetAccount(pubKey)
	if err != nil {
		writeError(w, req.ID, codeServerError, err.Error())
		return
	}
	if account == nil {
		writeResult(w, req.ID, nil)
		return
	}
	writeResult(w, req.ID, AccountResult{
		Address:   account.Address.String(),
		PublicKey: hex.EncodeToString(account.PublicKey),
		Nonce:     account.Nonce,
	})
}

type nonceParams struct {
	Address string `json:"address"`
}

func (s *Server) handleNonce(w http.ResponseWriter, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, req.ID, codeInvalidParams, "expected one parameter object")
		return
	}
	var params nonceParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, req.ID, codeInvalidParams, "invalid parameter object")
		return
	}
	addr, err := crypto.DecodeAddress(params.Address)
	if err != nil {
		writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}

	nonce, err := s.processor.NonceOf(addr)
	if errors.Is(err, coreerrors.ErrUnknownAddress) {
		writeError(w, req.ID, codeInvalidParams, err.Error())
		return
	}
	if err != nil {
		writeError(w, req.ID, codeServerError, err.Error())
		return
	}
	writeResult(w, req.ID, nonce)
}

// handleSubmitMessage applies a decoded message and commits the single-message
// batch. This is the single-node ingestion path; with external consensus in
// front, batches arrive through the state-transition interface instead.
func (s *Server) handleSubmitMessage(w http.ResponseWriter, r *http.Request, req *RPCRequest, body []byte) {
	if len(req.Params) != 1 {
		writeError(w, req.ID, codeInvalidParams, "expected one message parameter")
		return
	}
	if code, msg := s.allowSubmit(requestSource(r), body); code != 0 {
		writeError(w, req.ID, code, msg)
		return
	}

	var msg types.Message
	if err := json.Unmarshal(req.Params[0], &msg); err != nil {
		writeError(w, req.ID, codeInvalidParams, "invalid message object")
		return
	}

	// The engine stages each message internally, so after ApplyMessage the
	// working set holds only accepted effects (including the documented
	// nonce-advance partial on failed rotations); commit flushes those even
	// when the message itself was rejected.
	s.mu.Lock()
	result, err := s.processor.ApplyMessage(&msg)
	commitErr := s.processor.Commit()
	s.mu.Unlock()

	if commitErr != nil {
		writeError(w, req.ID, codeServerError, commitErr.Error())
		return
	}
	if err != nil {
		writeError(w, req.ID, codeServerError, err.Error())
		return
	}
	writeResult(w, req.ID, SubmitResult{
		Address: result.Address.String(),
		Payload: hex.EncodeToString(result.Payload),
	})
}
