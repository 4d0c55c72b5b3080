package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"lukechampine.com/blake3"

	"stratachain/core"
)

const (
	rateLimitWindow     = time.Minute
	maxSubmitsPerWindow = 60
	msgSeenTTL          = 15 * time.Minute
)

type rateLimiter struct {
	count       int
	windowStart time.Time
}

// Server exposes the accounts query interface and a single-node message
// ingestion path over JSON-RPC 2.0.
type Server struct {
	processor *core.Processor
	logger    *slog.Logger

	mu           sync.Mutex
	msgSeen      map[[32]byte]time.Time
	rateLimiters map[string]*rateLimiter
}

func NewServer(processor *core.Processor, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		processor:    processor,
		logger:       logger,
		msgSeen:      make(map[[32]byte]time.Time),
		rateLimiters: make(map[string]*rateLimiter),
	}
}

func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", "address", addr)
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	return http.ListenAndServe(addr, mux)
}

// Handler exposes the RPC entrypoint for tests and embedding.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		writeError(w, nil, codeParseError, "failed to read request body")
		return
	}
	if len(body) > maxRequestBytes {
		writeError(w, nil, codeInvalidRequest, "request body too large")
		return
	}

	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, nil, codeParseError, "invalid JSON request")
		return
	}
	if req.JSONRPC != jsonRPCVersion {
		writeError(w, req.ID, codeInvalidRequest, "unsupported jsonrpc version")
		return
	}

	switch req.Method {
	case "strata_health":
		writeResult(w, req.ID, map[string]string{"status": "ok"})
	case "accounts_getAccount":
		s.handleGetAccount(w, &req)
	case "accounts_nonce":
		s.handleNonce(w, &req)
	case "accounts_submitMessage":
		s.handleSubmitMessage(w, r, &req, body)
	default:
		writeError(w, req.ID, codeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

// allowSubmit enforces the per-source window counter and the duplicate-body
// cache. The blake3 hash of the raw request body identifies resubmissions.
func (s *Server) allowSubmit(source string, body []byte) (int, string) {
	now := time.Now()
	digest := blake3.Sum256(body)

	s.mu.Lock()
	defer s.mu.Unlock()

	for hash, seen := range s.msgSeen {
		if now.Sub(seen) > msgSeenTTL {
			delete(s.msgSeen, hash)
		}
	}
	if _, dup := s.msgSeen[digest]; dup {
		return codeDuplicateMsg, "duplicate message submission"
	}

	limiter, ok := s.rateLimiters[source]
	if !ok || now.Sub(limiter.windowStart) > rateLimitWindow {
		limiter = &rateLimiter{windowStart: now}
		s.rateLimiters[source] = limiter
	}
	if limiter.count >= maxSubmitsPerWindow {
		return codeRateLimited, "submission rate limit exceeded"
	}
	limiter.count++
	s.msgSeen[digest] = now
	return 0, ""
}

func requestSource(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(RPCResponse{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Result:  result,
	})
}

func writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(RPCResponse{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message},
	})
}

func decodeHexParam(raw string) ([]byte, error) {
	if len(raw) >= 2 && raw[0] == '0' && (raw[1] == 'x' || raw[1] == 'X') {
		raw = raw[2:]
	}
	return hex.DecodeString(raw)
}
