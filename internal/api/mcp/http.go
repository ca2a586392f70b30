package mcp

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/scrypster/chatkeep/internal/storage"
)

// SessionHeader carries the session identifier on requests and responses
// after the first successful initialize.
const SessionHeader = "Mcp-Session-Id"

// maxRequestBody bounds a single JSON-RPC request.
const maxRequestBody = 4 << 20 // 4 MB

// HandlerFactory builds a fresh protocol handler for a new session.
type HandlerFactory func() *Server

// HTTPTransport terminates HTTP for the MCP protocol: bearer auth, CORS,
// and the session state machine sit here, in front of the per-session
// protocol handlers.
type HTTPTransport struct {
	authToken string
	sessions  storage.SessionStore
	factory   HandlerFactory

	mu       sync.RWMutex
	handlers map[string]*Server
}

// NewHTTPTransport creates the transport. authToken is the shared secret; an
// empty value makes every request fail with a misconfiguration status so the
// deployment bug is distinguishable from a client sending a bad token.
func NewHTTPTransport(authToken string, sessions storage.SessionStore, factory HandlerFactory) *HTTPTransport {
	t := &HTTPTransport{
		authToken: authToken,
		sessions:  sessions,
		factory:   factory,
		handlers:  make(map[string]*Server),
	}

	// Stores that announce evictions keep the handler map from holding
	// entries for sessions the store has already expired.
	if notifier, ok := sessions.(interface{ OnEvict(func(id string)) }); ok {
		notifier.OnEvict(t.dropHandler)
	}
	return t
}

// ServeHTTP handles one JSON-RPC exchange.
func (t *HTTPTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeCORSHeaders(w)

	// CORS preflight is answered unconditionally, before authentication.
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Method != http.MethodPost {
		writeHTTPError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if !t.authenticate(w, r) {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeHTTPError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	// The envelope must be well-formed before the session state machine
	// runs: a request that fails to parse, or carries the wrong protocol
	// version, gets the corresponding JSON-RPC error and is never
	// session-scoped.
	var envelope struct {
		JSONRPC string      `json:"jsonrpc"`
		Method  string      `json:"method"`
		ID      interface{} `json:"id"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		writeJSONRPCError(w, nil, &JSONRPCError{Code: ErrCodeParseError, Message: "Parse error", Data: err.Error()})
		return
	}
	if envelope.JSONRPC != "2.0" {
		writeJSONRPCError(w, envelope.ID, &JSONRPCError{Code: ErrCodeInvalidRequest, Message: "Invalid JSON-RPC version"})
		return
	}

	handler, sessionID, rpcErr := t.resolveSession(r.Context(), r.Header.Get(SessionHeader), envelope.Method)
	if rpcErr != nil {
		writeJSONRPCError(w, envelope.ID, rpcErr)
		return
	}

	response, err := handler.HandleRequest(r.Context(), body)
	if err != nil {
		log.Printf("mcp: request handling failed: %v", err)
		writeJSONRPCError(w, envelope.ID, &JSONRPCError{Code: ErrCodeInternalError, Message: "internal error"})
		return
	}

	if sessionID != "" {
		w.Header().Set(SessionHeader, sessionID)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(response)
}

// authenticate enforces the bearer-token gate. It writes the failure
// response itself and reports whether the request may proceed.
func (t *HTTPTransport) authenticate(w http.ResponseWriter, r *http.Request) bool {
	// An unset secret is a deployment bug, not a client error.
	if t.authToken == "" {
		writeHTTPError(w, http.StatusInternalServerError, "server misconfigured: auth token not set")
		return false
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		writeHTTPError(w, http.StatusUnauthorized, "missing authorization header")
		return false
	}

	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == authHeader {
		writeHTTPError(w, http.StatusUnauthorized, "invalid authorization format")
		return false
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(t.authToken)) != 1 {
		writeHTTPError(w, http.StatusUnauthorized, "invalid token")
		return false
	}

	return true
}

// resolveSession implements the per-session state machine:
//   - a request carrying a live session id reuses that session's handler,
//     and initialize on it is idempotent;
//   - initialize without a resolvable session allocates a new one;
//   - notifications pass through without a session;
//   - anything else without a session fails with session-not-found and
//     does not create one.
func (t *HTTPTransport) resolveSession(ctx context.Context, sessionID, method string) (*Server, string, *JSONRPCError) {
	if sessionID != "" {
		if _, err := t.sessions.Get(ctx, sessionID); err == nil {
			_ = t.sessions.Touch(ctx, sessionID)
			return t.handlerFor(sessionID), sessionID, nil
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, "", &JSONRPCError{Code: ErrCodeInternalError, Message: fmt.Sprintf("session lookup failed: %v", err)}
		}
		// Unknown or expired id: drop any stale handler and fall through.
		t.dropHandler(sessionID)
	}

	if method == "initialize" {
		newID, err := t.sessions.Create(ctx, "")
		if err != nil {
			return nil, "", &JSONRPCError{Code: ErrCodeInternalError, Message: fmt.Sprintf("session creation failed: %v", err)}
		}
		return t.handlerFor(newID), newID, nil
	}

	if strings.HasPrefix(method, "notifications/") {
		// Notifications never error, session or not.
		return t.factory(), "", nil
	}

	return nil, "", &JSONRPCError{Code: ErrCodeSessionNotFound, Message: "session not found"}
}

// handlerFor returns the session's protocol handler, creating it on first
// use. One handler serves a session for its whole lifetime.
func (t *HTTPTransport) handlerFor(sessionID string) *Server {
	t.mu.RLock()
	handler, ok := t.handlers[sessionID]
	t.mu.RUnlock()
	if ok {
		return handler
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if handler, ok = t.handlers[sessionID]; ok {
		return handler
	}
	handler = t.factory()
	t.handlers[sessionID] = handler
	return handler
}

func (t *HTTPTransport) dropHandler(sessionID string) {
	t.mu.Lock()
	delete(t.handlers, sessionID)
	t.mu.Unlock()
}

// writeCORSHeaders enables cross-origin calls from arbitrary origins.
func writeCORSHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+SessionHeader)
	h.Set("Access-Control-Expose-Headers", SessionHeader)
}

// writeHTTPError writes a transport-level JSON error body.
func writeHTTPError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSONRPCError writes a JSON-RPC error envelope with HTTP 200.
func writeJSONRPCError(w http.ResponseWriter, id interface{}, rpcErr *JSONRPCError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(JSONRPCResponse{
		JSONRPC: "2.0",
		Error:   rpcErr,
		ID:      id,
	})
}
