package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// RPCError is returned by a handler to produce a JSON-RPC error response
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// RPCHandler answers one JSON-RPC call
type RPCHandler func(params []json.RawMessage) (interface{}, *RPCError)

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCServer is a fake JSON-RPC endpoint. Methods are dispatched by name and
// eth_call requests additionally by the 4-byte selector of their calldata.
type RPCServer struct {
	*httptest.Server

	mu           sync.Mutex
	handlers     map[string]RPCHandler
	callHandlers map[string]RPCHandler
	calls        map[string]int
}

func NewRPCServer(t *testing.T) *RPCServer {
	s := &RPCServer{
		handlers:     make(map[string]RPCHandler),
		callHandlers: make(map[string]RPCHandler),
		calls:        make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	t.Cleanup(s.Close)
	return s
}

// Handle registers h for method
func (s *RPCServer) Handle(method string, h RPCHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// HandleResult registers a handler that always returns result
func (s *RPCServer) HandleResult(method string, result interface{}) {
	s.Handle(method, func([]json.RawMessage) (interface{}, *RPCError) {
		return result, nil
	})
}

// HandleCall registers h for eth_call requests whose calldata starts with selector
func (s *RPCServer) HandleCall(selector []byte, h RPCHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callHandlers[hexutil.Encode(selector)] = h
}

// Calls returns how often method was invoked. eth_call invocations are also
// counted as "eth_call:<selector>".
func (s *RPCServer) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *RPCServer) serveHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if trimmed := strings.TrimSpace(string(body)); strings.HasPrefix(trimmed, "[") {
		var batch []rpcRequest
		if err := json.Unmarshal(body, &batch); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		responses := make([]rpcResponse, 0, len(batch))
		for _, req := range batch {
			responses = append(responses, s.dispatch(req))
		}
		_ = json.NewEncoder(w).Encode(responses)
		return
	}

	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	_ = json.NewEncoder(w).Encode(s.dispatch(req))
}

func (s *RPCServer) dispatch(req rpcRequest) rpcResponse {
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}

	s.mu.Lock()
	s.calls[req.Method]++
	handler, ok := s.handlers[req.Method]
	if req.Method == "eth_call" && len(req.Params) > 0 {
		if selector := callSelector(req.Params[0]); selector != "" {
			s.calls["eth_call:"+selector]++
			if h, found := s.callHandlers[selector]; found {
				handler, ok = h, true
			}
		}
	}
	s.mu.Unlock()

	if !ok {
		resp.Error = &RPCError{Code: -32601, Message: "the method " + req.Method + " does not exist/is not available"}
		return resp
	}

	result, rpcErr := handler(req.Params)
	if rpcErr != nil {
		resp.Error = rpcErr
		return resp
	}
	resp.Result = result
	return resp
}

func callSelector(raw json.RawMessage) string {
	var msg struct {
		Data  hexutil.Bytes `json:"data"`
		Input hexutil.Bytes `json:"input"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ""
	}
	data := msg.Input
	if len(data) == 0 {
		data = msg.Data
	}
	if len(data) < 4 {
		return ""
	}
	return hexutil.Encode(data[:4])
}

// CallData extracts the calldata of an eth_call request
func CallData(params []json.RawMessage) []byte {
	if len(params) == 0 {
		return nil
	}
	var msg struct {
		Data  hexutil.Bytes `json:"data"`
		Input hexutil.Bytes `json:"input"`
	}
	if err := json.Unmarshal(params[0], &msg); err != nil {
		return nil
	}
	if len(msg.Input) > 0 {
		return msg.Input
	}
	return msg.Data
}
