package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/blackrose-blackhat/llm-guardrail/backend/internal/guardrail"
)

const protocolVersion = "2024-11-05"

// Checker runs a message through the guardrail
type Checker interface {
	Check(ctx context.Context, text string) (*guardrail.Verdict, error)
}

// Counter reports the size of the attack corpus
type Counter interface {
	Count(ctx context.Context) (int, error)
	Collection() string
}

// Server exposes the guardrail as a Model Context Protocol tool so agents
// can vet prompts before acting on them.
type Server struct {
	guard  Checker
	corpus Counter
	log    *logrus.Entry
	mu     sync.Mutex
}

// NewServer creates an MCP server. corpus may be nil.
func NewServer(guard Checker, corpus Counter, log *logrus.Entry) *Server {
	return &Server{
		guard:  guard,
		corpus: corpus,
		log:    log.WithField("component", "mcp"),
	}
}

// Request represents a JSON-RPC request
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response represents a JSON-RPC response
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Serve reads newline-delimited JSON-RPC requests from r until EOF or ctx
// is cancelled, writing responses to w.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	decoder := json.NewDecoder(r)
	encoder := json.NewEncoder(w)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var req Request
		if err := decoder.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) {
				s.log.WithError(err).Warn("failed to decode MCP request")
				continue
			}
			// the decoder cannot resync after a syntax error
			s.write(encoder, Response{JSONRPC: "2.0", Error: &RPCError{Code: -32700, Message: "Parse error"}})
			return err
		}

		if resp, ok := s.Handle(ctx, req); ok {
			s.write(encoder, resp)
		}
	}
}

func (s *Server) write(enc *json.Encoder, resp Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := enc.Encode(resp); err != nil {
		s.log.WithError(err).Error("failed to write MCP response")
	}
}

// Handle dispatches one request. Notifications produce no response.
func (s *Server) Handle(ctx context.Context, req Request) (Response, bool) {
	var result interface{}
	var rpcErr *RPCError

	switch req.Method {
	case "initialize":
		result = map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]interface{}{
				"tools":     map[string]interface{}{},
				"resources": map[string]interface{}{},
			},
			"serverInfo": map[string]string{
				"name":    "llm-guardrail",
				"version": "1.0.0",
			},
		}

	case "tools/list":
		result = map[string]interface{}{
			"tools": []interface{}{
				map[string]interface{}{
					"name":        "check_prompt",
					"description": "Checks a prompt for injection and jailbreak attempts using the classifier and the known-attack similarity index",
					"inputSchema": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"prompt": map[string]interface{}{
								"type":        "string",
								"description": "The prompt to analyze",
							},
						},
						"required": []string{"prompt"},
					},
				},
			},
		}

	case "tools/call":
		var params struct {
			Name      string                 `json:"name"`
			Arguments map[string]interface{} `json:"arguments"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			rpcErr = &RPCError{Code: -32602, Message: "Invalid params"}
		} else {
			result, rpcErr = s.callTool(ctx, params.Name, params.Arguments)
		}

	case "resources/list":
		result = map[string]interface{}{
			"resources": []interface{}{
				map[string]interface{}{
					"uri":         "guardrail://corpus",
					"name":        "Attack corpus",
					"description": "Size of the known-attack collection used by the similarity layer",
					"mimeType":    "application/json",
				},
			},
		}

	case "resources/read":
		var params struct {
			URI string `json:"uri"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			rpcErr = &RPCError{Code: -32602, Message: "Invalid params"}
		} else if params.URI != "guardrail://corpus" || s.corpus == nil {
			rpcErr = &RPCError{Code: -32602, Message: "Unknown resource"}
		} else {
			result, rpcErr = s.readCorpus(ctx)
		}

	case "notifications/initialized":
		return Response{}, false

	default:
		rpcErr = &RPCError{Code: -32601, Message: fmt.Sprintf("Method %s not found", req.Method)}
	}

	if req.ID == nil {
		return Response{}, false
	}
	return Response{JSONRPC: "2.0", ID: req.ID, Result: result, Error: rpcErr}, true
}

func (s *Server) callTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, *RPCError) {
	if name != "check_prompt" {
		return nil, &RPCError{Code: -32601, Message: "Tool not found"}
	}
	prompt, ok := args["prompt"].(string)
	if !ok {
		return nil, &RPCError{Code: -32602, Message: "Prompt missing"}
	}

	v, err := s.guard.Check(ctx, prompt)
	if errors.Is(err, guardrail.ErrInvalidInput) {
		return nil, &RPCError{Code: -32602, Message: err.Error()}
	}
	if err != nil {
		return nil, &RPCError{Code: -32000, Message: err.Error()}
	}

	var b strings.Builder
	if v.Blocked {
		fmt.Fprintf(&b, "Safety Check: blocked\n\n%s\n", v.Explanation())
	} else {
		fmt.Fprintf(&b, "Safety Check: passed\n\n%s\n", v.Reason)
	}
	if len(v.Degraded) > 0 {
		fmt.Fprintf(&b, "Unavailable layers: %s\n", strings.Join(v.Degraded, ", "))
	}

	structured, _ := json.Marshal(v.Response())
	return map[string]interface{}{
		"content": []interface{}{
			map[string]interface{}{"type": "text", "text": b.String()},
			map[string]interface{}{"type": "text", "text": string(structured)},
		},
		"isError": v.Blocked,
	}, nil
}

func (s *Server) readCorpus(ctx context.Context) (interface{}, *RPCError) {
	n, err := s.corpus.Count(ctx)
	if err != nil {
		return nil, &RPCError{Code: -32000, Message: err.Error()}
	}
	body, _ := json.Marshal(map[string]interface{}{
		"collection": s.corpus.Collection(),
		"examples":   n,
	})
	return map[string]interface{}{
		"contents": []interface{}{
			map[string]interface{}{
				"uri":      "guardrail://corpus",
				"mimeType": "application/json",
				"text":     string(body),
			},
		},
	}, nil
}
