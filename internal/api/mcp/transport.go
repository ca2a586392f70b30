package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
)

// StdioTransport serves line-delimited JSON-RPC 2.0 over a reader/writer
// pair, normally stdin and stdout when a client launches the server as a
// subprocess. One request per line in, one response per line out. Stdout
// carries nothing but response frames; diagnostics go to a stderr logger,
// since any stray byte on stdout corrupts the framing.
//
// A stdio transport has exactly one client, so the bearer auth and session
// machinery of the HTTP transport does not apply: a single protocol handler
// serves every request for the life of the process.
type StdioTransport struct {
	server *Server
	in     io.Reader
	out    io.Writer
	logger *log.Logger
}

// NewStdioTransport wraps the given streams around one protocol handler.
// For a real subprocess setup pass os.Stdin and os.Stdout.
func NewStdioTransport(srv *Server, in io.Reader, out io.Writer) *StdioTransport {
	return &StdioTransport{
		server: srv,
		in:     in,
		out:    out,
		logger: log.New(os.Stderr, "chatkeep-mcp: ", log.LstdFlags),
	}
}

// Serve reads requests until the input closes or ctx is cancelled, handling
// each line in arrival order. Empty lines are skipped. A handler failure
// never stalls the framing: the client always receives a response frame for
// a non-empty line.
func (t *StdioTransport) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(t.in)

	// Accept lines up to the same bound the HTTP transport puts on bodies.
	scanner.Buffer(make([]byte, maxRequestBody), maxRequestBody)

	for {
		select {
		case <-ctx.Done():
			t.logger.Println("shutting down: context cancelled")
			return ctx.Err()
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				t.logger.Printf("input read failed: %v", err)
				return fmt.Errorf("mcp: stdio read: %w", err)
			}
			t.logger.Println("shutting down: input closed")
			return nil
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		frame, err := t.server.HandleRequest(ctx, line)
		if err != nil {
			t.logger.Printf("handler failed: %v", err)
			frame = stdioErrorFrame(line, err)
		}

		if _, err := fmt.Fprintf(t.out, "%s\n", frame); err != nil {
			t.logger.Printf("output write failed: %v", err)
			return fmt.Errorf("mcp: stdio write: %w", err)
		}
	}
}

// stdioErrorFrame synthesises a JSON-RPC internal-error response for a
// request the handler could not answer, carrying over the request ID when
// the raw bytes yield one.
func stdioErrorFrame(rawRequest []byte, handlerErr error) []byte {
	var partial struct {
		ID interface{} `json:"id"`
	}
	_ = json.Unmarshal(rawRequest, &partial)

	frame, err := json.Marshal(JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      partial.ID,
		Error: &JSONRPCError{
			Code:    ErrCodeInternalError,
			Message: handlerErr.Error(),
		},
	})
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}
	return frame
}
