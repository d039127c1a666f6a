// Package gemini implements the Gemini adapter: the generic ACP transport
// with a backend-specific error classifier.
package gemini

import (
	"errors"
	"strings"
	"time"

	"github.com/teng-lin/beamcode/internal/adapter"
	"github.com/teng-lin/beamcode/internal/adapter/acp"
	"github.com/teng-lin/beamcode/internal/jsonrpc"
)

// AdapterName is the registry name of this adapter.
const AdapterName = "gemini"

// New creates the Gemini adapter around the given agent command.
func New(command []string, env []string, callTimeout time.Duration) *acp.Adapter {
	return acp.New(acp.Config{
		Name:        AdapterName,
		Command:     command,
		Env:         env,
		CallTimeout: callTimeout,
		Classify:    Classify,
	})
}

// Classify maps Gemini CLI errors onto the unified taxonomy. JSON-RPC error
// codes take precedence; message sniffing covers errors the CLI reports as
// plain -32603 internal errors.
func Classify(err error) adapter.ErrorKind {
	if err == nil {
		return adapter.ErrAPIError
	}

	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case -32000: // auth required
			return adapter.ErrProviderAuth
		case -32001: // quota exhausted
			return adapter.ErrRateLimit
		case -32002: // token limit
			return adapter.ErrContextOverflow
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "api key"),
		strings.Contains(msg, "unauthenticated"),
		strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "401"),
		strings.Contains(msg, "403"):
		return adapter.ErrProviderAuth
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "resource_exhausted"),
		strings.Contains(msg, "quota"),
		strings.Contains(msg, "429"):
		return adapter.ErrRateLimit
	case strings.Contains(msg, "context length"),
		strings.Contains(msg, "token limit"),
		strings.Contains(msg, "too large"),
		strings.Contains(msg, "exceeds the maximum"):
		return adapter.ErrContextOverflow
	default:
		return adapter.ErrAPIError
	}
}
