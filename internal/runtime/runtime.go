// Package runtime contains the function-dispatch engine: the Manager
// abstraction implemented by each backend and the per-function instance cache
// with single-flight cold start. The dispatcher that ties an HTTP request to a
// warm backend instance lives in the dispatch subpackage.
package runtime

import (
	"errors"
	"fmt"

	"github.com/wudi/fngate/internal/envelope"
)

// Manager is one materialized, ready-to-serve backend instance for a single
// function. HandleRequest must be safe for concurrent use: instances are
// shared by every request to their function.
type Manager interface {
	// HandleRequest runs one invocation and returns the raw response bytes.
	// On success the bytes are a CBOR-encoded FunctionResponse; backends may
	// also hand back whatever the function wrote when it did not produce a
	// decodable response, in which case the dispatcher falls back to serving
	// them as plain text.
	HandleRequest(fctx *envelope.FunctionContext) ([]byte, error)

	// Shutdown releases the instance's external resources: terminate the
	// child process, free the compiled module.
	Shutdown() error
}

// ErrRace is returned when a cache entry vanishes between the membership
// check and the fetch. Entries are never removed during normal operation, so
// seeing this means the cache was corrupted rather than merely cold.
var ErrRace = errors.New("runtime: instance removed from cache while fetching")

// NotImplementedError is returned when a function declares a runtime tag no
// backend handles.
type NotImplementedError struct {
	Runtime string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("runtime (%s) not implemented", e.Runtime)
}

// InitError wraps a backend initialization failure. Initialization errors are
// reported to the caller and never cached; the next request retries.
type InitError struct {
	Runtime string
	Err     error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("failed to initialize %s runtime: %v", e.Runtime, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}
