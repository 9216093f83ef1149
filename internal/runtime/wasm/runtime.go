// Package wasm implements the in-process WebAssembly function backend. A
// handler file is compiled once per instance; every request gets a fresh
// module instantiation and exchanges envelopes through its linear memory.
//
// Guest ABI: the module exports handle_request(ptr, len i32) i32. The host
// writes the compact-binary FunctionContext into memory starting at offset 1
// (offset 0 is reserved) and calls the export with that location. The guest
// returns a pointer to an envelope.WasmResponseSize-byte WasmResponse record
// naming the region that holds the encoded FunctionResponse. The host
// provides one import, env.print(ptr, len i32), for guest diagnostics.
package wasm

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/tetratelabs/wazero"
	wazeroapi "github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/wudi/fngate/internal/config"
	"github.com/wudi/fngate/internal/envelope"
)

// entryExport is the function every guest module must export.
const entryExport = "handle_request"

// dataOffset is where the encoded FunctionContext is written in guest
// memory. Offset 0 is reserved and left untouched.
const dataOffset = 1

// TrapError is a guest fault with a message (unreachable, out-of-bounds
// access, stack exhaustion).
type TrapError struct {
	Msg string
}

func (e *TrapError) Error() string {
	return fmt.Sprintf("wasm guest trapped: %s", e.Msg)
}

// ExitError is a guest that terminated the instance with an exit code
// instead of returning.
type ExitError struct {
	Code uint32
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("wasm guest exited with code %d", e.Code)
}

// ErrMissingExport is returned when the module does not export
// handle_request. Only the export's presence is checked, not its signature.
var ErrMissingExport = errors.New("wasm: module does not export handle_request")

// Runtime is one compiled function module. The compiled module and source
// bytes are immutable; HandleRequest instantiates per call and is therefore
// safe for concurrent use.
type Runtime struct {
	cfg      config.FunctionConfig
	source   []byte
	wazero   wazero.Runtime
	compiled wazero.CompiledModule
	logger   *zap.Logger
}

// Initialize reads the handler file, validates and compiles it, and sets up
// the env host module the guest imports. Compilation happens exactly once;
// it runs under the instance cache's write lock.
func Initialize(cfg *config.FunctionConfig, logger *zap.Logger) (*Runtime, error) {
	source, err := os.ReadFile(cfg.Handler)
	if err != nil {
		return nil, fmt.Errorf("read module %q: %w", cfg.Handler, err)
	}

	ctx := context.Background()
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigCompiler())

	r := &Runtime{cfg: *cfg, source: source, wazero: rt, logger: logger}

	if _, err := rt.NewHostModuleBuilder("env").
		NewFunctionBuilder().WithFunc(r.print).Export("print").
		Instantiate(ctx); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate env module: %w", err)
	}

	compiled, err := rt.CompileModule(ctx, source)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("invalid wasm module %q: %w", cfg.Handler, err)
	}
	r.compiled = compiled

	logger.Info("wasm module compiled",
		zap.String("route", cfg.Route),
		zap.String("handler", cfg.Handler),
		zap.Int("size", len(source)),
	)
	return r, nil
}

// Source returns the module's source bytes.
func (r *Runtime) Source() []byte {
	return r.source
}

// print is the env.print import: the guest hands over a UTF-8 region of its
// memory and the host writes it to the diagnostic log.
func (r *Runtime) print(_ context.Context, mod wazeroapi.Module, ptr, length uint32) {
	msg, ok := mod.Memory().Read(ptr, length)
	if !ok {
		r.logger.Warn("wasm guest print out of range",
			zap.Uint32("ptr", ptr), zap.Uint32("len", length))
		return
	}
	r.logger.Info("wasm guest", zap.ByteString("msg", msg))
}

// HandleRequest instantiates the module, copies the encoded context into its
// memory, calls handle_request and reads the response region the guest names.
// The returned bytes are the guest's encoded FunctionResponse.
func (r *Runtime) HandleRequest(fctx *envelope.FunctionContext) ([]byte, error) {
	data, err := envelope.EncodeBinary(fctx)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	mod, err := r.wazero.InstantiateModule(ctx, r.compiled,
		wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, fmt.Errorf("wasm: instantiate module: %w", err)
	}
	defer mod.Close(ctx)

	mem := mod.Memory()
	if mem == nil {
		return nil, errors.New("wasm: module has no memory")
	}
	if !mem.Write(dataOffset, data) {
		return nil, fmt.Errorf("wasm: context of %d bytes does not fit in guest memory", len(data))
	}

	entry := mod.ExportedFunction(entryExport)
	if entry == nil {
		return nil, ErrMissingExport
	}

	results, err := entry.Call(ctx, dataOffset, uint64(len(data)))
	if err != nil {
		return nil, guestError(err)
	}
	if len(results) != 1 {
		return nil, fmt.Errorf("wasm: handle_request returned %d values, want 1", len(results))
	}

	ptr := uint32(results[0])
	record, ok := mem.Read(ptr, envelope.WasmResponseSize)
	if !ok {
		return nil, fmt.Errorf("wasm: response record at %d out of range", ptr)
	}
	wr, err := envelope.DecodeWasmResponse(record)
	if err != nil {
		return nil, err
	}

	body, ok := mem.Read(uint32(wr.Ptr), uint32(wr.Len))
	if !ok {
		return nil, fmt.Errorf("wasm: response region [%d, %d) out of range", wr.Ptr, wr.Ptr+wr.Len)
	}
	// The memory view dies with the instance; copy before Close.
	out := make([]byte, len(body))
	copy(out, body)
	return out, nil
}

// guestError maps a wazero call failure to the backend's error kinds.
func guestError(err error) error {
	var exit *sys.ExitError
	if errors.As(err, &exit) {
		return &ExitError{Code: exit.ExitCode()}
	}
	return &TrapError{Msg: err.Error()}
}

// Shutdown frees the compiled module and everything else owned by the
// embedded wazero runtime.
func (r *Runtime) Shutdown() error {
	return r.wazero.Close(context.Background())
}
