// Package dispatch is the façade in front of the function backends. It
// selects a backend by the function's runtime tag, obtains a warm instance
// from the cache, runs the invocation and interprets the returned bytes.
package dispatch

import (
	"time"

	"go.uber.org/zap"

	"github.com/wudi/fngate/internal/config"
	"github.com/wudi/fngate/internal/envelope"
	"github.com/wudi/fngate/internal/metrics"
	"github.com/wudi/fngate/internal/runtime"
	"github.com/wudi/fngate/internal/runtime/unixsocket"
	"github.com/wudi/fngate/internal/runtime/wasm"
)

// Backends satisfy the engine's Manager contract.
var (
	_ runtime.Manager = (*unixsocket.Runtime)(nil)
	_ runtime.Manager = (*wasm.Runtime)(nil)
)

// Result is the outcome of a successful invocation. Exactly one of Response
// and Raw is set: Response when the function produced a decodable
// FunctionResponse, Raw when it wrote arbitrary bytes that the HTTP layer
// should serve as an untyped text/plain body.
type Result struct {
	Response *envelope.FunctionResponse
	Raw      []byte
}

// Dispatcher routes function invocations to backend instances.
type Dispatcher struct {
	cache     *runtime.Cache
	collector *metrics.Collector
	logger    *zap.Logger
}

// New creates a Dispatcher with an empty instance cache.
func New(collector *metrics.Collector, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		cache:     runtime.NewCache(),
		collector: collector,
		logger:    logger,
	}
}

// Cache exposes the instance cache, mainly for tests and stats.
func (d *Dispatcher) Cache() *runtime.Cache {
	return d.cache
}

// Dispatch obtains the backend instance for cfg (cold-starting it if needed)
// and invokes it with fctx. The first request to a function pays its
// initialization; everyone after that reuses the same instance.
func (d *Dispatcher) Dispatch(cfg *config.FunctionConfig, fctx *envelope.FunctionContext) (*Result, error) {
	init, err := d.initFunc(cfg.Runtime)
	if err != nil {
		return nil, err
	}

	mgr, err := d.cache.FindOrInitialize(cfg, init)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	out, err := mgr.HandleRequest(fctx)
	d.collector.RecordInvocation(cfg.Route, cfg.Runtime, time.Since(start))
	if err != nil {
		d.logger.Error("function invocation failed",
			zap.String("route", cfg.Route),
			zap.String("runtime", cfg.Runtime),
			zap.Error(err),
		)
		return nil, err
	}

	res, err := envelope.DecodeResponseBinary(out)
	if err != nil {
		// The function wrote something other than an encoded
		// FunctionResponse. Serve it as-is.
		if out == nil {
			out = []byte{}
		}
		return &Result{Raw: out}, nil
	}
	return &Result{Response: res}, nil
}

// initFunc maps a runtime tag to its backend initializer. The returned
// InitFunc runs under the cache's write lock and records cold-start metrics.
func (d *Dispatcher) initFunc(tag string) (runtime.InitFunc, error) {
	var init runtime.InitFunc
	switch tag {
	case config.RuntimeUnixSocket:
		init = func(cfg *config.FunctionConfig) (runtime.Manager, error) {
			return unixsocket.Initialize(cfg, d.logger)
		}
	case config.RuntimeWasm:
		init = func(cfg *config.FunctionConfig) (runtime.Manager, error) {
			return wasm.Initialize(cfg, d.logger)
		}
	default:
		return nil, &runtime.NotImplementedError{Runtime: tag}
	}

	return func(cfg *config.FunctionConfig) (runtime.Manager, error) {
		d.logger.Info("cold start",
			zap.String("route", cfg.Route),
			zap.String("runtime", cfg.Runtime),
			zap.String("id", cfg.ID.String()),
		)
		start := time.Now()
		mgr, err := init(cfg)
		d.collector.RecordColdStart(cfg.Runtime, time.Since(start), err)
		if err != nil {
			return nil, &runtime.InitError{Runtime: cfg.Runtime, Err: err}
		}
		return mgr, nil
	}, nil
}

// Close tears down every cached backend instance.
func (d *Dispatcher) Close() error {
	return d.cache.Close()
}
