// Package gateway wires the HTTP surface to the function-dispatch engine:
// one route per configured function, the health probe, and the admin
// endpoints, all behind the shared middleware chain.
package gateway

import (
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	"github.com/wudi/fngate/internal/config"
	"github.com/wudi/fngate/internal/envelope"
	"github.com/wudi/fngate/internal/metrics"
	"github.com/wudi/fngate/internal/middleware"
	"github.com/wudi/fngate/internal/runtime/dispatch"
)

// Gateway owns the router and the dispatcher behind it.
type Gateway struct {
	cfg        *config.Config
	dispatcher *dispatch.Dispatcher
	collector  *metrics.Collector
	handler    http.Handler
	logger     *zap.Logger
}

// New builds the gateway from configuration: registers every function route,
// the /_ah health probe, and the admin endpoints, then wraps the router in
// the middleware chain.
func New(cfg *config.Config, logger *zap.Logger) (*Gateway, error) {
	collector := metrics.NewCollector()
	g := &Gateway{
		cfg:        cfg,
		dispatcher: dispatch.New(collector, logger),
		collector:  collector,
		logger:     logger,
	}

	router := httprouter.New()
	for i := range cfg.Functions {
		fn := &cfg.Functions[i]
		router.Handle(fn.Method, fn.Route, g.functionHandler(fn))
		logger.Info("function route registered",
			zap.String("method", fn.Method),
			zap.String("route", fn.Route),
			zap.String("runtime", fn.Runtime),
			zap.String("id", fn.ID.String()),
		)
	}

	router.GET("/_ah", g.healthHandler)
	router.GET("/healthz", g.healthzHandler)
	router.GET("/stats", g.statsHandler)
	router.GET("/_admin/functions", g.functionsHandler)
	router.Handler(http.MethodGet, "/_admin/metrics", collector.Handler())

	g.handler = middleware.Chain(router,
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.AccessLog(logger),
	)
	return g, nil
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.handler
}

// Dispatcher returns the dispatch façade, mainly for tests.
func (g *Gateway) Dispatcher() *dispatch.Dispatcher {
	return g.dispatcher
}

// Close tears down every warm backend instance.
func (g *Gateway) Close() error {
	return g.dispatcher.Close()
}

// functionHandler adapts one FunctionConfig into an HTTP handler: build the
// envelope, dispatch, translate the result.
func (g *Gateway) functionHandler(fn *config.FunctionConfig) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		req := envelope.NewFunctionRequest(fn.Handler, r.URL.Path, r.Method, r.URL.RawQuery)
		for k := range r.Header {
			req.Headers[k] = r.Header.Get(k)
		}
		if r.Method == http.MethodPost && r.Body != nil {
			b, err := io.ReadAll(r.Body)
			if err != nil {
				g.writeError(w, fn, http.StatusInternalServerError, err)
				return
			}
			body := string(b)
			req.Body = &body
		}

		result, err := g.dispatcher.Dispatch(fn, envelope.NewFunctionContext(req))
		if err != nil {
			g.writeError(w, fn, http.StatusInternalServerError, err)
			return
		}

		for k, v := range fn.Headers {
			w.Header().Set(k, v)
		}

		if result.Raw != nil {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusOK)
			w.Write(result.Raw)
			g.collector.RecordRequest(fn.Route, fn.Method, http.StatusOK)
			return
		}

		res := result.Response
		for k, v := range res.Headers {
			w.Header().Set(k, v)
		}
		status := res.StatusCode
		if status < 100 || status > 999 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		w.Write([]byte(res.Body))
		g.collector.RecordRequest(fn.Route, fn.Method, status)
	}
}

// writeError reports a failed invocation: a 500 whose body is the error's
// display form.
func (g *Gateway) writeError(w http.ResponseWriter, fn *config.FunctionConfig, status int, err error) {
	g.collector.RecordRequest(fn.Route, fn.Method, status)
	http.Error(w, err.Error(), status)
}

// healthHandler answers the load balancer probe.
func (g *Gateway) healthHandler(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// healthzHandler answers health check requests with a JSON body.
func (g *Gateway) healthzHandler(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// statsHandler reports configured function and warm instance counts.
func (g *Gateway) statsHandler(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"functions":      len(g.cfg.Functions),
		"warm_instances": g.dispatcher.Cache().Len(),
	})
}

// functionsHandler lists the configured functions.
func (g *Gateway) functionsHandler(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	type functionInfo struct {
		ID      string `json:"id"`
		Method  string `json:"method"`
		Route   string `json:"route"`
		Handler string `json:"handler"`
		Runtime string `json:"runtime"`
		Warm    bool   `json:"warm"`
	}

	infos := make([]functionInfo, 0, len(g.cfg.Functions))
	for i := range g.cfg.Functions {
		fn := &g.cfg.Functions[i]
		_, warm := g.dispatcher.Cache().Get(fn.ID)
		infos = append(infos, functionInfo{
			ID:      fn.ID.String(),
			Method:  fn.Method,
			Route:   fn.Route,
			Handler: fn.Handler,
			Runtime: fn.Runtime,
			Warm:    warm,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(infos)
}
