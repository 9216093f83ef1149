package unixsocket

import (
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wudi/fngate/internal/config"
	"github.com/wudi/fngate/internal/envelope"
	"github.com/wudi/fngate/internal/transport/unixsock"
)

// handlerModeEnv switches the test binary into handler mode: when set, the
// process acts as a function handler bound to the socket path given as the
// last argument, exactly like a user-supplied handler would.
const handlerModeEnv = "FNGATE_TEST_HANDLER_MODE"

func TestMain(m *testing.M) {
	mode := os.Getenv(handlerModeEnv)
	if mode == "" {
		os.Exit(m.Run())
	}
	runHandler(mode, os.Args[len(os.Args)-1])
}

// runHandler is the function-handler side of the ABI: bind and listen on the
// socket path, then serve one request per accepted connection.
func runHandler(mode, sockPath string) {
	l, err := unixsock.Listen(sockPath, 10)
	if err != nil {
		os.Exit(1)
	}
	for {
		conn, err := l.Accept()
		if err != nil {
			os.Exit(1)
		}
		serveConn(mode, conn)
	}
}

func serveConn(mode string, conn *unixsock.Conn) {
	defer conn.Close()

	if err := conn.PollRead(2500 * time.Millisecond); err != nil {
		return
	}
	data, err := conn.ReadAll()
	if err != nil || len(data) == 0 {
		// Readiness probes connect and immediately close.
		return
	}

	switch mode {
	case "context-echo":
		// Decode the context, echo the request body back in a proper
		// FunctionResponse.
		var fctx envelope.FunctionContext
		if err := envelope.DecodeText(data, &fctx); err != nil {
			return
		}
		res := fctx.Res
		if fctx.Req.Body != nil {
			res.Body = *fctx.Req.Body
		}
		res.Headers["x-handled-by"] = "test-handler"
		out, err := envelope.EncodeText(res)
		if err != nil {
			return
		}
		conn.Write(out)
	case "raw":
		// Misbehaving handler: replies with bytes that are not a
		// FunctionResponse.
		conn.Write([]byte("raw output"))
	case "echo":
		// cat-like handler: write back exactly what was read.
		conn.Write(data)
	}
}

func handlerConfig(t *testing.T, mode string) *config.FunctionConfig {
	t.Helper()
	t.Setenv(handlerModeEnv, mode)
	return &config.FunctionConfig{
		Method:  "GET",
		Route:   "/",
		Handler: os.Args[0],
		Runtime: config.RuntimeUnixSocket,
		ID:      uuid.New(),
	}
}

func initRuntime(t *testing.T, mode string) *Runtime {
	t.Helper()
	r, err := Initialize(handlerConfig(t, mode), zap.NewNop())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { r.Shutdown() })
	return r
}

func TestHandleRequestEchoesBody(t *testing.T) {
	r := initRuntime(t, "context-echo")

	req := envelope.NewFunctionRequest(os.Args[0], "/", "POST", "")
	body := "hello world"
	req.Body = &body

	out, err := r.HandleRequest(envelope.NewFunctionContext(req))
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}

	res, err := envelope.DecodeResponseBinary(out)
	if err != nil {
		t.Fatalf("reply is not a binary FunctionResponse: %v", err)
	}
	if res.Body != "hello world" {
		t.Errorf("Body = %q, want %q", res.Body, "hello world")
	}
	if res.StatusCode != 200 {
		t.Errorf("StatusCode = %d, want 200", res.StatusCode)
	}
	if res.Headers["x-handled-by"] != "test-handler" {
		t.Errorf("Headers = %v, missing x-handled-by", res.Headers)
	}
}

func TestHandleRequestRawReply(t *testing.T) {
	r := initRuntime(t, "raw")

	out, err := r.HandleRequest(envelope.NewFunctionContext(
		envelope.NewFunctionRequest(os.Args[0], "/", "GET", "")))
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}
	if string(out) != "raw output" {
		t.Errorf("got %q, want the handler's raw bytes", out)
	}
	if _, err := envelope.DecodeResponseBinary(out); err == nil {
		t.Error("raw bytes unexpectedly decode as a FunctionResponse")
	}
}

func TestHandleRequestEchoHandler(t *testing.T) {
	r := initRuntime(t, "echo")

	fctx := envelope.NewFunctionContext(
		envelope.NewFunctionRequest(os.Args[0], "/", "GET", "a=1"))
	sent, err := envelope.EncodeText(fctx)
	if err != nil {
		t.Fatal(err)
	}

	out, err := r.HandleRequest(fctx)
	if err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}

	// The echoed context is not a FunctionResponse, so the backend passes
	// the handler's bytes through untouched: the caller gets back exactly
	// the textual encoding the gateway sent.
	if string(out) != string(sent) {
		t.Errorf("echo mismatch:\nsent %s\ngot  %s", sent, out)
	}
}

func TestConcurrentRequests(t *testing.T) {
	r := initRuntime(t, "context-echo")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := r.HandleRequest(envelope.NewFunctionContext(
				envelope.NewFunctionRequest(os.Args[0], "/", "GET", "")))
			if err != nil {
				t.Errorf("HandleRequest: %v", err)
				return
			}
			if _, err := envelope.DecodeResponseBinary(out); err != nil {
				t.Errorf("decode: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestShutdownTerminatesChildAndRemovesDir(t *testing.T) {
	t.Setenv(handlerModeEnv, "context-echo")
	r, err := Initialize(handlerConfig(t, "context-echo"), zap.NewNop())
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	pid := r.cmd.Process.Pid
	dir := r.dir

	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("temp dir missing while instance alive: %v", err)
	}

	if err := r.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("temp dir still present after Shutdown: %v", err)
	}

	// The child must be gone within a bounded time of the signal.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if err := syscall.Kill(pid, 0); err != nil {
			return // process gone
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Errorf("child %d still running after SIGTERM", pid)
}

func TestInitializeSpawnFailure(t *testing.T) {
	cfg := &config.FunctionConfig{
		Method:  "GET",
		Route:   "/",
		Handler: "/nonexistent/handler/binary",
		Runtime: config.RuntimeUnixSocket,
		ID:      uuid.New(),
	}
	if _, err := Initialize(cfg, zap.NewNop()); err == nil {
		t.Fatal("Initialize succeeded with a nonexistent handler")
	}
}

func TestInitializeHandlerNeverListens(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the startup deadline")
	}
	// A handler that runs but never binds the socket: /bin/sleep.
	cfg := &config.FunctionConfig{
		Method:  "GET",
		Route:   "/",
		Handler: "/bin/sleep",
		Cmd:     "",
		Runtime: config.RuntimeUnixSocket,
		ID:      uuid.New(),
	}
	// sleep interprets the socket path as its duration and exits with an
	// error immediately; either way it never listens.
	if _, err := Initialize(cfg, zap.NewNop()); err == nil {
		t.Fatal("Initialize succeeded although the handler never listened")
	}
}
