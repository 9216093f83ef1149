package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
)

const validYAML = `
networking:
  host: "127.0.0.1"
  port: "8080"
functions:
  - method: GET
    route: /
    handler: /bin/cat
    runtime: unix_socket
  - method: POST
    route: /orders
    handler: /srv/functions/orders.js
    cmd: node
    runtime: unix_socket
    headers:
      x-powered-by: fngate
  - method: GET
    route: /wasm
    handler: /srv/functions/hello.wasm
    runtime: wasm
`

func TestParseValid(t *testing.T) {
	cfg, err := NewLoader().Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if got := cfg.Address(); got != "127.0.0.1:8080" {
		t.Errorf("Address = %q", got)
	}
	if len(cfg.Functions) != 3 {
		t.Fatalf("parsed %d functions, want 3", len(cfg.Functions))
	}

	orders := cfg.Functions[1]
	if orders.Cmd != "node" {
		t.Errorf("Cmd = %q, want node", orders.Cmd)
	}
	if got := orders.Argv(); len(got) != 2 || got[0] != "node" || got[1] != "/srv/functions/orders.js" {
		t.Errorf("Argv = %v", got)
	}
	if orders.Headers["x-powered-by"] != "fngate" {
		t.Errorf("Headers = %v", orders.Headers)
	}

	cat := cfg.Functions[0]
	if got := cat.Argv(); len(got) != 1 || got[0] != "/bin/cat" {
		t.Errorf("Argv = %v", got)
	}
}

func TestParseAssignsUniqueIdentities(t *testing.T) {
	cfg, err := NewLoader().Parse([]byte(validYAML))
	if err != nil {
		t.Fatal(err)
	}

	seen := make(map[uuid.UUID]bool)
	for _, fn := range cfg.Functions {
		if fn.ID == uuid.Nil {
			t.Errorf("function %s has no identity", fn.Route)
		}
		if seen[fn.ID] {
			t.Errorf("duplicate identity %s", fn.ID)
		}
		seen[fn.ID] = true
	}

	// Two loads of the same file are distinct function instances.
	again, err := NewLoader().Parse([]byte(validYAML))
	if err != nil {
		t.Fatal(err)
	}
	if again.Functions[0].ID == cfg.Functions[0].ID {
		t.Error("identities repeat across loads")
	}
}

func TestDefaults(t *testing.T) {
	cfg, err := NewLoader().Parse([]byte(`
functions:
  - method: get
    route: /
    handler: /bin/cat
    runtime: unix_socket
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Networking.Host != "0.0.0.0" || cfg.Networking.Port != "80" {
		t.Errorf("networking defaults = %+v", cfg.Networking)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
	if cfg.Functions[0].Method != "GET" {
		t.Errorf("method not upper-cased: %q", cfg.Functions[0].Method)
	}
}

func TestEnvExpansion(t *testing.T) {
	t.Setenv("FNGATE_TEST_HANDLER", "/srv/from-env.sh")
	cfg, err := NewLoader().Parse([]byte(`
functions:
  - method: GET
    route: /
    handler: ${FNGATE_TEST_HANDLER}
    runtime: unix_socket
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Functions[0].Handler != "/srv/from-env.sh" {
		t.Errorf("Handler = %q", cfg.Functions[0].Handler)
	}
}

func TestRejectsEmptyFunctionList(t *testing.T) {
	_, err := NewLoader().Parse([]byte(`
networking:
  host: "0.0.0.0"
  port: "80"
functions: []
`))
	if err == nil || !strings.Contains(err.Error(), "no functions") {
		t.Errorf("Parse = %v, want empty-function error", err)
	}
}

func TestRejectsUnsupportedMethod(t *testing.T) {
	for _, method := range []string{"PUT", "DELETE", "PATCH", "FETCH"} {
		_, err := NewLoader().Parse([]byte(`
functions:
  - method: ` + method + `
    route: /
    handler: /bin/cat
    runtime: unix_socket
`))
		if err == nil {
			t.Errorf("method %s accepted", method)
		}
	}
}

func TestAcceptsUnknownRuntimeTag(t *testing.T) {
	// Unknown tags are a per-request 500, not a startup failure.
	if _, err := NewLoader().Parse([]byte(`
functions:
  - method: GET
    route: /
    handler: /bin/cat
    runtime: someday
`)); err != nil {
		t.Errorf("Parse rejected unknown runtime: %v", err)
	}
}

func TestRejectsDuplicateRoute(t *testing.T) {
	_, err := NewLoader().Parse([]byte(`
functions:
  - method: GET
    route: /
    handler: /bin/cat
    runtime: unix_socket
  - method: GET
    route: /
    handler: /bin/true
    runtime: unix_socket
`))
	if err == nil {
		t.Error("duplicate method+route accepted")
	}
}

func TestRejectsMissingFields(t *testing.T) {
	cases := map[string]string{
		"no route": `
functions:
  - method: GET
    handler: /bin/cat
    runtime: unix_socket
`,
		"no handler": `
functions:
  - method: GET
    route: /
    runtime: unix_socket
`,
		"no runtime": `
functions:
  - method: GET
    route: /
    handler: /bin/cat
`,
		"relative route": `
functions:
  - method: GET
    route: relative
    handler: /bin/cat
    runtime: unix_socket
`,
	}
	for label, yaml := range cases {
		if _, err := NewLoader().Parse([]byte(yaml)); err == nil {
			t.Errorf("%s: accepted", label)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := NewLoader().Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Functions) != 3 {
		t.Errorf("loaded %d functions", len(cfg.Functions))
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := NewLoader().Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load succeeded on a missing file")
	}
}

func TestParseGarbage(t *testing.T) {
	if _, err := NewLoader().Parse([]byte("{{{ not yaml")); err == nil {
		t.Error("Parse accepted garbage")
	}
}
