// Package envelope defines the request/response envelope exchanged between
// the gateway and function code, together with its two wire serializations:
// a compact CBOR form used on the in-process (WASM) path and a JSON form used
// on the socket path.
package envelope

// FunctionRequest is the inbound half of the envelope. It carries the parts
// of the HTTP request that are forwarded to the function.
type FunctionRequest struct {
	// Path is the target path of the request.
	Path string `json:"path" cbor:"path"`
	// Method is the HTTP method of the request, upper-case.
	Method string `json:"method" cbor:"method"`
	// Headers holds the request headers, one value per key.
	Headers map[string]string `json:"headers" cbor:"headers"`
	// QueryString is the raw query string, empty if none.
	QueryString string `json:"query_string" cbor:"query_string"`
	// Body is the request body. Kept as a pointer so handlers can tell
	// "no body" apart from an empty one; defaults to an empty string.
	Body *string `json:"body" cbor:"body"`
	// Script is the filesystem location of the handler serving the request.
	Script string `json:"script" cbor:"script"`
}

// NewFunctionRequest builds a FunctionRequest with empty headers and an empty
// (but present) body.
func NewFunctionRequest(script, path, method, queryString string) *FunctionRequest {
	empty := ""
	return &FunctionRequest{
		Path:        path,
		Method:      method,
		Headers:     map[string]string{},
		QueryString: queryString,
		Body:        &empty,
		Script:      script,
	}
}

// FunctionResponse is the outbound half of the envelope. A function that
// returns one controls the status code, headers and body of the HTTP reply.
type FunctionResponse struct {
	// Body of the response.
	Body string `json:"body" cbor:"body"`
	// Headers of the response, one value per key.
	Headers map[string]string `json:"headers" cbor:"headers"`
	// StatusCode of the response. Defaults to 200 when absent on the wire.
	StatusCode int `json:"status_code" cbor:"status_code"`
}

// NewFunctionResponse returns an empty 200 response.
func NewFunctionResponse() *FunctionResponse {
	return &FunctionResponse{
		Body:       "",
		Headers:    map[string]string{},
		StatusCode: DefaultStatusCode,
	}
}

// DefaultStatusCode is installed on a decoded FunctionResponse whose encoded
// form omits status_code.
const DefaultStatusCode = 200

// FunctionContext pairs one request with one response. It is the unit
// exchanged with function code; handlers receive the whole context and send
// back a FunctionResponse.
type FunctionContext struct {
	Req *FunctionRequest  `json:"req" cbor:"req"`
	Res *FunctionResponse `json:"res" cbor:"res"`
}

// NewFunctionContext pairs a request with a fresh default response.
func NewFunctionContext(req *FunctionRequest) *FunctionContext {
	return &FunctionContext{Req: req, Res: NewFunctionResponse()}
}

// WasmResponse lets a WASM guest return a variable-length byte region through
// a single i32 return value: the guest returns a pointer to an encoded
// WasmResponse, whose fields name the region holding the actual payload.
type WasmResponse struct {
	Ptr int32 `json:"ptr" cbor:"ptr"`
	Len int32 `json:"len" cbor:"len"`
}

// WasmResponseSize is the number of bytes the host reads at the pointer
// returned by a guest's handle_request export. It covers the worst-case CBOR
// encoding of the two i32 fields (19 bytes when both values need the 4-byte
// integer form); guests that encode smaller records pad up to it, and the
// decoder stops after the first CBOR item so padding is ignored. The
// constant is part of the guest ABI and must not change.
const WasmResponseSize = 24
