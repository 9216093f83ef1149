package envelope

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/goccy/go-json"
)

// The binary codec is CBOR, the text codec JSON. Both are self-describing
// and field-named, so decoders ignore unknown fields. DecodeBinary and
// DecodeText tolerate missing fields; the response decoders below require
// body and headers. The only defaulting rule lives here: a FunctionResponse
// without a status_code on the wire decodes to 200.

// EncodeBinary encodes v as CBOR.
func EncodeBinary(v any) ([]byte, error) {
	b, err := cbor.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("envelope: cbor encode: %w", err)
	}
	return b, nil
}

// DecodeBinary decodes CBOR bytes into v.
func DecodeBinary(data []byte, v any) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("envelope: cbor decode: %w", err)
	}
	applyDefaults(v)
	return nil
}

// EncodeText encodes v as JSON.
func EncodeText(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("envelope: json encode: %w", err)
	}
	return b, nil
}

// DecodeText decodes JSON bytes into v.
func DecodeText(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("envelope: json decode: %w", err)
	}
	applyDefaults(v)
	return nil
}

// wireResponse mirrors FunctionResponse with presence-tracking fields, so a
// reply only counts as a FunctionResponse when it actually carries one: body
// and headers are required, status_code defaults to 200. Without this, any
// well-formed object would vacuously decode to an empty response and the
// raw-bytes fallback could never trigger.
type wireResponse struct {
	Body       *string            `json:"body" cbor:"body"`
	Headers    *map[string]string `json:"headers" cbor:"headers"`
	StatusCode int                `json:"status_code" cbor:"status_code"`
}

func (w *wireResponse) toResponse() (*FunctionResponse, error) {
	if w.Body == nil || w.Headers == nil {
		return nil, fmt.Errorf("envelope: missing required response fields")
	}
	status := w.StatusCode
	if status == 0 {
		status = DefaultStatusCode
	}
	return &FunctionResponse{Body: *w.Body, Headers: *w.Headers, StatusCode: status}, nil
}

// DecodeResponseBinary decodes a CBOR FunctionResponse, requiring the body
// and headers fields to be present on the wire.
func DecodeResponseBinary(data []byte) (*FunctionResponse, error) {
	var w wireResponse
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("envelope: cbor decode response: %w", err)
	}
	return w.toResponse()
}

// DecodeResponseText decodes a JSON FunctionResponse, requiring the body and
// headers fields to be present on the wire.
func DecodeResponseText(data []byte) (*FunctionResponse, error) {
	var w wireResponse
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("envelope: json decode response: %w", err)
	}
	return w.toResponse()
}

// DecodeWasmResponse decodes the fixed-width WasmResponse record a guest
// returns. The window is exactly WasmResponseSize bytes; whatever follows the
// CBOR item inside it is padding and is ignored, which is why this does not
// go through DecodeBinary.
func DecodeWasmResponse(data []byte) (*WasmResponse, error) {
	if len(data) != WasmResponseSize {
		return nil, fmt.Errorf("envelope: wasm response record is %d bytes, want %d", len(data), WasmResponseSize)
	}
	var wr WasmResponse
	if err := cbor.NewDecoder(bytes.NewReader(data)).Decode(&wr); err != nil {
		return nil, fmt.Errorf("envelope: cbor decode wasm response: %w", err)
	}
	if wr.Ptr < 0 || wr.Len < 0 {
		return nil, fmt.Errorf("envelope: wasm response names a negative region (ptr=%d len=%d)", wr.Ptr, wr.Len)
	}
	return &wr, nil
}

// EncodeWasmResponse encodes wr and pads the result to WasmResponseSize.
// Guests written in Go (tests included) use this to honor the fixed width.
func EncodeWasmResponse(wr *WasmResponse) ([]byte, error) {
	b, err := cbor.Marshal(wr)
	if err != nil {
		return nil, fmt.Errorf("envelope: cbor encode wasm response: %w", err)
	}
	if len(b) > WasmResponseSize {
		return nil, fmt.Errorf("envelope: wasm response encodes to %d bytes, exceeds %d", len(b), WasmResponseSize)
	}
	padded := make([]byte, WasmResponseSize)
	copy(padded, b)
	return padded, nil
}

func applyDefaults(v any) {
	switch t := v.(type) {
	case *FunctionResponse:
		if t.StatusCode == 0 {
			t.StatusCode = DefaultStatusCode
		}
	case *FunctionContext:
		if t.Res != nil && t.Res.StatusCode == 0 {
			t.Res.StatusCode = DefaultStatusCode
		}
	}
}
