// Package testutil holds helpers shared by tests, chiefly a minimal WASM
// binary assembler. Wazero has no WAT parser, so test modules are built
// directly in the binary format: a memory, a handle_request export, and data
// segments holding a pre-encoded response.
package testutil

import (
	"bytes"

	"github.com/wudi/fngate/internal/envelope"
)

const (
	secType     = 1
	secImport   = 2
	secFunction = 3
	secMemory   = 5
	secExport   = 7
	secCode     = 10
	secData     = 11
)

// Memory offsets used by the canned modules.
const (
	RecordPtr = 2048
	BodyPtr   = 4096
	MsgPtr    = 8192
)

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

func sleb(v int32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func section(id byte, content []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint32(len(content)))...)
	return append(out, content...)
}

func name(s string) []byte {
	return append(uleb(uint32(len(s))), s...)
}

// ModuleSpec describes the test module to assemble.
type ModuleSpec struct {
	// EntryBody is the instruction sequence of handle_request, without the
	// trailing end opcode.
	EntryBody []byte
	// ImportPrint declares the env.print import; when set, function index 0
	// is the import and handle_request becomes index 1.
	ImportPrint bool
	// Data segments written into memory at instantiation.
	Data []DataSegment
	// OmitEntry drops the handle_request export entirely.
	OmitEntry bool
}

// DataSegment is an active data segment at a fixed offset.
type DataSegment struct {
	Offset  int32
	Content []byte
}

// BuildModule assembles a valid single-memory WASM module around spec.
func BuildModule(spec ModuleSpec) []byte {
	var b bytes.Buffer
	b.Write([]byte{0x00, 0x61, 0x73, 0x6d}) // magic
	b.Write([]byte{0x01, 0x00, 0x00, 0x00}) // version 1

	// Types: 0 = (i32, i32) -> i32 (handle_request), 1 = (i32, i32) -> ()
	// (env.print).
	var types []byte
	types = append(types, uleb(2)...)
	types = append(types, 0x60, 2, 0x7f, 0x7f, 1, 0x7f)
	types = append(types, 0x60, 2, 0x7f, 0x7f, 0)
	b.Write(section(secType, types))

	if spec.ImportPrint {
		var imports []byte
		imports = append(imports, uleb(1)...)
		imports = append(imports, name("env")...)
		imports = append(imports, name("print")...)
		imports = append(imports, 0x00) // func import
		imports = append(imports, uleb(1)...)
		b.Write(section(secImport, imports))
	}

	// One defined function of type 0.
	var funcs []byte
	funcs = append(funcs, uleb(1)...)
	funcs = append(funcs, uleb(0)...)
	b.Write(section(secFunction, funcs))

	// One memory, min 1 page.
	var mems []byte
	mems = append(mems, uleb(1)...)
	mems = append(mems, 0x00)
	mems = append(mems, uleb(1)...)
	b.Write(section(secMemory, mems))

	// Exports: memory plus, unless omitted, handle_request.
	entryIndex := uint32(0)
	if spec.ImportPrint {
		entryIndex = 1
	}
	var exports []byte
	count := uint32(1)
	if !spec.OmitEntry {
		count = 2
	}
	exports = append(exports, uleb(count)...)
	exports = append(exports, name("memory")...)
	exports = append(exports, 0x02)
	exports = append(exports, uleb(0)...)
	if !spec.OmitEntry {
		exports = append(exports, name("handle_request")...)
		exports = append(exports, 0x00)
		exports = append(exports, uleb(entryIndex)...)
	}
	b.Write(section(secExport, exports))

	// Code for the one defined function.
	var body []byte
	body = append(body, uleb(0)...) // no locals
	body = append(body, spec.EntryBody...)
	body = append(body, 0x0b) // end
	var code []byte
	code = append(code, uleb(1)...)
	code = append(code, uleb(uint32(len(body)))...)
	code = append(code, body...)
	b.Write(section(secCode, code))

	if len(spec.Data) > 0 {
		var data []byte
		data = append(data, uleb(uint32(len(spec.Data)))...)
		for _, seg := range spec.Data {
			data = append(data, 0x00) // active, memory 0
			data = append(data, 0x41) // i32.const
			data = append(data, sleb(seg.Offset)...)
			data = append(data, 0x0b) // end
			data = append(data, uleb(uint32(len(seg.Content)))...)
			data = append(data, seg.Content...)
		}
		b.Write(section(secData, data))
	}

	return b.Bytes()
}

// ConstReturn is a handle_request body that ignores its arguments and
// returns the given pointer.
func ConstReturn(ptr int32) []byte {
	return append([]byte{0x41}, sleb(ptr)...)
}

// PrintThenReturn calls env.print(msgPtr, msgLen) before returning ptr.
func PrintThenReturn(msgPtr, msgLen, ptr int32) []byte {
	var body []byte
	body = append(body, 0x41)
	body = append(body, sleb(msgPtr)...)
	body = append(body, 0x41)
	body = append(body, sleb(msgLen)...)
	body = append(body, 0x10) // call
	body = append(body, uleb(0)...)
	body = append(body, ConstReturn(ptr)...)
	return body
}

// TrapBody is a handle_request body that hits unreachable.
var TrapBody = []byte{0x00}

// BuildStaticResponseModule assembles a module whose handle_request ignores
// its input and returns res via the WasmResponse indirection.
func BuildStaticResponseModule(res *envelope.FunctionResponse) ([]byte, error) {
	body, err := envelope.EncodeBinary(res)
	if err != nil {
		return nil, err
	}
	record, err := envelope.EncodeWasmResponse(&envelope.WasmResponse{
		Ptr: BodyPtr,
		Len: int32(len(body)),
	})
	if err != nil {
		return nil, err
	}
	return BuildModule(ModuleSpec{
		EntryBody: ConstReturn(RecordPtr),
		Data: []DataSegment{
			{Offset: RecordPtr, Content: record},
			{Offset: BodyPtr, Content: body},
		},
	}), nil
}
