package jsvm

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

// buffers implements a small Buffer global: byte strings with utf8, hex
// and base64 conversions. Instances are plain objects backed by Go slices.
// The bytes held by all buffers of one runtime never exceed limit.
type buffers struct {
	vm        *goja.Runtime
	data      map[*goja.Object][]byte
	limit     int
	allocated int
}

func newBuffers(vm *goja.Runtime, limit int) *buffers {
	return &buffers{vm: vm, data: make(map[*goja.Object][]byte), limit: limit}
}

func (b *buffers) install() error {
	ctor := b.vm.NewObject()
	methods := map[string]func(goja.FunctionCall) goja.Value{
		"from":       b.from,
		"alloc":      b.alloc,
		"byteLength": b.byteLength,
		"isBuffer":   b.isBuffer,
		"concat":     b.concat,
	}
	for name, fn := range methods {
		if err := ctor.Set(name, fn); err != nil {
			return err
		}
	}
	return b.vm.Set("Buffer", ctor)
}

func (b *buffers) throw(format string, args ...any) {
	panic(b.vm.NewTypeError(fmt.Sprintf(format, args...)))
}

func (b *buffers) from(call goja.FunctionCall) goja.Value {
	src := call.Argument(0)
	if str, ok := src.Export().(string); ok {
		data, err := decodeString(str, encodingArg(call.Argument(1)))
		if err != nil {
			b.throw("Buffer.from: %v", err)
		}
		return b.wrap(data)
	}
	if obj, ok := src.(*goja.Object); ok {
		if data, ok := b.data[obj]; ok {
			return b.wrap(append([]byte(nil), data...))
		}
		switch v := obj.Export().(type) {
		case goja.ArrayBuffer:
			return b.wrap(append([]byte(nil), v.Bytes()...))
		case []byte:
			return b.wrap(append([]byte(nil), v...))
		case []any:
			out := make([]byte, len(v))
			for i, item := range v {
				out[i] = byte(b.vm.ToValue(item).ToInteger())
			}
			return b.wrap(out)
		}
	}
	b.throw("Buffer.from: unsupported argument")
	return nil
}

func (b *buffers) alloc(call goja.FunctionCall) goja.Value {
	size := call.Argument(0).ToInteger()
	if size < 0 {
		b.throw("Buffer.alloc: invalid size %d", size)
	}
	if size > int64(b.limit-b.allocated) {
		b.throw("Buffer.alloc: buffer memory limit of %d bytes exceeded", b.limit)
	}
	return b.wrap(make([]byte, size))
}

func (b *buffers) byteLength(call goja.FunctionCall) goja.Value {
	arg := call.Argument(0)
	if obj, ok := arg.(*goja.Object); ok {
		if data, ok := b.data[obj]; ok {
			return b.vm.ToValue(len(data))
		}
	}
	data, err := decodeString(arg.String(), encodingArg(call.Argument(1)))
	if err != nil {
		b.throw("Buffer.byteLength: %v", err)
	}
	return b.vm.ToValue(len(data))
}

func (b *buffers) isBuffer(call goja.FunctionCall) goja.Value {
	obj, ok := call.Argument(0).(*goja.Object)
	if !ok {
		return b.vm.ToValue(false)
	}
	_, known := b.data[obj]
	return b.vm.ToValue(known)
}

func (b *buffers) concat(call goja.FunctionCall) goja.Value {
	list, ok := call.Argument(0).(*goja.Object)
	if !ok {
		b.throw("Buffer.concat: argument must be an array of buffers")
	}
	var out []byte
	n := list.Get("length").ToInteger()
	for i := int64(0); i < n; i++ {
		item, ok := list.Get(fmt.Sprint(i)).(*goja.Object)
		if !ok {
			b.throw("Buffer.concat: item %d is not a buffer", i)
		}
		data, known := b.data[item]
		if !known {
			b.throw("Buffer.concat: item %d is not a buffer", i)
		}
		out = append(out, data...)
	}
	return b.wrap(out)
}

// reserve accounts n more bytes against the limit and throws once the
// runtime would hold more than that.
func (b *buffers) reserve(n int64) {
	if n > int64(b.limit-b.allocated) {
		b.throw("buffer memory limit of %d bytes exceeded", b.limit)
	}
	b.allocated += int(n)
}

// wrap exposes data to the runtime as a buffer instance.
func (b *buffers) wrap(data []byte) *goja.Object {
	b.reserve(int64(len(data)))
	vm := b.vm
	obj := vm.NewObject()
	_ = obj.Set("length", len(data))
	_ = obj.Set("toString", func(call goja.FunctionCall) goja.Value {
		s, err := encodeBytes(data, encodingArg(call.Argument(0)))
		if err != nil {
			b.throw("toString: %v", err)
		}
		return vm.ToValue(s)
	})
	_ = obj.Set("toJSON", func(goja.FunctionCall) goja.Value {
		values := make([]any, len(data))
		for i, c := range data {
			values[i] = int(c)
		}
		out := vm.NewObject()
		_ = out.Set("type", "Buffer")
		_ = out.Set("data", vm.NewArray(values...))
		return out
	})
	_ = obj.Set("at", func(call goja.FunctionCall) goja.Value {
		i := call.Argument(0).ToInteger()
		if i < 0 {
			i += int64(len(data))
		}
		if i < 0 || i >= int64(len(data)) {
			return goja.Undefined()
		}
		return vm.ToValue(int(data[i]))
	})
	_ = obj.Set("bytes", func(goja.FunctionCall) goja.Value {
		b.reserve(int64(len(data)))
		return vm.ToValue(vm.NewArrayBuffer(append([]byte(nil), data...)))
	})
	b.data[obj] = data
	return obj
}

func encodingArg(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "utf8"
	}
	return strings.ToLower(v.String())
}

func decodeString(s, enc string) ([]byte, error) {
	switch enc {
	case "utf8", "utf-8":
		return []byte(s), nil
	case "hex":
		return hex.DecodeString(s)
	case "base64":
		return base64.StdEncoding.DecodeString(s)
	default:
		return nil, fmt.Errorf("unknown encoding %q", enc)
	}
}

func encodeBytes(data []byte, enc string) (string, error) {
	switch enc {
	case "utf8", "utf-8":
		return string(data), nil
	case "hex":
		return hex.EncodeToString(data), nil
	case "base64":
		return base64.StdEncoding.EncodeToString(data), nil
	default:
		return "", fmt.Errorf("unknown encoding %q", enc)
	}
}
