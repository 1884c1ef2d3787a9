package amp

import (
	"fmt"
	"strconv"
	"strings"
)

// FieldType enumerates the wire encodings available for command fields.
// Every type has a stable text encoding so non-string values survive the
// string-valued box format.
type FieldType int

const (
	TypeString FieldType = iota
	TypeBytes
	TypeInt
	TypeFloat
	TypeBool
)

// Field is one named, typed slot in a command's argument or response list.
type Field struct {
	Name string
	Type FieldType
}

// Command describes a named RPC: its argument schema, its response schema,
// and whether the caller expects an answer. Commands with NeedsAnswer false
// are fire-and-forget: no correlation id is allocated and no response is
// ever written.
type Command struct {
	Name        string
	Args        []Field
	Returns     []Field
	NeedsAnswer bool
}

// Args holds decoded argument or response values keyed by field name.
type Args map[string]any

// Built-in commands every worker-side dispatcher answers.
var (
	// Echo round-trips its payload; useful as a liveness probe.
	Echo = &Command{
		Name:        "echo",
		Args:        []Field{{Name: "data", Type: TypeBytes}},
		Returns:     []Field{{Name: "data", Type: TypeBytes}},
		NeedsAnswer: true,
	}

	// Shutdown asks the dispatcher to acknowledge and then close its
	// connection cleanly.
	Shutdown = &Command{
		Name:        "shutdown",
		NeedsAnswer: true,
	}
)

// Diagnostic commands implemented by the stock worker binary
// (cmd/boxpool-worker with the "diag" command set).
var (
	// Pid returns the worker's OS process id.
	Pid = &Command{
		Name:        "pid",
		Returns:     []Field{{Name: "pid", Type: TypeInt}},
		NeedsAnswer: true,
	}

	// Sleep blocks the worker for the given number of milliseconds.
	Sleep = &Command{
		Name:        "sleep",
		Args:        []Field{{Name: "ms", Type: TypeInt}},
		Returns:     []Field{{Name: "slept_ms", Type: TypeInt}},
		NeedsAnswer: true,
	}

	// Boom always fails with the given message; exercises the command
	// error path without harming the worker.
	Boom = &Command{
		Name:        "boom",
		Args:        []Field{{Name: "message", Type: TypeString}},
		NeedsAnswer: true,
	}

	// Crash terminates the worker process with the given exit code without
	// answering.
	Crash = &Command{
		Name:        "crash",
		Args:        []Field{{Name: "code", Type: TypeInt}},
		NeedsAnswer: true,
	}
)

func encodeValue(t FieldType, v any) ([]byte, error) {
	switch t {
	case TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return []byte(s), nil
	case TypeBytes:
		switch b := v.(type) {
		case []byte:
			return b, nil
		case string:
			return []byte(b), nil
		}
		return nil, fmt.Errorf("expected bytes, got %T", v)
	case TypeInt:
		switch n := v.(type) {
		case int:
			return strconv.AppendInt(nil, int64(n), 10), nil
		case int64:
			return strconv.AppendInt(nil, n, 10), nil
		}
		return nil, fmt.Errorf("expected int, got %T", v)
	case TypeFloat:
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("expected float64, got %T", v)
		}
		return strconv.AppendFloat(nil, f, 'g', -1, 64), nil
	case TypeBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", v)
		}
		if b {
			return []byte("True"), nil
		}
		return []byte("False"), nil
	}
	return nil, fmt.Errorf("unknown field type %d", t)
}

func decodeValue(t FieldType, raw []byte) (any, error) {
	switch t {
	case TypeString:
		return string(raw), nil
	case TypeBytes:
		return raw, nil
	case TypeInt:
		n, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse int %q: %w", raw, err)
		}
		return int(n), nil
	case TypeFloat:
		f, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("parse float %q: %w", raw, err)
		}
		return f, nil
	case TypeBool:
		switch string(raw) {
		case "True":
			return true, nil
		case "False":
			return false, nil
		}
		return nil, fmt.Errorf("parse bool %q", raw)
	}
	return nil, fmt.Errorf("unknown field type %d", t)
}

// marshalFields encodes args against the field schema, in schema order.
// Every declared field must be present; unknown arg names are rejected.
func marshalFields(fields []Field, args Args) (Box, error) {
	var box Box
	for _, f := range fields {
		if strings.HasPrefix(f.Name, "_") {
			return nil, fmt.Errorf("field name %q is reserved", f.Name)
		}
		v, ok := args[f.Name]
		if !ok {
			return nil, fmt.Errorf("missing field %q", f.Name)
		}
		raw, err := encodeValue(f.Type, v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		box = append(box, Pair{Key: f.Name, Value: raw})
	}
	for name := range args {
		known := false
		for _, f := range fields {
			if f.Name == name {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("unknown field %q", name)
		}
	}
	return box, nil
}

// unmarshalFields decodes the schema's fields out of a received box.
func unmarshalFields(fields []Field, box Box) (Args, error) {
	args := make(Args, len(fields))
	for _, f := range fields {
		raw, ok := box.Get(f.Name)
		if !ok {
			return nil, fmt.Errorf("missing field %q", f.Name)
		}
		v, err := decodeValue(f.Type, raw)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		args[f.Name] = v
	}
	return args, nil
}
