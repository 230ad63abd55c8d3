package registry

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// EncodeArgs boxes a call's arguments into the ordered tuple the Proxy
// Generator serializes (§4.5 step 1-2). JSON is the wire format for
// serialized_args: the spec only requires "bytes" here (§3), and no
// struct-serialization library in the retrieved pack targets arbitrary
// generic argument tuples the way the IPLD/Filecoin CBOR generators target
// fixed, codegen'd types — see DESIGN.md.
func EncodeArgs(values []reflect.Value) ([]byte, error) {
	boxed := make([]interface{}, len(values))
	for i, v := range values {
		boxed[i] = v.Interface()
	}
	return json.Marshal(boxed)
}

// DecodeArgs unboxes a serialized argument tuple back into reflect.Values
// matching paramTypes, for the Inbound Dispatcher to pass to Invoke.
func DecodeArgs(data []byte, paramTypes []reflect.Type) ([]reflect.Value, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("registry: decode args: %w", err)
	}
	if len(raw) != len(paramTypes) {
		return nil, fmt.Errorf("registry: expected %d args, got %d", len(paramTypes), len(raw))
	}
	values := make([]reflect.Value, len(paramTypes))
	for i, t := range paramTypes {
		ptr := reflect.New(t)
		if err := json.Unmarshal(raw[i], ptr.Interface()); err != nil {
			return nil, fmt.Errorf("registry: decode arg %d: %w", i, err)
		}
		values[i] = ptr.Elem()
	}
	return values, nil
}

// EncodeResult serializes a method's single return value (or nil for a
// method with no return, §3 "return type (or none)").
func EncodeResult(v reflect.Value, hasReturn bool) ([]byte, error) {
	if !hasReturn {
		return nil, nil
	}
	return json.Marshal(v.Interface())
}

// DecodeResult deserializes a single return value into the caller-supplied
// target type, or returns the zero Value when there is no return type.
func DecodeResult(data []byte, returnType reflect.Type) (reflect.Value, error) {
	if returnType == nil {
		return reflect.Value{}, nil
	}
	ptr := reflect.New(returnType)
	if len(data) > 0 {
		if err := json.Unmarshal(data, ptr.Interface()); err != nil {
			return reflect.Value{}, fmt.Errorf("registry: decode result: %w", err)
		}
	}
	return ptr.Elem(), nil
}
