package cache

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	// Canonical encoding: equal values always produce equal bytes, which query
	// fingerprints rely on.
	encMode cbor.EncMode

	// Limits guard against hostile payloads. Untyped maps decode as map[string]any and
	// untyped integers as int64 so cached records look like freshly scanned ones.
	decMode cbor.DecMode
)

//nolint:gochecknoinits // CBOR modes are immutable and built once
func init() {
	var err error

	// Times carry tag 0 so they decode back to time.Time inside untyped records.
	encMode, err = cbor.EncOptions{
		Sort:    cbor.SortCanonical,
		Time:    cbor.TimeRFC3339Nano,
		TimeTag: cbor.EncTagRequired,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoding mode: %v", err))
	}

	decMode, err = cbor.DecOptions{
		MaxArrayElements: 100000,
		MaxMapPairs:      100000,
		MaxNestedLevels:  16,
		DefaultMapType:   reflect.TypeOf(map[string]any(nil)),
		IntDec:           cbor.IntDecConvertSigned,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoding mode: %v", err))
	}
}

// Marshal serializes v to canonical CBOR.
func Marshal[T any](v T) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cbor marshal failed: %w", err)
	}
	return data, nil
}

// Unmarshal deserializes CBOR bytes into a T.
func Unmarshal[T any](data []byte) (T, error) {
	var v T
	if err := decMode.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("cbor unmarshal failed: %w", err)
	}
	return v, nil
}

// MustMarshal is like Marshal but panics on error. Intended for tests.
func MustMarshal[T any](v T) []byte {
	data, err := Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("MustMarshal failed: %v", err))
	}
	return data
}
