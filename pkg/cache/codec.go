package cache

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Encoded is a value serialized by a durable backend.
// Backends that cannot hold live Go values return Entry.Value as Encoded.
type Encoded []byte

// Encode serializes a value for a durable backend.
func Encode(value interface{}) (Encoded, error) {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %v", ErrInvalidValue, err)
	}
	return Encoded(data), nil
}

// Decoder turns an Encoded value back into a live value.
type Decoder func(data Encoded) (interface{}, error)

// DecoderFor returns a Decoder producing values of type T.
func DecoderFor[T any]() Decoder {
	return func(data Encoded) (interface{}, error) {
		var v T
		if err := msgpack.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("%w: decode: %v", ErrInvalidValue, err)
		}
		return v, nil
	}
}

// Decode converts a stored value into T.
// Encoded values are deserialized; live values are type-asserted.
func Decode[T any](value interface{}) (T, error) {
	var zero T
	switch v := value.(type) {
	case Encoded:
		var result T
		if err := msgpack.Unmarshal(v, &result); err != nil {
			return zero, fmt.Errorf("%w: decode: %v", ErrInvalidValue, err)
		}
		return result, nil
	case T:
		return v, nil
	case nil:
		return zero, nil
	default:
		return zero, fmt.Errorf("%w: cannot convert %T to %T", ErrInvalidValue, value, zero)
	}
}
