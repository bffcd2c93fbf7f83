package geyser

import (
	"fmt"
)

// codecName matches the content-subtype Yellowstone servers expect.
const codecName = "proto"

// Codec carries hand-encoded Yellowstone messages over gRPC. It handles
// *SubscribeRequest, *Update and raw *[]byte frames.
type Codec struct{}

// Marshal implements encoding.Codec.
func (Codec) Marshal(v any) ([]byte, error) {
	switch m := v.(type) {
	case *SubscribeRequest:
		return m.Marshal()
	case *[]byte:
		return *m, nil
	case []byte:
		return m, nil
	}
	return nil, fmt.Errorf("geyser codec: cannot marshal %T", v)
}

// Unmarshal implements encoding.Codec.
func (Codec) Unmarshal(data []byte, v any) error {
	switch m := v.(type) {
	case *Update:
		return m.Unmarshal(data)
	case *[]byte:
		*m = append((*m)[:0], data...)
		return nil
	}
	return fmt.Errorf("geyser codec: cannot unmarshal into %T", v)
}

// Name implements encoding.Codec.
func (Codec) Name() string { return codecName }
