package protocols

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Custom protocol frames are a 4-byte big-endian length followed by one
// CBOR-encoded request or response.
const (
	framePrefixSize      = 4
	defaultMaxFrameBytes = 65536
)

// Custom protocol operations.
const (
	opRead  = "read"
	opWrite = "write"
	opPing  = "ping"
)

var (
	errFrameEmpty    = errors.New("protocols: empty frame")
	errFrameTooLarge = errors.New("protocols: frame too large")
)

var (
	customEncMode cbor.EncMode
	customDecMode cbor.DecMode

	mapStringAny = reflect.TypeOf(map[string]any(nil))
)

func init() {
	var err error
	customEncMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	customDecMode, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
		DefaultMapType:    mapStringAny,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// customRequest is sent by the gateway.
type customRequest struct {
	ID      string         `cbor:"1,keyasint"`
	Op      string         `cbor:"2,keyasint"`
	Metrics []string       `cbor:"3,keyasint,omitempty"`
	Data    map[string]any `cbor:"4,keyasint,omitempty"`
}

// customResponse is the device's answer to one request.
type customResponse struct {
	ID     string         `cbor:"1,keyasint"`
	OK     bool           `cbor:"2,keyasint"`
	Values map[string]any `cbor:"3,keyasint,omitempty"`
	Error  string         `cbor:"4,keyasint,omitempty"`
	Status string         `cbor:"5,keyasint,omitempty"`
}

func writeFrame(w io.Writer, v any, maxSize int) error {
	payload, err := customEncMode.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if len(payload) > maxSize {
		return fmt.Errorf("%w: %d > %d", errFrameTooLarge, len(payload), maxSize)
	}
	frame := make([]byte, framePrefixSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload))) //nolint:gosec // bounded by maxSize
	copy(frame[framePrefixSize:], payload)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

func readFrame(r io.Reader, v any, maxSize int) error {
	var prefix [framePrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return fmt.Errorf("read frame length: %w", err)
	}
	length := binary.BigEndian.Uint32(prefix[:])
	if length == 0 {
		return errFrameEmpty
	}
	if int64(length) > int64(maxSize) {
		return fmt.Errorf("%w: %d > %d", errFrameTooLarge, length, maxSize)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return fmt.Errorf("read frame payload: %w", err)
	}
	if err := customDecMode.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}
