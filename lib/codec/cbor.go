// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"io"
	"reflect"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Enum-like types (disk kind, process state, service kind) carry
	// MarshalText so they travel as readable strings.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	// Sample timestamps keep sub-second precision on the wire.
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// any-typed targets (IPC request headers decoded loosely)
		// become map[string]any rather than map[any]any.
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes exactly one CBOR item from data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Encoder and Decoder are aliases so consumers import only lib/codec.
type (
	Encoder = cbor.Encoder
	Decoder = cbor.Decoder
)

// RawMessage is an encoded CBOR item whose decoding is deferred.
type RawMessage = cbor.RawMessage

// NewEncoder returns a stream encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a stream decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}

// Diagnose returns the RFC 8949 diagnostic notation for data. The CLI
// uses it for --raw output.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}

// Duration is a time.Duration that encodes as integer milliseconds,
// the unit used by every interval setting on the wire.
type Duration time.Duration

// MarshalCBOR encodes the duration as milliseconds.
func (d Duration) MarshalCBOR() ([]byte, error) {
	return encMode.Marshal(time.Duration(d).Milliseconds())
}

// UnmarshalCBOR decodes integer milliseconds.
func (d *Duration) UnmarshalCBOR(data []byte) error {
	var milliseconds int64
	if err := decMode.Unmarshal(data, &milliseconds); err != nil {
		return err
	}
	*d = Duration(time.Duration(milliseconds) * time.Millisecond)
	return nil
}

// MarshalJSON matches the CBOR form so --json output agrees with the
// wire.
func (d Duration) MarshalJSON() ([]byte, error) {
	return strconv.AppendInt(nil, time.Duration(d).Milliseconds(), 10), nil
}
