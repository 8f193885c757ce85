// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/sysmond/lib/codec"
)

const (
	magic         = "SYSMONDB"
	formatVersion = 1

	// maxPayloadSize bounds the uncompressed payload a reader will
	// allocate for.
	maxPayloadSize = 256 << 20
)

// ErrCorrupt is wrapped by Read for files that are not bundles or
// whose payload does not match the header.
var ErrCorrupt = errors.New("corrupt bundle")

// Bundle is one capture. Sections maps an IPC action name to the
// reply data the daemon returned for it. Errors maps an action name to
// the error it returned instead.
type Bundle struct {
	CapturedAt time.Time                   `cbor:"captured_at"`
	Hostname   string                      `cbor:"hostname,omitempty"`
	Version    string                      `cbor:"version,omitempty"`
	Sections   map[string]codec.RawMessage `cbor:"sections"`
	Errors     map[string]string           `cbor:"errors,omitempty"`
}

// Names returns the section and error names in sorted order.
func (b *Bundle) Names() []string {
	names := make([]string, 0, len(b.Sections)+len(b.Errors))
	for name := range b.Sections {
		names = append(names, name)
	}
	for name := range b.Errors {
		if _, dup := b.Sections[name]; !dup {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// Decode unmarshals the named section into target.
func (b *Bundle) Decode(name string, target any) error {
	data, ok := b.Sections[name]
	if !ok {
		if message, failed := b.Errors[name]; failed {
			return fmt.Errorf("section %s was not captured: %s", name, message)
		}
		return fmt.Errorf("no section %s", name)
	}
	return codec.Unmarshal(data, target)
}

// Digest is the BLAKE3-256 hash of a bundle's uncompressed payload.
type Digest [32]byte

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Info describes a written or read bundle file.
type Info struct {
	Compression    Compression
	PayloadSize    int
	CompressedSize int
	Digest         Digest
}

// Write encodes bundle to w. Payloads that do not shrink are stored
// uncompressed, so Info.Compression may differ from the request.
func Write(w io.Writer, bundle *Bundle, compression Compression) (Info, error) {
	payload, err := codec.Marshal(bundle)
	if err != nil {
		return Info{}, fmt.Errorf("encoding bundle: %w", err)
	}

	compressed, err := compress(payload, compression)
	if errors.Is(err, errIncompressible) {
		compressed, compression = payload, CompressionNone
	} else if err != nil {
		return Info{}, err
	}

	info := Info{
		Compression:    compression,
		PayloadSize:    len(payload),
		CompressedSize: len(compressed),
		Digest:         blake3.Sum256(payload),
	}

	header := make([]byte, 0, len(magic)+2+binary.MaxVarintLen64+len(info.Digest))
	header = append(header, magic...)
	header = append(header, formatVersion, byte(compression))
	header = binary.AppendUvarint(header, uint64(len(payload)))
	header = append(header, info.Digest[:]...)

	if _, err := w.Write(header); err != nil {
		return Info{}, fmt.Errorf("writing bundle header: %w", err)
	}
	if _, err := w.Write(compressed); err != nil {
		return Info{}, fmt.Errorf("writing bundle payload: %w", err)
	}
	return info, nil
}

// Read decodes a bundle written by Write and verifies its digest.
func Read(r io.Reader) (*Bundle, Info, error) {
	reader := bufio.NewReader(r)

	prefix := make([]byte, len(magic)+2)
	if _, err := io.ReadFull(reader, prefix); err != nil {
		return nil, Info{}, fmt.Errorf("%w: reading header: %v", ErrCorrupt, err)
	}
	if string(prefix[:len(magic)]) != magic {
		return nil, Info{}, fmt.Errorf("%w: bad magic", ErrCorrupt)
	}
	if prefix[len(magic)] != formatVersion {
		return nil, Info{}, fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, prefix[len(magic)])
	}

	info := Info{Compression: Compression(prefix[len(magic)+1])}
	size, err := binary.ReadUvarint(reader)
	if err != nil {
		return nil, Info{}, fmt.Errorf("%w: reading payload size: %v", ErrCorrupt, err)
	}
	if size > maxPayloadSize {
		return nil, Info{}, fmt.Errorf("%w: payload size %d exceeds %d", ErrCorrupt, size, maxPayloadSize)
	}
	info.PayloadSize = int(size)
	if _, err := io.ReadFull(reader, info.Digest[:]); err != nil {
		return nil, Info{}, fmt.Errorf("%w: reading digest: %v", ErrCorrupt, err)
	}

	compressed, err := io.ReadAll(io.LimitReader(reader, maxPayloadSize+1))
	if err != nil {
		return nil, Info{}, fmt.Errorf("reading bundle payload: %w", err)
	}
	info.CompressedSize = len(compressed)

	payload, err := decompress(compressed, info.Compression, info.PayloadSize)
	if err != nil {
		return nil, Info{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if Digest(blake3.Sum256(payload)) != info.Digest {
		return nil, Info{}, fmt.Errorf("%w: digest mismatch", ErrCorrupt)
	}

	var bundle Bundle
	if err := codec.Unmarshal(payload, &bundle); err != nil {
		return nil, Info{}, fmt.Errorf("%w: decoding payload: %v", ErrCorrupt, err)
	}
	return &bundle, info, nil
}
