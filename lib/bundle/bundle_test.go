// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/sysmond/lib/codec"
)

type diskReply struct {
	ID           string  `cbor:"id"`
	BusyPercent  float64 `cbor:"busy_percent"`
	ReadsPerTick []int   `cbor:"reads"`
}

func sampleBundle(t *testing.T) *Bundle {
	t.Helper()
	// Repetitive content so every codec actually shrinks it.
	disks := make([]diskReply, 64)
	for i := range disks {
		disks[i] = diskReply{ID: "nvme0n1", BusyPercent: 12.5, ReadsPerTick: []int{1, 2, 3, 4}}
	}
	encoded, err := codec.Marshal(disks)
	if err != nil {
		t.Fatal(err)
	}
	return &Bundle{
		CapturedAt: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
		Hostname:   "workstation",
		Version:    "1.0.0",
		Sections:   map[string]codec.RawMessage{"disks": encoded},
		Errors:     map[string]string{"services": "services: list: unsupported"},
	}
}

func TestRoundTrip(t *testing.T) {
	for _, compression := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(compression.String(), func(t *testing.T) {
			var buffer bytes.Buffer
			written, err := Write(&buffer, sampleBundle(t), compression)
			if err != nil {
				t.Fatal(err)
			}
			if written.Compression != compression {
				t.Errorf("stored compression = %s, want %s", written.Compression, compression)
			}
			if compression != CompressionNone && written.CompressedSize >= written.PayloadSize {
				t.Errorf("compressed %d bytes to %d", written.PayloadSize, written.CompressedSize)
			}

			bundle, read, err := Read(&buffer)
			if err != nil {
				t.Fatal(err)
			}
			if read != written {
				t.Errorf("Read info = %+v, Write info = %+v", read, written)
			}
			if !bundle.CapturedAt.Equal(time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)) || bundle.Hostname != "workstation" {
				t.Errorf("bundle header fields = %v %q", bundle.CapturedAt, bundle.Hostname)
			}

			var disks []diskReply
			if err := bundle.Decode("disks", &disks); err != nil {
				t.Fatal(err)
			}
			if len(disks) != 64 || disks[63].ID != "nvme0n1" || disks[0].ReadsPerTick[3] != 4 {
				t.Errorf("decoded disks = %d entries, last %+v", len(disks), disks[len(disks)-1])
			}
		})
	}
}

func TestIncompressibleFallsBackToNone(t *testing.T) {
	bundle := &Bundle{CapturedAt: time.Unix(0, 0).UTC(), Sections: map[string]codec.RawMessage{}}
	var buffer bytes.Buffer
	info, err := Write(&buffer, bundle, CompressionLZ4)
	if err != nil {
		t.Fatal(err)
	}
	if info.Compression != CompressionNone {
		t.Errorf("tiny payload stored as %s, want none", info.Compression)
	}
	if _, _, err := Read(&buffer); err != nil {
		t.Fatal(err)
	}
}

func TestDecodeMissingSection(t *testing.T) {
	bundle := sampleBundle(t)
	var target any
	err := bundle.Decode("services", &target)
	if err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("Decode of a failed section: %v", err)
	}
	if err := bundle.Decode("fans", &target); err == nil {
		t.Error("Decode of an absent section succeeded")
	}
}

func TestNames(t *testing.T) {
	names := sampleBundle(t).Names()
	if strings.Join(names, ",") != "disks,services" {
		t.Errorf("Names = %v", names)
	}
}

func TestReadRejectsCorruption(t *testing.T) {
	var buffer bytes.Buffer
	if _, err := Write(&buffer, sampleBundle(t), CompressionZstd); err != nil {
		t.Fatal(err)
	}
	valid := buffer.Bytes()

	flip := func(offset int) []byte {
		data := bytes.Clone(valid)
		data[offset] ^= 0xff
		return data
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"bad magic", flip(0)},
		{"bad format version", flip(len(magic))},
		{"unknown compression", flip(len(magic) + 1)},
		{"corrupt payload", flip(len(valid) - 1)},
		{"truncated payload", valid[:len(valid)-8]},
		{"not a bundle", []byte("{\"sections\": {}}\n")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := Read(bytes.NewReader(tt.data)); !errors.Is(err, ErrCorrupt) {
				t.Errorf("Read: got %v, want ErrCorrupt", err)
			}
		})
	}
}

func TestParseCompression(t *testing.T) {
	for _, compression := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		parsed, err := ParseCompression(compression.String())
		if err != nil || parsed != compression {
			t.Errorf("ParseCompression(%q) = %v, %v", compression.String(), parsed, err)
		}
	}
	if _, err := ParseCompression("gzip"); err == nil {
		t.Error("ParseCompression accepted gzip")
	}
}

func TestReadVerifiesDigest(t *testing.T) {
	var buffer bytes.Buffer
	if _, err := Write(&buffer, sampleBundle(t), CompressionNone); err != nil {
		t.Fatal(err)
	}
	data := buffer.Bytes()
	data[len(data)-1] ^= 0x01

	_, _, err := Read(bytes.NewReader(data))
	if !errors.Is(err, ErrCorrupt) || !strings.Contains(err.Error(), "digest mismatch") {
		t.Errorf("Read of a modified payload: %v", err)
	}
}
