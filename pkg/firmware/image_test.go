// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package firmware

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadBinary(t *testing.T) {
	img, err := LoadBinary(bytes.NewReader([]byte{1, 2, 3}), "app.bin", 0x11000)
	if err != nil {
		t.Fatalf("LoadBinary failed: %v", err)
	}
	if len(img.Segments) != 1 || img.Segments[0].Address != 0x11000 {
		t.Fatalf("unexpected segments %+v", img.Segments)
	}
	if img.Size() != 3 {
		t.Errorf("Size = %d, want 3", img.Size())
	}
}

func TestLoadBinary_Empty(t *testing.T) {
	if _, err := LoadBinary(bytes.NewReader(nil), "empty.bin", 0); err == nil {
		t.Error("expected error for empty image")
	}
}

func TestHex_RoundTrip(t *testing.T) {
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}

	var buf bytes.Buffer
	if err := WriteHex(&buf, 0x2000, data); err != nil {
		t.Fatalf("WriteHex failed: %v", err)
	}
	if !strings.HasPrefix(buf.String(), ":") {
		t.Fatalf("output is not Intel HEX: %q", buf.String())
	}

	img, err := LoadHex(&buf, "rt.hex")
	if err != nil {
		t.Fatalf("LoadHex failed: %v", err)
	}
	if len(img.Segments) != 1 {
		t.Fatalf("got %d segments, want 1", len(img.Segments))
	}
	if img.Segments[0].Address != 0x2000 || !bytes.Equal(img.Segments[0].Data, data) {
		t.Errorf("segment mismatch: 0x%X, %d bytes", img.Segments[0].Address, len(img.Segments[0].Data))
	}
}

func TestLoadHex_Invalid(t *testing.T) {
	if _, err := LoadHex(strings.NewReader(":zz\n"), "bad.hex"); err == nil {
		t.Error("expected error for malformed HEX")
	}
}

func TestImage_Flatten(t *testing.T) {
	img := &Image{Segments: []Segment{
		{Address: 0x100, Data: []byte{0xAA, 0xBB}},
		{Address: 0x104, Data: []byte{0xCC}},
	}}
	start, data := img.Flatten(0xFF)
	if start != 0x100 {
		t.Errorf("start = 0x%X, want 0x100", start)
	}
	want := []byte{0xAA, 0xBB, 0xFF, 0xFF, 0xCC}
	if !bytes.Equal(data, want) {
		t.Errorf("Flatten = % X, want % X", data, want)
	}
}

func TestLoadAndSave_ByExtension(t *testing.T) {
	dir := t.TempDir()
	data := []byte("kiln firmware image")

	for _, name := range []string{"out.bin", "out.hex"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := Save(path, 0x4000, data); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			img, err := Load(path, 0x4000)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			addr, got := img.Flatten(0xFF)
			if addr != 0x4000 || !bytes.Equal(got, data) {
				t.Errorf("Load = 0x%X % X", addr, got)
			}
		})
	}

	if _, err := os.Stat(filepath.Join(dir, "missing.bin")); err == nil {
		t.Fatal("unexpected file")
	}
	if _, err := Load(filepath.Join(dir, "missing.bin"), 0); err == nil {
		t.Error("expected error for missing file")
	}
}
