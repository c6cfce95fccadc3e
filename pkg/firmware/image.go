// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package firmware loads flash images from raw binaries and Intel HEX
// files.
package firmware

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/marcinbor85/gohex"
)

// Segment is a contiguous run of image bytes at a flash address
type Segment struct {
	Address uint32
	Data    []byte
}

// End returns the address one past the segment
func (s Segment) End() uint64 {
	return uint64(s.Address) + uint64(len(s.Data))
}

// Image is a firmware image made of non-overlapping segments sorted by
// address
type Image struct {
	Name     string
	Segments []Segment
}

// Size returns the number of image bytes, excluding gaps
func (img *Image) Size() int {
	n := 0
	for _, s := range img.Segments {
		n += len(s.Data)
	}
	return n
}

// Span returns the address range covered by the image, gaps included
func (img *Image) Span() (start uint32, end uint64) {
	if len(img.Segments) == 0 {
		return 0, 0
	}
	return img.Segments[0].Address, img.Segments[len(img.Segments)-1].End()
}

// Flatten returns the image as one contiguous buffer starting at the
// lowest segment address, with gaps filled with fill
func (img *Image) Flatten(fill byte) (uint32, []byte) {
	start, end := img.Span()
	buf := bytes.Repeat([]byte{fill}, int(end-uint64(start)))
	for _, s := range img.Segments {
		copy(buf[s.Address-start:], s.Data)
	}
	return start, buf
}

// String summarizes the image for logs
func (img *Image) String() string {
	start, end := img.Span()
	return fmt.Sprintf("%s: %d bytes in %d segments, 0x%08X-0x%08X",
		img.Name, img.Size(), len(img.Segments), start, end)
}

// Load reads an image file. Files ending in .hex or .ihex are parsed as
// Intel HEX and carry their own addresses; anything else is a raw binary
// placed at base.
func Load(path string, base uint32) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	name := filepath.Base(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".ihex":
		return LoadHex(f, name)
	}
	return LoadBinary(f, name, base)
}

// LoadBinary reads a raw image placed at base
func LoadBinary(r io.Reader, name string, base uint32) (*Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s: image is empty", name)
	}
	if uint64(base)+uint64(len(data)) > 1<<32 {
		return nil, fmt.Errorf("%s: image does not fit below 4 GiB at 0x%08X", name, base)
	}
	return &Image{Name: name, Segments: []Segment{{Address: base, Data: data}}}, nil
}

// LoadHex reads an Intel HEX image
func LoadHex(r io.Reader, name string) (*Image, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, fmt.Errorf("%s: invalid Intel HEX: %w", name, err)
	}
	img := &Image{Name: name}
	for _, s := range mem.GetDataSegments() {
		img.Segments = append(img.Segments, Segment{Address: s.Address, Data: s.Data})
	}
	if len(img.Segments) == 0 {
		return nil, fmt.Errorf("%s: image is empty", name)
	}
	sort.Slice(img.Segments, func(i, j int) bool {
		return img.Segments[i].Address < img.Segments[j].Address
	})
	return img, nil
}

// WriteHex writes data at addr as Intel HEX, 16 bytes per record
func WriteHex(w io.Writer, addr uint32, data []byte) error {
	mem := gohex.NewMemory()
	if err := mem.AddBinary(addr, data); err != nil {
		return err
	}
	return mem.DumpIntelHex(w, 16)
}

// Save writes data read from flash to path, as Intel HEX when the
// extension asks for it and raw bytes otherwise
func Save(path string, addr uint32, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".hex", ".ihex":
		err = WriteHex(f, addr, data)
	default:
		_, err = f.Write(data)
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
