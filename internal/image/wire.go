package image

import (
	"encoding/binary"
	"fmt"
	"math"
)

// RowPitch returns the byte length of one image row in the wire format,
// rounded up to alignment. An alignment of 0 or 1 means tightly packed.
func RowPitch(width, alignment int) int {
	pitch := width * BytesPerPixel
	if alignment <= 1 {
		return pitch
	}
	return (pitch + alignment - 1) / alignment * alignment
}

// Bytes encodes the image as tightly packed little-endian float32 values.
func (f *Float) Bytes() []byte {
	out := make([]byte, f.ByteSize())
	_ = f.PutBytes(out, 0)
	return out
}

// PutBytes writes the image into dst using rowPitch bytes per row.
// A rowPitch of 0 means tightly packed. Padding bytes are left untouched.
func (f *Float) PutBytes(dst []byte, rowPitch int) error {
	if rowPitch == 0 {
		rowPitch = RowPitch(f.Width, 0)
	}
	if need := rowPitch*(f.Height-1) + f.Width*BytesPerPixel; len(dst) < need {
		return fmt.Errorf("%w: have %d bytes, need %d", ErrDataTooSmall, len(dst), need)
	}
	for y := range f.Height {
		row := f.Row(y)
		off := y * rowPitch
		for i, v := range row {
			binary.LittleEndian.PutUint32(dst[off+i*4:], math.Float32bits(v))
		}
	}
	return nil
}

// FromBytes decodes a width×height image from little-endian float32 data
// laid out with rowPitch bytes per row (0 means tightly packed).
func FromBytes(width, height int, data []byte, rowPitch int) (*Float, error) {
	f, err := NewFloat(width, height)
	if err != nil {
		return nil, err
	}
	if rowPitch == 0 {
		rowPitch = RowPitch(width, 0)
	}
	if need := rowPitch*(height-1) + width*BytesPerPixel; len(data) < need {
		return nil, fmt.Errorf("%w: have %d bytes, need %d", ErrDataTooSmall, len(data), need)
	}
	for y := range height {
		row := f.Row(y)
		off := y * rowPitch
		for i := range row {
			row[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[off+i*4:]))
		}
	}
	return f, nil
}
