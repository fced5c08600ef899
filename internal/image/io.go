package image

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // GIF decoding (first frame)
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	// Registers the WebP decoder with image.Decode.
	_ "golang.org/x/image/webp"
)

// I/O errors.
var (
	// ErrLoad is returned when an input image is missing, unreadable or corrupt.
	ErrLoad = errors.New("image: load failed")

	// ErrUnsupportedFormat is returned when the image format is not supported.
	ErrUnsupportedFormat = errors.New("image: unsupported format")

	// ErrEmptyData is returned when image data is empty.
	ErrEmptyData = errors.New("image: empty data")
)

// DefaultJPEGQuality is the JPEG quality used when none is given.
const DefaultJPEGQuality = 100

// FileFormat identifies an encoded image format.
type FileFormat int

const (
	// FormatPNG is lossless PNG.
	FormatPNG FileFormat = iota

	// FormatJPEG is baseline JPEG.
	FormatJPEG

	// FormatBMP is uncompressed BMP.
	FormatBMP

	// FormatTIFF is TIFF with deflate compression.
	FormatTIFF
)

// String returns the format name.
func (ff FileFormat) String() string {
	switch ff {
	case FormatPNG:
		return "png"
	case FormatJPEG:
		return "jpeg"
	case FormatBMP:
		return "bmp"
	case FormatTIFF:
		return "tiff"
	default:
		return "unknown"
	}
}

// FormatFromPath selects an output format from the file extension.
func FormatFromPath(path string) (FileFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return FormatPNG, nil
	case ".jpg", ".jpeg":
		return FormatJPEG, nil
	case ".bmp":
		return FormatBMP, nil
	case ".tif", ".tiff":
		return FormatTIFF, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Load decodes the image file at path, auto-detecting the format.
// Supported inputs: PNG, JPEG, GIF (first frame), BMP, TIFF, WebP.
// All failures wrap ErrLoad.
func Load(path string) (*Float, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("%w: open file: %w", ErrLoad, err)
	}
	defer func() { _ = f.Close() }()

	img, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoad, path, err)
	}
	return img, nil
}

// LoadFromBytes decodes an image from a byte slice.
func LoadFromBytes(data []byte) (*Float, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrLoad, ErrEmptyData)
	}
	img, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoad, err)
	}
	return img, nil
}

// Decode decodes an image from the given reader, auto-detecting the format.
func Decode(r io.Reader) (*Float, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("image: decode: %w", err)
	}
	f := FromStdImage(img)
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Encode writes the image to w in the given format. Quality applies to
// JPEG only and is clamped to [1, 100].
func Encode(w io.Writer, f *Float, format FileFormat, quality int) error {
	img := f.ToNRGBA()
	var err error
	switch format {
	case FormatPNG:
		err = png.Encode(w, img)
	case FormatJPEG:
		quality = min(max(quality, 1), 100)
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	case FormatBMP:
		err = bmp.Encode(w, img)
	case FormatTIFF:
		err = tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return fmt.Errorf("image: encode %s: %w", format, err)
	}
	return nil
}

// Save encodes the image to path, choosing the format from the extension.
//
// The data is written to a temporary file in the same directory and renamed
// into place, so a failed Save never leaves a partial file at path.
func Save(path string, f *Float, quality int) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}

	dir := filepath.Dir(filepath.Clean(path))
	tmp, err := os.CreateTemp(dir, ".bilateral-*"+filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("image: create file: %w", err)
	}
	tmpName := tmp.Name()

	if err := Encode(tmp, f, format, quality); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("image: close file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Clean(path)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("image: rename file: %w", err)
	}
	return nil
}
