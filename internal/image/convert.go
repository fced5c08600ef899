package image

import (
	"image"
	"image/color"
)

// byteSlack absorbs the float32 error of v/255*255 so that FromByte
// values truncate back to the byte they came from.
const byteSlack = 1.0 / 1024

// ToByte converts a nominal [0, 1] channel value to 8 bits by truncating
// 255·v. Values outside [0, 1] are clamped, NaN maps to 0.
func ToByte(v float32) uint8 {
	if !(v > 0) {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + byteSlack)
}

// FromByte converts an 8-bit channel value to [0, 1].
func FromByte(b uint8) float32 {
	return float32(b) / 255
}

// FromStdImage converts a standard library image to a Float image with
// non-premultiplied channels in [0, 1].
func FromStdImage(img image.Image) *Float {
	bounds := img.Bounds()
	f := &Float{
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Pix:    make([]float32, bounds.Dx()*bounds.Dy()*Channels),
	}

	// Fast path for NRGBA images (PNG without premultiplication).
	if nrgba, ok := img.(*image.NRGBA); ok {
		for y := range f.Height {
			src := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+f.Width*4]
			dst := f.Row(y)
			for i, b := range src {
				dst[i] = FromByte(b)
			}
		}
		return f
	}

	// Generic path: go through color.NRGBA64 to undo premultiplication
	// without losing 16-bit precision.
	for y := range f.Height {
		for x := range f.Width {
			c := color.NRGBA64Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA64)
			i := f.Index(x, y)
			f.Pix[i] = float32(c.R) / 0xffff
			f.Pix[i+1] = float32(c.G) / 0xffff
			f.Pix[i+2] = float32(c.B) / 0xffff
			f.Pix[i+3] = float32(c.A) / 0xffff
		}
	}
	return f
}

// ToNRGBA converts the image to 8-bit non-premultiplied RGBA, clamping
// every channel to [0, 1] before scaling to [0, 255].
func (f *Float) ToNRGBA() *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := range f.Height {
		src := f.Row(y)
		dst := out.Pix[y*out.Stride : y*out.Stride+f.Width*4]
		for i, v := range src {
			dst[i] = ToByte(v)
		}
	}
	return out
}
