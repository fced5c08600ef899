package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/bilateral/internal/image"
)

func TestExecutorErrors(t *testing.T) {
	src := randomImage(t, 4, 4, 1)
	p := DefaultParams()

	tests := []struct {
		name     string
		src, dst *image.Float
		p        Params
		wantErr  error
	}{
		{"nil source", nil, src.Clone(), p, ErrNilImage},
		{"nil destination", src, nil, p, ErrNilImage},
		{"width mismatch", src, mustFloat(t, 5, 4), p, ErrDimensionMismatch},
		{"short destination", src, &image.Float{Width: 4, Height: 4, Pix: make([]float32, 10)}, p, ErrDimensionMismatch},
		{"aliased", src, src, p, ErrAliasedImage},
		{"bad params", src, src.Clone(), Params{SpatialSigma: -1, IntensitySigma: 1}, ErrInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Executor{Workers: 2}.Run(tt.src, tt.dst, tt.p)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestExecutorRejectsOverlappingViews(t *testing.T) {
	const w, h = 4, 3
	n := w * h * image.Channels
	for _, off := range []int{1, image.Channels, n / 2} {
		buf := make([]float32, n+off)
		head := &image.Float{Width: w, Height: h, Pix: buf[:n]}
		tail := &image.Float{Width: w, Height: h, Pix: buf[off : off+n]}
		p := DefaultParams()

		assert.ErrorIs(t, Executor{}.Run(head, tail, p), ErrAliasedImage, "offset %d", off)
		assert.ErrorIs(t, Executor{Workers: 2}.Run(tail, head, p), ErrAliasedImage, "offset %d", off)
	}
}

func TestSameBacking(t *testing.T) {
	buf := make([]float32, 16)
	assert.True(t, sameBacking(buf[:8], buf[8:]))
	assert.True(t, sameBacking(buf[2:10], buf[:4]))
	assert.False(t, sameBacking(buf, make([]float32, 16)))
	assert.False(t, sameBacking(nil, buf))
}

func TestExecutorDeterministicAcrossWorkers(t *testing.T) {
	src := randomImage(t, 23, 19, 99)
	p := Params{SpatialSigma: 4, IntensitySigma: 0.25, Radius: 3}

	want, err := Executor{Workers: 1}.Apply(src, p)
	require.NoError(t, err)

	for _, workers := range []int{2, 3, 4, 8, 64} {
		got, err := Executor{Workers: workers}.Apply(src, p)
		require.NoError(t, err)
		assert.Equal(t, want.Pix, got.Pix, "workers=%d", workers)
	}
}

func TestExecutorMatchesKernel(t *testing.T) {
	src := randomImage(t, 9, 6, 5)
	p := Params{SpatialSigma: 2, IntensitySigma: 0.4, Radius: 2}

	out, err := Executor{Workers: DefaultWorkers}.Apply(src, p)
	require.NoError(t, err)

	k, err := NewKernel(src, p)
	require.NoError(t, err)
	for y := range src.Height {
		for x := range src.Width {
			for c := range image.Channels {
				assert.InDelta(t, k.FilteredValue(Point{x, y}, c), out.At(x, y, c), 1e-6)
			}
		}
	}
}

func TestExecutorAlphaPassThrough(t *testing.T) {
	src := randomImage(t, 13, 7, 17)
	out, err := Executor{Workers: 3}.Apply(src, Params{SpatialSigma: 3, IntensitySigma: 0.1, Radius: 4})
	require.NoError(t, err)

	for y := range src.Height {
		for x := range src.Width {
			require.Equal(t, src.At(x, y, image.AlphaChannel), out.At(x, y, image.AlphaChannel))
		}
	}
}

func TestExecutorConstantImage(t *testing.T) {
	src, err := image.NewUniform(16, 9, 0.25, 0.5, 0.75, 0.6)
	require.NoError(t, err)

	out, err := Executor{Workers: 4}.Apply(src, DefaultParams())
	require.NoError(t, err)

	for i, v := range out.Pix {
		assert.InDelta(t, src.Pix[i], v, 1e-6)
	}
}

func TestExecutorLeavesSourceUntouched(t *testing.T) {
	src := randomImage(t, 8, 8, 23)
	before := src.Clone()

	_, err := Executor{Workers: 4}.Apply(src, Params{SpatialSigma: 2, IntensitySigma: 0.3, Radius: 2})
	require.NoError(t, err)
	assert.Equal(t, before.Pix, src.Pix)
}

func mustFloat(t *testing.T, w, h int) *image.Float {
	t.Helper()
	f, err := image.NewFloat(w, h)
	require.NoError(t, err)
	return f
}
