package parallel

// Band is a half-open range of image rows [Y0, Y1).
type Band struct {
	Y0, Y1 int
}

// Rows returns the number of rows in the band.
func (b Band) Rows() int {
	return b.Y1 - b.Y0
}

// SplitRows partitions height rows into at most parts contiguous bands whose
// sizes differ by at most one. Every row belongs to exactly one band and
// bands are returned in ascending order. Returns nil if height <= 0.
func SplitRows(height, parts int) []Band {
	if height <= 0 {
		return nil
	}
	parts = min(max(parts, 1), height)

	bands := make([]Band, parts)
	base, extra := height/parts, height%parts
	y := 0
	for i := range bands {
		n := base
		if i < extra {
			n++
		}
		bands[i] = Band{Y0: y, Y1: y + n}
		y += n
	}
	return bands
}
