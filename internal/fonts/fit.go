package fonts

import (
	"image"
	"slices"
)

func pxToPt(px float64) float64 {
	return px * 0.75
}

// GuessSize picks the starting face for an image of the given pixel height
// and returns it with its index in the size table.
//
// Only 75% of the height is used for text. The resulting point size is
// looked up exactly, then rounded down to a multiple of 4, then clamped to
// the table bounds; failing all of those the next larger table size wins.
func GuessSize(f *Font, height int) (*Face, int) {
	sizes := f.sizes
	pt := int(pxToPt(float64(int(float64(height) * 0.75))))

	if i, ok := slices.BinarySearch(sizes, pt); ok {
		return f.faces[i], i
	}
	if i, ok := slices.BinarySearch(sizes, pt-pt%4); ok {
		return f.faces[i], i
	}

	last := len(sizes) - 1
	if pt > sizes[last] {
		return f.faces[last], last
	}
	if pt < sizes[0] {
		return f.faces[0], 0
	}

	// pt is strictly between two table entries: take the upper one.
	i, _ := slices.BinarySearch(sizes, pt)
	return f.faces[i], i
}

// Fit returns the face for text inside box, shrinking one table step at a
// time while the text reaches the box edge in either dimension. The
// smallest size is returned even if the text still does not fit.
func Fit(f *Font, box image.Point, text string) (*Face, image.Point, error) {
	face, idx := GuessSize(f, box.Y)
	size, err := face.Measure(text)
	if err != nil {
		return nil, image.Point{}, err
	}

	for (size.X >= box.X || size.Y >= box.Y) && idx > 0 {
		idx--
		face = f.faces[idx]
		if size, err = face.Measure(text); err != nil {
			return nil, image.Point{}, err
		}
	}
	return face, size, nil
}
