package board

// NextZ is the layer a new object gets: one above the current object count.
func NextZ(s *Store) float64 {
	return float64(s.Len())
}

// Below returns a zIndex that paints just under target.
func Below(target Object) float64 {
	return target.ZIndex - 0.5
}

// Between returns the midpoint of two layers. Repeated insertion at the same
// spot halves the gap each time and eventually runs out of float precision,
// at which point the result equals one of the bounds.
func Between(lower, upper float64) float64 {
	return lower + (upper-lower)/2
}
