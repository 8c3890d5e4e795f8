package timing

import "fmt"

var (
	ErrMissingMetadata = fmt.Errorf("frame metadata missing")
	ErrNoManifestation = fmt.Errorf("no manifestation attached")
	ErrInvalidSurface  = fmt.Errorf("surface index out of range")
	ErrZeroSampleRate  = fmt.Errorf("zero sample rate")
	ErrClosed          = fmt.Errorf("timer closed")
)
