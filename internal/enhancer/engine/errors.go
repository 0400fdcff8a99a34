package engine

import (
	"fmt"
)

// ImageError wraps a per-image failure with the image index and whatever the
// tool printed. errors.As reaches the tpai error underneath.
type ImageError struct {
	Index    int
	Phase    string
	Attempts int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *ImageError) Error() string {
	return fmt.Sprintf("image %d: %s: %v", e.Index, e.Phase, e.Err)
}

func (e *ImageError) Unwrap() error { return e.Err }
