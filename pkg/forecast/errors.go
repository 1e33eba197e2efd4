package forecast

import (
	"errors"
	"fmt"
)

// ErrInsufficientData is returned by Train when there is not enough history to
// build a profile.
var ErrInsufficientData = errors.New("insufficient data")

// InsufficientDataError reports how much history a model was given and how
// much it needs.
type InsufficientDataError struct {
	Model string
	Have  int
	Need  int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("%s: insufficient data: have %d samples, need %d", e.Model, e.Have, e.Need)
}

func (e *InsufficientDataError) Unwrap() error {
	return ErrInsufficientData
}
