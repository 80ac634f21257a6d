package matrix

import (
	"errors"
	"fmt"
)

var ErrMatrixConfiguration = errors.New("matrix configuration error")

// ConfigurationError is fatal to a run: the declared matrix itself is
// unusable, so no cell can be scheduled.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%v: %s", ErrMatrixConfiguration, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrMatrixConfiguration }

func configErr(format string, args ...any) error {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}
