package workqueue

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidOption is returned by New for an unusable option combination.
	ErrInvalidOption = errors.New("workqueue: invalid option")
	// ErrInvalidName is returned for names that fail validation.
	ErrInvalidName = errors.New("workqueue: invalid name")
	// ErrExists is returned by Registry.Create for a name already registered.
	ErrExists = errors.New("workqueue: already registered")
)

func invalidOption(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidOption, fmt.Sprintf(format, args...))
}

// bug reports internal state that can only be reached through a bug.
func bug(format string, args ...any) {
	panic(fmt.Sprintf("workqueue: BUG: "+format, args...))
}
