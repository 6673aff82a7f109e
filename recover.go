package pipe

import (
	"fmt"
	"time"
)

// recoverFromPanic converts a panic inside a step or connector into an
// *Error so a panicking body cannot take down the whole process. Used as a
// deferred guard by every Run/Process implementation in this package.
func recoverFromPanic(result *Store, err *error, name Name, input Store) {
	if r := recover(); r != nil {
		*result = input
		*err = &Error{
			Timestamp:  time.Now(),
			InputStore: input,
			Err:        fmt.Errorf("panic in %q: %v", name, r),
			Path:       []Name{name},
		}
	}
}
