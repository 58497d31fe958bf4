package vigil

import "errors"

// ErrDuplicateMonitor means a monitor with this URL already exists.
var ErrDuplicateMonitor = errors.New("vigil: monitor with this URL already exists")

// ErrInvalidInput covers all input validation failures.
var ErrInvalidInput = errors.New("vigil: invalid input")

// ErrNotFound is returned when a referenced entity does not exist.
var ErrNotFound = errors.New("vigil: not found")

// ErrQuotaExceeded means a resource cap was hit.
var ErrQuotaExceeded = errors.New("vigil: quota exceeded")
