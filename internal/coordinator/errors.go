// Copyright 2025 Certen Protocol
//
package coordinator

import "errors"

// ErrListNotFound is returned when a request names a list id the
// coordinator has no pre-image for.
var ErrListNotFound = errors.New("coordinator: list not found")
