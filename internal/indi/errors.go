package indi

import "errors"

// ErrConnectionFailed wraps dial and handshake failures reported through
// the ConnectionFailed handler.
var ErrConnectionFailed = errors.New("indi: connection failed")

// ErrConnectionLost is reported when an established link drops.
var ErrConnectionLost = errors.New("indi: connection lost")
