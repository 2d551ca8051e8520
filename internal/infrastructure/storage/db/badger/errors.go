package dbbadger

import "errors"

var (
	// ErrAddressMustNotChange is returned when an update func alters the
	// address of the AT it was given.
	ErrAddressMustNotChange = errors.New("AT address must not change")
	// ErrTradeKeyMustNotChange is returned when an update func alters the
	// private key of the trade it was given.
	ErrTradeKeyMustNotChange = errors.New("trade private key must not change")
	// ErrMalformedKey ...
	ErrMalformedKey = errors.New("malformed key")
)
