package application

import (
	"errors"

	"github.com/qortal/qortd/internal/core/application/acct"
	"github.com/qortal/qortd/internal/core/domain"
)

// Code classifies the errors exposed to the callers of the daemon.
type Code string

const (
	CodeOK                    Code = "OK"
	CodeInvalidRequest        Code = "INVALID_REQUEST"
	CodeNotFound              Code = "NOT_FOUND"
	CodeTimeout               Code = "TIMEOUT"
	CodeRepositoryUnavailable Code = "REPOSITORY_UNAVAILABLE"
)

var (
	// ErrInvalidRequest ...
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotFound ...
	ErrNotFound = errors.New("not found")
	// ErrTimeout ...
	ErrTimeout = errors.New("operation timed out, try again later")
	// ErrRepositoryUnavailable is returned in case of internal errors.
	ErrRepositoryUnavailable = errors.New("repository is unavailable, try again later")
)

var notFoundErrors = []error{
	domain.ErrATNotFound,
	domain.ErrATStateNotFound,
	domain.ErrTradeBotNotFound,
	domain.ErrBlockNotFound,
	acct.ErrUnknownACCT,
	acct.ErrUnknownCodeHash,
}

var invalidRequestErrors = []error{
	domain.ErrInvalidATState,
	domain.ErrInvalidAT,
	domain.ErrInvalidMatchingFilter,
	domain.ErrInvalidHeightRange,
	domain.ErrTradeBotAlreadyExists,
	domain.ErrTradeBotInvalidKey,
	domain.ErrTradeBotTerminal,
	domain.ErrTradeBotInvalidTransition,
	domain.ErrTradeBotUnknownState,
	acct.ErrInvalidAddress,
	acct.ErrInvalidHashLength,
	acct.ErrInvalidSecretLength,
	acct.ErrInvalidMessage,
	acct.ErrUnexpectedLayout,
	acct.ErrTrimmedState,
}

// ErrorCode returns the public classification of err.
func ErrorCode(err error) Code {
	if err == nil {
		return CodeOK
	}
	if errors.Is(err, domain.ErrTimeout) {
		return CodeTimeout
	}
	for _, e := range notFoundErrors {
		if errors.Is(err, e) {
			return CodeNotFound
		}
	}
	for _, e := range invalidRequestErrors {
		if errors.Is(err, e) {
			return CodeInvalidRequest
		}
	}
	return CodeRepositoryUnavailable
}

// ToPublicError maps err to one of the public errors, so that internal
// causes are never leaked to callers.
func ToPublicError(err error) error {
	switch ErrorCode(err) {
	case CodeOK:
		return nil
	case CodeTimeout:
		return ErrTimeout
	case CodeNotFound:
		return ErrNotFound
	case CodeInvalidRequest:
		return ErrInvalidRequest
	default:
		return ErrRepositoryUnavailable
	}
}
