// Package relayer implements the three pipelines of the service:
// credit issuance, deposits, and timelocked withdrawals.
package relayer

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a pipeline failure and decides the HTTP status it
// surfaces with.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidBlindedToken
	KindInvalidSignature
	KindTokenAlreadyRedeemed
	KindInvalidBucket
	KindInvalidRequest
	KindDecryptionFailed
	KindMerkleTree
	KindTransactionFailed
	KindCrypto
)

// Error is a classified relayer failure.
type Error struct {
	Kind Kind
	msg  string
	err  error
}

// E builds a classified error.
func E(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a classified error.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...), err: err}
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error {
	return e.err
}

// HTTPStatus maps the failure kind onto the response status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindInvalidBlindedToken, KindInvalidBucket, KindInvalidRequest, KindDecryptionFailed:
		return http.StatusBadRequest
	case KindInvalidSignature:
		return http.StatusUnauthorized
	case KindTokenAlreadyRedeemed:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// StatusOf returns the HTTP status for any error; unclassified errors
// are server faults.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return http.StatusInternalServerError
}
