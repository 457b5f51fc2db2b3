package flydb

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind discriminates the categories of errors the driver can surface.
// The set mirrors the FlyDB server's taxonomy: interface-side kinds describe
// failures in the driver or transport, database-side kinds describe failures
// reported by or attributed to the server.
type ErrorKind int

const (
	// KindUnknown is the zero value and should not appear in practice.
	KindUnknown ErrorKind = iota

	// KindWarning is a non-fatal advisory. The driver never raises it
	// itself; it is reserved for future use.
	KindWarning

	// Interface-side kinds.

	// KindConnection is a transport-level connect/read/write failure.
	KindConnection
	// KindProtocol is a frame or header validation failure.
	KindProtocol
	// KindCursor is reserved for cursor-state misuse.
	KindCursor
	// KindPool is reserved; the driver does not pool connections.
	KindPool
	// KindInterface marks use of a closed connection or cursor.
	KindInterface

	// Database-side kinds.

	// KindDatabase is the generic database error used when no more
	// specific kind matches a server report.
	KindDatabase
	// KindData means a value could not be serialized or escaped.
	KindData
	// KindOperational covers failures outside the caller's control that
	// are recoverable only by reconnecting.
	KindOperational
	// KindAuthentication means the server rejected the credentials.
	KindAuthentication
	// KindTransaction is a begin/commit/rollback failure.
	KindTransaction
	// KindTimeout means a request or ping deadline expired.
	KindTimeout
	// KindIntegrity is a server-reported constraint violation.
	KindIntegrity
	// KindInternal is a server-side internal error.
	KindInternal
	// KindNotSupported means the server lacks the requested capability.
	KindNotSupported
	// KindProgramming is caller misuse: bad parameters, bad SQL objects.
	KindProgramming
	// KindQuery means the server rejected the SQL statement.
	KindQuery
)

var errorKindNames = map[ErrorKind]string{
	KindUnknown:        "unknown",
	KindWarning:        "warning",
	KindConnection:     "connection",
	KindProtocol:       "protocol",
	KindCursor:         "cursor",
	KindPool:           "pool",
	KindInterface:      "interface",
	KindDatabase:       "database",
	KindData:           "data",
	KindOperational:    "operational",
	KindAuthentication: "authentication",
	KindTransaction:    "transaction",
	KindTimeout:        "timeout",
	KindIntegrity:      "integrity",
	KindInternal:       "internal",
	KindNotSupported:   "not supported",
	KindProgramming:    "programming",
	KindQuery:          "query",
}

func (k ErrorKind) String() string {
	if name, ok := errorKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ErrorCategory groups kinds into the two catchable families.
type ErrorCategory int

const (
	CategoryUnknown ErrorCategory = iota
	CategoryWarning
	CategoryInterface
	CategoryDatabase
)

// Error is the structured error type surfaced by every driver operation.
// Code and SQLState are populated from server ERROR payloads when available.
type Error struct {
	Kind     ErrorKind
	Message  string
	Code     int64
	SQLState string
	Cause    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("flydb: %s: %v", e.Message, e.Cause)
	}
	return "flydb: " + e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Category reports which family the error belongs to.
func (e *Error) Category() ErrorCategory {
	switch e.Kind {
	case KindWarning:
		return CategoryWarning
	case KindConnection, KindProtocol, KindCursor, KindPool, KindInterface:
		return CategoryInterface
	case KindDatabase, KindData, KindOperational, KindAuthentication,
		KindTransaction, KindTimeout, KindIntegrity, KindInternal,
		KindNotSupported, KindProgramming, KindQuery:
		return CategoryDatabase
	}
	return CategoryUnknown
}

// IsKind checks whether the error is of a specific kind.
func (e *Error) IsKind(kind ErrorKind) bool {
	return e.Kind == kind
}

// NewError creates an Error of the given kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// NewErrorWithCause creates an Error of the given kind wrapping cause.
func NewErrorWithCause(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// NewConnectionError creates a transport-level error.
func NewConnectionError(message string, cause error) *Error {
	return NewErrorWithCause(KindConnection, message, cause)
}

// NewProtocolError creates a frame/header validation error.
func NewProtocolError(message string, cause error) *Error {
	return NewErrorWithCause(KindProtocol, message, cause)
}

// NewInterfaceError creates a closed-object misuse error.
func NewInterfaceError(message string) *Error {
	return NewError(KindInterface, message)
}

// NewAuthenticationError creates an authentication failure error.
func NewAuthenticationError(message string) *Error {
	return NewError(KindAuthentication, message)
}

// NewProgrammingError creates a caller-misuse error.
func NewProgrammingError(message string) *Error {
	return NewError(KindProgramming, message)
}

// NewDataError creates a value serialization error.
func NewDataError(message string) *Error {
	return NewError(KindData, message)
}

// NewTransactionError creates a transaction failure error.
func NewTransactionError(message string) *Error {
	return NewError(KindTransaction, message)
}

// NewTimeoutError creates a deadline-expiry error.
func NewTimeoutError(message string, cause error) *Error {
	return NewErrorWithCause(KindTimeout, message, cause)
}

// NewNotSupportedError creates a missing-capability error.
func NewNotSupportedError(message string) *Error {
	return NewError(KindNotSupported, message)
}

func errorKind(err error) ErrorKind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsConnectionError checks if an error is a transport-level failure.
func IsConnectionError(err error) bool {
	return errorKind(err) == KindConnection
}

// IsProtocolError checks if an error is a frame validation failure.
func IsProtocolError(err error) bool {
	return errorKind(err) == KindProtocol
}

// IsInterfaceError checks if an error belongs to the interface family.
func IsInterfaceError(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Category() == CategoryInterface
	}
	return false
}

// IsDatabaseError checks if an error belongs to the database family.
func IsDatabaseError(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Category() == CategoryDatabase
	}
	return false
}

// IsAuthenticationError checks if the server rejected the credentials.
func IsAuthenticationError(err error) bool {
	return errorKind(err) == KindAuthentication
}

// IsProgrammingError checks if an error is caller misuse.
func IsProgrammingError(err error) bool {
	return errorKind(err) == KindProgramming
}

// IsDataError checks if a value could not be serialized or escaped.
func IsDataError(err error) bool {
	return errorKind(err) == KindData
}

// IsTimeoutError checks if a request deadline expired.
func IsTimeoutError(err error) bool {
	return errorKind(err) == KindTimeout
}

// IsTransactionError checks if a transaction operation failed.
func IsTransactionError(err error) bool {
	return errorKind(err) == KindTransaction
}

// IsIntegrityError checks if the server reported a constraint violation.
func IsIntegrityError(err error) bool {
	return errorKind(err) == KindIntegrity
}

// IsNotSupportedError checks if the server lacks a capability.
func IsNotSupportedError(err error) bool {
	return errorKind(err) == KindNotSupported
}

// IsQueryError checks if the server rejected the SQL statement.
func IsQueryError(err error) bool {
	return errorKind(err) == KindQuery
}

// IsOperationalError checks for the operational sub-family: failures
// recoverable only by reconnecting.
func IsOperationalError(err error) bool {
	switch errorKind(err) {
	case KindOperational, KindAuthentication, KindTransaction, KindTimeout:
		return true
	}
	return false
}

// serverError translates an ERROR payload into the most specific matching
// database error kind, dispatching on the SQLSTATE class first and the
// server code second, with a generic database error as the fallback.
func serverError(payload Payload) *Error {
	message := payload.getString("message")
	if message == "" {
		message = "server error"
	}
	code := payload.getInt("code")
	sqlstate := payload.getString("sqlstate")

	kind := KindDatabase
	if len(sqlstate) >= 2 {
		switch strings.ToUpper(sqlstate[:2]) {
		case "22":
			kind = KindData
		case "23":
			kind = KindIntegrity
		case "28":
			kind = KindAuthentication
		case "40":
			kind = KindTransaction
		case "42":
			kind = KindProgramming
		case "08":
			kind = KindOperational
		case "0A":
			kind = KindNotSupported
		case "XX":
			kind = KindInternal
		}
	}
	if kind == KindDatabase && sqlstate == "" && code != 0 {
		// Servers predating SQLSTATE support send only a numeric code;
		// anything unrecognized stays a query rejection.
		kind = KindQuery
	}

	return &Error{Kind: kind, Message: message, Code: code, SQLState: sqlstate}
}
