package engine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Code classifies an engine failure.
type Code string

const (
	CodeNotFound        Code = "NotFound"
	CodeForbidden       Code = "Forbidden"
	CodeInvalidArgument Code = "InvalidArgument"
	CodeFatal           Code = "Fatal"
)

// Details carries the numbers a caller needs to retry a rejected trade.
type Details struct {
	Price       *decimal.Decimal `json:"price,omitempty"`
	Owned       *decimal.Decimal `json:"owned,omitempty"`
	Short       *decimal.Decimal `json:"short,omitempty"`
	MaxQuantity *decimal.Decimal `json:"max_quantity,omitempty"`
	Need        *decimal.Decimal `json:"need,omitempty"`
	Have        *decimal.Decimal `json:"have,omitempty"`
	Scale       *int32           `json:"scale,omitempty"` // permitted decimal places
}

// Error is the typed failure returned by every engine operation.
type Error struct {
	Code    Code
	Message string
	Details Details
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the code of an engine error, or Fatal for anything else.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeFatal
}

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }

func notFound(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func forbidden(format string, args ...any) *Error {
	return &Error{Code: CodeForbidden, Message: fmt.Sprintf(format, args...)}
}

func invalid(details Details, format string, args ...any) *Error {
	return &Error{Code: CodeInvalidArgument, Message: fmt.Sprintf(format, args...), Details: details}
}

func fatal(op string, err error) *Error {
	return &Error{Code: CodeFatal, Message: op, Err: err}
}

// wrapStore passes engine errors through and maps store.ErrNotFound to
// NotFound; anything else is Fatal.
func wrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if isNotFound(err) {
		return &Error{Code: CodeNotFound, Message: op, Err: err}
	}
	return fatal(op, err)
}
