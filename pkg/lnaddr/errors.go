package lnaddr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes carried verbatim on the wire as {error, code}.
const (
	CodeMissingParam    = "MISSING_PARAM"
	CodeInvalidFormat   = "INVALID_FORMAT"
	CodeInvalidBody     = "INVALID_BODY"
	CodeInvalidAmount   = "INVALID_AMOUNT"
	CodeMissingCallback = "MISSING_CALLBACK"
	CodeInvalidCallback = "INVALID_CALLBACK"
	CodeInvalidResponse = "INVALID_RESPONSE"
	CodeNotLnurlPay     = "NOT_LNURL_PAY"
	CodeNotFound        = "NOT_FOUND"
	CodeUpstreamError   = "UPSTREAM_ERROR"
	CodeUnreachable     = "UNREACHABLE"
	CodeLnurlError      = "LNURL_ERROR"
	CodeRateLimited     = "RATE_LIMITED"
)

// Error is a resolution or invoice failure with its wire code and the HTTP
// status the proxy endpoints respond with.
type Error struct {
	Code    string
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

func newErr(code string, status int, format string, args ...interface{}) *Error {
	return &Error{Code: code, Status: status, Message: fmt.Sprintf(format, args...)}
}

func badRequest(code, format string, args ...interface{}) *Error {
	return newErr(code, http.StatusBadRequest, format, args...)
}

func upstream(code, format string, args ...interface{}) *Error {
	return newErr(code, http.StatusBadGateway, format, args...)
}

// AsError unwraps err into an *Error when it carries one.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
