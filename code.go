// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package jrpc2

import (
	"github.com/go-rpc2/peer/code"
)

// A Code is an error code included in the JSON-RPC error object.
//
// Code values from and including -32768 to -32000 are reserved for predefined
// JSON-RPC errors.  Any code within this range, but not defined explicitly
// below is reserved for future use.  The remainder of the space is available
// for application defined errors.
//
// See also: https://www.jsonrpc.org/specification#error_object
type Code = code.Code

// Pre-defined error codes, re-exported from the code package so that callers
// of this package need not import it directly for the common cases.
const (
	ParseError     = code.ParseError
	InvalidRequest = code.InvalidRequest
	MethodNotFound = code.MethodNotFound
	InvalidParams  = code.InvalidParams
	InternalError  = code.InternalError

	NoError          = code.NoError
	SystemError      = code.SystemError
	Cancelled        = code.Cancelled
	DeadlineExceeded = code.DeadlineExceeded
	ServerError      = code.ServerError
)

// An ErrCoder is a value that can report an error code value.
type ErrCoder = code.ErrCoder

// ErrorCode returns a Code to categorize the specified error. See
// code.FromError for the classification rules.
func ErrorCode(err error) Code { return code.FromError(err) }
