package main

import (
	"errors"
)

type ErrorKind string

const (
	KindAdapterUnavailable ErrorKind = "AdapterUnavailable"
	KindInvalidDevice      ErrorKind = "InvalidDevice"
	KindDeviceNotConnected ErrorKind = "DeviceNotConnected"
	KindNotActive          ErrorKind = "NotActive"
	KindInputBusy          ErrorKind = "InputBusy"
	KindEdidReadFailure    ErrorKind = "EdidReadFailure"
	KindEdidWriteFailure   ErrorKind = "EdidWriteFailure"
	KindMalformedEvent     ErrorKind = "MalformedEvent"

	KindParseError     ErrorKind = "ParseError"
	KindInvalidRequest ErrorKind = "InvalidRequest"
	KindMethodNotFound ErrorKind = "MethodNotFound"
	KindInvalidParams  ErrorKind = "InvalidParams"
	KindInternal       ErrorKind = "Internal"
)

var (
	ErrAdapterUnavailable = errors.New("hardware adapter unavailable")
	ErrInvalidDevice      = errors.New("invalid device")
	ErrDeviceNotConnected = errors.New("device not connected")
	ErrNotActive          = errors.New("device is not the active input")
	ErrInputBusy          = errors.New("another input is active")
	ErrEdidReadFailure    = errors.New("failed to read EDID")
	ErrEdidWriteFailure   = errors.New("failed to write EDID")
	ErrMalformedEvent     = errors.New("malformed hot-plug event")

	ErrParseError     = errors.New("parse error")
	ErrInvalidRequest = errors.New("invalid request")
	ErrMethodNotFound = errors.New("method not found")
	ErrInvalidParams  = errors.New("invalid params")
)

var errorKinds = []struct {
	err  error
	kind ErrorKind
	code int
}{
	{ErrAdapterUnavailable, KindAdapterUnavailable, -32001},
	{ErrInvalidDevice, KindInvalidDevice, -32002},
	{ErrDeviceNotConnected, KindDeviceNotConnected, -32003},
	{ErrNotActive, KindNotActive, -32004},
	{ErrInputBusy, KindInputBusy, -32005},
	{ErrEdidReadFailure, KindEdidReadFailure, -32006},
	{ErrEdidWriteFailure, KindEdidWriteFailure, -32007},
	{ErrMalformedEvent, KindMalformedEvent, -32008},
	{ErrParseError, KindParseError, -32700},
	{ErrInvalidRequest, KindInvalidRequest, -32600},
	{ErrMethodNotFound, KindMethodNotFound, -32601},
	{ErrInvalidParams, KindInvalidParams, -32602},
}

// errorKindOf maps err to its kind and JSON-RPC error code.
func errorKindOf(err error) (ErrorKind, int) {
	for _, candidate := range errorKinds {
		if errors.Is(err, candidate.err) {
			return candidate.kind, candidate.code
		}
	}

	return KindInternal, -32603
}
