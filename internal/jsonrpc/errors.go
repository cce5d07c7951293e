// Package jsonrpc names the JSON-RPC 2.0 error codes used between client and
// agent, over the SDK's request error type.
package jsonrpc

import (
	"encoding/json"
	"errors"
	"strings"

	acp "github.com/coder/acp-go-sdk"
)

const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeAuthRequired is returned by agents that need an authenticate call
	// before creating sessions.
	CodeAuthRequired     = -32000
	CodeResourceNotFound = -32002
	// CodePermissionDenied is a client-defined code for OS permission
	// failures on behalf of the agent.
	CodePermissionDenied = -32003
)

// Error is a JSON-RPC error object. Agents return it for failed calls and
// client handlers return it to pick the response code.
type Error = acp.RequestError

func NewError(code int, message string, data any) *Error {
	return &acp.RequestError{Code: code, Message: message, Data: data}
}

// IsAuthRequired reports whether err signals that authentication must happen
// before the call can succeed.
func IsAuthRequired(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		if rpcErr.Code == CodeAuthRequired {
			return true
		}
		if strings.Contains(strings.ToLower(rpcErr.Message), "auth_required") {
			return true
		}
		if rpcErr.Data != nil {
			data, _ := json.Marshal(rpcErr.Data)
			return strings.Contains(strings.ToLower(string(data)), "auth_required")
		}
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "auth_required")
}
