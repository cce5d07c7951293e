package jsonrpc

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsAuthRequired(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil", err: nil, expected: false},
		{name: "code", err: NewError(CodeAuthRequired, "Authentication required", nil), expected: true},
		{name: "wrapped code", err: fmt.Errorf("session/new: %w", NewError(CodeAuthRequired, "denied", nil)), expected: true},
		{name: "message", err: NewError(CodeInternalError, "AUTH_REQUIRED: login first", nil), expected: true},
		{name: "data", err: NewError(CodeInternalError, "failed", map[string]string{"reason": "auth_required"}), expected: true},
		{name: "other rpc error", err: NewError(CodeInvalidParams, "bad cwd", nil), expected: false},
		{name: "plain error", err: errors.New("auth_required by proxy"), expected: true},
		{name: "plain unrelated", err: errors.New("connection reset"), expected: false},
	}
	for _, tc := range cases {
		if got := IsAuthRequired(tc.err); got != tc.expected {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.expected, got)
		}
	}
}

func TestNewErrorKeepsCodeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("call: %w", NewError(CodeMethodNotFound, "method not found: x", nil))
	var rpcErr *Error
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *Error in chain, got %v", err)
	}
	if rpcErr.Code != CodeMethodNotFound {
		t.Fatalf("expected code %d, got %d", CodeMethodNotFound, rpcErr.Code)
	}
}
