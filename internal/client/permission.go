package client

import (
	"context"

	acp "github.com/coder/acp-go-sdk"
)

// PermissionPolicy answers session/request_permission.
type PermissionPolicy interface {
	Decide(ctx context.Context, req acp.RequestPermissionRequest) (acp.RequestPermissionOutcome, error)
}

type PermissionFunc func(ctx context.Context, req acp.RequestPermissionRequest) (acp.RequestPermissionOutcome, error)

func (f PermissionFunc) Decide(ctx context.Context, req acp.RequestPermissionRequest) (acp.RequestPermissionOutcome, error) {
	return f(ctx, req)
}

// AutoApprove grants every request with the first allow option offered.
// Requests without an allow option are cancelled.
type AutoApprove struct{}

func (AutoApprove) Decide(ctx context.Context, req acp.RequestPermissionRequest) (acp.RequestPermissionOutcome, error) {
	if option, ok := firstOption(req.Options, acp.PermissionOptionKindAllowOnce, acp.PermissionOptionKindAllowAlways); ok {
		return acp.NewRequestPermissionOutcomeSelected(option.OptionId), nil
	}
	return acp.NewRequestPermissionOutcomeCancelled(), nil
}

// Deny rejects every request with the first reject option offered.
type Deny struct{}

func (Deny) Decide(ctx context.Context, req acp.RequestPermissionRequest) (acp.RequestPermissionOutcome, error) {
	if option, ok := firstOption(req.Options, acp.PermissionOptionKindRejectOnce, acp.PermissionOptionKindRejectAlways); ok {
		return acp.NewRequestPermissionOutcomeSelected(option.OptionId), nil
	}
	return acp.NewRequestPermissionOutcomeCancelled(), nil
}

// PolicyByName maps a config value to a policy. Unknown names fall back to
// auto approval.
func PolicyByName(name string) PermissionPolicy {
	switch name {
	case "deny", "reject":
		return Deny{}
	default:
		return AutoApprove{}
	}
}

func firstOption(options []acp.PermissionOption, kinds ...acp.PermissionOptionKind) (acp.PermissionOption, bool) {
	for _, option := range options {
		for _, kind := range kinds {
			if option.Kind == kind {
				return option, true
			}
		}
	}
	return acp.PermissionOption{}, false
}

func optionKind(options []acp.PermissionOption, id acp.PermissionOptionId) acp.PermissionOptionKind {
	for _, option := range options {
		if option.OptionId == id {
			return option.Kind
		}
	}
	return ""
}
