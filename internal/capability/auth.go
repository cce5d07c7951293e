package capability

import (
	"context"
	"errors"
	"fmt"

	acp "github.com/coder/acp-go-sdk"

	"github.com/egv/acp-host/internal/transport"
)

// Authenticator upgrades a connection after the agent signalled that
// authentication is required.
type Authenticator interface {
	Authenticate(ctx context.Context, conn *AgentConnection) (*AgentConnection, error)
}

type AuthenticatorFunc func(ctx context.Context, conn *AgentConnection) (*AgentConnection, error)

func (f AuthenticatorFunc) Authenticate(ctx context.Context, conn *AgentConnection) (*AgentConnection, error) {
	return f(ctx, conn)
}

// MethodAuthenticator calls the protocol's authenticate method with the
// preferred auth method, or the first one the agent offered.
type MethodAuthenticator struct {
	Transport transport.Transport
	Preferred acp.AuthMethodId
}

var ErrNoAuthMethod = errors.New("agent requires authentication but offered no auth method")

func (a MethodAuthenticator) Authenticate(ctx context.Context, conn *AgentConnection) (*AgentConnection, error) {
	methodID, err := pickAuthMethod(conn, a.Preferred)
	if err != nil {
		return nil, err
	}
	err = a.Transport.Request(ctx, transport.DefaultTimeout, func(ctx context.Context, agent transport.AgentConn) error {
		return agent.Authenticate(ctx, acp.AuthenticateRequest{MethodId: methodID})
	})
	if err != nil {
		return nil, fmt.Errorf("authenticate with %s: %w", methodID, err)
	}
	return conn.WithAuthState(AuthAuthenticated), nil
}

func pickAuthMethod(conn *AgentConnection, preferred acp.AuthMethodId) (acp.AuthMethodId, error) {
	if conn == nil || len(conn.AuthMethods) == 0 {
		return "", ErrNoAuthMethod
	}
	if preferred != "" {
		for _, method := range conn.AuthMethods {
			if method.Id == preferred {
				return method.Id, nil
			}
		}
		return "", fmt.Errorf("auth method %q not offered by agent", preferred)
	}
	return conn.AuthMethods[0].Id, nil
}
