package agentclient

import (
	"context"
	"fmt"

	"github.com/egv/acp-host/internal/transport"
)

// Spawn starts the agent as a child process and connects to it over its
// standard streams. Close stops the process.
func Spawn(ctx context.Context, spawn transport.SpawnOptions, opts Options) (*Client, error) {
	process, err := transport.Spawn(ctx, spawn)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger != nil {
		logger.Info("agent process started", "command", spawn.Command, "pid", process.Pid())
	}
	client, err := Connect(ctx, process, opts)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", spawn.Command, err)
	}
	return client, nil
}

// Dial connects to an agent already listening on endpoint.
func Dial(ctx context.Context, endpoint string, opts Options) (*Client, error) {
	conn, err := transport.Dial(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return Connect(ctx, conn, opts)
}
