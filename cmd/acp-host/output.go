package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	acp "github.com/coder/acp-go-sdk"

	"github.com/egv/acp-host/internal/config"
	"github.com/egv/acp-host/internal/events"
	"github.com/egv/acp-host/internal/eventsink"
	"github.com/egv/acp-host/internal/prompt"
)

// displaySink renders the live session for the user.
type displaySink interface {
	eventsink.Sink
	StopRequests() <-chan struct{}
	Finish(sessionID acp.SessionId, result prompt.Result, err error)
}

// plainSink streams agent text to out and status lines to errOut.
type plainSink struct {
	mu       sync.Mutex
	out      io.Writer
	errOut   io.Writer
	lastByte byte
	wrote    bool
}

func newPlainSink(out io.Writer, errOut io.Writer) *plainSink {
	return &plainSink{out: out, errOut: errOut}
}

func (p *plainSink) Emit(_ context.Context, record eventsink.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch record.Type {
	case events.AgentMessageChunk:
		var chunk eventsink.ChunkPayload
		if err := record.DecodePayload(&chunk); err != nil {
			return err
		}
		if chunk.Content.Text == nil || chunk.Content.Text.Text == "" {
			return nil
		}
		text := chunk.Content.Text.Text
		if _, err := io.WriteString(p.out, text); err != nil {
			return err
		}
		p.wrote = true
		p.lastByte = text[len(text)-1]
	case events.ToolCallRegistered, events.ToolCallCompleted, events.ToolCallFailed, events.PermissionPending:
		var call eventsink.ToolCallPayload
		if err := record.DecodePayload(&call); err != nil {
			return err
		}
		label := call.Title
		if label == "" {
			label = string(call.ID)
		}
		_, err := fmt.Fprintf(p.errOut, "[tool %s] %s\n", call.Status, label)
		return err
	case events.CurrentMode:
		var mode eventsink.ModePayload
		if err := record.DecodePayload(&mode); err != nil {
			return err
		}
		_, err := fmt.Fprintf(p.errOut, "[mode] %s\n", mode.ModeID)
		return err
	}
	return nil
}

func (p *plainSink) StopRequests() <-chan struct{} { return nil }

func (p *plainSink) Finish(sessionID acp.SessionId, result prompt.Result, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.wrote && p.lastByte != '\n' {
		_, _ = io.WriteString(p.out, "\n")
	}
	if err != nil {
		return
	}
	line := fmt.Sprintf("session %s stop reason: %s", sessionID, result.StopReason)
	if result.Usage != nil && result.Usage.TotalTokens > 0 {
		line += fmt.Sprintf(" (%d tokens)", result.Usage.TotalTokens)
	}
	_, _ = fmt.Fprintln(p.errOut, line)
}

type closer interface {
	Close() error
}

// sinkSet is the configured external event sinks and what to close after.
type sinkSet struct {
	sinks   []eventsink.Sink
	closers []closer
	names   []string
}

func openSinks(ctx context.Context, cfg config.EventsConfig, jsonlPath string) (*sinkSet, error) {
	set := &sinkSet{}
	if path := strings.TrimSpace(jsonlPath); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create events directory: %w", err)
		}
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open events file: %w", err)
		}
		set.add("jsonl", eventsink.NewStreamSink(file), file)
	}
	if cfg.Redis.Addr != "" {
		sink, err := eventsink.DialRedis(ctx, eventsink.RedisOptions{Addr: cfg.Redis.Addr, Stream: cfg.Redis.Stream, MaxLen: cfg.Redis.MaxLen})
		if err != nil {
			set.Close(nil)
			return nil, fmt.Errorf("connect redis event sink: %w", err)
		}
		set.add("redis", sink, sink)
	}
	if cfg.NATS.URL != "" {
		sink, err := eventsink.DialNATS(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			set.Close(nil)
			return nil, fmt.Errorf("connect nats event sink: %w", err)
		}
		set.add("nats", sink, sink)
	}
	return set, nil
}

func (s *sinkSet) add(name string, sink eventsink.Sink, c closer) {
	s.sinks = append(s.sinks, sink)
	s.closers = append(s.closers, c)
	s.names = append(s.names, name)
}

func (s *sinkSet) Close(logger *slog.Logger) {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil && logger != nil {
			logger.Warn("closing event sink failed", "sink", s.names[i], "error", err)
		}
	}
}
