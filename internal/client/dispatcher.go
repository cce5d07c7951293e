// Package client serves the methods an agent calls on the client: session
// updates, permission requests, file access and terminals.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	acp "github.com/coder/acp-go-sdk"

	"github.com/egv/acp-host/internal/acperr"
	"github.com/egv/acp-host/internal/acpext"
	"github.com/egv/acp-host/internal/jsonrpc"
	"github.com/egv/acp-host/internal/logging"
	"github.com/egv/acp-host/internal/toolcall"
)

type UpdateSink interface {
	HandleSessionUpdate(raw json.RawMessage)
}

type PermissionTracker interface {
	SetPermissionPending(req toolcall.PermissionRequest) bool
	ClearPermission(id acp.ToolCallId) bool
}

type FileSystem interface {
	ReadTextFile(req acp.ReadTextFileRequest) (acp.ReadTextFileResponse, error)
	WriteTextFile(req acp.WriteTextFileRequest) (acp.WriteTextFileResponse, error)
}

type Terminals interface {
	Create(req acp.CreateTerminalRequest) (acp.CreateTerminalResponse, error)
	Output(id string) (acp.TerminalOutputResponse, error)
	WaitForExit(ctx context.Context, id string) (acp.WaitForTerminalExitResponse, error)
	Kill(id string) error
	Release(id string) error
}

type Options struct {
	Updates      UpdateSink
	ToolCalls    PermissionTracker
	Files        FileSystem
	Terminals    Terminals
	Permissions  PermissionPolicy
	Capabilities acp.ClientCapabilities
	Audit        *logging.AuditLog
	Logger       *slog.Logger
}

// Dispatcher serves agent-initiated methods. Handle is the method handler
// installed on the connection; the typed methods satisfy acp.Client.
type Dispatcher struct {
	updates     UpdateSink
	toolCalls   PermissionTracker
	files       FileSystem
	terminals   Terminals
	permissions PermissionPolicy
	caps        acp.ClientCapabilities
	audit       *logging.AuditLog
	logger      *slog.Logger
}

var _ acp.Client = (*Dispatcher)(nil)

func NewDispatcher(opts Options) *Dispatcher {
	permissions := opts.Permissions
	if permissions == nil {
		permissions = AutoApprove{}
	}
	return &Dispatcher{
		updates:     opts.Updates,
		toolCalls:   opts.ToolCalls,
		files:       opts.Files,
		terminals:   opts.Terminals,
		permissions: permissions,
		caps:        opts.Capabilities,
		audit:       opts.Audit,
		logger:      logging.OrDiscard(opts.Logger),
	}
}

// Handle decodes params for method and runs the matching client method.
// session/update params go to the update sink undecoded so the router can
// validate them strictly.
func (d *Dispatcher) Handle(ctx context.Context, method string, params json.RawMessage) (any, *acp.RequestError) {
	methods := acpext.ClientMethods
	switch method {
	case methods.SessionUpdate:
		if d.updates != nil {
			d.updates.HandleSessionUpdate(params)
		}
		return nil, nil
	case methods.SessionRequestPermission:
		return serve(ctx, params, d.RequestPermission)
	case methods.FSReadTextFile:
		return serve(ctx, params, d.ReadTextFile)
	case methods.FSWriteTextFile:
		return serve(ctx, params, d.WriteTextFile)
	case methods.TerminalCreate:
		return serve(ctx, params, d.CreateTerminal)
	case methods.TerminalOutput:
		return serve(ctx, params, d.TerminalOutput)
	case methods.TerminalWaitForExit:
		return serve(ctx, params, d.WaitForTerminalExit)
	case methods.TerminalKill:
		return serve(ctx, params, d.KillTerminalCommand)
	case methods.TerminalRelease:
		return serve(ctx, params, d.ReleaseTerminal)
	default:
		d.logger.Warn("agent called unknown method", "method", method)
		return nil, jsonrpc.NewError(jsonrpc.CodeMethodNotFound, "method not found: "+method, nil)
	}
}

func serve[Req, Resp any](ctx context.Context, params json.RawMessage, call func(context.Context, Req) (Resp, error)) (any, *acp.RequestError) {
	req, rpcErr := decode[Req](params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	resp, err := call(ctx, req)
	if err != nil {
		return nil, toRPCError(err)
	}
	return resp, nil
}

// SessionUpdate forwards an already decoded notification to the update sink.
func (d *Dispatcher) SessionUpdate(ctx context.Context, note acp.SessionNotification) error {
	if d.updates == nil {
		return nil
	}
	raw, err := json.Marshal(note)
	if err != nil {
		return jsonrpc.NewError(jsonrpc.CodeInvalidParams, "invalid session update: "+err.Error(), nil)
	}
	d.updates.HandleSessionUpdate(raw)
	return nil
}

func (d *Dispatcher) ReadTextFile(ctx context.Context, req acp.ReadTextFileRequest) (acp.ReadTextFileResponse, error) {
	method := acpext.ClientMethods.FSReadTextFile
	if !d.caps.Fs.ReadTextFile || d.files == nil {
		return acp.ReadTextFileResponse{}, notAdvertised(method)
	}
	resp, err := d.files.ReadTextFile(req)
	return resp, d.finish(method, req.SessionId, req.Path, err)
}

func (d *Dispatcher) WriteTextFile(ctx context.Context, req acp.WriteTextFileRequest) (acp.WriteTextFileResponse, error) {
	method := acpext.ClientMethods.FSWriteTextFile
	if !d.caps.Fs.WriteTextFile || d.files == nil {
		return acp.WriteTextFileResponse{}, notAdvertised(method)
	}
	resp, err := d.files.WriteTextFile(req)
	return resp, d.finish(method, req.SessionId, req.Path, err)
}

func (d *Dispatcher) CreateTerminal(ctx context.Context, req acp.CreateTerminalRequest) (acp.CreateTerminalResponse, error) {
	method := acpext.ClientMethods.TerminalCreate
	if !d.terminalsEnabled() {
		return acp.CreateTerminalResponse{}, notAdvertised(method)
	}
	resp, err := d.terminals.Create(req)
	target := strings.TrimSpace(req.Command + " " + strings.Join(req.Args, " "))
	return resp, d.finish(method, req.SessionId, target, err)
}

func (d *Dispatcher) TerminalOutput(ctx context.Context, req acp.TerminalOutputRequest) (acp.TerminalOutputResponse, error) {
	method := acpext.ClientMethods.TerminalOutput
	if err := d.checkTerminal(method, req.TerminalId); err != nil {
		return acp.TerminalOutputResponse{}, err
	}
	resp, err := d.terminals.Output(req.TerminalId)
	return resp, d.finish(method, req.SessionId, req.TerminalId, err)
}

func (d *Dispatcher) WaitForTerminalExit(ctx context.Context, req acp.WaitForTerminalExitRequest) (acp.WaitForTerminalExitResponse, error) {
	method := acpext.ClientMethods.TerminalWaitForExit
	if err := d.checkTerminal(method, req.TerminalId); err != nil {
		return acp.WaitForTerminalExitResponse{}, err
	}
	resp, err := d.terminals.WaitForExit(ctx, req.TerminalId)
	return resp, d.finish(method, req.SessionId, req.TerminalId, err)
}

func (d *Dispatcher) KillTerminalCommand(ctx context.Context, req acp.KillTerminalCommandRequest) (acp.KillTerminalCommandResponse, error) {
	method := acpext.ClientMethods.TerminalKill
	if err := d.checkTerminal(method, req.TerminalId); err != nil {
		return acp.KillTerminalCommandResponse{}, err
	}
	err := d.terminals.Kill(req.TerminalId)
	return acp.KillTerminalCommandResponse{}, d.finish(method, req.SessionId, req.TerminalId, err)
}

func (d *Dispatcher) ReleaseTerminal(ctx context.Context, req acp.ReleaseTerminalRequest) (acp.ReleaseTerminalResponse, error) {
	method := acpext.ClientMethods.TerminalRelease
	if err := d.checkTerminal(method, req.TerminalId); err != nil {
		return acp.ReleaseTerminalResponse{}, err
	}
	err := d.terminals.Release(req.TerminalId)
	return acp.ReleaseTerminalResponse{}, d.finish(method, req.SessionId, req.TerminalId, err)
}

func (d *Dispatcher) terminalsEnabled() bool {
	return d.caps.Terminal && d.terminals != nil
}

func (d *Dispatcher) checkTerminal(method, id string) error {
	if !d.terminalsEnabled() {
		return notAdvertised(method)
	}
	if id == "" {
		return toRPCError(&acperr.InvalidParamsError{Field: "terminalId", Reason: "is required"})
	}
	return nil
}

func (d *Dispatcher) RequestPermission(ctx context.Context, req acp.RequestPermissionRequest) (acp.RequestPermissionResponse, error) {
	method := acpext.ClientMethods.SessionRequestPermission
	toolCallID := req.ToolCall.ToolCallId
	if d.toolCalls != nil {
		d.toolCalls.SetPermissionPending(toolcall.PermissionRequest{
			SessionID:  req.SessionId,
			ToolCallID: toolCallID,
			ToolCall:   req.ToolCall,
			Options:    req.Options,
		})
		defer d.toolCalls.ClearPermission(toolCallID)
	}

	outcome, err := d.permissions.Decide(ctx, req)
	if err != nil {
		d.record(method, req.SessionId, string(toolCallID), logging.DecisionFailed, err)
		return acp.RequestPermissionResponse{}, toRPCError(err)
	}
	decision := logging.DecisionRejected
	option := ""
	if outcome.Selected != nil {
		option = string(outcome.Selected.OptionId)
		switch optionKind(req.Options, outcome.Selected.OptionId) {
		case acp.PermissionOptionKindAllowOnce, acp.PermissionOptionKindAllowAlways:
			decision = logging.DecisionAllowed
		}
	}
	d.record(method, req.SessionId, string(toolCallID), decision, nil)
	d.logger.Info("permission decided", "session", string(req.SessionId), "tool_call", string(toolCallID), "cancelled", outcome.Cancelled != nil, "option", option)
	return acp.RequestPermissionResponse{Outcome: outcome}, nil
}

// finish audits one served request and maps err to its JSON-RPC form.
func (d *Dispatcher) finish(method string, sessionID acp.SessionId, target string, err error) error {
	if err != nil {
		d.record(method, sessionID, target, logging.DecisionFailed, err)
		d.logger.Warn("agent request failed", "method", method, "session", string(sessionID), "target", target, "error", err)
		return toRPCError(err)
	}
	d.record(method, sessionID, target, logging.DecisionAllowed, nil)
	d.logger.Debug("agent request served", "method", method, "session", string(sessionID), "target", target)
	return nil
}

func (d *Dispatcher) record(method string, sessionID acp.SessionId, target, decision string, err error) {
	entry := logging.ACPRequestEntry{
		SessionID: string(sessionID),
		Method:    method,
		Target:    target,
		Decision:  decision,
	}
	if err != nil {
		rpcErr := toRPCError(err)
		entry.Message = rpcErr.Message
		entry.ErrorCode = rpcErr.Code
	}
	if auditErr := d.audit.Append(entry); auditErr != nil {
		d.logger.Warn("failed to append audit entry", "method", method, "error", auditErr)
	}
}

func decode[T any](params json.RawMessage) (T, *acp.RequestError) {
	var req T
	if len(params) == 0 {
		return req, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "missing params", nil)
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return req, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "invalid params: "+err.Error(), nil)
	}
	return req, nil
}

func notAdvertised(method string) error {
	return jsonrpc.NewError(jsonrpc.CodeMethodNotFound, method+" is not enabled on this client", nil)
}

// toRPCError maps the client error taxonomy onto JSON-RPC error codes.
func toRPCError(err error) *jsonrpc.Error {
	var rpcErr *jsonrpc.Error
	var invalid *acperr.InvalidParamsError
	var notFound *acperr.NotFoundError
	var permission *acperr.PermissionError
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.As(err, &invalid):
		return jsonrpc.NewError(jsonrpc.CodeInvalidParams, invalid.Error(), map[string]string{"field": invalid.Field})
	case errors.As(err, &notFound):
		return jsonrpc.NewError(jsonrpc.CodeResourceNotFound, notFound.Error(), map[string]string{"kind": notFound.Kind, "id": notFound.ID})
	case errors.As(err, &permission):
		return jsonrpc.NewError(jsonrpc.CodePermissionDenied, permission.Error(), map[string]string{"path": permission.Path})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return jsonrpc.NewError(jsonrpc.CodeInternalError, "request cancelled", nil)
	default:
		return jsonrpc.NewError(jsonrpc.CodeInternalError, err.Error(), nil)
	}
}
