// Package files serves the agent's fs/read_text_file and fs/write_text_file
// requests against the local file system.
package files

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	acp "github.com/coder/acp-go-sdk"

	"github.com/egv/acp-host/internal/acperr"
)

type Handler struct {
	logger *slog.Logger
}

func NewHandler(logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{logger: logger}
}

// ReadTextFile returns the file content, optionally sliced to limit lines
// starting at the 1-based line. An offset past the end yields "".
func (h *Handler) ReadTextFile(req acp.ReadTextFileRequest) (acp.ReadTextFileResponse, error) {
	if err := requireAbsolute(req.Path); err != nil {
		return acp.ReadTextFileResponse{}, err
	}
	if req.Line != nil && *req.Line < 1 {
		return acp.ReadTextFileResponse{}, &acperr.InvalidParamsError{Field: "line", Reason: "must be at least 1"}
	}
	if req.Limit != nil && *req.Limit < 0 {
		return acp.ReadTextFileResponse{}, &acperr.InvalidParamsError{Field: "limit", Reason: "must not be negative"}
	}

	data, err := os.ReadFile(req.Path)
	if err != nil {
		return acp.ReadTextFileResponse{}, classify("read", req.Path, err)
	}
	content := sliceLines(string(data), req.Line, req.Limit)
	h.logger.Debug("read text file", "session", string(req.SessionId), "path", req.Path, "bytes", len(content))
	return acp.ReadTextFileResponse{Content: content}, nil
}

func sliceLines(content string, line, limit *int) string {
	if line == nil && limit == nil {
		return content
	}
	lines := strings.Split(content, "\n")
	start := 0
	if line != nil {
		start = *line - 1
	}
	if start >= len(lines) {
		return ""
	}
	end := len(lines)
	if limit != nil && start+*limit < end {
		end = start + *limit
	}
	return strings.Join(lines[start:end], "\n")
}

// WriteTextFile creates missing parent directories and replaces the file.
func (h *Handler) WriteTextFile(req acp.WriteTextFileRequest) (acp.WriteTextFileResponse, error) {
	if err := requireAbsolute(req.Path); err != nil {
		return acp.WriteTextFileResponse{}, err
	}
	if err := os.MkdirAll(filepath.Dir(req.Path), 0o755); err != nil {
		return acp.WriteTextFileResponse{}, classify("write", req.Path, err)
	}
	if err := os.WriteFile(req.Path, []byte(req.Content), 0o644); err != nil {
		return acp.WriteTextFileResponse{}, classify("write", req.Path, err)
	}
	h.logger.Debug("wrote text file", "session", string(req.SessionId), "path", req.Path, "bytes", len(req.Content))
	return acp.WriteTextFileResponse{}, nil
}

func requireAbsolute(path string) error {
	if path == "" {
		return &acperr.InvalidParamsError{Field: "path", Reason: "is required"}
	}
	if !filepath.IsAbs(path) {
		return &acperr.InvalidParamsError{Field: "path", Reason: fmt.Sprintf("%q must be absolute", path)}
	}
	return nil
}

func classify(op, path string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &acperr.NotFoundError{Kind: "file", ID: path}
	case errors.Is(err, fs.ErrPermission):
		return &acperr.PermissionError{Op: op, Path: path}
	}
	return fmt.Errorf("%s %s: %w", op, path, err)
}
