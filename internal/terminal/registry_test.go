//go:build !windows

package terminal

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	acp "github.com/coder/acp-go-sdk"

	"github.com/egv/acp-host/internal/acperr"
	"github.com/egv/acp-host/internal/logging"
)

func create(t *testing.T, r *Registry, req acp.CreateTerminalRequest) string {
	t.Helper()
	resp, err := r.Create(req)
	if err != nil {
		t.Fatalf("create terminal: %v", err)
	}
	t.Cleanup(func() { _ = r.Release(resp.TerminalId) })
	return resp.TerminalId
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestTerminalTruncatesToLimit(t *testing.T) {
	r := NewRegistry(Options{})
	id := create(t, r, acp.CreateTerminalRequest{Command: "printf", Args: []string{"12345678"}, OutputByteLimit: acp.Ptr(4)})

	exit, err := r.WaitForExit(waitCtx(t), id)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if exit.ExitCode == nil || *exit.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %+v", exit)
	}
	out, err := r.Output(id)
	if err != nil {
		t.Fatalf("output: %v", err)
	}
	if !out.Truncated || len(out.Output) > 4 || out.Output != "5678" {
		t.Fatalf("expected truncated 5678, got %q / %v", out.Output, out.Truncated)
	}
	if out.ExitStatus == nil || out.ExitStatus.ExitCode == nil {
		t.Fatalf("expected exit status after exit")
	}
}

func TestTerminalCapturesStderrEnvAndCwd(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(Options{})
	id := create(t, r, acp.CreateTerminalRequest{
		Command: "sh",
		Args:    []string{"-c", `echo "$GREETING"; pwd; echo oops >&2; exit 3`},
		Cwd:     acp.Ptr(dir),
		Env:     []acp.EnvVariable{{Name: "GREETING", Value: "hello"}},
	})

	exit, err := r.WaitForExit(waitCtx(t), id)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if exit.ExitCode == nil || *exit.ExitCode != 3 || exit.Signal != nil {
		t.Fatalf("expected exit code 3, got %+v", exit)
	}
	out, _ := r.Output(id)
	resolved, _ := filepath.EvalSymlinks(dir)
	for _, want := range []string{"hello", "oops", filepath.Base(resolved)} {
		if !strings.Contains(out.Output, want) {
			t.Fatalf("expected output to contain %q, got %q", want, out.Output)
		}
	}
}

func TestKillReportsSignal(t *testing.T) {
	r := NewRegistry(Options{})
	id := create(t, r, acp.CreateTerminalRequest{Command: "sleep", Args: []string{"30"}})

	out, err := r.Output(id)
	if err != nil || out.ExitStatus != nil {
		t.Fatalf("expected running terminal without exit status, got %+v / %v", out, err)
	}
	if err := r.Kill(id); err != nil {
		t.Fatalf("kill: %v", err)
	}
	exit, err := r.WaitForExit(waitCtx(t), id)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if exit.Signal == nil || *exit.Signal != "SIGKILL" {
		t.Fatalf("expected SIGKILL, got %+v", exit)
	}
	if err := r.Kill(id); err != nil {
		t.Fatalf("expected kill after exit to be a no-op, got %v", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	r := NewRegistry(Options{})
	keep := create(t, r, acp.CreateTerminalRequest{Command: "sleep", Args: []string{"30"}})
	id := create(t, r, acp.CreateTerminalRequest{Command: "sleep", Args: []string{"30"}})
	if r.Size() != 2 {
		t.Fatalf("expected two terminals, got %d", r.Size())
	}

	if err := r.Release(id); err != nil {
		t.Fatalf("release: %v", err)
	}
	if r.Size() != 1 {
		t.Fatalf("expected one terminal after release, got %d", r.Size())
	}
	if err := r.Release(id); err != nil {
		t.Fatalf("expected second release to be a no-op, got %v", err)
	}
	if r.Size() != 1 {
		t.Fatalf("expected size unchanged by second release, got %d", r.Size())
	}
	if _, err := r.Output(id); !acperr.IsNotFound(err) {
		t.Fatalf("expected not found after release, got %v", err)
	}
	if _, err := r.Output(keep); err != nil {
		t.Fatalf("expected other terminal untouched, got %v", err)
	}
}

func TestReleaseAllKillsEverything(t *testing.T) {
	r := NewRegistry(Options{})
	var ids []string
	for i := 0; i < 3; i++ {
		resp, err := r.Create(acp.CreateTerminalRequest{Command: "sleep", Args: []string{"30"}})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, resp.TerminalId)
	}
	if err := r.ReleaseAll(); err != nil {
		t.Fatalf("release all: %v", err)
	}
	if r.Size() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Size())
	}
}

func TestConcurrentWaitsAreIndependent(t *testing.T) {
	r := NewRegistry(Options{})
	slow := create(t, r, acp.CreateTerminalRequest{Command: "sleep", Args: []string{"30"}})
	fast := create(t, r, acp.CreateTerminalRequest{Command: "sh", Args: []string{"-c", "exit 7"}})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		exit, err := r.WaitForExit(waitCtx(t), fast)
		if err != nil || exit.ExitCode == nil || *exit.ExitCode != 7 {
			t.Errorf("expected fast terminal exit 7, got %+v / %v", exit, err)
		}
	}()
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := r.WaitForExit(ctx, slow); err == nil {
		t.Fatalf("expected slow terminal wait to time out")
	}
}

func TestCreateValidation(t *testing.T) {
	r := NewRegistry(Options{})
	if _, err := r.Create(acp.CreateTerminalRequest{}); !acperr.IsInvalidParams(err) {
		t.Fatalf("expected invalid params for empty command, got %v", err)
	}
	if _, err := r.Create(acp.CreateTerminalRequest{Command: "true", OutputByteLimit: acp.Ptr(-1)}); !acperr.IsInvalidParams(err) {
		t.Fatalf("expected invalid params for negative limit, got %v", err)
	}
	if _, err := r.Create(acp.CreateTerminalRequest{Command: "definitely-not-a-real-binary-xyz"}); err == nil {
		t.Fatalf("expected start failure for missing binary")
	}
	if r.Size() != 0 {
		t.Fatalf("expected no terminals tracked after failures")
	}
	if _, err := r.WaitForExit(context.Background(), "nope"); !acperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := r.Kill("nope"); !acperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTranscriptWrittenOnExit(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(Options{Transcripts: logging.NewCommandLogger(dir)})
	id := create(t, r, acp.CreateTerminalRequest{Command: "echo", Args: []string{"logged"}})
	if _, err := r.WaitForExit(waitCtx(t), id); err != nil {
		t.Fatalf("wait: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one transcript file, got %d (%v)", len(entries), err)
	}
	data, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("read transcript: %v", err)
	}
	if !strings.Contains(string(data), "logged") {
		t.Fatalf("expected transcript output, got %q", data)
	}
}
