package compressor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const (
	// DefaultStderrLimit bounds the engine diagnostics kept per job.
	DefaultStderrLimit = 4 * 1024

	versionTimeout = 10 * time.Second
	waitDelay      = time.Second
)

// engineNames are looked up on PATH in order.
var engineNames = []string{"gs", "gswin64c", "gswin32c"}

// Engine is a located engine executable. Resolve it once at startup with
// LocateEngine and pass it to NewOrchestrator.
type Engine struct {
	path        string
	stderrLimit int
}

// LocateOptions controls engine resolution.
type LocateOptions struct {
	// Path is an explicitly configured executable path or name. When set, no
	// fallback search happens.
	Path string
	// SearchPaths are checked after PATH lookup. Empty means DefaultSearchPaths.
	SearchPaths []string
	// StderrLimit bounds captured diagnostics. Zero means DefaultStderrLimit.
	StderrLimit int
}

// DefaultSearchPaths returns common installation locations, including a
// Ghostscript bundled next to the running executable.
func DefaultSearchPaths() []string {
	paths := []string{
		"/usr/bin/gs",
		"/usr/local/bin/gs",
		"/opt/homebrew/bin/gs",
		"/opt/local/bin/gs",
	}

	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(dir, "ghostscript", "bin", "gs"),
			filepath.Join(dir, "ghostscript", "bin", "gswin64c.exe"),
		)
		if matches, err := filepath.Glob(filepath.Join(dir, "..", "gs*", "bin", "gswin64c.exe")); err == nil {
			paths = append(paths, matches...)
		}
	}

	return paths
}

// LocateEngine resolves the engine executable. The explicit path wins, then
// PATH lookup, then the search paths. Failure is KindEngineNotFound.
func LocateEngine(opts LocateOptions) (*Engine, error) {
	limit := opts.StderrLimit
	if limit <= 0 {
		limit = DefaultStderrLimit
	}

	if opts.Path != "" {
		path, err := resolveExplicit(opts.Path)
		if err != nil {
			return nil, &Error{Kind: KindEngineNotFound, Op: "locate engine", Path: opts.Path, Err: err}
		}
		return &Engine{path: path, stderrLimit: limit}, nil
	}

	for _, name := range engineNames {
		if path, err := exec.LookPath(name); err == nil {
			return &Engine{path: path, stderrLimit: limit}, nil
		}
	}

	searchPaths := opts.SearchPaths
	if len(searchPaths) == 0 {
		searchPaths = DefaultSearchPaths()
	}
	for _, candidate := range searchPaths {
		if isExecutable(candidate) {
			return &Engine{path: filepath.Clean(candidate), stderrLimit: limit}, nil
		}
	}

	return nil, &Error{
		Kind: KindEngineNotFound,
		Op:   "locate engine",
		Err:  fmt.Errorf("none of %s found on PATH or in %s", strings.Join(engineNames, ", "), strings.Join(searchPaths, ", ")),
	}
}

// NewEngine wraps an already known executable path without searching.
func NewEngine(path string) *Engine {
	return &Engine{path: path, stderrLimit: DefaultStderrLimit}
}

func resolveExplicit(path string) (string, error) {
	if !strings.ContainsRune(path, os.PathSeparator) && !strings.ContainsRune(path, '/') {
		return exec.LookPath(path)
	}
	if !isExecutable(path) {
		return "", fmt.Errorf("not an executable file")
	}
	return filepath.Clean(path), nil
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0111 != 0
}

// Path returns the resolved executable path.
func (e *Engine) Path() string {
	return e.path
}

// Available checks that the executable is still present. Deployments can
// lose it after startup, so the orchestrator checks before every job.
func (e *Engine) Available() error {
	if e == nil || e.path == "" {
		return &Error{Kind: KindEngineNotFound, Op: "check engine", Err: errors.New("no engine configured")}
	}
	if !isExecutable(e.path) {
		return &Error{Kind: KindEngineNotFound, Op: "check engine", Path: e.path, Err: errors.New("executable missing")}
	}
	return nil
}

// Version runs the engine's version probe.
func (e *Engine) Version(ctx context.Context) (string, error) {
	if err := e.Available(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	stdout, stderr, err := e.Run(ctx, "--version")
	if err != nil {
		return "", fmt.Errorf("engine version probe failed: %w (stderr: %s)", err, stderr)
	}
	return strings.TrimSpace(stdout), nil
}

// Run executes the engine with args as a scoped child process. The child gets
// its own process group so that cancelling ctx kills it and anything it
// spawned. Stdout and stderr are captured up to the engine's stderr limit.
// Exec start failures wrap fs.ErrNotExist or exec.ErrNotFound.
func (e *Engine) Run(ctx context.Context, args ...string) (stdout, stderr string, err error) {
	cmd := exec.CommandContext(ctx, e.path, args...)
	configureProcess(cmd)
	cmd.WaitDelay = waitDelay

	outBuf := newCappedBuffer(e.stderrLimit)
	errBuf := newCappedBuffer(e.stderrLimit)
	cmd.Stdout = outBuf
	cmd.Stderr = errBuf

	err = cmd.Run()
	return outBuf.String(), errBuf.String(), err
}

func isStartFailure(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission)
}

// cappedBuffer keeps the first limit bytes written and discards the rest,
// always reporting a full write so the child never sees a broken pipe.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	remaining := c.limit - c.buf.Len()
	switch {
	case remaining <= 0:
		if len(p) > 0 {
			c.truncated = true
		}
	case len(p) > remaining:
		c.buf.Write(p[:remaining])
		c.truncated = true
	default:
		c.buf.Write(p)
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	s := strings.TrimSpace(c.buf.String())
	if c.truncated {
		s += " ...[truncated]"
	}
	return s
}
