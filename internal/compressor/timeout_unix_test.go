//go:build unix

package compressor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"
)

// partialWriterStub starts writing the output, records its pid and then hangs.
func partialWriterStub(t *testing.T, dir, pidFile string) string {
	return writeStub(t, dir, `echo $$ > "`+pidFile+`"; echo partial > "$out"; exec sleep 30`)
}

func assertProcessGone(t *testing.T, pidFile string) {
	t.Helper()
	data, err := os.ReadFile(pidFile)
	if err != nil {
		t.Fatalf("Engine never started: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatal(err)
	}
	if err := syscall.Kill(pid, 0); !errors.Is(err, syscall.ESRCH) {
		t.Errorf("Expected engine process %d to be gone, got %v", pid, err)
	}
}

func TestCompressTimeoutKillsEngine(t *testing.T) {
	if testing.Short() {
		t.Skip("slow")
	}

	dir := t.TempDir()
	input := writePDF(t, dir, "in.pdf")
	pidFile := filepath.Join(dir, "pid")
	output := filepath.Join(dir, "out.pdf")

	orch := NewOrchestrator(NewEngine(partialWriterStub(t, dir, pidFile)), Options{Timeout: time.Second})

	start := time.Now()
	_, err := orch.Compress(context.Background(), input, "medium", output)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrEngineTimeout) {
		t.Fatalf("Expected timeout, got %v", err)
	}
	if !KindOf(err).Retryable() {
		t.Error("Expected timeout to be retryable")
	}
	if elapsed > 2*time.Second {
		t.Errorf("Expected the job to end within 2s of a 1s timeout, took %s", elapsed)
	}

	assertProcessGone(t, pidFile)

	if leftovers := scratchFiles(t, dir); len(leftovers) != 0 {
		t.Errorf("Expected partial output to be removed, found %v", leftovers)
	}
	if _, err := os.Stat(output); !os.IsNotExist(err) {
		t.Error("Expected no output after a timeout")
	}
}

func TestCompressCanceled(t *testing.T) {
	dir := t.TempDir()
	input := writePDF(t, dir, "in.pdf")
	pidFile := filepath.Join(dir, "pid")
	output := filepath.Join(dir, "out.pdf")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel only once the engine has written part of its output.
	go func() {
		for ctx.Err() == nil {
			if matches, _ := filepath.Glob(filepath.Join(dir, scratchPrefix+"*")); len(matches) > 0 {
				cancel()
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	start := time.Now()
	_, err := NewOrchestrator(NewEngine(partialWriterStub(t, dir, pidFile)), Options{}).Compress(ctx, input, "medium", output)
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("Expected canceled, got %v", err)
	}
	if KindOf(err).Retryable() {
		t.Error("Expected cancellation not to be retryable")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Expected prompt cancellation, took %s", elapsed)
	}

	assertProcessGone(t, pidFile)

	if leftovers := scratchFiles(t, dir); len(leftovers) != 0 {
		t.Errorf("Expected partial output to be removed, found %v", leftovers)
	}
	if _, err := os.Stat(output); !os.IsNotExist(err) {
		t.Error("Expected no output after cancellation")
	}
}

func TestCompressTimeoutWithBackgroundChild(t *testing.T) {
	if testing.Short() {
		t.Skip("slow")
	}

	dir := t.TempDir()
	input := writePDF(t, dir, "in.pdf")
	// The grandchild inherits stdout and stderr; the group kill must reach it.
	stub := writeStub(t, dir, `sleep 30 & wait`)

	orch := NewOrchestrator(NewEngine(stub), Options{Timeout: time.Second})

	start := time.Now()
	_, err := orch.Compress(context.Background(), input, "low", filepath.Join(dir, "out.pdf"))
	if !errors.Is(err, ErrEngineTimeout) {
		t.Fatalf("Expected timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 4*time.Second {
		t.Errorf("Expected no hang on inherited pipes, took %s", elapsed)
	}
}
