//go:build unix

package compressor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCompressAllProfiles(t *testing.T) {
	dir := t.TempDir()
	input := writePDF(t, dir, "report.pdf")
	orch := NewOrchestrator(NewEngine(copyingStub(t, dir)), Options{})

	for _, quality := range ProfileNames() {
		t.Run(quality, func(t *testing.T) {
			output := filepath.Join(dir, quality+".pdf")
			res, err := orch.Compress(context.Background(), input, quality, output)
			if err != nil {
				t.Fatalf("Expected success, got %v", err)
			}
			if res.OutputPath != output {
				t.Errorf("Expected output %s, got %s", output, res.OutputPath)
			}
			if res.Profile != quality {
				t.Errorf("Expected profile %s, got %s", quality, res.Profile)
			}
			if res.OriginalSize != int64(len(minimalPDF)) {
				t.Errorf("Expected original size %d, got %d", len(minimalPDF), res.OriginalSize)
			}
			if res.CompressedSize != res.OriginalSize {
				t.Errorf("Expected copied output size %d, got %d", res.OriginalSize, res.CompressedSize)
			}
			if res.RatioPercent != 0 {
				t.Errorf("Expected ratio 0, got %v", res.RatioPercent)
			}
			if res.JobID == "" {
				t.Error("Expected a job ID")
			}
			if _, err := os.Stat(output); err != nil {
				t.Errorf("Expected output file to exist: %v", err)
			}
		})
	}

	if leftovers := scratchFiles(t, dir); len(leftovers) != 0 {
		t.Errorf("Expected no scratch files, found %v", leftovers)
	}
}

func TestCompressReportsRatio(t *testing.T) {
	dir := t.TempDir()
	input := writePDF(t, dir, "in.pdf")
	// Writes a fixed 10-byte output regardless of input.
	stub := writeStub(t, dir, `printf '%%PDF-1.4\n' > "$out"; printf 'x' >> "$out"`)

	res, err := NewOrchestrator(NewEngine(stub), Options{}).Compress(context.Background(), input, "low", filepath.Join(dir, "out.pdf"))
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if res.CompressedSize != 10 {
		t.Fatalf("Expected 10-byte output, got %d", res.CompressedSize)
	}
	want := CompressionRatio(int64(len(minimalPDF)), 10)
	if res.RatioPercent != want {
		t.Errorf("Expected ratio %v, got %v", want, res.RatioPercent)
	}
	if res.SavedBytes() != int64(len(minimalPDF))-10 {
		t.Errorf("Unexpected saved bytes %d", res.SavedBytes())
	}
}

func TestCompressInvalidProfileDoesNotInvokeEngine(t *testing.T) {
	dir := t.TempDir()
	input := writePDF(t, dir, "in.pdf")
	marker := filepath.Join(dir, "invoked")
	stub := writeStub(t, dir, `touch "`+marker+`"; cp "$last" "$out"`)

	var transitions []string
	orch := NewOrchestrator(NewEngine(stub), Options{
		OnTransition: func(job *Job, from, to State) {
			transitions = append(transitions, from.String()+">"+to.String())
		},
	})

	_, err := orch.Compress(context.Background(), input, "ultra", filepath.Join(dir, "out.pdf"))
	if !errors.Is(err, ErrInvalidProfile) {
		t.Fatalf("Expected invalid profile, got %v", err)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Error("Expected engine not to be invoked")
	}

	want := "created>validating,validating>failed"
	if got := strings.Join(transitions, ","); got != want {
		t.Errorf("Expected transitions %s, got %s", want, got)
	}
}

func TestCompressInvalidInput(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "invoked")
	stub := writeStub(t, dir, `touch "`+marker+`"; cp "$last" "$out"`)
	orch := NewOrchestrator(NewEngine(stub), Options{OutputDir: dir})

	textFile := filepath.Join(dir, "notes.pdf")
	if err := os.WriteFile(textFile, []byte("just some text, not a document"), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		input string
	}{
		{"empty path", ""},
		{"missing file", filepath.Join(dir, "missing.pdf")},
		{"directory", dir},
		{"not a pdf", textFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := orch.Compress(context.Background(), tt.input, "medium", "")
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Expected invalid input, got %v", err)
			}
		})
	}

	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Error("Expected engine not to be invoked")
	}
}

func TestCompressRejectsOutputEqualToInput(t *testing.T) {
	dir := t.TempDir()
	input := writePDF(t, dir, "in.pdf")
	orch := NewOrchestrator(NewEngine(copyingStub(t, dir)), Options{})

	_, err := orch.Compress(context.Background(), input, "medium", input)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("Expected invalid input, got %v", err)
	}

	link := filepath.Join(dir, "link.pdf")
	if err := os.Symlink(input, link); err != nil {
		t.Fatal(err)
	}
	_, err = orch.Compress(context.Background(), input, "medium", link)
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected symlinked output to be rejected, got %v", err)
	}

	data, _ := os.ReadFile(input)
	if string(data) != minimalPDF {
		t.Error("Expected input to be left untouched")
	}
}

func TestCompressRejectsDirectoryOutput(t *testing.T) {
	dir := t.TempDir()
	input := writePDF(t, dir, "in.pdf")
	marker := filepath.Join(dir, "invoked")
	stub := writeStub(t, dir, `touch "`+marker+`"; cp "$last" "$out"`)

	outDir := filepath.Join(dir, "outdir")
	if err := os.Mkdir(outDir, 0755); err != nil {
		t.Fatal(err)
	}

	_, err := NewOrchestrator(NewEngine(stub), Options{}).Compress(context.Background(), input, "medium", outDir)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("Expected invalid input, got %v", err)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Error("Expected engine not to be invoked")
	}
	if info, err := os.Stat(outDir); err != nil || !info.IsDir() {
		t.Error("Expected the directory to be left alone")
	}
}

func TestCompressDerivesOutputPath(t *testing.T) {
	dir := t.TempDir()
	input := writePDF(t, dir, "quarterly.pdf")
	outDir := filepath.Join(dir, "results")
	orch := NewOrchestrator(NewEngine(copyingStub(t, dir)), Options{OutputDir: outDir})

	res, err := orch.Compress(context.Background(), input, "high", "")
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	want := filepath.Join(outDir, "quarterly_compressed.pdf")
	if res.OutputPath != want {
		t.Errorf("Expected %s, got %s", want, res.OutputPath)
	}
}

func TestCompressExecutionFailure(t *testing.T) {
	dir := t.TempDir()
	input := writePDF(t, dir, "in.pdf")
	stub := writeStub(t, dir, `echo partial > "$out"; echo "Error: /syntaxerror in --token--" >&2; exit 1`)

	_, err := NewOrchestrator(NewEngine(stub), Options{}).Compress(context.Background(), input, "medium", filepath.Join(dir, "out.pdf"))
	if !errors.Is(err, ErrEngineExecutionFailed) {
		t.Fatalf("Expected execution failure, got %v", err)
	}

	var ce *Error
	if !errors.As(err, &ce) {
		t.Fatal("Expected *Error")
	}
	if !strings.Contains(ce.Stderr, "/syntaxerror") {
		t.Errorf("Expected stderr in error, got %q", ce.Stderr)
	}
	if _, err := os.Stat(filepath.Join(dir, "out.pdf")); !os.IsNotExist(err) {
		t.Error("Expected no output after a failed run")
	}
	if leftovers := scratchFiles(t, dir); len(leftovers) != 0 {
		t.Errorf("Expected scratch file removed, found %v", leftovers)
	}
}

func TestCompressOutputMissing(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no file", `exit 0`},
		{"empty file", `: > "$out"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			input := writePDF(t, dir, "in.pdf")
			stub := writeStub(t, dir, tt.body)

			_, err := NewOrchestrator(NewEngine(stub), Options{}).Compress(context.Background(), input, "low", filepath.Join(dir, "out.pdf"))
			if !errors.Is(err, ErrOutputMissing) {
				t.Errorf("Expected output missing, got %v", err)
			}
			if leftovers := scratchFiles(t, dir); len(leftovers) != 0 {
				t.Errorf("Expected scratch file removed, found %v", leftovers)
			}
		})
	}
}

func TestCompressIsRepeatable(t *testing.T) {
	dir := t.TempDir()
	input := writePDF(t, dir, "in.pdf")
	orch := NewOrchestrator(NewEngine(copyingStub(t, dir)), Options{})
	output := filepath.Join(dir, "out.pdf")

	first, err := orch.Compress(context.Background(), input, "medium", output)
	if err != nil {
		t.Fatal(err)
	}
	second, err := orch.Compress(context.Background(), input, "medium", output)
	if err != nil {
		t.Fatal(err)
	}
	if first.CompressedSize != second.CompressedSize {
		t.Errorf("Expected identical sizes, got %d and %d", first.CompressedSize, second.CompressedSize)
	}
	if first.JobID == second.JobID {
		t.Error("Expected a fresh job ID per call")
	}
}

func TestCompressEngineMissing(t *testing.T) {
	dir := t.TempDir()
	input := writePDF(t, dir, "in.pdf")

	_, err := NewOrchestrator(nil, Options{}).Compress(context.Background(), input, "medium", filepath.Join(dir, "out.pdf"))
	if !errors.Is(err, ErrEngineNotFound) {
		t.Errorf("Expected engine not found for nil engine, got %v", err)
	}

	stub := copyingStub(t, dir)
	orch := NewOrchestrator(NewEngine(stub), Options{})
	if err := os.Remove(stub); err != nil {
		t.Fatal(err)
	}
	_, err = orch.Compress(context.Background(), input, "medium", filepath.Join(dir, "out.pdf"))
	if !errors.Is(err, ErrEngineNotFound) {
		t.Errorf("Expected engine not found after removal, got %v", err)
	}
}

func TestCompressTransitionsOnSuccess(t *testing.T) {
	dir := t.TempDir()
	input := writePDF(t, dir, "in.pdf")

	var transitions []string
	orch := NewOrchestrator(NewEngine(copyingStub(t, dir)), Options{
		OnTransition: func(job *Job, from, to State) {
			transitions = append(transitions, to.String())
		},
	})

	if _, err := orch.Compress(context.Background(), input, "max", filepath.Join(dir, "out.pdf")); err != nil {
		t.Fatal(err)
	}
	want := "validating,invoking,succeeded"
	if got := strings.Join(transitions, ","); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestJobAdvanceIsForwardOnly(t *testing.T) {
	job := newJob("in.pdf", "low", "", nil)
	if err := job.advance(StateInvoking); err == nil {
		t.Error("Expected skipping validation to fail")
	}
	if err := job.advance(StateValidating); err != nil {
		t.Fatal(err)
	}
	if err := job.advance(StateFailed); err != nil {
		t.Fatal(err)
	}
	if err := job.advance(StateSucceeded); err == nil {
		t.Error("Expected terminal state to be final")
	}
	if job.State() != StateFailed {
		t.Errorf("Expected failed, got %s", job.State())
	}
}
