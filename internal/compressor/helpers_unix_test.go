//go:build unix

package compressor

import (
	"os"
	"path/filepath"
	"testing"
)

const minimalPDF = "%PDF-1.4\n1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n2 0 obj\n<< /Type /Pages /Kids [] /Count 0 >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n"

// parseArgs extracts the output file and the input operand the way the
// orchestrator passes them.
const parseArgs = `
out=""
last=""
for a in "$@"; do
	case "$a" in
		-sOutputFile=*) out="${a#-sOutputFile=}" ;;
	esac
	last="$a"
done
`

// writeStub writes an executable shell script standing in for the engine.
func writeStub(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "fake-gs")
	script := "#!/bin/sh\nif [ \"$1\" = \"--version\" ]; then echo 10.05.1; exit 0; fi\n" + parseArgs + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("Failed to write stub engine: %v", err)
	}
	return path
}

// copyingStub behaves like a successful engine that copies the input.
func copyingStub(t *testing.T, dir string) string {
	return writeStub(t, dir, `cp "$last" "$out"`)
}

func writePDF(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(minimalPDF), 0644); err != nil {
		t.Fatalf("Failed to write PDF fixture: %v", err)
	}
	return path
}

func scratchFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, scratchPrefix+"*"))
	if err != nil {
		t.Fatalf("Glob failed: %v", err)
	}
	return matches
}
