package compressor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const pdfMIME = "application/pdf"

// ValidateInput checks that path is a readable regular file whose content
// sniffs as PDF. The extension is not trusted.
func ValidateInput(path string) (os.FileInfo, error) {
	if path == "" {
		return nil, &Error{Kind: KindInvalidInput, Op: "validate input", Err: errors.New("no input path given")}
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, &Error{Kind: KindInvalidInput, Op: "validate input", Path: path, Err: err}
	}
	if !info.Mode().IsRegular() {
		return nil, &Error{Kind: KindInvalidInput, Op: "validate input", Path: path, Err: errors.New("not a regular file")}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &Error{Kind: KindInvalidInput, Op: "validate input", Path: path, Err: err}
	}
	defer f.Close()

	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		return nil, &Error{Kind: KindInvalidInput, Op: "validate input", Path: path, Err: fmt.Errorf("read header: %w", err)}
	}
	if !mtype.Is(pdfMIME) {
		return nil, &Error{Kind: KindInvalidInput, Op: "validate input", Path: path, Err: fmt.Errorf("not a PDF (detected %s)", mtype.String())}
	}

	return info, nil
}

// DeriveOutputPath returns <dir>/<input-stem>_compressed.pdf.
func DeriveOutputPath(inputPath, dir string) string {
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, stem+"_compressed.pdf")
}

// sameFile reports whether a and b name the same file, either by cleaned
// absolute path or, when both exist, by identity (hard links, symlinks).
func sameFile(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA == nil && errB == nil && absA == absB {
		return true
	}

	infoA, err := os.Stat(a)
	if err != nil {
		return false
	}
	infoB, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(infoA, infoB)
}
