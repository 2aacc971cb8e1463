package inspector

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pdfsqueeze/internal/compressor"

	"github.com/sirupsen/logrus"
)

const samplePDF = "%PDF-1.5\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n"

type fakeMetadata struct {
	fields map[string]string
	err    error
}

func (f *fakeMetadata) ReadMetadata(string) (map[string]string, error) { return f.fields, f.err }
func (f *fakeMetadata) Close() error                                   { return nil }

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestInspectReportsMetadata(t *testing.T) {
	path := writeFile(t, "doc.pdf", samplePDF)

	insp := NewPDFInspector(quietLogger(), &fakeMetadata{fields: map[string]string{
		"Title":      "Quarterly Report",
		"Producer":   "GPL Ghostscript 10.05.1",
		"PDFVersion": "1.5",
		"ModifyDate": "2024:03:01 10:20:30+01:00",
	}})
	insp.pageCount = func(string) (int, error) { return 12, nil }

	report, err := insp.Inspect(path)
	if err != nil {
		t.Fatalf("Expected report, got %v", err)
	}
	if report.MIMEType != "application/pdf" {
		t.Errorf("Expected application/pdf, got %s", report.MIMEType)
	}
	if report.Pages != 12 {
		t.Errorf("Expected 12 pages, got %d", report.Pages)
	}
	if report.Title != "Quarterly Report" || report.Producer != "GPL Ghostscript 10.05.1" {
		t.Errorf("Unexpected metadata %+v", report)
	}
	if report.PDFVersion != "1.5" {
		t.Errorf("Expected version 1.5, got %s", report.PDFVersion)
	}
	if report.ModifiedAt == nil || report.ModifiedAt.Year() != 2024 {
		t.Errorf("Expected modification date, got %v", report.ModifiedAt)
	}
	if report.MetadataSource != "exiftool" {
		t.Errorf("Expected exiftool source, got %s", report.MetadataSource)
	}
	if len(report.Warnings) != 0 {
		t.Errorf("Expected no warnings, got %v", report.Warnings)
	}
}

func TestInspectDegradesToWarnings(t *testing.T) {
	path := writeFile(t, "doc.pdf", samplePDF)

	insp := NewPDFInspector(quietLogger(), &fakeMetadata{err: errors.New("exiftool not available")})
	insp.pageCount = func(string) (int, error) { return 0, errors.New("corrupt xref") }

	report, err := insp.Inspect(path)
	if err != nil {
		t.Fatalf("Expected report despite failures, got %v", err)
	}
	if len(report.Warnings) != 2 {
		t.Errorf("Expected 2 warnings, got %v", report.Warnings)
	}
	if report.PDFVersion != "1.5" {
		t.Errorf("Expected header version 1.5, got %q", report.PDFVersion)
	}
	if report.MetadataSource != "file header" {
		t.Errorf("Expected header source, got %s", report.MetadataSource)
	}
	if report.Size != int64(len(samplePDF)) {
		t.Errorf("Expected size %d, got %d", len(samplePDF), report.Size)
	}
}

func TestInspectRejectsNonPDF(t *testing.T) {
	insp := NewPDFInspector(quietLogger(), nil)
	insp.pageCount = func(string) (int, error) {
		t.Error("Expected page count not to run for non-PDF input")
		return 0, nil
	}

	path := writeFile(t, "notes.pdf", "plain text pretending to be a document\n")
	report, err := insp.Inspect(path)
	if !errors.Is(err, compressor.ErrInvalidInput) {
		t.Fatalf("Expected invalid input, got %v", err)
	}
	if report == nil || !strings.HasPrefix(report.MIMEType, "text/plain") {
		t.Errorf("Expected text/plain detection, got %+v", report)
	}

	if _, err := insp.Inspect(filepath.Join(t.TempDir(), "missing.pdf")); !errors.Is(err, compressor.ErrInvalidInput) {
		t.Errorf("Expected invalid input for missing file, got %v", err)
	}
}

func TestHeaderVersion(t *testing.T) {
	version, err := headerVersion(writeFile(t, "a.pdf", "%PDF-1.7\n..."))
	if err != nil || version != "1.7" {
		t.Errorf("Expected 1.7, got %q (%v)", version, err)
	}
	if _, err := headerVersion(writeFile(t, "b.pdf", "hello\n")); err == nil {
		t.Error("Expected error for missing header")
	}
}

func TestParseMetadataTime(t *testing.T) {
	for _, value := range []string{"2023:12:25 15:30:45", "2023:12:25 15:30:45+02:00", "2023-12-25T15:30:45Z"} {
		if parseMetadataTime(value) == nil {
			t.Errorf("Expected %q to parse", value)
		}
	}
	if parseMetadataTime("yesterday") != nil {
		t.Error("Expected garbage to be rejected")
	}
}

func TestExiftoolReaderMissingBinary(t *testing.T) {
	reader := NewExiftoolReader(quietLogger(), filepath.Join(t.TempDir(), "no-exiftool"))
	path := writeFile(t, "doc.pdf", samplePDF)

	if _, err := reader.ReadMetadata(path); err == nil {
		t.Error("Expected error when exiftool is missing")
	}
	if err := reader.Close(); err != nil {
		t.Errorf("Expected clean close, got %v", err)
	}
	if stats := reader.GetCacheStats(); stats.Misses != 1 || stats.TotalQueries != 1 {
		t.Errorf("Unexpected cache stats %+v", stats)
	}
}

func TestInspectorCacheStats(t *testing.T) {
	if stats := NewPDFInspector(quietLogger(), &fakeMetadata{}).GetCacheStats(); stats.TotalQueries != 0 {
		t.Errorf("Expected zero stats for a non-caching reader, got %+v", stats)
	}
	if stats := NewPDFInspector(quietLogger(), nil).GetCacheStats(); stats != (CacheStats{}) {
		t.Errorf("Expected zero stats without a reader, got %+v", stats)
	}

	reader := NewExiftoolReader(quietLogger(), filepath.Join(t.TempDir(), "no-exiftool"))
	defer reader.Close()
	insp := NewPDFInspector(quietLogger(), reader)
	insp.pageCount = func(string) (int, error) { return 1, nil }

	if _, err := insp.Inspect(writeFile(t, "doc.pdf", samplePDF)); err != nil {
		t.Fatalf("Expected report, got %v", err)
	}
	if stats := insp.GetCacheStats(); stats.TotalQueries != 1 {
		t.Errorf("Expected the reader's stats, got %+v", stats)
	}
}
