package inspector

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"pdfsqueeze/internal/compressor"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/sirupsen/logrus"
)

var disableConfigDir sync.Once

// pdfcpuPageCount counts pages with pdfcpu without touching the user's
// pdfcpu configuration directory.
func pdfcpuPageCount(filePath string) (int, error) {
	disableConfigDir.Do(api.DisableConfigDir)
	return api.PageCountFile(filePath)
}

// PDFInspector combines signature sniffing, pdfcpu and an optional metadata
// reader. Anything beyond the file signature is best effort.
type PDFInspector struct {
	logger    *logrus.Logger
	metadata  MetadataReader
	pageCount PageCounter
}

// NewPDFInspector returns an inspector. metadata may be nil.
func NewPDFInspector(logger *logrus.Logger, metadata MetadataReader) *PDFInspector {
	return &PDFInspector{
		logger:    logger,
		metadata:  metadata,
		pageCount: pdfcpuPageCount,
	}
}

// GetCacheStats reports the metadata reader's cache, or zero values when the
// reader does not cache.
func (i *PDFInspector) GetCacheStats() CacheStats {
	if cr, ok := i.metadata.(CacheReporter); ok {
		return cr.GetCacheStats()
	}
	return CacheStats{}
}

// Inspect returns a report for filePath. A missing or non-PDF file fails
// with compressor.KindInvalidInput; every other problem becomes a warning.
func (i *PDFInspector) Inspect(filePath string) (*Report, error) {
	fileInfo, err := os.Stat(filePath)
	if err != nil {
		return nil, &compressor.Error{Kind: compressor.KindInvalidInput, Op: "inspect", Path: filePath, Err: err}
	}
	if !fileInfo.Mode().IsRegular() {
		return nil, &compressor.Error{Kind: compressor.KindInvalidInput, Op: "inspect", Path: filePath, Err: errors.New("not a regular file")}
	}

	mtype, err := mimetype.DetectFile(filePath)
	if err != nil {
		return nil, &compressor.Error{Kind: compressor.KindInvalidInput, Op: "inspect", Path: filePath, Err: err}
	}

	report := &Report{
		Path:           filePath,
		Size:           fileInfo.Size(),
		MIMEType:       mtype.String(),
		MetadataSource: MetadataSourceNone.String(),
	}

	if !mtype.Is("application/pdf") {
		return report, &compressor.Error{Kind: compressor.KindInvalidInput, Op: "inspect", Path: filePath, Err: fmt.Errorf("not a PDF (detected %s)", mtype.String())}
	}

	log := i.logger.WithField("file", filePath)

	if version, err := headerVersion(filePath); err == nil {
		report.PDFVersion = version
		report.MetadataSource = MetadataSourceHeader.String()
	} else {
		report.Warnings = append(report.Warnings, fmt.Sprintf("header: %v", err))
	}

	if pages, err := i.pageCount(filePath); err == nil {
		report.Pages = pages
	} else {
		log.WithError(err).Debug("Page count failed")
		report.Warnings = append(report.Warnings, fmt.Sprintf("page count: %v", err))
	}

	if i.metadata != nil {
		fields, err := i.metadata.ReadMetadata(filePath)
		if err != nil {
			log.WithError(err).Debug("Metadata extraction failed")
			report.Warnings = append(report.Warnings, fmt.Sprintf("metadata: %v", err))
		} else {
			i.applyMetadata(report, fields)
		}
	}

	return report, nil
}

func (i *PDFInspector) applyMetadata(report *Report, fields map[string]string) {
	report.Metadata = fields
	report.MetadataSource = MetadataSourceExiftool.String()

	report.Title = fields["Title"]
	report.Author = fields["Author"]
	report.Creator = fields["Creator"]
	report.Producer = fields["Producer"]
	if v := fields["PDFVersion"]; v != "" {
		report.PDFVersion = v
	}
	if report.Pages == 0 {
		var pages int
		if _, err := fmt.Sscanf(fields["PageCount"], "%d", &pages); err == nil {
			report.Pages = pages
		}
	}
	if t := parseMetadataTime(fields["ModifyDate"]); t != nil {
		report.ModifiedAt = t
	}
}

// headerVersion reads the version from the "%PDF-x.y" header line.
func headerVersion(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "%PDF-") {
		return "", fmt.Errorf("missing %%PDF- header")
	}
	version := strings.TrimPrefix(line, "%PDF-")
	if len(version) > 3 {
		version = version[:3]
	}
	return version, nil
}

// parseMetadataTime parses the date formats exiftool emits. Returns nil if
// parsing fails.
func parseMetadataTime(value string) *time.Time {
	if value == "" {
		return nil
	}

	formats := []string{
		"2006:01:02 15:04:05-07:00",
		"2006:01:02 15:04:05Z07:00",
		"2006:01:02 15:04:05",
		"2006-01-02 15:04:05",
		time.RFC3339,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, value); err == nil {
			return &t
		}
	}
	return nil
}
