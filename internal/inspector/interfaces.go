package inspector

import (
	"time"
)

// Inspector reports facts about a PDF file.
type Inspector interface {
	Inspect(filePath string) (*Report, error)
}

// MetadataReader reads document metadata fields from a file.
type MetadataReader interface {
	ReadMetadata(filePath string) (map[string]string, error)
	Close() error
}

// PageCounter returns the number of pages in a PDF.
type PageCounter func(filePath string) (int, error)

// CacheStats contains statistics about cache performance.
type CacheStats struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	Size         int     `json:"size"`
	HitRate      float64 `json:"hit_rate"`
	TotalQueries int64   `json:"total_queries"`
}

// CacheReporter is implemented by components that cache metadata lookups.
type CacheReporter interface {
	GetCacheStats() CacheStats
}

// MetadataSource records where the document metadata came from.
type MetadataSource int

const (
	MetadataSourceNone MetadataSource = iota
	MetadataSourceExiftool
	MetadataSourceHeader
)

// String returns a human-readable description of the metadata source.
func (ms MetadataSource) String() string {
	switch ms {
	case MetadataSourceExiftool:
		return "exiftool"
	case MetadataSourceHeader:
		return "file header"
	default:
		return "none"
	}
}

// Report describes a PDF. Fields that could not be determined are left
// empty and explained in Warnings.
type Report struct {
	Path           string            `json:"path"`
	Size           int64             `json:"size"`
	MIMEType       string            `json:"mime_type"`
	PDFVersion     string            `json:"pdf_version,omitempty"`
	Pages          int               `json:"pages,omitempty"`
	Title          string            `json:"title,omitempty"`
	Author         string            `json:"author,omitempty"`
	Creator        string            `json:"creator,omitempty"`
	Producer       string            `json:"producer,omitempty"`
	ModifiedAt     *time.Time        `json:"modified_at,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	MetadataSource string            `json:"metadata_source"`
	Warnings       []string          `json:"warnings,omitempty"`
}
