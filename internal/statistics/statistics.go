package statistics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pdfsqueeze/internal/compressor"
)

// maxErrors bounds the error history kept by a long-running server.
const maxErrors = 100

// Statistics contains counters for a batch run or a server session.
type Statistics struct {
	FilesFound    int64
	FilesSkipped  int64
	JobsStarted   int64
	JobsSucceeded int64
	JobsFailed    int64

	BytesIn  int64
	BytesOut int64

	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	FilesPerSecond float64

	Errors []StatError

	mutex sync.RWMutex

	ProfileStats map[string]int64
	FailureStats map[string]int64
}

// StatError represents an error that occurred during processing.
type StatError struct {
	FilePath  string    `json:"file_path"`
	Operation string    `json:"operation"`
	Kind      string    `json:"kind"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is a consistent copy of the counters, safe to serialize.
type Snapshot struct {
	FilesFound     int64            `json:"files_found"`
	FilesSkipped   int64            `json:"files_skipped"`
	JobsStarted    int64            `json:"jobs_started"`
	JobsSucceeded  int64            `json:"jobs_succeeded"`
	JobsFailed     int64            `json:"jobs_failed"`
	BytesIn        int64            `json:"bytes_in"`
	BytesOut       int64            `json:"bytes_out"`
	RatioPercent   float64          `json:"ratio_percent"`
	Uptime         string           `json:"uptime"`
	ProfileCounts  map[string]int64 `json:"profile_counts"`
	FailureCounts  map[string]int64 `json:"failure_counts"`
	RecentErrors   []StatError      `json:"recent_errors"`
	FilesPerSecond float64          `json:"files_per_second"`
}

// NewStatistics returns a new Statistics instance.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:    time.Now(),
		Errors:       make([]StatError, 0),
		ProfileStats: make(map[string]int64),
		FailureStats: make(map[string]int64),
	}
}

// IncrementFilesFound increases the count of found files by 1.
func (s *Statistics) IncrementFilesFound() {
	atomic.AddInt64(&s.FilesFound, 1)
}

// IncrementFilesSkipped increases the count of skipped files by 1.
func (s *Statistics) IncrementFilesSkipped() {
	atomic.AddInt64(&s.FilesSkipped, 1)
}

// IncrementJobsStarted increases the count of started jobs by 1.
func (s *Statistics) IncrementJobsStarted() {
	atomic.AddInt64(&s.JobsStarted, 1)
}

// RecordSuccess accounts a finished job.
func (s *Statistics) RecordSuccess(res *compressor.Result) {
	atomic.AddInt64(&s.JobsSucceeded, 1)
	atomic.AddInt64(&s.BytesIn, res.OriginalSize)
	atomic.AddInt64(&s.BytesOut, res.CompressedSize)

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.ProfileStats[res.Profile]++
}

// RecordFailure accounts a failed job under its error kind.
func (s *Statistics) RecordFailure(filePath, operation string, err error) {
	atomic.AddInt64(&s.JobsFailed, 1)

	kind := compressor.KindOf(err).String()

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.FailureStats[kind]++
	if len(s.Errors) >= maxErrors {
		s.Errors = s.Errors[1:]
	}
	s.Errors = append(s.Errors, StatError{
		FilePath:  filePath,
		Operation: operation,
		Kind:      kind,
		Error:     err.Error(),
		Timestamp: time.Now(),
	})
}

// Finalize calculates duration and throughput.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)

	done := atomic.LoadInt64(&s.JobsSucceeded) + atomic.LoadInt64(&s.JobsFailed)
	if s.Duration.Seconds() > 0 {
		s.FilesPerSecond = float64(done) / s.Duration.Seconds()
	}
}

// OverallRatio returns the size reduction across all successful jobs.
func (s *Statistics) OverallRatio() float64 {
	return compressor.CompressionRatio(atomic.LoadInt64(&s.BytesIn), atomic.LoadInt64(&s.BytesOut))
}

// Snapshot returns a copy of the current counters.
func (s *Statistics) Snapshot() Snapshot {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	snap := Snapshot{
		FilesFound:     atomic.LoadInt64(&s.FilesFound),
		FilesSkipped:   atomic.LoadInt64(&s.FilesSkipped),
		JobsStarted:    atomic.LoadInt64(&s.JobsStarted),
		JobsSucceeded:  atomic.LoadInt64(&s.JobsSucceeded),
		JobsFailed:     atomic.LoadInt64(&s.JobsFailed),
		BytesIn:        atomic.LoadInt64(&s.BytesIn),
		BytesOut:       atomic.LoadInt64(&s.BytesOut),
		RatioPercent:   s.OverallRatio(),
		Uptime:         time.Since(s.StartTime).Round(time.Second).String(),
		ProfileCounts:  make(map[string]int64, len(s.ProfileStats)),
		FailureCounts:  make(map[string]int64, len(s.FailureStats)),
		RecentErrors:   append([]StatError(nil), s.Errors...),
		FilesPerSecond: s.FilesPerSecond,
	}
	for k, v := range s.ProfileStats {
		snap.ProfileCounts[k] = v
	}
	for k, v := range s.FailureStats {
		snap.FailureCounts[k] = v
	}
	return snap
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	s.mutex.RLock()
	duration := s.Duration
	filesPerSecond := s.FilesPerSecond
	s.mutex.RUnlock()

	bytesIn := atomic.LoadInt64(&s.BytesIn)
	bytesOut := atomic.LoadInt64(&s.BytesOut)

	return fmt.Sprintf(`PDF Compression Summary:

Files:
		Found: %d
		Skipped: %d
		Compressed: %d
		Failed: %d

Size:
		Before: %s
		After: %s
		Saved: %s (%.1f%%)

Performance:
		Duration: %v
		Files/Second: %.2f`,
		atomic.LoadInt64(&s.FilesFound),
		atomic.LoadInt64(&s.FilesSkipped),
		atomic.LoadInt64(&s.JobsSucceeded),
		atomic.LoadInt64(&s.JobsFailed),
		formatBytes(bytesIn),
		formatBytes(bytesOut),
		formatBytes(bytesIn-bytesOut),
		s.OverallRatio(),
		duration,
		filesPerSecond)
}

// GetFailureBreakdown returns failure counts per error kind.
func (s *Statistics) GetFailureBreakdown() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.FailureStats) == 0 {
		return "No failures"
	}

	kinds := make([]string, 0, len(s.FailureStats))
	for kind := range s.FailureStats {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	var b strings.Builder
	b.WriteString("Failures by kind:\n")
	for _, kind := range kinds {
		fmt.Fprintf(&b, "  %s: %d\n", kind, s.FailureStats[kind])
	}
	return b.String()
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Kind,
			err.FilePath,
			err.Error)
	}
	return result
}

// FormatBytes returns a human-readable string for a byte count.
func FormatBytes(bytes int64) string {
	return formatBytes(bytes)
}

func formatBytes(bytes int64) string {
	if bytes < 0 {
		return "-" + formatBytes(-bytes)
	}
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
