package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"pdfsqueeze/internal/compressor"
	"pdfsqueeze/internal/config"
	"pdfsqueeze/internal/logger"
	"pdfsqueeze/internal/statistics"

	"github.com/sirupsen/logrus"
)

const compressedSuffix = "_compressed.pdf"

// ProgressFunc is called after each file finishes, from worker goroutines.
type ProgressFunc func(done, total int, outcome Outcome)

// Runner compresses every PDF under a directory with a fixed worker pool.
type Runner struct {
	config     *config.Config
	logger     *logrus.Logger
	stats      *statistics.Statistics
	compressor compressor.Compressor
	workers    int

	onProgress ProgressFunc
}

// Options selects what a single run does.
type Options struct {
	SourceDir string
	// TargetDir receives outputs, mirroring the source layout. Empty writes
	// each output next to its input.
	TargetDir string
	Quality   string
	DryRun    bool
	// Overwrite replaces existing outputs instead of skipping their inputs.
	Overwrite bool
}

// FileInfo contains information about a discovered PDF.
type FileInfo struct {
	Path    string
	RelPath string
	Size    int64
	ModTime time.Time
}

// Outcome is the result for one file. Result is nil on failure, skip or
// dry-run.
type Outcome struct {
	File    FileInfo
	Output  string
	Result  *compressor.Result
	Err     error
	Skipped bool
}

// Report summarizes a run.
type Report struct {
	Outcomes  []Outcome
	Succeeded int
	Failed    int
	Skipped   int
}

// NewRunner returns a new Runner.
func NewRunner(
	cfg *config.Config,
	log *logrus.Logger,
	stats *statistics.Statistics,
	c compressor.Compressor,
) *Runner {
	return NewRunnerWithProgress(cfg, log, stats, c, nil)
}

// NewRunnerWithProgress lets callers observe per-file completion.
func NewRunnerWithProgress(
	cfg *config.Config,
	log *logrus.Logger,
	stats *statistics.Statistics,
	c compressor.Compressor,
	onProgress ProgressFunc,
) *Runner {
	workers := cfg.Performance.WorkerThreads
	if workers <= 0 {
		workers = 4
	}
	return &Runner{
		config:     cfg,
		logger:     log,
		stats:      stats,
		compressor: c,
		workers:    workers,
		onProgress: onProgress,
	}
}

// Run discovers and compresses files. Per-file failures are reported in the
// Report; the returned error covers only discovery problems.
func (r *Runner) Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Quality == "" {
		opts.Quality = r.config.Compression.DefaultQuality
	}
	if !compressor.IsValidQuality(opts.Quality) {
		_, err := compressor.LookupProfile(opts.Quality)
		return nil, err
	}

	info, err := os.Stat(opts.SourceDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("source directory does not exist: %s", opts.SourceDir)
	}

	logger.WithOperation(r.logger, "batch").WithFields(logrus.Fields{
		"source":  opts.SourceDir,
		"target":  opts.TargetDir,
		"quality": opts.Quality,
	}).Info("Starting batch compression")

	files, err := r.discoverFiles(opts.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to discover files: %w", err)
	}

	report := &Report{}
	if len(files) == 0 {
		r.logger.Info("No PDF files found to compress")
		r.stats.Finalize()
		return report, nil
	}

	r.logger.Infof("Found %d PDF files to process", len(files))

	if opts.DryRun {
		r.logger.Info("Running in dry-run mode - no files will be written")
	}

	report.Outcomes = r.processFiles(ctx, files, opts)
	for _, o := range report.Outcomes {
		switch {
		case o.Skipped:
			report.Skipped++
		case o.Err != nil:
			report.Failed++
		default:
			report.Succeeded++
		}
	}

	r.stats.Finalize()
	r.logger.WithFields(logrus.Fields{
		"succeeded": report.Succeeded,
		"failed":    report.Failed,
		"skipped":   report.Skipped,
	}).Info("Batch compression completed")

	return report, nil
}

// discoverFiles finds all PDF files in the source directory.
func (r *Runner) discoverFiles(root string) ([]FileInfo, error) {
	var files []FileInfo
	limit := r.config.Performance.MaxFilesPerRun

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			logger.WithFileOperation(r.logger, path, "discover").WithError(err).Warn("Error accessing path")
			return nil
		}

		if info.IsDir() {
			return nil
		}

		if !isCandidate(info.Name()) {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = info.Name()
		}

		files = append(files, FileInfo{
			Path:    path,
			RelPath: rel,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
		r.stats.IncrementFilesFound()

		if limit > 0 && len(files) >= limit {
			r.logger.Infof("Reached maximum files limit (%d), stopping discovery", limit)
			return filepath.SkipAll
		}

		return nil
	})

	return files, err
}

// isCandidate accepts PDFs that are neither our own outputs nor scratch files.
func isCandidate(name string) bool {
	lower := strings.ToLower(name)
	if !strings.HasSuffix(lower, ".pdf") {
		return false
	}
	if strings.HasSuffix(lower, compressedSuffix) {
		return false
	}
	return !strings.HasPrefix(name, ".pdfsqueeze-")
}

// outputPath mirrors the file's place under the source into the target.
func outputPath(file FileInfo, targetDir string) string {
	if targetDir == "" {
		return compressor.DeriveOutputPath(file.Path, filepath.Dir(file.Path))
	}
	return compressor.DeriveOutputPath(file.Path, filepath.Join(targetDir, filepath.Dir(file.RelPath)))
}

// processFiles fans files out to the worker pool and collects outcomes in
// discovery order.
func (r *Runner) processFiles(ctx context.Context, files []FileInfo, opts Options) []Outcome {
	var (
		wg       sync.WaitGroup
		mutex    sync.Mutex
		done     int
		outcomes = make([]Outcome, len(files))
		handled  = make([]bool, len(files))
	)

	type task struct {
		index int
		file  FileInfo
	}
	taskChan := make(chan task, r.workers)

	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range taskChan {
				outcome := r.processFile(ctx, t.file, opts)

				mutex.Lock()
				outcomes[t.index] = outcome
				handled[t.index] = true
				done++
				current := done
				mutex.Unlock()

				if r.onProgress != nil {
					r.onProgress(current, len(files), outcome)
				}
			}
		}()
	}

	go func() {
		defer close(taskChan)
		for i, file := range files {
			select {
			case <-ctx.Done():
				return
			case taskChan <- task{index: i, file: file}:
			}
		}
	}()

	wg.Wait()

	// Files never handed to a worker because the run was cancelled.
	for i, file := range files {
		if handled[i] {
			continue
		}
		err := &compressor.Error{Kind: compressor.KindCanceled, Op: "batch", Path: file.Path, Err: ctx.Err()}
		r.stats.RecordFailure(file.Path, "batch", err)
		outcomes[i] = Outcome{File: file, Output: outputPath(file, opts.TargetDir), Err: err}
	}

	return outcomes
}

// processFile compresses a single file.
func (r *Runner) processFile(ctx context.Context, file FileInfo, opts Options) Outcome {
	out := outputPath(file, opts.TargetDir)
	outcome := Outcome{File: file, Output: out}
	log := logger.WithFile(r.logger, file.Path).WithField("output", out)

	if !opts.Overwrite {
		if _, err := os.Stat(out); err == nil {
			log.Info("Output exists, skipping")
			r.stats.IncrementFilesSkipped()
			outcome.Skipped = true
			return outcome
		}
	}

	if opts.DryRun {
		log.Infof("DRY-RUN: Would compress %s -> %s (%s)", file.Path, out, opts.Quality)
		r.stats.IncrementFilesSkipped()
		outcome.Skipped = true
		return outcome
	}

	r.stats.IncrementJobsStarted()
	res, err := r.compressor.Compress(ctx, file.Path, opts.Quality, out)
	if err != nil {
		log.WithError(err).Warn("Could not compress file")
		r.stats.RecordFailure(file.Path, "compress", err)
		outcome.Err = err
		return outcome
	}

	r.stats.RecordSuccess(res)
	outcome.Result = res
	log.Debugf("Compressed %s: %.1f%% smaller", file.RelPath, res.RatioPercent)
	return outcome
}
