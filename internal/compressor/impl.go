package compressor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pdfsqueeze/internal/logger"

	"github.com/sirupsen/logrus"
)

// DefaultTimeout bounds a single engine invocation.
const DefaultTimeout = 120 * time.Second

const scratchPrefix = ".pdfsqueeze-"

// Options configures an Orchestrator.
type Options struct {
	// Timeout bounds each engine run. Zero means DefaultTimeout, negative
	// means no bound beyond the caller's context.
	Timeout time.Duration
	// OutputDir receives derived output paths. Empty means os.TempDir().
	OutputDir string
	Logger    *logrus.Logger
	// OnTransition, when set, observes every job state change.
	OnTransition TransitionFunc
}

// Orchestrator is the default Compressor. It holds no per-job state and is
// safe for concurrent use.
type Orchestrator struct {
	engine       *Engine
	timeout      time.Duration
	outputDir    string
	logger       *logrus.Logger
	onTransition TransitionFunc
}

// NewOrchestrator creates an Orchestrator around an already located engine.
// A nil engine is allowed; every job then fails with KindEngineNotFound.
func NewOrchestrator(engine *Engine, opts Options) *Orchestrator {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	log := opts.Logger
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}

	return &Orchestrator{
		engine:       engine,
		timeout:      timeout,
		outputDir:    opts.OutputDir,
		logger:       log,
		onTransition: opts.OnTransition,
	}
}

// Compress runs one job: resolve the profile, validate the input, invoke the
// engine against a scratch file and move it onto the output path on success.
// Scratch files are removed on every exit path; the output is left for the
// caller.
func (o *Orchestrator) Compress(ctx context.Context, inputPath, quality, outputPath string) (*Result, error) {
	job := newJob(inputPath, quality, outputPath, o.onTransition)
	log := logger.WithJob(o.logger, job.ID, quality).WithField("input", inputPath)

	_ = job.advance(StateValidating)

	profile, err := LookupProfile(quality)
	if err != nil {
		return nil, o.fail(job, log, err)
	}
	job.Profile = profile

	info, err := ValidateInput(inputPath)
	if err != nil {
		return nil, o.fail(job, log, err)
	}

	resolved, err := o.resolveOutputPath(inputPath, outputPath)
	if err != nil {
		return nil, o.fail(job, log, err)
	}
	job.OutputPath = resolved

	if err := o.engine.Available(); err != nil {
		return nil, o.fail(job, log, err)
	}

	_ = job.advance(StateInvoking)
	log.WithField("output", job.OutputPath).Debug("Invoking engine")

	compressedSize, err := o.invoke(ctx, job)
	if err != nil {
		return nil, o.fail(job, log, err)
	}

	res := &Result{
		JobID:          job.ID,
		InputPath:      inputPath,
		OutputPath:     job.OutputPath,
		Profile:        profile.Name,
		OriginalSize:   info.Size(),
		CompressedSize: compressedSize,
		RatioPercent:   CompressionRatio(info.Size(), compressedSize),
		StartedAt:      job.StartedAt,
		FinishedAt:     time.Now(),
	}

	_ = job.advance(StateSucceeded)
	log.WithFields(logrus.Fields{
		"output":          res.OutputPath,
		"original_size":   res.OriginalSize,
		"compressed_size": res.CompressedSize,
		"ratio":           res.RatioPercent,
		"duration":        res.Duration().String(),
	}).Info("Compression succeeded")

	return res, nil
}

// invoke runs the engine into a scratch file beside the destination and
// renames it into place. It returns the size of the produced output.
func (o *Orchestrator) invoke(ctx context.Context, job *Job) (int64, error) {
	scratch := filepath.Join(filepath.Dir(job.OutputPath), scratchPrefix+job.ID+".partial")
	defer o.removeScratch(scratch)

	absInput, err := filepath.Abs(job.InputPath)
	if err != nil {
		return 0, &Error{Kind: KindInvalidInput, Op: "resolve input", Path: job.InputPath, Err: err}
	}

	runCtx := ctx
	if o.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	args := append(job.Profile.EngineArgs(), OutputFileArg(scratch), absInput)
	_, stderr, runErr := o.engine.Run(runCtx, args...)

	if runErr != nil {
		if ctxErr := runCtx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return 0, &Error{Kind: KindEngineTimeout, Op: "run engine", Path: job.InputPath, Err: fmt.Errorf("killed after %s: %w", o.timeout, ctxErr)}
			}
			return 0, &Error{Kind: KindCanceled, Op: "run engine", Path: job.InputPath, Err: ctxErr}
		}
		if isStartFailure(runErr) {
			return 0, &Error{Kind: KindEngineNotFound, Op: "start engine", Path: o.engine.Path(), Err: runErr}
		}
		return 0, &Error{Kind: KindEngineExecutionFailed, Op: "run engine", Path: job.InputPath, Stderr: stderr, Err: runErr}
	}

	info, err := os.Stat(scratch)
	if err != nil {
		return 0, &Error{Kind: KindOutputMissing, Op: "check output", Path: job.OutputPath, Stderr: stderr, Err: err}
	}
	if info.Size() == 0 {
		return 0, &Error{Kind: KindOutputMissing, Op: "check output", Path: job.OutputPath, Stderr: stderr, Err: errors.New("engine produced an empty file")}
	}

	if err := os.Rename(scratch, job.OutputPath); err != nil {
		return 0, &Error{Kind: KindOutputMissing, Op: "move output", Path: job.OutputPath, Err: err}
	}

	return info.Size(), nil
}

func (o *Orchestrator) resolveOutputPath(inputPath, outputPath string) (string, error) {
	if outputPath == "" {
		dir := o.outputDir
		if dir == "" {
			dir = os.TempDir()
		}
		outputPath = DeriveOutputPath(inputPath, dir)
	}

	if sameFile(inputPath, outputPath) {
		return "", &Error{Kind: KindInvalidInput, Op: "resolve output", Path: outputPath, Err: errors.New("output path must differ from input path")}
	}

	if info, err := os.Stat(outputPath); err == nil && !info.Mode().IsRegular() {
		return "", &Error{Kind: KindInvalidInput, Op: "resolve output", Path: outputPath, Err: errors.New("output path exists and is not a regular file")}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return "", &Error{Kind: KindInvalidInput, Op: "create output directory", Path: filepath.Dir(outputPath), Err: err}
	}

	return outputPath, nil
}

func (o *Orchestrator) fail(job *Job, log *logrus.Entry, err error) error {
	_ = job.advance(StateFailed)

	kind := KindOf(err)
	entry := log.WithFields(logrus.Fields{
		"kind":  kind.String(),
		"state": job.State().String(),
	})
	switch kind {
	case KindEngineNotFound:
		entry.WithError(err).Error("PDF engine not available")
	case KindInvalidInput, KindInvalidProfile, KindCanceled:
		entry.WithError(err).Info("Compression rejected")
	default:
		entry.WithError(err).Warn("Compression failed")
	}

	return err
}

// CompressionRatio returns the percentage size reduction rounded to one
// decimal place. An empty original yields 0.
func CompressionRatio(original, compressed int64) float64 {
	if original <= 0 {
		return 0
	}
	ratio := float64(original-compressed) / float64(original) * 100
	return math.Round(ratio*10) / 10
}

// OutputFileArg returns the -sOutputFile argument for path, doubling '%' so
// the engine does not treat the path as a per-page filename template.
func OutputFileArg(path string) string {
	return "-sOutputFile=" + strings.ReplaceAll(path, "%", "%%")
}

func (o *Orchestrator) removeScratch(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.WithFile(o.logger, path).WithError(err).Warn("Failed to remove scratch file")
	}
}
