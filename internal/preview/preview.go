package preview

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pdfsqueeze/internal/compressor"
	"pdfsqueeze/internal/logger"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"
)

const (
	DefaultDPI       = 72
	DefaultMaxWidth  = 400
	DefaultMaxHeight = 400
	DefaultQuality   = 85

	renderTimeout = 30 * time.Second
)

// Options controls rendering. Zero values fall back to the defaults.
type Options struct {
	Page      int
	DPI       int
	MaxWidth  int
	MaxHeight int
	Quality   int // JPEG only
}

// Result describes a written preview image.
type Result struct {
	OutputPath string
	Width      int
	Height     int
	Size       int64
}

// Renderer rasterizes one PDF page through the engine and thumbnails it.
type Renderer struct {
	engine *compressor.Engine
	logger *logrus.Logger
}

// NewRenderer returns a new Renderer.
func NewRenderer(engine *compressor.Engine, log *logrus.Logger) *Renderer {
	return &Renderer{engine: engine, logger: log}
}

func (o Options) withDefaults() Options {
	if o.Page <= 0 {
		o.Page = 1
	}
	if o.DPI <= 0 {
		o.DPI = DefaultDPI
	}
	if o.MaxWidth <= 0 {
		o.MaxWidth = DefaultMaxWidth
	}
	if o.MaxHeight <= 0 {
		o.MaxHeight = DefaultMaxHeight
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = DefaultQuality
	}
	return o
}

// Render writes a thumbnail of one page of inputPath to outputPath. The
// format follows the output extension (.jpg, .jpeg or .png).
func (r *Renderer) Render(ctx context.Context, inputPath, outputPath string, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	switch strings.ToLower(filepath.Ext(outputPath)) {
	case ".jpg", ".jpeg", ".png":
	default:
		return nil, &compressor.Error{Kind: compressor.KindInvalidInput, Op: "preview", Path: outputPath, Err: errors.New("output must end in .jpg, .jpeg or .png")}
	}

	if _, err := compressor.ValidateInput(inputPath); err != nil {
		return nil, err
	}
	if err := r.engine.Available(); err != nil {
		return nil, err
	}

	scratch, err := os.CreateTemp("", ".pdfsqueeze-preview-*.png")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch file: %w", err)
	}
	scratchPath := scratch.Name()
	scratch.Close()
	defer os.Remove(scratchPath)

	if err := r.rasterize(ctx, inputPath, scratchPath, opts); err != nil {
		return nil, err
	}

	img, err := imaging.Open(scratchPath)
	if err != nil {
		return nil, &compressor.Error{Kind: compressor.KindOutputMissing, Op: "decode page image", Path: inputPath, Err: err}
	}

	thumb := imaging.Fit(img, opts.MaxWidth, opts.MaxHeight, imaging.Lanczos)

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := imaging.Save(thumb, outputPath, imaging.JPEGQuality(opts.Quality)); err != nil {
		return nil, fmt.Errorf("failed to save preview: %w", err)
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat preview: %w", err)
	}

	bounds := thumb.Bounds()
	res := &Result{
		OutputPath: outputPath,
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		Size:       info.Size(),
	}

	logger.WithFields(r.logger, logrus.Fields{
		"file":   inputPath,
		"output": outputPath,
		"page":   opts.Page,
		"width":  res.Width,
		"height": res.Height,
	}).Info("Preview rendered")

	return res, nil
}

func (r *Renderer) rasterize(ctx context.Context, inputPath, scratchPath string, opts Options) error {
	absInput, err := filepath.Abs(inputPath)
	if err != nil {
		return &compressor.Error{Kind: compressor.KindInvalidInput, Op: "preview", Path: inputPath, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, renderTimeout)
	defer cancel()

	_, stderr, err := r.engine.Run(ctx,
		"-sDEVICE=png16m",
		fmt.Sprintf("-r%d", opts.DPI),
		fmt.Sprintf("-dFirstPage=%d", opts.Page),
		fmt.Sprintf("-dLastPage=%d", opts.Page),
		"-dTextAlphaBits=4",
		"-dGraphicsAlphaBits=4",
		"-dNOPAUSE",
		"-dBATCH",
		"-dQUIET",
		"-dSAFER",
		compressor.OutputFileArg(scratchPath),
		absInput,
	)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &compressor.Error{Kind: compressor.KindEngineTimeout, Op: "render page", Path: inputPath, Err: ctx.Err()}
		}
		if ctx.Err() != nil {
			return &compressor.Error{Kind: compressor.KindCanceled, Op: "render page", Path: inputPath, Err: ctx.Err()}
		}
		return &compressor.Error{Kind: compressor.KindEngineExecutionFailed, Op: "render page", Path: inputPath, Stderr: stderr, Err: err}
	}

	if info, err := os.Stat(scratchPath); err != nil || info.Size() == 0 {
		return &compressor.Error{Kind: compressor.KindOutputMissing, Op: "render page", Path: inputPath, Stderr: stderr, Err: fmt.Errorf("no image for page %d", opts.Page)}
	}
	return nil
}
