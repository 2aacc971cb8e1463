package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"pdfsqueeze/internal/batch"
	"pdfsqueeze/internal/compressor"
	"pdfsqueeze/internal/config"
	"pdfsqueeze/internal/inspector"
	"pdfsqueeze/internal/logger"
	"pdfsqueeze/internal/preview"
	"pdfsqueeze/internal/statistics"
	"pdfsqueeze/internal/web"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile    string
	enginePath string
	verbose    bool
	quiet      bool
	version    string
	buildTime  string

	outputPath string
	quality    string
	timeout    time.Duration

	targetDir string
	dryRun    bool
	overwrite bool

	port int

	previewOutput string
	previewPage   int
	previewWidth  int
	previewHeight int
	previewDPI    int
)

// rootCmd compresses a single file.
var rootCmd = &cobra.Command{
	Use:   "pdfsqueeze <input.pdf>",
	Short: "Shrink PDF files with Ghostscript",
	Long: `pdfsqueeze reduces the size of PDF documents by re-rendering them through
Ghostscript's pdfwrite device with one of four quality profiles:

  low     72 dpi, smallest output
  medium  150 dpi (default)
  high    300 dpi
  max     300 dpi, color preserved

Without a subcommand it compresses one file. Use "batch" for a directory
tree and "serve" for the HTTP interface.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		return runCompress(cmd, args[0])
	},
}

// batchCmd compresses every PDF under a directory.
var batchCmd = &cobra.Command{
	Use:   "batch [directory]",
	Short: "Compress every PDF under a directory",
	Long: `Walks the directory (default: current directory) and compresses each PDF
with a pool of workers. Outputs are written as <name>_compressed.pdf next to
each input, or mirrored under --target. Existing outputs are skipped unless
--overwrite is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) > 0 {
			dir = args[0]
		}
		return runBatch(cmd, dir)
	},
}

// serveCmd starts the HTTP interface.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP compression service",
	Long: `Starts an HTTP server exposing:

  GET  /api/health      engine availability
  GET  /api/info        quality profiles and limits
  POST /api/compress    multipart "file" + optional "quality", returns the PDF
  POST /api/inspect     multipart "file", returns document facts
  GET  /api/statistics  counters for this process
  GET  /ws              job events over WebSocket`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

// infoCmd shows the engine and the profiles.
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show engine details and quality profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInfo(cmd)
	},
}

// inspectCmd reports facts about a PDF.
var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Show page count, version and metadata of a PDF",
	Long: `Prints a JSON report for a PDF: size, PDF version, page count and
document metadata read through exiftool when it is installed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(args[0])
	},
}

// previewCmd renders a thumbnail of one page.
var previewCmd = &cobra.Command{
	Use:   "preview <file>",
	Short: "Render a page of a PDF to a JPEG or PNG thumbnail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPreview(cmd, args[0])
	},
}

var qualityUsage = "quality profile: " + strings.Join(compressor.ProfileNames(), ", ")

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&enginePath, "engine", "", "path to the Ghostscript executable")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (default: <input>_compressed.pdf next to the input)")
	rootCmd.Flags().StringVarP(&quality, "quality", "q", "", qualityUsage)
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0, "engine time limit per file (default from config)")

	batchCmd.Flags().StringVarP(&quality, "quality", "q", "", qualityUsage)
	batchCmd.Flags().StringVar(&targetDir, "target", "", "directory for outputs, mirroring the source layout")
	batchCmd.Flags().BoolVar(&dryRun, "dry-run", false, "list what would be compressed without running the engine")
	batchCmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace existing outputs")

	serveCmd.Flags().IntVar(&port, "port", 0, "port to listen on (default from config, 5000)")

	previewCmd.Flags().StringVarP(&previewOutput, "output", "o", "", "image file (default: <input>_preview.jpg)")
	previewCmd.Flags().IntVar(&previewPage, "page", 1, "page number, starting at 1")
	previewCmd.Flags().IntVar(&previewWidth, "width", preview.DefaultMaxWidth, "maximum thumbnail width")
	previewCmd.Flags().IntVar(&previewHeight, "height", preview.DefaultMaxHeight, "maximum thumbnail height")
	previewCmd.Flags().IntVar(&previewDPI, "dpi", preview.DefaultDPI, "rasterization resolution")

	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(previewCmd)
}

// runCompress compresses one file and prints the outcome.
func runCompress(cmd *cobra.Command, input string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}

	engine, err := requireEngine(cfg, log)
	if err != nil {
		return err
	}

	out := outputPath
	if out == "" {
		out = compressor.DeriveOutputPath(input, outputDirFor(cfg, input))
	}

	orch := compressor.NewOrchestrator(engine, compressor.Options{
		Timeout: cfg.Engine.Timeout,
		Logger:  log,
	})

	res, err := orch.Compress(cmd.Context(), input, qualityFor(cfg), out)
	if err != nil {
		return err
	}

	if !quiet {
		fmt.Printf("%s -> %s\n", res.InputPath, res.OutputPath)
		fmt.Printf("  %s -> %s (saved %s, %.1f%%, %s profile, %s)\n",
			statistics.FormatBytes(res.OriginalSize),
			statistics.FormatBytes(res.CompressedSize),
			statistics.FormatBytes(res.SavedBytes()),
			res.RatioPercent,
			res.Profile,
			res.Duration().Round(time.Millisecond))
	}
	return nil
}

// runBatch compresses a directory tree.
func runBatch(cmd *cobra.Command, dir string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}

	engine, err := requireEngine(cfg, log)
	if err != nil {
		return err
	}

	stats := statistics.NewStatistics()
	orch := compressor.NewOrchestrator(engine, compressor.Options{
		Timeout: cfg.Engine.Timeout,
		Logger:  log,
	})

	runner := batch.NewRunner(cfg, log, stats, orch)
	if !quiet {
		runner = batch.NewRunnerWithProgress(cfg, log, stats, orch, func(done, total int, o batch.Outcome) {
			status := "ok"
			switch {
			case o.Skipped:
				status = "skipped"
			case o.Err != nil:
				status = compressor.KindOf(o.Err).String()
			}
			fmt.Fprintf(os.Stderr, "[%d/%d] %s: %s\n", done, total, o.File.RelPath, status)
		})
	}

	report, err := runner.Run(cmd.Context(), batch.Options{
		SourceDir: dir,
		TargetDir: targetDir,
		Quality:   qualityFor(cfg),
		DryRun:    dryRun,
		Overwrite: overwrite,
	})
	if err != nil {
		return err
	}

	if !quiet {
		fmt.Println("\n" + stats.GetSummary())
		if report.Failed > 0 {
			fmt.Println("\n" + stats.GetFailureBreakdown())
			fmt.Println(stats.GetErrorSummary())
		}
	}

	if err := cmd.Context().Err(); err != nil {
		return &compressor.Error{Kind: compressor.KindCanceled, Op: "batch", Path: dir, Err: err}
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d files failed", report.Failed, len(report.Outcomes))
	}
	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe(cmd *cobra.Command) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	// The server starts without an engine so /api/health can report it.
	engine, err := locateEngine(cfg)
	if err != nil {
		log.WithError(err).Error("PDF engine not available; compression requests will fail")
	}

	reader := inspector.NewExiftoolReader(log, "")
	defer reader.Close()

	server := web.NewServer(cfg, log, engine, inspector.NewPDFInspector(log, reader), statistics.NewStatistics())

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	if !quiet {
		fmt.Printf("pdfsqueeze listening on http://localhost:%d\n", cfg.Server.Port)
		fmt.Printf("Press Ctrl+C to stop the server\n\n")
	}

	select {
	case err := <-errChan:
		return fmt.Errorf("server failed: %w", err)
	case <-cmd.Context().Done():
	}

	log.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	log.Info("Server stopped gracefully")
	return nil
}

// runInfo prints the engine location, its version and the profile table.
func runInfo(cmd *cobra.Command) error {
	cfg, _, err := setup(cmd)
	if err != nil {
		return err
	}

	engine, locErr := locateEngine(cfg)
	if locErr != nil {
		fmt.Printf("Engine:  not found (%v)\n", locErr)
	} else {
		v, verr := engine.Version(cmd.Context())
		if verr != nil {
			v = "unknown"
		}
		fmt.Printf("Engine:  %s (Ghostscript %s)\n", engine.Path(), v)
	}
	fmt.Printf("Timeout: %s\n", cfg.Engine.Timeout)
	fmt.Printf("Default: %s\n\n", cfg.Compression.DefaultQuality)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROFILE\tPRESET\tDPI\tCOLOR\tDESCRIPTION")
	for _, p := range compressor.Profiles() {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", p.Name, p.Preset, p.Resolution, p.ColorMode, p.Description)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	return locErr
}

// runInspect prints a JSON report for one file.
func runInspect(filePath string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := setupLogger(cfg)

	reader := inspector.NewExiftoolReader(log, "")
	defer reader.Close()

	report, err := inspector.NewPDFInspector(log, reader).Inspect(filePath)
	if report != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(report); encErr != nil {
			return encErr
		}
	}
	return err
}

// runPreview renders one page to an image.
func runPreview(cmd *cobra.Command, input string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}

	engine, err := requireEngine(cfg, log)
	if err != nil {
		return err
	}

	out := previewOutput
	if out == "" {
		stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
		out = filepath.Join(filepath.Dir(input), stem+"_preview.jpg")
	}

	res, err := preview.NewRenderer(engine, log).Render(cmd.Context(), input, out, preview.Options{
		Page:      previewPage,
		DPI:       previewDPI,
		MaxWidth:  previewWidth,
		MaxHeight: previewHeight,
	})
	if err != nil {
		return err
	}

	if !quiet {
		fmt.Printf("%s: %dx%d, %s\n", res.OutputPath, res.Width, res.Height, statistics.FormatBytes(res.Size))
	}
	return nil
}

// setup loads configuration, applies flag overrides and builds the logger.
func setup(cmd *cobra.Command) (*config.Config, *logrus.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	if enginePath != "" {
		cfg.Engine.Path = enginePath
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Engine.Timeout = timeout
	}

	return cfg, setupLogger(cfg), nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func locateEngine(cfg *config.Config) (*compressor.Engine, error) {
	return compressor.LocateEngine(compressor.LocateOptions{
		Path:        cfg.Engine.Path,
		SearchPaths: cfg.Engine.SearchPaths,
		StderrLimit: cfg.Engine.StderrLimit,
	})
}

// requireEngine locates the engine before any work starts.
func requireEngine(cfg *config.Config, log *logrus.Logger) (*compressor.Engine, error) {
	engine, err := locateEngine(cfg)
	if err != nil {
		log.WithError(err).Error("PDF engine not available")
		return nil, err
	}
	log.WithField("engine", engine.Path()).Debug("Using PDF engine")
	return engine, nil
}

func qualityFor(cfg *config.Config) string {
	if quality != "" {
		return quality
	}
	return cfg.Compression.DefaultQuality
}

// outputDirFor keeps single-file outputs beside the input unless the config
// names an output directory.
func outputDirFor(cfg *config.Config, input string) string {
	if cfg.Compression.OutputDir != "" {
		return cfg.Compression.OutputDir
	}
	return filepath.Dir(input)
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    !quiet,
		Format:     cfg.Logging.Format,
	}

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

func main() {
	if version != "" {
		rootCmd.Version = fmt.Sprintf("%s (built %s)", version, buildTime)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}
