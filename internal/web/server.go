package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"pdfsqueeze/internal/compressor"
	"pdfsqueeze/internal/config"
	"pdfsqueeze/internal/inspector"
	"pdfsqueeze/internal/logger"
	"pdfsqueeze/internal/statistics"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// statusClientClosedRequest is reported when the client went away mid-job.
const statusClientClosedRequest = 499

// multipartMemory is how much of an upload is buffered in memory before
// spilling to disk.
const multipartMemory = 8 << 20

type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.Mutex

	engine     *compressor.Engine
	compressor compressor.Compressor
	inspector  inspector.Inspector
	stats      *statistics.Statistics

	// jobSlots bounds concurrent engine runs across requests.
	jobSlots chan struct{}

	events   chan WSMessage
	done     chan struct{}
	stopOnce sync.Once

	// engineVersion caches the first successful version probe.
	engineVersion string
	versionMutex  sync.Mutex
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ErrorDetail accompanies a failed compression response.
type ErrorDetail struct {
	Kind      string `json:"kind"`
	Retryable bool   `json:"retryable"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// NewServer wires the HTTP layer around an engine located at startup. engine
// may be nil, in which case health reports 503 and every job fails with
// engine_not_found.
func NewServer(cfg *config.Config, log *logrus.Logger, engine *compressor.Engine, insp inspector.Inspector, stats *statistics.Statistics) *Server {
	slots := cfg.Server.MaxConcurrentJobs
	if slots <= 0 {
		slots = 1
	}

	s := &Server{
		cfg:       cfg,
		log:       log,
		router:    mux.NewRouter(),
		wsClients: make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		engine:    engine,
		inspector: insp,
		stats:     stats,
		jobSlots:  make(chan struct{}, slots),
		events:    make(chan WSMessage, 64),
		done:      make(chan struct{}),
	}

	s.compressor = compressor.NewOrchestrator(engine, compressor.Options{
		Timeout:      cfg.Engine.Timeout,
		OutputDir:    cfg.GetTempDir(),
		Logger:       log,
		OnTransition: s.publishTransition,
	})

	s.setupRoutes()
	go s.runBroadcaster()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/info", s.handleInfo).Methods("GET")
	api.HandleFunc("/compress", s.handleCompress).Methods("POST")
	api.HandleFunc("/inspect", s.handleInspect).Methods("POST")
	api.HandleFunc("/statistics", s.handleGetStatistics).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler returns the router, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(port int) error {
	if err := os.MkdirAll(s.cfg.GetTempDir(), 0755); err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}

	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.done)

		s.wsMutex.Lock()
		for conn := range s.wsClients {
			conn.Close()
			delete(s.wsClients, conn)
		}
		s.wsMutex.Unlock()
	})

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Available(); err != nil {
		s.log.WithError(err).Error("Health check: PDF engine not available")
		s.writeJSONStatus(w, http.StatusServiceUnavailable, APIResponse{
			Success: false,
			Error:   compressor.KindEngineNotFound.Message(),
			Data: map[string]interface{}{
				"status": "unhealthy",
			},
		})
		return
	}

	version := s.probeVersion(r.Context())

	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "PDF compression service is running",
		Data: map[string]interface{}{
			"status":         "healthy",
			"engine_path":    s.engine.Path(),
			"engine_version": version,
		},
	})
}

// probeVersion runs the engine version probe until it first succeeds and
// returns the cached value afterwards.
func (s *Server) probeVersion(ctx context.Context) string {
	s.versionMutex.Lock()
	defer s.versionMutex.Unlock()

	if s.engineVersion != "" {
		return s.engineVersion
	}

	version, err := s.engine.Version(ctx)
	if err != nil {
		s.log.WithError(err).Warn("Health check: engine version probe failed")
		return ""
	}
	s.engineVersion = version
	return version
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	enginePath := ""
	if s.engine != nil {
		enginePath = s.engine.Path()
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"engine_path":         enginePath,
			"quality_options":     compressor.Profiles(),
			"default_quality":     s.cfg.Compression.DefaultQuality,
			"max_file_size":       statistics.FormatBytes(s.cfg.Server.MaxUploadSize),
			"max_file_size_bytes": s.cfg.Server.MaxUploadSize,
			"max_concurrent_jobs": s.cfg.Server.MaxConcurrentJobs,
			"timeout":             s.cfg.Engine.Timeout.String(),
		},
	})
}

func (s *Server) handleCompress(w http.ResponseWriter, r *http.Request) {
	upload, ok := s.receiveUpload(w, r)
	if !ok {
		return
	}
	defer s.cleanupUpload(upload)

	quality := r.FormValue("quality")
	if quality == "" {
		quality = s.cfg.Compression.DefaultQuality
	}

	log := logger.WithFile(s.log, upload.name).WithField("quality", quality)

	if !s.acquireSlot(r.Context()) {
		log.Info("Client went away while waiting for a job slot")
		return
	}
	defer s.releaseSlot()

	outputPath := filepath.Join(s.cfg.GetTempDir(), upload.id+"_output_"+upload.name)
	defer s.removeTemp(outputPath)

	s.stats.IncrementJobsStarted()
	res, err := s.compressor.Compress(r.Context(), upload.path, quality, outputPath)
	if err != nil {
		s.stats.RecordFailure(upload.name, "compress", err)
		s.publish("job_failed", map[string]interface{}{
			"file":    upload.name,
			"kind":    compressor.KindOf(err).String(),
			"message": compressor.KindOf(err).Message(),
		})
		s.writeCompressionError(w, err)
		return
	}

	s.stats.RecordSuccess(res)
	s.publish("job_completed", map[string]interface{}{
		"job_id":          res.JobID,
		"file":            upload.name,
		"quality":         res.Profile,
		"original_size":   res.OriginalSize,
		"compressed_size": res.CompressedSize,
		"ratio":           res.RatioPercent,
		"duration_ms":     res.Duration().Milliseconds(),
	})

	f, err := os.Open(res.OutputPath)
	if err != nil {
		log.WithError(err).Error("Failed to open compressed output")
		s.writeError(w, compressor.KindOutputMissing.Message(), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "compressed_"+upload.name))
	w.Header().Set("X-Original-Size", strconv.FormatInt(res.OriginalSize, 10))
	w.Header().Set("X-Compressed-Size", strconv.FormatInt(res.CompressedSize, 10))
	w.Header().Set("X-Compression-Ratio", strconv.FormatFloat(res.RatioPercent, 'f', 1, 64))
	w.Header().Set("Content-Length", strconv.FormatInt(res.CompressedSize, 10))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, f); err != nil {
		log.WithError(err).Warn("Failed to stream compressed output")
	}
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	upload, ok := s.receiveUpload(w, r)
	if !ok {
		return
	}
	defer s.cleanupUpload(upload)

	report, err := s.inspector.Inspect(upload.path)
	if err != nil {
		logger.WithFileOperation(s.log, upload.name, "inspect").WithError(err).Info("Inspection rejected")
		s.writeCompressionError(w, err)
		return
	}

	// The stored name is an implementation detail.
	report.Path = upload.name
	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    report,
	})
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{
		"summary":  s.stats.GetSummary(),
		"snapshot": s.stats.Snapshot(),
	}
	if cr, ok := s.inspector.(inspector.CacheReporter); ok {
		data["metadata_cache"] = cr.GetCacheStats()
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    data,
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

// upload is a request file saved under a collision-free name.
type upload struct {
	id   string
	name string
	path string
	form *multipart.Form
}

func (s *Server) cleanupUpload(u *upload) {
	s.removeTemp(u.path)
	if u.form != nil {
		u.form.RemoveAll()
	}
}

// receiveUpload parses the multipart "file" field and saves it to the temp
// dir. On failure it has already written the response.
func (s *Server) receiveUpload(w http.ResponseWriter, r *http.Request) (*upload, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadSize)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if isTooLarge(err) {
			s.writeError(w, fmt.Sprintf("File too large. Maximum size is %s.", statistics.FormatBytes(s.cfg.Server.MaxUploadSize)), http.StatusRequestEntityTooLarge)
			return nil, false
		}
		s.writeError(w, "Invalid multipart request", http.StatusBadRequest)
		return nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		r.MultipartForm.RemoveAll()
		s.writeError(w, "No file provided", http.StatusBadRequest)
		return nil, false
	}
	defer file.Close()

	if header.Filename == "" {
		r.MultipartForm.RemoveAll()
		s.writeError(w, "No file selected", http.StatusBadRequest)
		return nil, false
	}
	if !strings.EqualFold(filepath.Ext(header.Filename), ".pdf") {
		r.MultipartForm.RemoveAll()
		s.writeError(w, "Only PDF files are allowed", http.StatusBadRequest)
		return nil, false
	}

	u := &upload{
		id:   uuid.NewString(),
		name: sanitizeFilename(header.Filename),
		form: r.MultipartForm,
	}
	u.path = filepath.Join(s.cfg.GetTempDir(), u.id+"_input_"+u.name)

	dst, err := os.OpenFile(u.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		s.cleanupUpload(u)
		s.log.WithError(err).Error("Failed to store upload")
		s.writeError(w, "Failed to store upload", http.StatusInternalServerError)
		return nil, false
	}
	_, copyErr := io.Copy(dst, file)
	closeErr := dst.Close()
	if copyErr != nil || closeErr != nil {
		s.cleanupUpload(u)
		s.log.WithError(errors.Join(copyErr, closeErr)).Error("Failed to store upload")
		s.writeError(w, "Failed to store upload", http.StatusInternalServerError)
		return nil, false
	}

	return u, true
}

func (s *Server) acquireSlot(ctx context.Context) bool {
	select {
	case s.jobSlots <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Server) releaseSlot() {
	<-s.jobSlots
}

// publishTransition runs on the compressing goroutine and must not block.
func (s *Server) publishTransition(job *compressor.Job, from, to compressor.State) {
	s.publish("job_state", map[string]interface{}{
		"job_id":  job.ID,
		"quality": job.Quality,
		"from":    from.String(),
		"to":      to.String(),
	})
}

// publish queues an event for websocket clients, dropping it when the queue
// is full.
func (s *Server) publish(messageType string, data interface{}) {
	select {
	case s.events <- WSMessage{Type: messageType, Data: data}:
	default:
		s.log.Debugf("Dropping %s event, queue full", messageType)
	}
}

func (s *Server) runBroadcaster() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.events:
			s.broadcastWSMessage(msg.Type, msg.Data)
		}
	}
}

func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	message := WSMessage{
		Type: messageType,
		Data: data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	// Writes on a connection must be serialized.
	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	for conn := range s.wsClients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			delete(s.wsClients, conn)
			conn.Close()
		}
	}
}

// statusForKind maps error kinds to HTTP status codes.
func statusForKind(kind compressor.Kind) int {
	switch kind {
	case compressor.KindInvalidInput, compressor.KindInvalidProfile:
		return http.StatusBadRequest
	case compressor.KindEngineNotFound:
		return http.StatusServiceUnavailable
	case compressor.KindEngineTimeout:
		return http.StatusGatewayTimeout
	case compressor.KindEngineExecutionFailed:
		return http.StatusUnprocessableEntity
	case compressor.KindCanceled:
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeCompressionError(w http.ResponseWriter, err error) {
	kind := compressor.KindOf(err)
	s.writeJSONStatus(w, statusForKind(kind), APIResponse{
		Success: false,
		Error:   kind.Message(),
		Data: ErrorDetail{
			Kind:      kind.String(),
			Retryable: kind.Retryable(),
		},
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	s.writeJSONStatus(w, http.StatusOK, data)
}

func (s *Server) writeJSONStatus(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSONStatus(w, statusCode, APIResponse{
		Success: false,
		Error:   message,
	})
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}

// sanitizeFilename keeps the base name and replaces anything outside a
// conservative character set.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}

	clean := strings.TrimLeft(b.String(), "._")
	if clean == "" || strings.EqualFold(clean, "pdf") {
		return "document.pdf"
	}
	return clean
}

func (s *Server) removeTemp(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.WithFile(s.log, path).WithError(err).Warn("Failed to remove temporary file")
	}
}
