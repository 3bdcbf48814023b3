// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/jeranaias/studio/internal/config"
	"github.com/jeranaias/studio/internal/sandbox"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultPort is the default port for the file proxy server.
	DefaultPort = config.DefaultPort

	// MaxRequestBodySize caps JSON request bodies (write, import-folder).
	MaxRequestBodySize = 10 * 1024 * 1024

	// DefaultMaxUploadSize caps multipart uploads to /api/files/import.
	DefaultMaxUploadSize = 512 * 1024 * 1024

	// SigninTimeout bounds the `ollama signin` subprocess.
	SigninTimeout = 2 * time.Minute
)

// signinURLPattern finds the device authorisation link printed by
// `ollama signin`.
var signinURLPattern = regexp.MustCompile(`https://ollama\.com/[^\s)]+`)

// ============================================================================
// SERVER
// ============================================================================

// Upstream relays raw requests to the model server. *ollama.Client
// satisfies it.
type Upstream interface {
	Forward(ctx context.Context, method, path string, body io.Reader) (*http.Response, error)
}

// SigninRunner runs the model server's sign-in command and returns its
// combined output.
type SigninRunner func(ctx context.Context) (string, error)

// Options configures a Server.
type Options struct {
	Port           int
	AllowedOrigins []string
	RateLimit      float64 // requests per second per client IP; 0 disables
	RateBurst      int
	TempDir        string // multipart uploads land here before import
	MaxUploadSize  int64
	Version        string
	Logger         *log.Logger
}

// OptionsFromConfig maps the [server] and [sandbox] sections onto Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Port:           cfg.Server.Port,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
		TempDir:        cfg.Sandbox.TempDir,
	}
}

// Server exposes the sandbox and the model server over HTTP.
type Server struct {
	store    *sandbox.Store
	upstream Upstream
	opts     Options
	logger   *log.Logger
	limiter  *RateLimiter
	signin   SigninRunner

	router *http.ServeMux
	server *http.Server

	startTime time.Time
	requests  atomic.Int64

	mu   sync.Mutex
	done chan struct{}
}

// New creates a Server. upstream may be nil, in which case the model
// server routes answer 503.
func New(store *sandbox.Store, upstream Upstream, opts Options) *Server {
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	if opts.TempDir == "" {
		opts.TempDir = filepath.Join(os.TempDir(), "studio-uploads")
	}
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = DefaultMaxUploadSize
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	s := &Server{
		store:     store,
		upstream:  upstream,
		opts:      opts,
		logger:    logger,
		signin:    RunOllamaSignin,
		router:    http.NewServeMux(),
		startTime: time.Now(),
	}
	if opts.RateLimit > 0 {
		s.limiter = NewRateLimiter(opts.RateLimit, opts.RateBurst)
	}
	s.setupRoutes()
	return s
}

// SetSigninRunner replaces the command used by /api/ollama/signin.
func (s *Server) SetSigninRunner(fn SigninRunner) {
	if fn != nil {
		s.signin = fn
	}
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.opts.Port
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /api/config/directory", s.handleDirectory)

	s.router.HandleFunc("GET /api/files/list", s.handleList)
	s.router.HandleFunc("GET /api/files/read", s.handleRead)
	s.router.HandleFunc("POST /api/files/write", s.handleWrite)
	s.router.HandleFunc("DELETE /api/files/delete", s.handleDelete)
	s.router.HandleFunc("POST /api/files/create-directory", s.handleCreateDirectory)
	s.router.HandleFunc("POST /api/files/import", s.handleImport)
	s.router.HandleFunc("POST /api/files/import-folder", s.handleImportFolder)
	s.router.HandleFunc("GET /api/files/find", s.handleFind)

	s.router.HandleFunc("POST /api/chat", s.handleProxy("/api/chat"))
	s.router.HandleFunc("GET /api/tags", s.handleProxy("/api/tags"))
	s.router.HandleFunc("POST /api/ollama/signin", s.handleSignin)

	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	middlewares := []func(http.Handler) http.Handler{
		RecoveryMiddleware(s.logger),
		LoggingMiddleware(s.logger),
		SecurityHeadersMiddleware(),
		CORSMiddleware(DefaultCORSConfig(s.opts.AllowedOrigins...)),
	}
	if s.limiter != nil {
		middlewares = append(middlewares, RateLimitMiddleware(s.limiter))
	}
	counted := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		s.router.ServeHTTP(w, r)
	})
	return Chain(middlewares...)(counted)
}

// ============================================================================
// CONFIG
// ============================================================================

func (s *Server) handleDirectory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"directory":    s.store.Name(),
		"absolutePath": s.store.Root(),
	})
}

// ============================================================================
// FILES
// ============================================================================

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.List(r.URL.Query().Get("path"))
	if err != nil {
		s.sandboxError(w, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	content, err := s.store.Read(path)
	if err != nil {
		s.sandboxError(w, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"content": content})
}

// WriteRequest is the body of POST /api/files/write.
type WriteRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Mode    string `json:"mode"`
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req WriteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		writeError(w, http.StatusForbidden, "Access denied")
		return
	}
	mode, err := sandbox.ParseWriteMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.Write(req.Path, req.Content, mode); err != nil {
		s.sandboxError(w, err, http.StatusForbidden)
		return
	}
	s.logger.Printf("SANDBOX_WRITE | path=%s mode=%s bytes=%d", req.Path, modeName(mode), len(req.Content))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}
	if err := s.store.Delete(path); err != nil {
		s.sandboxError(w, err, http.StatusNotFound)
		return
	}
	s.logger.Printf("SANDBOX_DELETE | path=%s", path)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleCreateDirectory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	if err := s.store.CreateDir(req.Path); err != nil {
		s.sandboxError(w, err, http.StatusForbidden)
		return
	}
	s.logger.Printf("SANDBOX_MKDIR | path=%s", req.Path)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "path": req.Path})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadSize)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	tempPath, err := s.spool(file)
	if err != nil {
		s.logger.Printf("IMPORT_FAILED | stage=spool error=%v", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	dest := strings.TrimSpace(r.FormValue("destinationName"))
	if dest == "" {
		dest = filepath.Base(header.Filename)
	}

	rel, err := s.store.ImportFile(tempPath, dest)
	if err != nil {
		s.sandboxError(w, err, http.StatusForbidden)
		return
	}
	s.logger.Printf("SANDBOX_IMPORT | path=%s bytes=%d", rel, header.Size)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "path": rel})
}

// spool copies an upload into the temp directory and returns its path.
func (s *Server) spool(src io.Reader) (string, error) {
	if err := os.MkdirAll(s.opts.TempDir, 0700); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.opts.TempDir, "upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("store upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("store upload: %w", err)
	}
	return tmp.Name(), nil
}

// ImportFolderRequest is the body of POST /api/files/import-folder.
type ImportFolderRequest struct {
	SourcePath      string `json:"sourcePath"`
	DestinationName string `json:"destinationName"`
}

func (s *Server) handleImportFolder(w http.ResponseWriter, r *http.Request) {
	var req ImportFolderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SourcePath == "" || req.DestinationName == "" {
		writeError(w, http.StatusBadRequest, "sourcePath and destinationName are required")
		return
	}
	if info, err := os.Stat(req.SourcePath); err != nil || !info.IsDir() {
		writeError(w, http.StatusBadRequest, "source folder does not exist")
		return
	}

	rel, n, err := s.store.ImportDirectory(req.SourcePath, req.DestinationName)
	if err != nil {
		s.sandboxError(w, err, http.StatusForbidden)
		return
	}
	s.logger.Printf("SANDBOX_IMPORT | path=%s files=%d source=%s", rel, n, req.SourcePath)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "path": rel, "files": n})
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	matches, err := s.store.Find(r.URL.Query().Get("pattern"))
	if err != nil {
		if errors.Is(err, doublestar.ErrBadPattern) {
			writeError(w, http.StatusBadRequest, "invalid pattern")
			return
		}
		s.sandboxError(w, err, http.StatusForbidden)
		return
	}
	if matches == nil {
		matches = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches})
}

// sandboxError maps a sandbox failure onto a status code. Rejected paths
// use rejectedStatus: reads report them as 404, writes as 403.
func (s *Server) sandboxError(w http.ResponseWriter, err error, rejectedStatus int) {
	switch sandbox.KindOf(err) {
	case sandbox.KindPathRejected:
		s.logger.Printf("SANDBOX_REJECTED | error=%v", err)
		if rejectedStatus == http.StatusNotFound {
			writeError(w, http.StatusNotFound, "Not found")
		} else {
			writeError(w, rejectedStatus, "Access denied")
		}
	case sandbox.KindNotFound:
		writeError(w, http.StatusNotFound, "Not found")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func modeName(m sandbox.WriteMode) string {
	if m == sandbox.Append {
		return "append"
	}
	return "write"
}

// ============================================================================
// MODEL SERVER
// ============================================================================

// handleProxy relays a request to the model server and streams the reply
// back chunk by chunk.
func (s *Server) handleProxy(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.upstream == nil {
			writeError(w, http.StatusServiceUnavailable, "model server is not configured")
			return
		}

		var body io.Reader
		if r.Method != http.MethodGet {
			body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
		}

		resp, err := s.upstream.Forward(r.Context(), r.Method, path, body)
		if err != nil {
			if r.Context().Err() == nil {
				s.logger.Printf("PROXY_FAILED | path=%s error=%v", path, err)
				writeError(w, http.StatusBadGateway, err.Error())
			}
			return
		}
		defer resp.Body.Close()

		if ct := resp.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.WriteHeader(resp.StatusCode)

		if err := copyFlushing(w, resp.Body); err != nil && r.Context().Err() == nil {
			s.logger.Printf("PROXY_INTERRUPTED | path=%s error=%v", path, err)
		}
	}
}

// copyFlushing copies src to w, flushing after every read.
func copyFlushing(w http.ResponseWriter, src io.Reader) error {
	rc := http.NewResponseController(w)
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			// Writers that cannot flush still get the data at the end.
			_ = rc.Flush()
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// SigninResponse is the body returned by /api/ollama/signin.
type SigninResponse struct {
	Success bool   `json:"success"`
	AuthURL string `json:"authUrl,omitempty"`
	Error   string `json:"error,omitempty"`
	Output  string `json:"output"`
}

func (s *Server) handleSignin(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), SigninTimeout)
	defer cancel()

	output, err := s.signin(ctx)
	resp := SigninResponse{Output: output}

	if url := SigninURL(output); url != "" {
		resp.Success = true
		resp.AuthURL = url
		s.logger.Printf("SIGNIN_URL | url=%s", url)
	} else if err != nil {
		resp.Error = err.Error()
		s.logger.Printf("SIGNIN_FAILED | error=%v", err)
	} else {
		resp.Error = "No authentication URL found"
		s.logger.Printf("SIGNIN_FAILED | error=no_url")
	}
	writeJSON(w, http.StatusOK, resp)
}

// SigninURL returns the first authorisation link in the output of
// `ollama signin`, or "".
func SigninURL(output string) string {
	return signinURLPattern.FindString(output)
}

// RunOllamaSignin runs `ollama signin` and returns its combined output.
func RunOllamaSignin(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "ollama", "signin").CombinedOutput()
	return string(out), err
}

// ============================================================================
// HEALTH
// ============================================================================

// HealthResponse is the body returned by /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Sandbox  string `json:"sandbox"`
	Uptime   string `json:"uptime"`
	Requests int64  `json:"requests"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Version:  s.opts.Version,
		Sandbox:  s.store.Root(),
		Uptime:   time.Since(s.startTime).Round(time.Second).String(),
		Requests: s.requests.Load(),
	})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on localhost and serves until Shutdown. It returns
// http.ErrServerClosed after a clean shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", s.opts.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.done = make(chan struct{})
	srv, done := s.server, s.done
	s.mu.Unlock()

	if s.limiter != nil {
		go s.sweepLimiter(done)
	}

	s.logger.Printf("SERVER_START | addr=%s sandbox=%s version=%s", ln.Addr(), s.store.Root(), s.opts.Version)
	return srv.Serve(ln)
}

func (s *Server) sweepLimiter(done <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if n := s.limiter.Cleanup(); n > 0 {
				s.logger.Printf("RATE_LIMIT_SWEEP | removed=%d", n)
			}
		}
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.server, s.done
	s.server, s.done = nil, nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	close(done)
	s.logger.Printf("SERVER_SHUTDOWN | requests=%d uptime=%s", s.requests.Load(), time.Since(s.startTime).Round(time.Second))
	return srv.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// decodeBody decodes a size-capped JSON body. It answers 415 unless the
// request declares application/json, so a cross-site form or text/plain
// post cannot reach a handler, and 400 when the body does not decode.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		writeError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}
