// Package server exposes the steganography engine over HTTP.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xob0t/gosteg/pkg/carrier"
	"github.com/xob0t/gosteg/pkg/generator"
	"github.com/xob0t/gosteg/pkg/lsb"
	"github.com/xob0t/gosteg/pkg/payload"
)

// Config configures a Server.
type Config struct {
	Addr         string // listen address (default ":8080")
	MaxUpload    int64  // request body limit in bytes (default 64 MiB)
	MaxCarriers  int    // carrier store entries, 0 for unlimited
	MaxCoverSide int    // largest generated cover side (default 8192)
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.MaxUpload <= 0 {
		c.MaxUpload = 64 << 20
	}
	if c.MaxCoverSide <= 0 {
		c.MaxCoverSide = 8192
	}
	return c
}

// Server serves the encode/decode API and keeps uploaded carriers in memory.
type Server struct {
	cfg    Config
	store  *carrierStore
	logger *slog.Logger
}

// New creates a Server. A nil logger uses slog.Default.
func New(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Server{
		cfg:    cfg,
		store:  newCarrierStore(cfg.MaxCarriers),
		logger: logger,
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/info", s.handleInfo)
	mux.HandleFunc("POST /api/encode", s.handleEncode)
	mux.HandleFunc("POST /api/decode", s.handleDecode)
	mux.HandleFunc("POST /api/cover", s.handleCover)
	mux.HandleFunc("POST /api/carriers", s.handleUploadCarrier)
	mux.HandleFunc("GET /api/carriers", s.handleListCarriers)
	mux.HandleFunc("GET /api/carriers/{id}", s.handleGetCarrier)
	mux.HandleFunc("DELETE /api/carriers/{id}", s.handleDeleteCarrier)
	return s.logRequests(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("API server listening", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("API server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// RunServe parses serve flags and runs the server until SIGINT or SIGTERM.
func RunServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	var cfg Config
	var maxUploadMiB int64
	fs.StringVar(&cfg.Addr, "addr", envOr("GOSTEG_ADDR", ":8080"), "Listen address")
	fs.Int64Var(&maxUploadMiB, "max-upload", 64, "Request body limit in MiB")
	fs.IntVar(&cfg.MaxCarriers, "max-carriers", 256, "Stored carrier limit, 0 for unlimited")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg.MaxUpload = maxUploadMiB << 20

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return New(cfg, logger).Run(ctx)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// ── Carrier input ──

var errCarrierNotFound = errors.New("carrier not found")

// loadCarrier decodes the carrier named by the carrier_id form field or the
// uploaded "carrier" file.
func (s *Server) loadCarrier(r *http.Request) (*carrier.Image, string, error) {
	if id := r.FormValue("carrier_id"); id != "" {
		sc, ok := s.store.get(id)
		if !ok {
			return nil, "", fmt.Errorf("%w: %s", errCarrierNotFound, id)
		}
		im, err := carrier.Decode(bytes.NewReader(sc.Data))
		return im, sc.Name, err
	}

	file, header, err := r.FormFile("carrier")
	if err != nil {
		return nil, "", fmt.Errorf("no carrier: upload a \"carrier\" file or pass carrier_id")
	}
	defer file.Close()
	im, err := carrier.Decode(file)
	if err != nil {
		return nil, "", fmt.Errorf("decode carrier: %w", err)
	}
	return im, header.Filename, nil
}

func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUpload)
	if err := r.ParseMultipartForm(s.cfg.MaxUpload); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return fmt.Errorf("parse form: %w", err)
	}
	return nil
}

// ── Handlers ──

type payloadInfo struct {
	Present    bool   `json:"present"`
	Length     uint64 `json:"length,omitempty"`
	Checksum   string `json:"checksum,omitempty"`
	ChecksumOK bool   `json:"checksum_ok"`
	Error      string `json:"error,omitempty"`
}

type infoResponse struct {
	Name           string      `json:"name"`
	Format         string      `json:"format"`
	Width          uint32      `json:"width"`
	Height         uint32      `json:"height"`
	Channels       uint8       `json:"channels"`
	BitDepth       uint8       `json:"bit_depth"`
	BytesPerSample int         `json:"bytes_per_sample"`
	Capacity       uint64      `json:"capacity"`
	MaxPayload     uint64      `json:"max_payload"`
	Payload        payloadInfo `json:"payload"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if err := s.parseForm(w, r); err != nil {
		s.fail(w, r, err)
		return
	}
	im, name, err := s.loadCarrier(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	g := im.Geometry
	resp := infoResponse{
		Name:           name,
		Format:         string(im.Format),
		Width:          g.Width,
		Height:         g.Height,
		Channels:       g.Channels,
		BitDepth:       g.BitDepth,
		BytesPerSample: g.BytesPerSample(),
		Capacity:       im.Capacity(),
		MaxPayload:     im.MaxPayload(),
	}
	res, err := lsb.Decode(im.Samples, g, io.Discard)
	switch {
	case err == nil:
		resp.Payload = payloadInfo{Present: true, Length: res.PayloadLen, Checksum: hexCRC(res.Computed), ChecksumOK: true}
	case errors.Is(err, lsb.ErrStartMarkerNotFound):
	case errors.Is(err, lsb.ErrChecksumMismatch):
		resp.Payload = payloadInfo{Present: true, Length: res.PayloadLen, Checksum: hexCRC(res.Computed), Error: err.Error()}
	default:
		resp.Payload = payloadInfo{Present: true, Length: res.PayloadLen, Error: err.Error()}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEncode(w http.ResponseWriter, r *http.Request) {
	if err := s.parseForm(w, r); err != nil {
		s.fail(w, r, err)
		return
	}
	im, name, err := s.loadCarrier(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var data []byte
	if file, _, ferr := r.FormFile("payload"); ferr == nil {
		data, err = io.ReadAll(file)
		file.Close()
		if err != nil {
			s.fail(w, r, fmt.Errorf("read payload: %w", err))
			return
		}
	} else if text := r.FormValue("text"); text != "" {
		data = []byte(text)
	} else {
		s.fail(w, r, errors.New("no payload: upload a \"payload\" file or pass text"))
		return
	}

	if formBool(r, "zstd") {
		if data, err = payload.Compress(bytes.NewReader(data)); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	rep, err := lsb.Encode(im.Samples, im.Geometry, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var out bytes.Buffer
	if err := im.Encode(&out); err != nil {
		s.fail(w, r, fmt.Errorf("encode carrier: %w", err))
		return
	}

	s.logger.Info("payload embedded",
		"carrier", name,
		"bytes", rep.PayloadLen,
		"checksum", hexCRC(rep.Checksum),
		"capacity", im.Capacity(),
	)
	if rep.EndMarkerCollisions > 0 {
		s.logger.Warn("payload contains end marker", "carrier", name, "count", rep.EndMarkerCollisions)
	}

	h := w.Header()
	h.Set("Content-Type", im.Format.MIME())
	h.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="stego%s"`, im.Format.Ext()))
	h.Set("X-Gosteg-Checksum", hexCRC(rep.Checksum))
	h.Set("X-Gosteg-Payload-Length", strconv.FormatUint(rep.PayloadLen, 10))
	h.Set("X-Gosteg-End-Marker-Collisions", strconv.Itoa(rep.EndMarkerCollisions))
	w.Write(out.Bytes())
}

func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	if err := s.parseForm(w, r); err != nil {
		s.fail(w, r, err)
		return
	}
	im, name, err := s.loadCarrier(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	// A checksum mismatch still delivers the payload; the headers flag it.
	var buf bytes.Buffer
	res, err := lsb.Decode(im.Samples, im.Geometry, &buf)
	if err != nil && !errors.Is(err, lsb.ErrChecksumMismatch) {
		s.fail(w, r, err)
		return
	}
	data := buf.Bytes()
	if res.ChecksumOK && formBool(r, "zstd") {
		if data, err = payload.DecompressLimit(data, s.cfg.MaxUpload); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	if res.ChecksumOK {
		s.logger.Info("payload extracted", "carrier", name, "bytes", res.PayloadLen, "checksum", hexCRC(res.Computed))
	} else {
		s.logger.Warn("payload checksum mismatch", "carrier", name, "bytes", res.PayloadLen,
			"computed", hexCRC(res.Computed), "stored", hexCRC(res.Stored))
	}

	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Disposition", `attachment; filename="payload.bin"`)
	h.Set("X-Gosteg-Checksum", hexCRC(res.Computed))
	h.Set("X-Gosteg-Stored-Checksum", hexCRC(res.Stored))
	h.Set("X-Gosteg-Checksum-OK", strconv.FormatBool(res.ChecksumOK))
	h.Set("X-Gosteg-Payload-Length", strconv.FormatUint(res.PayloadLen, 10))
	w.Write(data)
}

type coverRequest struct {
	Format   string  `json:"format"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
	Color    string  `json:"color"`
	Label    string  `json:"label"`
	FontSize float64 `json:"font_size"`
	Depth    int     `json:"depth"`
	Gray     bool    `json:"gray"`
	Alpha    bool    `json:"alpha"`
}

func (s *Server) handleCover(w http.ResponseWriter, r *http.Request) {
	var req coverRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		s.fail(w, r, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.Format == "" {
		req.Format = string(carrier.FormatPNG)
	}
	format, err := carrier.ParseFormat(req.Format)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Width > s.cfg.MaxCoverSide || req.Height > s.cfg.MaxCoverSide {
		s.fail(w, r, fmt.Errorf("cover side exceeds %d pixels", s.cfg.MaxCoverSide))
		return
	}
	if req.Color == "" {
		req.Color = "noise"
	}

	cfg := generator.Config{
		Width:    req.Width,
		Height:   req.Height,
		Color:    req.Color,
		Label:    req.Label,
		FontSize: req.FontSize,
		Depth:    req.Depth,
		Gray:     req.Gray,
		Alpha:    req.Alpha,
	}
	var out bytes.Buffer
	if err := generator.GenerateToWriter(&out, format, cfg); err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", format.MIME())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="cover%s"`, format.Ext()))
	w.Write(out.Bytes())
}

func (s *Server) handleUploadCarrier(w http.ResponseWriter, r *http.Request) {
	if err := s.parseForm(w, r); err != nil {
		s.fail(w, r, err)
		return
	}
	file, header, err := r.FormFile("carrier")
	if err != nil {
		s.fail(w, r, errors.New("no carrier uploaded"))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		s.fail(w, r, fmt.Errorf("read carrier: %w", err))
		return
	}

	id, sc, err := s.store.add(header.Filename, data)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Debug("carrier stored", "id", id, "name", sc.Name, "geometry", sc.Geometry.String())
	writeJSON(w, http.StatusCreated, sc.info(id))
}

func (s *Server) handleListCarriers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.list())
}

func (s *Server) handleGetCarrier(w http.ResponseWriter, r *http.Request) {
	sc, ok := s.store.get(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", sc.Format.MIME())
	w.Write(sc.Data)
}

func (s *Server) handleDeleteCarrier(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.store.remove(id) {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

// ── Helpers ──

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes), errors.Is(err, lsb.ErrCapacityExceeded), errors.Is(err, payload.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, lsb.ErrUnsupportedCarrier):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, lsb.ErrStartMarkerNotFound),
		errors.Is(err, lsb.ErrEndMarkerNotFound),
		errors.Is(err, lsb.ErrChecksumTruncated),
		errors.Is(err, lsb.ErrChecksumMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errCarrierNotFound):
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	s.logger.Debug("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func formBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.FormValue(key))
	return v
}

func hexCRC(v uint32) string {
	return fmt.Sprintf("0x%08x", v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
