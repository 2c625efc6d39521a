// Package httpapi is the inbound HTTP surface: schedule registration, voice
// asset upload/selection and serving, and reminder-log export. It performs
// no scheduling logic itself; everything is delegated to the registry and
// the store.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"medremind/internal/reminder"
	"medremind/pkg/logx"
)

type Config struct {
	Addr       string
	BaseURL    string // public prefix for generated asset URLs
	UploadsDir string
	VoicesDir  string
}

// Registrar is the slice of the schedule registry the API needs.
type Registrar interface {
	Register(reg reminder.Registration) ([]string, error)
}

// LogExporter is the slice of the store the export endpoint needs.
type LogExporter interface {
	ExportCSV(ctx context.Context, w io.Writer) error
}

type Server struct {
	cfg      Config
	registry Registrar
	exporter LogExporter
	log      logx.Logger

	srv *http.Server
}

func New(cfg Config, registry Registrar, exporter LogExporter, log logx.Logger) (*Server, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	for _, dir := range []string{cfg.UploadsDir, cfg.VoicesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	s := &Server{cfg: cfg, registry: registry, exporter: exporter, log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/api/schedule", s.handleSchedule)
	r.Get("/api/voice_files", s.handleVoiceFiles)
	r.Get("/api/export_csv", s.handleExportCSV)
	r.Get("/uploads/{file}", s.serveAsset(cfg.UploadsDir))
	r.Get("/voices/{file}", s.serveAsset(cfg.VoicesDir))

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) Start() {
	go func() {
		s.log.Info("http api listening", logx.String("addr", s.cfg.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("http api stopped", logx.Err(err))
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
