package dashboard

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"path/filepath"
	"time"

	"github.com/KaramelBytes/dqmonitor/internal/analysis"
	"github.com/KaramelBytes/dqmonitor/internal/predictor"
	"github.com/KaramelBytes/dqmonitor/internal/utils"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

//go:embed templates/*.html
var templateFS embed.FS

// DefaultMaxAnomalyRows caps the anomaly listing on the dashboard.
const DefaultMaxAnomalyRows = 1000

// Options configures a Server.
type Options struct {
	// DataFile is the order file name, or an absolute path checked alone.
	DataFile string
	Analysis analysis.Options
	// MaxAnomalyRows limits the listed anomalies; zero means DefaultMaxAnomalyRows.
	MaxAnomalyRows int
	// Candidates expands a relative DataFile into lookup paths.
	// Defaults to utils.DataFileCandidates.
	Candidates func(name string) []string
	// Metrics, when set, is served at /metrics.
	Metrics http.Handler
	Now     func() time.Time
}

// Server renders the prediction form and the data-quality dashboard.
type Server struct {
	predictor predictor.Predictor
	opts      Options
	tmpl      *template.Template
	mux       *http.ServeMux
	logger    zerolog.Logger
}

// New builds a Server around p. The order file is located and re-read on
// every dashboard render.
func New(p predictor.Predictor, opts Options) (*Server, error) {
	if p == nil {
		return nil, errors.New("predictor is required")
	}
	if opts.DataFile == "" {
		return nil, errors.New("data file name is required")
	}
	if opts.Candidates == nil {
		opts.Candidates = utils.DataFileCandidates
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxAnomalyRows <= 0 {
		opts.MaxAnomalyRows = DefaultMaxAnomalyRows
	}
	if opts.Analysis.AnomalyThreshold <= 0 {
		opts.Analysis.AnomalyThreshold = analysis.DefaultThreshold
	}
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	s := &Server{
		predictor: p,
		opts:      opts,
		tmpl:      tmpl,
		mux:       http.NewServeMux(),
		logger:    log.With().Str("component", "dashboard").Logger(),
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("POST /predict", s.handlePredict)
	s.mux.HandleFunc("GET /dashboard", s.handleDashboard)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	if s.opts.Metrics != nil {
		s.mux.Handle("GET /metrics", s.opts.Metrics)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)
	s.logger.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", rec.status).
		Dur("elapsed", time.Since(start)).
		Msg("request served")
}

// dataCandidates lists where the order file is looked for.
func (s *Server) dataCandidates() []string {
	if filepath.IsAbs(s.opts.DataFile) {
		return []string{s.opts.DataFile}
	}
	return s.opts.Candidates(s.opts.DataFile)
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.tmpl.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error().Err(err).Str("template", name).Msg("render failed")
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
