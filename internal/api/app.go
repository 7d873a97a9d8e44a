package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/staffroom/staffroom/internal/config"
	"github.com/staffroom/staffroom/internal/database"
	"github.com/staffroom/staffroom/internal/identity"
	"github.com/staffroom/staffroom/internal/relay"
	"github.com/staffroom/staffroom/internal/stats"
)

// StaffroomApp serves the relay's outward HTTP surface: the websocket
// upgrade, the attachment upload endpoint, and stored file downloads.
type StaffroomApp struct {
	log            *log.Logger
	db             database.AttachmentRepository
	relay          *relay.Relay
	verifier       identity.Verifier
	stats          stats.StatsProvider
	mux            *http.Server
	uploadDir      string
	baseFileURL    string
	allowedOrigins []string
}

func NewStaffroomApp(mux *http.ServeMux, logger *log.Logger, rl *relay.Relay, verifier identity.Verifier,
	db database.AttachmentRepository, sp stats.StatsProvider, cfg *config.Config) *StaffroomApp {
	s := &StaffroomApp{
		log:            logger,
		db:             db,
		relay:          rl,
		verifier:       verifier,
		stats:          sp,
		uploadDir:      cfg.UploadDir,
		baseFileURL:    cfg.BaseFileURL,
		allowedOrigins: cfg.AllowedOrigins,
	}

	// /ws carries no middleware: the connection authenticates in-band
	// with its first frame
	mux.HandleFunc("GET /ws", s.serveWs)
	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.Handle("POST /files", s.authMiddleware(s.uploadFile))
	mux.Handle("GET /uploads", s.authMiddleware(s.listUploads))
	mux.Handle("DELETE /uploads/{id}", s.authMiddleware(s.deleteUpload))
	mux.HandleFunc("GET /files/{name}", s.serveFile)

	var h http.Handler = mux
	h = handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept", "Authorization"}),
		handlers.AllowCredentials(),
	)(h)
	h = handlers.CombinedLoggingHandler(logger.Writer(), h)
	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *StaffroomApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *StaffroomApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
