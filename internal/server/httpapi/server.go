// Package httpapi exposes the NoteKeeper HTTP API: authentication, sync,
// note reads and attachment upload confirmation. The websocket endpoint is
// mounted alongside the API routes but authenticates and logs on its own.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/notekeeper/internal/logging"
	"github.com/dmitrijs2005/notekeeper/internal/server/models"
	"github.com/dmitrijs2005/notekeeper/internal/server/services"
)

type userSvc interface {
	Register(ctx context.Context, username string, password string) (*services.TokenPair, error)
	Login(ctx context.Context, username string, password string) (*services.TokenPair, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.TokenPair, error)
}

type noteSvc interface {
	Get(ctx context.Context, userID string, id string) (*models.Note, error)
	Sync(ctx context.Context, userID string, originConnID string,
		pending []*models.NotePush, pendingAttachments []*models.Attachment, sinceVersion int64) (
		[]*models.PushResult, []*models.Note, []*models.Attachment, []*models.UploadTask, int64, error)
	MarkUploaded(ctx context.Context, userID string, id string) error
	GetAttachmentURL(ctx context.Context, userID string, id string) (string, error)
}

type Server struct {
	address   string
	users     userSvc
	notes     noteSvc
	ws        http.HandlerFunc
	logger    logging.Logger
	jwtSecret []byte
}

func NewServer(address string, l logging.Logger, us userSvc, ns noteSvc, ws http.HandlerFunc, secretKey string) (*Server, error) {
	return &Server{
		address:   address,
		logger:    l.With("module", "http_server"),
		users:     us,
		notes:     ns,
		ws:        ws,
		jwtSecret: []byte(secretKey),
	}, nil
}

func (s *Server) routes() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/register", s.handleRegister)
	api.HandleFunc("POST /api/login", s.handleLogin)
	api.HandleFunc("POST /api/refresh", s.handleRefresh)
	api.Handle("POST /api/sync", s.withAuth(http.HandlerFunc(s.handleSync)))
	api.Handle("GET /api/notes/{id}", s.withAuth(http.HandlerFunc(s.handleGetNote)))
	api.Handle("POST /api/attachments/{id}/uploaded", s.withAuth(http.HandlerFunc(s.handleMarkUploaded)))
	api.Handle("GET /api/attachments/{id}", s.withAuth(http.HandlerFunc(s.handleAttachmentURL)))
	api.HandleFunc("GET /healthz", s.handleHealth)

	mux := http.NewServeMux()
	if s.ws != nil {
		// The upgrade hijacks the connection, so the websocket route skips
		// the wrapping response writer the logging middleware installs.
		mux.HandleFunc("GET /ws", s.ws)
	}
	mux.Handle("/", s.withLogging(api))
	return mux
}

func (s *Server) Run(ctx context.Context) error {

	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "error stopping server", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	// starts accepting incoming connections
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
