package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"

	"github.com/nfowler/go-realm/internal/config"
	"github.com/nfowler/go-realm/internal/server"
)

// RealmAPI serves the websocket endpoint for game clients plus a small
// operator surface for inspecting realm state and intervening in
// transfers.
type RealmAPI struct {
	log            *log.Logger
	rs             *server.RealmServer
	mux            *http.Server
	signingKey     []byte
	allowedOrigins []string

	adminUser         string
	adminPasswordHash string
}

func NewRealmAPI(logger *log.Logger, rs *server.RealmServer, mux *http.ServeMux, cfg *config.Config) *RealmAPI {
	s := &RealmAPI{
		log:               logger,
		rs:                rs,
		signingKey:        cfg.SigningKey,
		allowedOrigins:    cfg.AllowedOrigins,
		adminUser:         cfg.AdminUser,
		adminPasswordHash: cfg.AdminPasswordHash,
	}

	mux.HandleFunc("GET /ws", s.serveWs)
	mux.HandleFunc("POST /api/admin/login", s.login)
	mux.Handle("GET /api/admin/users", s.authMiddleware(s.listUsers))
	mux.Handle("GET /api/admin/transactions", s.authMiddleware(s.listTransactions))
	mux.Handle("GET /api/admin/offers", s.authMiddleware(s.listOffers))
	mux.Handle("POST /api/admin/transactions/interrupt", s.authMiddleware(s.interruptTransaction))
	mux.Handle("POST /api/admin/notice", s.authMiddleware(s.postNotice))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *RealmAPI) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *RealmAPI) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}

func (s *RealmAPI) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				var panicError error
				switch e := err.(type) {
				case error:
					panicError = e
				default:
					panicError = fmt.Errorf("%v", e)
				}
				s.log.Printf("panic: %v", panicError)
				errResp := NewInternalServerError(panicError)
				w.Header().Set("Connection", "close")
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}()

		next.ServeHTTP(w, r)
	})
}
