package api

import (
	"net/http"
	"time"

	"github.com/dom/livechat/internal/api/handlers"
	"github.com/dom/livechat/internal/api/middleware"
	"github.com/dom/livechat/internal/config"
	applog "github.com/dom/livechat/internal/log"
	"github.com/dom/livechat/internal/metrics"
	"github.com/dom/livechat/internal/service"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// NewRouter wires the REST API, the websocket gateway and the operational
// endpoints. The returned limiter sweeps idle clients while running and
// should be stopped on shutdown.
func NewRouter(services *service.Services, gateway http.Handler, cfg *config.Config) (http.Handler, *middleware.RateLimiter) {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(applog.Component("http")))
	r.Use(chiMiddleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	authHandler := handlers.NewAuthHandler(services.Auth, handlers.CookieConfig{
		Domain:     cfg.CookieDomain,
		Secure:     cfg.SecureCookies,
		AccessTTL:  cfg.AccessTokenTTL,
		RefreshTTL: cfg.RefreshTokenTTL,
	})
	chatHandler := handlers.NewChatHandler(services.Chat)

	perMinute := cfg.AuthRequestsPerMinute
	if perMinute <= 0 {
		perMinute = 30
	}
	authLimiter := middleware.NewRateLimiter(rate.Limit(float64(perMinute)/60), perMinute, 10*time.Minute)
	go authLimiter.Run()

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(authLimiter))
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)
		})
		r.Post("/logout", authHandler.Logout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(services.Auth))
			r.Get("/me", authHandler.Me)
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(services.Auth))
		r.Get("/user/chats", chatHandler.List)
		r.Post("/", chatHandler.Create)
		r.Get("/{chatId}/messages", chatHandler.Messages)
	})

	// The gateway authenticates during its own handshake.
	r.Get("/ws", gateway.ServeHTTP)

	return r, authLimiter
}
