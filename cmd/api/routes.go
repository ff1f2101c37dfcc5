package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/pawtrait/pawtrait-api/internal/domain/billing"
	"github.com/pawtrait/pawtrait-api/internal/domain/generation"
	"github.com/pawtrait/pawtrait-api/internal/domain/payment"
	"github.com/pawtrait/pawtrait-api/internal/middleware"
	pkgresponse "github.com/pawtrait/pawtrait-api/internal/pkg/response"
)

const version = "1.0.0"

type routes struct {
	generation     *generation.Handler
	payment        *payment.Handler
	billing        *billing.Handler
	auth           func(http.Handler) http.Handler
	allowedOrigins []string
	uploadsDir     string // served under /uploads when set
}

func newRouter(rt routes) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(rt.allowedOrigins))
	r.Use(chimw.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})

	if rt.uploadsDir != "" {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(rt.uploadsDir))))
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/config", rt.payment.PublicConfig)
		r.Post("/webhook", rt.payment.Webhook)

		r.Mount("/checkout", rt.payment.Routes(rt.auth))
		r.Mount("/billing", rt.billing.Routes(rt.auth))
		r.Mount("/", rt.generation.Routes(rt.auth))
	})

	return r
}
