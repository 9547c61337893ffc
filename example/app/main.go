// Command app is a minimal application protected by the OpenID
// Connect authentication mechanism.
//
// Configuration through environment variables:
//
//	ISSUER        provider uri, e.g. http://localhost:9998/
//	CLIENT_ID     client id registered at the provider
//	CLIENT_SECRET client secret
//	PORT          listen port, default 5556
package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/eclipse-ee4j/soteria-sub000/pkg/mechanism"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	port := os.Getenv("PORT")
	if port == "" {
		port = "5556"
	}

	auth, err := mechanism.NewMechanism(mechanism.Config{
		ProviderURI:                os.Getenv("ISSUER"),
		ClientID:                   os.Getenv("CLIENT_ID"),
		ClientSecret:               os.Getenv("CLIENT_SECRET"),
		RedirectURI:                mechanism.BaseURLPlaceholder + "/auth/callback",
		UseNonce:                   true,
		UseSession:                 true,
		InsecureCookies:            true,
		TokenAutoRefresh:           true,
		RedirectToOriginalResource: true,
		Logout: mechanism.LogoutConfig{
			NotifyProvider: true,
			RedirectURI:    "http://localhost:" + port + "/",
		},
	}, mechanism.WithMechanismLogger(logger))
	if err != nil {
		logger.Error("mechanism setup failed", "error", err)
		os.Exit(1)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID, middleware.Recoverer, middleware.Timeout(30*time.Second))

	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(false))
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			if subject, ok := mechanism.SubjectFromContext(r.Context()); ok {
				w.Write([]byte("hello " + subject.Name + "\n"))
				return
			}
			w.Write([]byte("hello anonymous, visit /profile to log in\n"))
		})
		r.Get("/auth/callback", func(w http.ResponseWriter, r *http.Request) {
			// reached when RedirectToOriginalResource is off
			http.Redirect(w, r, "/profile", http.StatusFound)
		})
	})

	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(true))
		r.Get("/profile", func(w http.ResponseWriter, r *http.Request) {
			subject, ok := mechanism.SubjectFromContext(r.Context())
			if !ok {
				http.Error(w, "no subject", http.StatusInternalServerError)
				return
			}
			profile := map[string]any{
				"name":   subject.Name,
				"groups": subject.Groups,
				"sub":    subject.Context.Subject(),
			}
			if info, err := auth.Userinfo(r.Context(), r, subject.Context); err == nil {
				profile["email"] = info.Email
			} else {
				logger.Warn("userinfo fetch failed", "error", err)
			}
			w.Header().Set("content-type", "application/json")
			json.NewEncoder(w).Encode(profile)
		})
		r.Get("/logout", func(w http.ResponseWriter, r *http.Request) {
			if _, err := auth.Logout(w, r); err != nil {
				logger.Warn("logout failed", "error", err)
			}
		})
	})

	logger.Info("listening", "addr", ":"+port)
	if err := http.ListenAndServe(":"+port, router); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
