package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterAuthRoutes registers the authentication routes. The resend
// limiter throttles OTP resends per client address. Only logout sits
// behind the session guard; every other auth route must work without a
// session.
func RegisterAuthRoutes(r chi.Router, handler *AuthHandler, resendLimiter, sessionGuard func(next http.Handler) http.Handler) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", handler.Register)
		r.Post("/verify-otp", handler.VerifyOTP)
		r.With(resendLimiter).Post("/resend-otp", handler.ResendOTP)
		r.Post("/login", handler.Login)

		r.Route("/forgot-password", func(r chi.Router) {
			r.Post("/request", handler.ForgotPassword)
			r.Post("/verify", handler.VerifyResetOTP)
			r.Post("/reset", handler.ResetPassword)
		})

		r.With(sessionGuard).Post("/logout", handler.Logout)
	})
}

// RegisterVaultRoutes registers the vault entry routes, all protected by
// the session guard.
func RegisterVaultRoutes(r chi.Router, handler *VaultHandler, sessionGuard func(next http.Handler) http.Handler) {
	r.Route("/vault", func(r chi.Router) {
		r.Use(sessionGuard)

		r.Post("/create", handler.CreateEntry)
		r.Put("/update", handler.UpdateEntry)
		r.Delete("/soft-delete/{id}", handler.DeleteEntry)
		r.Get("/list", handler.ListEntries)
	})
}

// RegisterActivityRoutes registers the audit trail routes
func RegisterActivityRoutes(r chi.Router, handler *ActivityHandler, sessionGuard func(next http.Handler) http.Handler) {
	r.Route("/activity", func(r chi.Router) {
		r.Use(sessionGuard)

		r.Get("/", handler.ListActivity)
	})
}
