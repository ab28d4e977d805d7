package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/brightcart/identity/internal/auth"
	"github.com/brightcart/identity/internal/handlers"
	"github.com/brightcart/identity/internal/metrics"
	"github.com/brightcart/identity/internal/middleware"
	"github.com/brightcart/identity/internal/repositories"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	mfaHandler *handlers.MfaHandler,
	sessionHandler *handlers.SessionHandler,
	settingsHandler *handlers.SettingsHandler,
	lockoutHandler *handlers.LockoutHandler,
	tokenManager *auth.TokenManager,
	userRepo *repositories.UserRepository,
	sessions middleware.SessionValidator,
) {
	loginLimit := middleware.LoginRateLimit()
	otpLimit := middleware.OtpRateLimit()

	router.Handle("/metrics", metrics.Handler())

	// Public routes - the login flow
	router.With(middleware.RateLimitByIP(loginLimit)).Post("/auth/login", authHandler.Login)
	router.With(middleware.RateLimitByIP(loginLimit)).Post("/auth/mfa/complete", authHandler.CompleteMfa)
	router.With(middleware.RateLimitByIP(otpLimit)).Post("/auth/mfa/send-otp", authHandler.SendOtp)
	router.With(middleware.RateLimitByIP(loginLimit)).Post("/auth/refresh", authHandler.Refresh)

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(tokenManager, auth.TokenTypeAccess))
		r.Use(middleware.SessionActivity(sessions))
		r.Use(middleware.RateLimitByIP(middleware.APIRateLimit()))

		// MFA self-management
		r.Get("/mfa/status", mfaHandler.GetStatus)
		r.Post("/mfa/setup", mfaHandler.InitiateSetup)
		r.Post("/mfa/activate", mfaHandler.Activate)
		r.Post("/mfa/backup-codes", mfaHandler.RegenerateBackupCodes)
		r.Post("/mfa/disable", mfaHandler.Disable)
		r.With(middleware.RateLimitByIP(otpLimit)).Post("/mfa/disable/send-otp", mfaHandler.SendDisableOtp)

		// Session management
		r.Get("/sessions", sessionHandler.List)
		r.Delete("/sessions/{sessionID}", sessionHandler.Terminate)
		r.Post("/sessions/{sessionID}/terminate-others", sessionHandler.TerminateOthers)

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(userRepo, "admin"))

			r.Get("/admin/security-settings", settingsHandler.GetGlobal)
			r.Put("/admin/security-settings", settingsHandler.UpdateGlobal)
			r.Get("/admin/users/{userID}/security-settings", settingsHandler.GetEffective)
			r.Put("/admin/users/{userID}/security-settings", settingsHandler.Update)
			r.Delete("/admin/users/{userID}/security-settings", settingsHandler.Reset)

			r.Get("/admin/users/{userID}/lockout", lockoutHandler.Status)
			r.Post("/admin/users/{userID}/lockout", lockoutHandler.Lock)
			r.Delete("/admin/users/{userID}/lockout", lockoutHandler.Release)

			r.Put("/admin/users/{userID}/mfa/enforcement", mfaHandler.SetEnforcement)
		})
	})
}
