/**
 * @description
 * This file sets up the HTTP router for the settlement service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies the
 * middleware stack: logging, panic recovery, timeouts, CORS, JWT auth for caller-facing
 * routes, and the internal API key for service-to-service provisioning routes. Webhook
 * endpoints are mounted without auth middleware; they authenticate by body signature
 * inside the handler.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for chi.
 */

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SettlementRoutes creates and returns the router for the settlement service.
func SettlementRoutes(h *SettlementHandlers, jwksURL, internalAPIKey, allowedOrigins string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins(allowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Internal-API-Key"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require platform JWT authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		// AP2 escrow lifecycle
		r.Post("/payments/ap2/initiate", h.InitiateEscrowHandler)
		r.Post("/payments/ap2/complete", h.CompleteEscrowHandler)
		r.Get("/payments/ap2/escrows/{escrowID}", h.GetEscrowHandler)

		// Direct wallet-to-wallet transfer
		r.Post("/payments/transfer", h.DirectTransferHandler)

		// Wallet queries and funding
		r.Get("/wallets/{walletID}", h.GetWalletHandler)
		r.Post("/wallets/{walletID}/fund", h.FundWalletHandler)
		r.Get("/wallets/{walletID}/transactions", h.ListWalletTransactionsHandler)

		// Outcome verification
		r.Get("/quality/outcomes/agreements/{agreementID}", h.GetAgreementHandler)
		r.Post("/quality/outcomes/agreements/{agreementID}/verify", h.VerifyOutcomeHandler)
	})

	// Group routes restricted to internal services.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))

		r.Post("/wallets", h.CreateWalletHandler)
		r.Post("/quality/outcomes/agreements", h.CreateAgreementHandler)
	})

	// Webhook endpoints: signature-authenticated inside the handlers.
	r.Post("/webhooks/x402", h.X402WebhookHandler)
	r.Post("/webhooks/stripe/payments", h.StripePaymentsWebhookHandler)
	r.Post("/webhooks/stripe/accounts", h.StripeAccountsWebhookHandler)

	return r
}

// corsOrigins splits the configured comma-separated origin list, defaulting to the
// wildcard schemes when nothing is configured.
func corsOrigins(allowedOrigins string) []string {
	if strings.TrimSpace(allowedOrigins) == "" {
		return []string{"https://*", "http://*"}
	}
	var origins []string
	for _, origin := range strings.Split(allowedOrigins, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
