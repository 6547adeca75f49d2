// Package handler exposes the REST and websocket surface over the service
// layer.
package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/efreitasn/papertrader/internal/service"
)

// WSHandler serves the websocket event stream. Nil disables the route.
type WSHandler interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// NewRouter creates a chi router with all routes registered, request logging,
// and Content-Type validation middleware.
func NewRouter(
	orders *service.OrderManager,
	positions *service.PositionManager,
	risk *service.RiskManager,
	ws WSHandler,
	logger *slog.Logger,
) chi.Router {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(requestLogging(logger))
	r.Use(contentTypeJSON)

	orderH := NewOrderHandler(orders)
	positionH := NewPositionHandler(positions)
	riskH := NewRiskHandler(risk, positions)

	// Health check.
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", orderH.CreateOrder)
		r.Get("/", orderH.ListOrders)
		r.Get("/stats", orderH.Stats)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		r.Get("/trades/", orderH.ListTrades)

		r.Route("/positions", func(r chi.Router) {
			r.Get("/", positionH.ListPositions)
			r.Get("/{symbol}", positionH.GetPosition)
			r.Get("/{symbol}/history", positionH.GetPositionHistory)
			r.Post("/{symbol}/close", positionH.ClosePosition)
		})

		r.Route("/risk", func(r chi.Router) {
			r.Get("/metrics", riskH.Metrics)
			r.Get("/analysis", riskH.Analysis)
			r.Post("/reset", riskH.Reset)
		})

		r.Get("/{order_id}", orderH.GetOrder)
		r.Put("/{order_id}", orderH.UpdateOrder)
		r.Delete("/{order_id}", orderH.CancelOrder)
		r.Get("/{order_id}/trades", orderH.OrderTrades)
	})

	// Prometheus metrics.
	r.Handle("/metrics", promhttp.Handler())

	// Websocket event stream.
	if ws != nil {
		r.Get("/ws", ws.ServeWS)
	}

	return r
}

// requestLogging returns middleware that logs each request's method, path,
// status code, and duration using slog.
func requestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// contentTypeJSON is middleware that validates Content-Type for POST, PUT, and
// PATCH requests. If the Content-Type header doesn't start with
// "application/json", it returns 400 Bad Request before the handler runs.
// POST routes without a body (risk reset, position close) are exempt.
func contentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if bodyExpected(r) {
			ct := r.Header.Get("Content-Type")
			if ct == "" || !strings.HasPrefix(ct, "application/json") {
				WriteError(w, http.StatusBadRequest, "invalid_request",
					"Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func bodyExpected(r *http.Request) bool {
	if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
		return false
	}
	if strings.HasSuffix(r.URL.Path, "/close") || strings.HasSuffix(r.URL.Path, "/reset") {
		return false
	}
	return true
}
