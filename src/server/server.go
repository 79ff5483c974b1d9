package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	logger "github.com/sirupsen/logrus"

	"signalgate/src/controller"
	"signalgate/src/evaluator"
	"signalgate/src/handler"
	"signalgate/src/ledger"
	"signalgate/src/metrics"
	"signalgate/src/registry"
	"signalgate/src/repository"
)

// Deps are the components the HTTP surface reads from and writes to.
type Deps struct {
	Signals     *controller.SignalController
	Evaluator   *evaluator.Evaluator
	Registry    *registry.Registry
	Ledger      *ledger.Ledger
	Orders      *repository.OrderRepository
	Settlements *repository.SettlementRepository
	Exceptions  *repository.ExceptionRepository
	Metrics     *metrics.Recorder

	// FillSecret authenticates fill callbacks; empty accepts unsigned ones.
	FillSecret  string
	FillMaxSkew time.Duration
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	// === Global Middleware ===
	r.Use(instrument(d.Metrics))

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error(" \"/health error")
		}
	})
	if d.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Gatherer(), promhttp.HandlerOpts{}))
	}

	// Signal flow
	r.Post("/signals", handler.SubmitSignalHandler(d.Signals))
	r.Post("/fills", handler.FillHandler(d.Signals, d.FillSecret, d.FillMaxSkew))

	// Accounts and rules
	r.Get("/accounts", handler.ListAccountsHandler(d.Evaluator))
	r.Get("/accounts/{id}", handler.GetAccountHandler(d.Evaluator))
	r.Get("/rules", handler.GetRulesHandler(d.Evaluator))
	r.Put("/rules", handler.PutRulesHandler(d.Evaluator))
	r.Get("/dashboard", handler.DashboardHandler(d.Evaluator, d.Registry, d.Ledger, d.Evaluator))

	// Analysts
	r.Route("/analysts", func(r chi.Router) {
		r.Get("/", handler.ListAnalystsHandler(d.Registry))
		r.Post("/", handler.RegisterAnalystHandler(d.Registry))
		r.Get("/{id}", handler.GetAnalystHandler(d.Registry, d.Settlements))
		r.Put("/{id}/enabled", handler.SetAnalystEnabledHandler(d.Registry))
		r.Delete("/{id}", handler.RemoveAnalystHandler(d.Registry))
	})

	// Audit
	r.Get("/rejections", handler.ListRejectionsHandler(d.Ledger))
	r.Get("/analyst-events", handler.ListAnalystEventsHandler(d.Ledger))
	r.Get("/ws/audit", handler.AuditFeedHandler(d.Ledger))
	r.Get("/orders", handler.SearchOrdersHandler(d.Orders))
	r.Get("/exceptions", handler.ListExceptionsHandler(d.Exceptions))

	return r
}

// StartServer serves until ctx is cancelled, then shuts down gracefully.
func StartServer(ctx context.Context, cfg *Config, h http.Handler) error {
	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Error("Server crashed")
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown error")
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working behind the middleware.
func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := s.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	s.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// instrument counts requests by route pattern so ids in paths don't blow up
// the label set.
func instrument(rec *metrics.Recorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			rec.RecordHTTP(route, r.Method, strconv.Itoa(sw.status), time.Since(start).Seconds())
		})
	}
}
