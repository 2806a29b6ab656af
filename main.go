package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"safety-cloud/internal/audit"
	"safety-cloud/internal/auth"
	"safety-cloud/internal/config"
	"safety-cloud/internal/eventing"
	incidentapp "safety-cloud/internal/incidents/application"
	incidentkafka "safety-cloud/internal/incidents/infrastructure/kafka"
	incidentrepo "safety-cloud/internal/incidents/infrastructure/postgres"
	incidenthttp "safety-cloud/internal/incidents/interfaces/http"
	incidentnotify "safety-cloud/internal/incidents/notify"
	"safety-cloud/internal/logging"
	notifapp "safety-cloud/internal/notifications/application"
	notifrepo "safety-cloud/internal/notifications/infrastructure/postgres"
	notifredis "safety-cloud/internal/notifications/infrastructure/redis"
	notifhttp "safety-cloud/internal/notifications/interfaces/http"
	"safety-cloud/internal/notifications/push"
	"safety-cloud/internal/observability/metrics"
	streamapp "safety-cloud/internal/streams/application"
	streamrepo "safety-cloud/internal/streams/infrastructure/postgres"
	streamhttp "safety-cloud/internal/streams/interfaces/http"
)

const headerRequestID = "X-Request-ID"

func main() {
	cfg, err := config.Load()
	logger, logErr := logging.New(cfg.Log.Level, cfg.Log.Format, "safety-cloud")
	if logErr != nil {
		logger = zap.NewExample()
		logger.Warn("logger config invalid, using example logger", zap.Error(logErr))
	}
	defer func() { _ = logger.Sync() }()
	if err != nil {
		logger.Fatal("config error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db open error", zap.Error(err))
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("db ping error", zap.Error(err))
	}

	metrics.Init(db, logger)

	contentRepo := notifrepo.NewContentRepository(db)
	if err := contentRepo.Seed(ctx, cfg.NotificationContents()); err != nil {
		logger.Fatal("seed notification contents error", zap.Error(err))
	}

	gateway, err := buildGateway(ctx, cfg.Push)
	if err != nil {
		logger.Fatal("push gateway error", zap.Error(err))
	}
	logger.Info("push gateway ready", zap.String("gateway", cfg.Push.Gateway))

	deliveryStore := notifrepo.NewDeliveryStore(db)
	engineOpts := []notifapp.EngineOption{notifapp.WithEngineLogger(logger.Named("fanout"))}
	if cfg.Redis.Addr != "" {
		redisClient := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr})
		defer redisClient.Close()
		claims, err := notifredis.NewClaimStore(redisClient, notifredis.WithTTL(cfg.Redis.ClaimTTL))
		if err != nil {
			logger.Fatal("claim store error", zap.Error(err))
		}
		engineOpts = append(engineOpts, notifapp.WithClaimStore(claims))
		logger.Info("dispatch claim store enabled", zap.String("addr", cfg.Redis.Addr))
	}
	engine, err := notifapp.NewEngine(deliveryStore, gateway, engineOpts...)
	if err != nil {
		logger.Fatal("fanout engine error", zap.Error(err))
	}

	ledger, err := notifapp.NewLedger(deliveryStore, notifrepo.NewRecipientRepository(db), notifapp.WithLedgerLogger(logger.Named("ledger")))
	if err != nil {
		logger.Fatal("ledger error", zap.Error(err))
	}

	broker := incidentnotify.NewSSEBroker()
	notifiers := []incidentapp.IncidentNotifier{broker}
	if cfg.Kafka.Brokers != "" {
		publisher, err := incidentkafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.IncidentTopic, incidentkafka.WithLogger(logger.Named("kafka")))
		if err != nil {
			logger.Fatal("kafka publisher error", zap.Error(err))
		}
		defer publisher.Close()
		notifiers = append(notifiers, publisher)
		logger.Info("incident events publishing to kafka", zap.String("topic", cfg.Kafka.IncidentTopic))
	}

	streamRepository := streamrepo.NewStreamRepository(db)
	incidentService, err := incidentapp.NewService(
		incidentrepo.NewIncidentRepository(db),
		streamRepository,
		engine,
		incidentapp.WithNotifier(incidentnotify.NewMultiNotifier(notifiers...)),
		incidentapp.WithLogger(logger.Named("incidents")),
		incidentapp.WithNotifyTimeout(cfg.NotifyTimeout),
	)
	if err != nil {
		logger.Fatal("incident service error", zap.Error(err))
	}
	streamService, err := streamapp.NewService(streamRepository, streamapp.WithLogger(logger.Named("streams")))
	if err != nil {
		logger.Fatal("stream service error", zap.Error(err))
	}

	auditRepo := audit.NewRepository(db)
	incidentHandler, err := incidenthttp.NewHandler(incidentService, logger, incidenthttp.WithAuditLogger(auditRepo))
	if err != nil {
		logger.Fatal("incident handler error", zap.Error(err))
	}
	streamHandler, err := streamhttp.NewHandler(streamService, logger)
	if err != nil {
		logger.Fatal("stream handler error", zap.Error(err))
	}
	notificationHandler, err := notifhttp.NewHandler(ledger, logger, notifhttp.WithAuditLogger(auditRepo))
	if err != nil {
		logger.Fatal("notification handler error", zap.Error(err))
	}

	var ingestAuth *auth.IngestAuthMiddleware
	if cfg.Auth.IngestSecret != "" {
		ingestAuth = auth.NewIngestAuthMiddleware([]byte(cfg.Auth.IngestSecret), cfg.Auth.IngestMaxSkew)
	} else {
		logger.Warn("INGEST_HMAC_SECRET not set, streaming worker callbacks are unauthenticated")
	}
	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, nil)
	authMiddleware := auth.NewMiddleware([]byte(cfg.Auth.JWTSecret), policy, ingestAuth)

	mux := http.NewServeMux()
	mux.Handle("/incident", incidentHandler)
	mux.Handle("/incident/", incidentHandler)
	mux.Handle("/incident/events", incidenthttp.NewStreamHandler(broker))
	mux.Handle("/stream", streamHandler)
	mux.Handle("/stream/", streamHandler)
	mux.Handle("/notification", notificationHandler)
	mux.Handle("/notification/", notificationHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           requestIDMiddleware(loggingMiddleware(authMiddleware.Wrap(mux), logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	server.RegisterOnShutdown(broker.Close)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown error", zap.Error(err))
		}
	}()

	logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server error", zap.Error(err))
	}
	logger.Info("http server stopped")
}

func buildGateway(ctx context.Context, cfg config.Push) (push.Gateway, error) {
	switch cfg.Gateway {
	case config.GatewayWebhook:
		return push.NewWebhookGateway(cfg.WebhookURL)
	case config.GatewayNone:
		return push.Disabled{}, nil
	default:
		return push.InitFCM(ctx, push.FCMConfig{
			ProjectID:       cfg.ProjectID,
			ClientEmail:     cfg.ClientEmail,
			PrivateKey:      cfg.PrivateKey,
			CredentialsFile: cfg.CredentialsFile,
		})
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerRequestID))
		if id == "" {
			id = eventing.NewEventID()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(eventing.WithCorrelationID(r.Context(), id)))
	})
}

func loggingMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		elapsed := time.Since(start)
		metrics.ObserveHTTPRequest(routeLabel(r.URL.Path), resp.status, elapsed)
		logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", resp.status),
			zap.Duration("duration", elapsed),
			zap.String("request_id", eventing.CorrelationIDFromContext(r.Context())),
		)
	})
}

// routeLabel keeps at most two path segments so ids and keys stay out of
// metric labels.
func routeLabel(path string) string {
	parts := strings.SplitN(strings.Trim(path, "/"), "/", 3)
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return "/" + strings.Join(parts, "/")
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps SSE working through the middleware chain.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
