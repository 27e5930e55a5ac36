package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/havosec/authcore"
	"github.com/havosec/authcore/metrics/export/prometheus"
	"github.com/havosec/authcore/notify/redisrelay"
	"github.com/havosec/authcore/store"
	"github.com/havosec/authcore/store/memstore"
	"github.com/havosec/authcore/store/mongostore"
	"github.com/havosec/authcore/transport/httpapi"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(newViper(), configFile)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), s)
		},
	}
}

func runServe(ctx context.Context, s settings) error {
	log, err := newLogger(s)
	if err != nil {
		return err
	}
	cfg, err := s.engineConfig()
	if err != nil {
		return err
	}

	db, closeStore, err := openStore(ctx, s, log)
	if err != nil {
		return err
	}
	defer closeStore()

	builder := authcore.New().
		WithConfig(cfg).
		WithStore(db).
		WithLogger(log).
		WithTokenSender(logSender(log))

	var relay *redisrelay.Relay
	if s.RedisURL != "" {
		opts, err := redis.ParseURL(s.RedisURL)
		if err != nil {
			return oops.Code("CONFIG_INVALID").With("redis_url", "invalid").Wrap(err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		relay = redisrelay.New(rdb, redisrelay.WithLogger(log))
		builder = builder.WithRelay(relay)
	}

	engine, err := builder.Build()
	if err != nil {
		return oops.Code("ENGINE_BUILD_FAILED").Wrap(err)
	}
	defer engine.Close()

	if relay != nil {
		if err := relay.Start(ctx, engine.Hub()); err != nil {
			return oops.Code("RELAY_START_FAILED").Wrap(err)
		}
		defer relay.Close()
	}

	srv := &http.Server{
		Addr: s.HTTPAddr,
		Handler: httpapi.NewRouter(engine, httpapi.Options{
			Logger:         log,
			AllowedOrigins: s.AllowedOrigins,
			Metrics:        prometheus.Handler(engine),
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", s.HTTPAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return oops.Code("HTTP_SERVE_FAILED").Wrap(err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return oops.Code("HTTP_SHUTDOWN_FAILED").Wrap(err)
	}
	return nil
}

// openStore connects to MongoDB when a URL is configured and falls back to
// the in-memory store otherwise.
func openStore(ctx context.Context, s settings, log logrus.FieldLogger) (store.Store, func(), error) {
	if s.MongoURL == "" {
		log.Warn("MONGO_URL not set, using in-memory store; data is lost on restart")
		return memstore.New(memstore.WithUniqueIndex(store.CollIdentities, "email")), func() {}, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	db, err := mongostore.Connect(connectCtx, s.MongoURL, s.DBName)
	if err != nil {
		return nil, nil, err
	}
	if err := db.EnsureIndexes(connectCtx); err != nil {
		_ = db.Close(context.Background())
		return nil, nil, err
	}
	log.WithField("db", s.DBName).Info("connected to mongodb")

	return db, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.Close(closeCtx); err != nil {
			log.WithError(err).Warn("mongodb disconnect failed")
		}
	}, nil
}

// logSender records that a token was issued without exposing it.
// TODO: replace with an SMTP mailer once delivery credentials are provisioned.
func logSender(log logrus.FieldLogger) authcore.TokenSender {
	return authcore.TokenSenderFunc(func(_ context.Context, purpose authcore.TokenPurpose, d authcore.TokenDelivery) error {
		log.WithFields(logrus.Fields{
			"purpose":    purpose,
			"email":      d.Email,
			"expires_at": d.ExpiresAt,
		}).Info("token issued; no mailer configured")
		return nil
	})
}
