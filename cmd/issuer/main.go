package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/sessionkit/adapters/store"
	"github.com/layer-3/sessionkit/config"
	"github.com/layer-3/sessionkit/issuer"
	"github.com/layer-3/sessionkit/logging"
	"github.com/layer-3/sessionkit/ports"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	server := cfg.Server
	if server == nil {
		server = &config.ServerConfig{Addr: ":9000"}
	}
	if len(server.Users) == 0 {
		logger.Warnf("no users configured, adding demo user alice/secret")
		server.Users = []issuer.User{{
			ID:       "demo-alice",
			Username: "alice",
			Password: "secret",
			Scope:    "ROLE_NURSE appointments:read patients:read",
		}}
	}

	// Generate a new ECDSA key pair (you would normally load this from somewhere secure)
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		log.Fatalf("Failed to generate signing key: %v", err)
	}

	var revoked ports.Store = store.NewMemoryStore()
	if cfg.Storage.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Storage.RedisURL)
		if err != nil {
			log.Fatalf("Failed to parse Redis URL: %v", err)
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()

		revoked = store.NewRedisStore(redisClient,
			store.WithPrefix("sessionkit-issuer:"),
			store.WithTTL(config.Duration(server.RefreshTTL, issuer.DefaultRefreshTTL)),
		)
	}

	svc := issuer.NewService(privateKey, issuer.NewDirectory(server.Users...), revoked,
		issuer.WithTTL(
			config.Duration(server.AccessTTL, issuer.DefaultAccessTTL),
			config.Duration(server.RefreshTTL, issuer.DefaultRefreshTTL),
		),
		issuer.WithLogger(logger),
	)

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	httpServer := &http.Server{
		Addr:              server.Addr,
		Handler:           issuer.Router(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("issuer listening on %s", server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
