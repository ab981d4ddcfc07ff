package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	echoapi "go.oluso.dev/idp/api/echo"
	"go.oluso.dev/idp/cache"
	redisstore "go.oluso.dev/idp/cache/redis"
	"go.oluso.dev/idp/client"
	"go.oluso.dev/idp/config"
	"go.oluso.dev/idp/domain"
	"go.oluso.dev/idp/dpop"
	"go.oluso.dev/idp/internal/crypto"
	"go.oluso.dev/idp/internal/metrics"
	"go.oluso.dev/idp/internal/server"
	"go.oluso.dev/idp/journey"
	"go.oluso.dev/idp/mongodb"
	"go.oluso.dev/idp/services"
	"go.oluso.dev/idp/tracing"
)

// stores bundles the backend-specific storage wiring.
type stores struct {
	clients     client.ClientStore
	users       domain.UserService
	tokens      domain.TokenRepository
	authCodes   domain.AuthCodeStore
	deviceCodes domain.DeviceCodeStore
	ciba        domain.CibaStore
	states      domain.JourneyStateStore
	policies    domain.JourneyPolicyStore
	replay      dpop.ReplayStore
	nonces      dpop.NonceStore
	health      server.HealthChecker
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	setupLogging(cfg)

	tp, err := tracing.InitTracerProvider("oluso-idp")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("tracer shutdown failed")
		}
	}()

	ctx := context.Background()
	st, err := buildStores(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}

	signer := services.NewTokenSigner()
	if cfg.RSAPrivateKeyFile != "" {
		key, err := crypto.LoadRSAPrivateKey(cfg.RSAPrivateKeyFile)
		if err != nil {
			log.Fatal().Err(err).Str("file", cfg.RSAPrivateKeyFile).Msg("failed to load RSA signing key")
		}
		signer.AddRSASigner(cfg.SigningKeyID, key)
	} else {
		signer.AddKeySigner(cfg.SigningKeyID, cfg.JWTSecretKey)
	}

	tokens := services.NewTokenService(st.tokens, signer, st.users, cfg.Issuer)
	ciba := services.NewCibaService(st.ciba, st.users, signer, nil)
	oauth := services.NewOAuthService(st.clients, st.authCodes, st.deviceCodes, ciba, tokens)
	par := services.NewPARService()
	defer par.Close()

	proofs := dpop.NewValidator(dpop.Config{
		ClockSkew:     time.Duration(cfg.DPoPClockSkewSec) * time.Second,
		ProofLifetime: time.Duration(cfg.DPoPProofMaxAgeSec) * time.Second,
		NonceTTL:      time.Duration(cfg.DPoPNonceTTLMin) * time.Minute,
	}, st.replay, st.nonces)

	engine := journey.NewEngine(st.states, st.policies, st.users, cfg.JourneyStateTTL())

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	oauthAPI := echoapi.NewOAuth2API(oauth, ciba, tokens, par, engine, st.clients, st.users, signer, proofs, cfg.Issuer)
	httpServer := server.NewHTTPServer(cfg, oauthAPI, registry, st.health)

	sweepCtx, stopSweeper := context.WithCancel(ctx)
	go sweepExpired(sweepCtx, st)

	go func() {
		log.Info().Str("addr", httpServer.Addr).Str("issuer", cfg.Issuer).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	stopSweeper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}
	mongodb.Close(shutdownCtx)
}

func setupLogging(cfg *config.ServerConfig) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// buildStores wires the storage backends. The memory backend is complete in
// one process; redis keeps shared grant state in Redis and durable entities
// in MongoDB; mongo keeps everything durable in MongoDB.
func buildStores(ctx context.Context, cfg *config.ServerConfig) (*stores, error) {
	st := &stores{}

	switch cfg.StorageBackend {
	case config.StorageMemory:
		st.clients = cache.NewMemoryClientStore()
		st.users = cache.NewMemoryUserStore()
		st.tokens = cache.NewMemoryTokenRepository()
		st.authCodes = cache.NewMemoryAuthCodeStore()
		st.deviceCodes = cache.NewMemoryDeviceCodeStore()
		st.ciba = cache.NewMemoryCibaStore()
		st.states = cache.NewMemoryJourneyStateStore()
		st.policies = cache.NewMemoryJourneyPolicyStore()
		st.replay = dpop.NewMemoryReplayStore()
		st.nonces = dpop.NewMemoryNonceStore()
		log.Warn().Msg("memory storage selected; all state is lost on restart")

	case config.StorageRedis:
		if err := connectMongo(ctx, cfg, st); err != nil {
			return nil, err
		}
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		st.ciba = redisstore.NewCibaStore(rdb, cfg.RedisKeyPrefix)
		st.states = redisstore.NewJourneyStateStore(rdb, cfg.RedisKeyPrefix)
		st.replay = redisstore.NewReplayStore(rdb, cfg.RedisKeyPrefix)
		st.nonces = redisstore.NewNonceStore(rdb, cfg.RedisKeyPrefix)

		mongoHealth := st.health
		st.health = func() error {
			if err := mongoHealth(); err != nil {
				return err
			}
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return rdb.Ping(pingCtx).Err()
		}

	case config.StorageMongo:
		if err := connectMongo(ctx, cfg, st); err != nil {
			return nil, err
		}
		db := mongodb.DB()
		st.ciba = mongodb.NewCibaRepository(db)
		// Journey state is ephemeral and instance-local without Redis.
		st.states = cache.NewMemoryJourneyStateStore()
		st.replay = dpop.NewMemoryReplayStore()
		st.nonces = dpop.NewMemoryNonceStore()

	default:
		log.Fatal().Str("backend", cfg.StorageBackend).Msg("unknown STORAGE_BACKEND")
	}

	return st, nil
}

// connectMongo connects MongoDB and wires the durable stores.
func connectMongo(ctx context.Context, cfg *config.ServerConfig, st *stores) error {
	if err := mongodb.Connect(ctx, cfg.MongoURI, cfg.MongoDBName); err != nil {
		return err
	}
	db := mongodb.DB()

	st.clients = mongodb.NewClientRepository(db)
	st.users = mongodb.NewUserRepository(db)
	st.tokens = cache.NewCachedTokenRepository(mongodb.NewTokenRepository(db), time.Minute)
	st.authCodes = mongodb.NewAuthCodeRepository(db)
	st.deviceCodes = mongodb.NewDeviceAuthRepository(db)
	st.policies = mongodb.NewJourneyPolicyRepository(db)
	st.health = func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return mongodb.Ping(pingCtx)
	}
	return nil
}

// sweepExpired periodically removes expired grant state.
func sweepExpired(ctx context.Context, st *stores) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := st.authCodes.DeleteExpiredAuthCodes(ctx); err != nil {
				log.Warn().Err(err).Msg("auth code sweep failed")
			}
			if err := st.deviceCodes.DeleteExpiredDeviceAuths(ctx); err != nil {
				log.Warn().Err(err).Msg("device code sweep failed")
			}
			if err := st.ciba.RemoveExpiredRequests(ctx); err != nil {
				log.Warn().Err(err).Msg("backchannel request sweep failed")
			}
			if err := st.tokens.DeleteExpiredTokens(ctx); err != nil {
				log.Warn().Err(err).Msg("token sweep failed")
			}
			if err := st.states.CleanupExpired(ctx); err != nil {
				log.Warn().Err(err).Msg("journey state sweep failed")
			}
		}
	}
}
