package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"apikey-gateway/middleware/keyrotation"
	"apikey-gateway/middleware/keyrotation/application"
	"apikey-gateway/middleware/keyrotation/domain"
	"apikey-gateway/middleware/keyrotation/infra"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := readConfig()
	if err != nil {
		slog.Error("config error", "error", err)
		os.Exit(1)
	}
	logger := newLogger(cfg.logLevel)
	slog.SetDefault(logger)

	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		fatal(logger, "invalid UPSTREAM_URL", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	director := proxy.Director
	proxy.Director = func(r *http.Request) {
		director(r)
		r.Host = target.Host
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("proxy error", "error", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var rdb *redis.Client
	if cfg.redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.redisAddr,
			Password: cfg.redisPassword,
			DB:       cfg.redisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancelPing := context.WithTimeout(ctx, 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancelPing()
		if err != nil {
			fatal(logger, "redis ping error", err)
		}
	}

	var counter domain.WindowCounter
	var blobs domain.BlobStore
	if cfg.counterBackend == "memory" {
		mem := infra.NewMemoryWindowCounter(infra.WithJanitorWindow(cfg.keyWindow))
		mem.StartJanitor(ctx)
		counter = mem
	} else {
		counter = infra.NewRedisWindowCounter(rdb, infra.WithWindowPrefix(cfg.keyPrefix+":window"))
	}
	if rdb != nil {
		rb := infra.NewRedisBlobStore(rdb)
		rb.StartKeepAlive(ctx, cfg.keepAliveInterval, logger)
		blobs = rb
	} else {
		blobs = infra.NewMemoryBlobStore()
	}

	var stats infra.MultiStats
	if cfg.metricsEnabled {
		ps, err := infra.NewPrometheusStats(prometheus.DefaultRegisterer)
		if err != nil {
			fatal(logger, "prometheus register error", err)
		}
		stats = append(stats, ps)
	}
	if cfg.statsEnabled && rdb != nil {
		stats = append(stats, infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.keyPrefix+":stats"),
			infra.WithStatsTTL(cfg.statsTTL),
			infra.WithStatsBucket(cfg.statsBucket),
			infra.WithStatsTrackCredentials(cfg.statsTrackKeys),
		))
	}

	rotator := application.NewRotator(application.RotatorConfig{
		Counter:      counter,
		Stats:        stats,
		Logger:       logger,
		Window:       cfg.keyWindow,
		Limit:        cfg.keyLimit,
		StoreTimeout: cfg.storeTimeout,
		MaxWait:      cfg.maxWait,
	})
	defer func() { _ = rotator.Close() }()

	if cfg.apiKeys != "" {
		if _, err := rotator.Initialize(ctx, cfg.apiKeys); err != nil {
			fatal(logger, "initial API_KEYS rejected", err)
		}
	}

	var vault *application.Vault
	if cfg.vaultPassphrase != "" {
		sealer, err := infra.NewPassphraseSealer(cfg.vaultPassphrase)
		if err != nil {
			fatal(logger, "vault sealer error", err)
		}
		vault = application.NewVault(application.VaultConfig{
			Store:       blobs,
			Sealer:      sealer,
			Logger:      logger,
			Key:         cfg.vaultKey,
			Sentinel:    cfg.adminPassword,
			Passthrough: cfg.allowLiteral,
			Combined:    cfg.vaultCombined,
		})
	}

	gate := application.NewGate(application.GatePolicy{
		Password:     cfg.adminPassword,
		Preset:       cfg.presetPassword,
		AllowLiteral: cfg.allowLiteral,
	})

	clients := infra.NewClientLimiterStore(cfg.rateRPS, cfg.rateBurst)
	clients.StartJanitor(ctx)
	throttle := keyrotation.ThrottleMiddleware(keyrotation.ThrottleOptions{
		Store:               clients,
		KeyHeader:           cfg.rateKeyHeader,
		TrustXForwardedFor:  cfg.trustXFF,
		RetryAfter:          cfg.retryAfter,
		AddRateLimitHeaders: cfg.addHeaders,
		Logger:              logger,
	})
	// tentativas na rota admin são chutes de password: bucket próprio e mais curto
	adminThrottle := keyrotation.ThrottleMiddleware(keyrotation.ThrottleOptions{
		Store:              clients.Scope("admin", cfg.adminRateRPS, cfg.adminRateBurst),
		TrustXForwardedFor: cfg.trustXFF,
		RetryAfter:         cfg.retryAfter,
		Logger:             logger,
	})

	var slots domain.SlotObserver
	if cfg.metricsEnabled && cfg.concurrencyMax > 0 {
		ps, err := infra.NewPrometheusSlots(prometheus.DefaultRegisterer, cfg.concurrencyMax)
		if err != nil {
			fatal(logger, "prometheus register error", err)
		}
		slots = ps
	}

	h := http.Handler(proxy)
	h = keyrotation.Middleware(keyrotation.Options{
		Gate:               gate,
		Vault:              vault,
		Rotator:            rotator,
		Logger:             logger,
		PasswordHeader:     cfg.passwordHeader,
		CredentialHeader:   cfg.credentialHeader,
		UpstreamHeader:     cfg.upstreamHeader,
		UpstreamPrefix:     cfg.upstreamPrefix,
		UpstreamQueryParam: cfg.upstreamQueryParam,
		Wait:               cfg.maxWait > 0,
	})(h)
	h = keyrotation.ConcurrencyMiddleware(keyrotation.ConcurrencyOptions{
		Max:            cfg.concurrencyMax,
		RejectStatus:   http.StatusServiceUnavailable,
		AcquireTimeout: cfg.concurrencyTimeout,
		Observer:       slots,
		Logger:         logger,
	})(h)
	if cfg.rateEnabled {
		h = throttle(h)
	}

	mux := http.NewServeMux()
	mux.Handle("/", h)
	if vault != nil {
		mux.Handle("/admin/keys", adminThrottle(keyrotation.StoreHandler(keyrotation.StoreOptions{
			Gate:    gate,
			Vault:   vault,
			Rotator: rotator,
			Logger:  logger,
		})))
	}
	if cfg.metricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.writeTimeout,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway listening", "addr", cfg.listenAddr, "upstream", target.String())
	logger.Info("keys", "backend", cfg.counterBackend, "window", cfg.keyWindow, "limit", cfg.keyLimit,
		"storeTimeout", cfg.storeTimeout, "maxWait", cfg.maxWait, "vault", vault != nil, "literalPasswords", cfg.allowLiteral)
	logger.Info("rate", "enabled", cfg.rateEnabled, "rps", cfg.rateRPS, "burst", cfg.rateBurst, "keyHeader", cfg.rateKeyHeader, "trustXFF", cfg.trustXFF)
	logger.Info("concurrency", "max", cfg.concurrencyMax, "acquireTimeout", cfg.concurrencyTimeout)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fatal(logger, "server error", err)
	}
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

type config struct {
	listenAddr   string
	upstreamURL  string
	logLevel     string
	writeTimeout time.Duration

	redisAddr     string
	redisPassword string
	redisDB       int

	counterBackend string
	keyPrefix      string
	keyWindow      time.Duration
	keyLimit       int
	storeTimeout   time.Duration
	maxWait        time.Duration
	apiKeys        string

	adminPassword   string
	presetPassword  string
	allowLiteral    bool
	vaultPassphrase string
	vaultKey        string
	vaultCombined   bool

	passwordHeader     string
	credentialHeader   string
	upstreamHeader     string
	upstreamPrefix     string
	upstreamQueryParam string

	keepAliveInterval time.Duration
	metricsEnabled    bool
	statsEnabled      bool
	statsTTL          time.Duration
	statsBucket       string
	statsTrackKeys    bool

	rateEnabled        bool
	rateRPS            float64
	rateBurst          int
	adminRateRPS       float64
	adminRateBurst     int
	rateKeyHeader      string
	trustXFF           bool
	retryAfter         time.Duration
	addHeaders         bool
	concurrencyMax     int
	concurrencyTimeout time.Duration
}

func readConfig() (config, error) {
	cfg := config{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")
	cfg.logLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.writeTimeout = getenvDurationDefault("WRITE_TIMEOUT", 120*time.Second)

	cfg.redisAddr = os.Getenv("REDIS_ADDR")
	cfg.redisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.redisDB = getenvIntDefault("REDIS_DB", 0)

	cfg.counterBackend = strings.ToLower(getenvDefault("COUNTER_BACKEND", "redis"))
	cfg.keyPrefix = strings.Trim(getenvDefault("KEY_PREFIX", "keyrotation"), ":")
	cfg.keyWindow = getenvDurationDefault("KEY_WINDOW", domain.DefaultWindow)
	cfg.keyLimit = getenvIntDefault("KEY_LIMIT", domain.DefaultLimit)
	cfg.storeTimeout = getenvDurationDefault("KEY_STORE_TIMEOUT", 2*time.Second)
	cfg.maxWait = getenvDurationDefault("KEY_MAX_WAIT", 0)
	cfg.apiKeys = os.Getenv("API_KEYS")

	cfg.adminPassword = os.Getenv("ADMIN_PASSWORD")
	cfg.presetPassword = os.Getenv("PRESET_PASSWORD")
	cfg.allowLiteral = getenvBoolDefault("ALLOW_LITERAL_PASSWORD", false)
	cfg.vaultPassphrase = os.Getenv("VAULT_PASSPHRASE")
	cfg.vaultKey = getenvDefault("VAULT_KEY", application.DefaultVaultKey)
	cfg.vaultCombined = getenvBoolDefault("VAULT_COMBINED", false)

	cfg.passwordHeader = getenvDefault("PASSWORD_HEADER", keyrotation.DefaultPasswordHeader)
	cfg.credentialHeader = getenvDefault("CREDENTIAL_HEADER", keyrotation.DefaultCredentialHeader)
	cfg.upstreamHeader = os.Getenv("UPSTREAM_HEADER")
	cfg.upstreamPrefix = os.Getenv("UPSTREAM_PREFIX")
	cfg.upstreamQueryParam = os.Getenv("UPSTREAM_QUERY_PARAM")

	cfg.keepAliveInterval = getenvDurationDefault("KEEPALIVE_INTERVAL", 12*time.Hour)
	cfg.metricsEnabled = getenvBoolDefault("METRICS_ENABLED", true)
	cfg.statsEnabled = getenvBoolDefault("STATS_ENABLED", false)
	cfg.statsTTL = getenvDurationDefault("STATS_TTL", 24*time.Hour)
	cfg.statsBucket = getenvDefault("STATS_BUCKET", "minute")
	cfg.statsTrackKeys = getenvBoolDefault("STATS_TRACK_KEYS", false)

	cfg.rateEnabled = getenvBoolDefault("RATE_ENABLED", true)
	cfg.rateRPS = getenvFloatDefault("RATE_RPS", 10)
	cfg.rateBurst = getenvIntDefault("RATE_BURST", 20)
	cfg.adminRateRPS = getenvFloatDefault("ADMIN_RATE_RPS", 0.2)
	cfg.adminRateBurst = getenvIntDefault("ADMIN_RATE_BURST", 5)
	cfg.rateKeyHeader = os.Getenv("RATE_KEY_HEADER")
	cfg.trustXFF = getenvBoolDefault("TRUST_XFF", false)
	cfg.retryAfter = getenvDurationDefault("RETRY_AFTER", 1*time.Second)
	cfg.addHeaders = getenvBoolDefault("ADD_RATELIMIT_HEADERS", false)
	cfg.concurrencyMax = getenvIntDefault("CONCURRENCY_MAX", 100)
	cfg.concurrencyTimeout = getenvDurationDefault("CONCURRENCY_TIMEOUT", 0)

	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	if cfg.adminPassword == "" {
		return config{}, errors.New("ADMIN_PASSWORD is required")
	}
	switch cfg.counterBackend {
	case "redis":
		if strings.TrimSpace(cfg.redisAddr) == "" {
			return config{}, errors.New("REDIS_ADDR is required when COUNTER_BACKEND=redis")
		}
	case "memory":
	default:
		return config{}, errors.New("COUNTER_BACKEND must be redis or memory")
	}
	if cfg.keyWindow <= 0 {
		return config{}, errors.New("KEY_WINDOW must be > 0")
	}
	if cfg.keyLimit <= 0 {
		return config{}, errors.New("KEY_LIMIT must be > 0")
	}
	if cfg.maxWait > cfg.keyWindow {
		return config{}, errors.New("KEY_MAX_WAIT must be <= KEY_WINDOW")
	}
	if cfg.rateRPS <= 0 {
		return config{}, errors.New("RATE_RPS must be > 0")
	}
	if cfg.rateBurst <= 0 {
		return config{}, errors.New("RATE_BURST must be > 0")
	}
	if cfg.adminRateRPS <= 0 || cfg.adminRateBurst <= 0 {
		return config{}, errors.New("ADMIN_RATE_RPS and ADMIN_RATE_BURST must be > 0")
	}
	if cfg.concurrencyMax < 0 {
		return config{}, errors.New("CONCURRENCY_MAX must be >= 0")
	}
	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
