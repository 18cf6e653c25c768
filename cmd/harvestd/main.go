// Command harvestd starts the MediaHarvest acquisition service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"mediaharvest/internal/api"
	"mediaharvest/internal/breaker"
	"mediaharvest/internal/classifier"
	"mediaharvest/internal/clock"
	"mediaharvest/internal/harvest"
	"mediaharvest/internal/keypool"
	"mediaharvest/internal/models"
	"mediaharvest/internal/observability/logging"
	"mediaharvest/internal/observability/metrics"
	"mediaharvest/internal/runner"
	"mediaharvest/internal/scheduler"
	"mediaharvest/internal/server"
	"mediaharvest/internal/storage"
)

// Exit codes: 1 for configuration or wiring failures, 2 when the datastore
// is unreachable at startup.
const (
	exitConfig    = 1
	exitDatastore = 2
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	mode := flag.String("mode", "", "runtime mode (development or production)")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")

	dataPath := flag.String("data", "", "path to JSON datastore")
	storageDriver := flag.String("storage-driver", "", "datastore driver (json or postgres)")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")

	cacheRedisAddr := flag.String("cache-redis-addr", "", "Redis address for the fingerprint cache")
	cacheRedisAddrs := flag.String("cache-redis-addrs", "", "comma separated Redis addresses for the fingerprint cache")
	cacheRedisUsername := flag.String("cache-redis-username", "", "Redis username for the fingerprint cache")
	cacheRedisPassword := flag.String("cache-redis-password", "", "Redis password for the fingerprint cache")
	cacheRedisMasterName := flag.String("cache-redis-sentinel-master", "", "Redis sentinel master name for the fingerprint cache")
	cacheRedisPoolSize := flag.Int("cache-redis-pool-size", 0, "maximum Redis connections for the fingerprint cache")
	cacheTTL := flag.Duration("cache-ttl", 0, "fingerprint cache entry lifetime")
	cacheRedisTLSCA := flag.String("cache-redis-tls-ca", "", "path to Redis TLS CA certificate for the fingerprint cache")
	cacheRedisTLSCert := flag.String("cache-redis-tls-cert", "", "path to Redis TLS client certificate for the fingerprint cache")
	cacheRedisTLSKey := flag.String("cache-redis-tls-key", "", "path to Redis TLS client key for the fingerprint cache")
	cacheRedisTLSServerName := flag.String("cache-redis-tls-server-name", "", "override Redis TLS server name for the fingerprint cache")
	cacheRedisTLSSkipVerify := flag.Bool("cache-redis-tls-skip-verify", false, "skip Redis TLS verification for the fingerprint cache")

	apiKeys := flag.String("api-keys", "", "comma separated upstream API keys")
	apiKeyFile := flag.String("api-key-file", "", "path to a file with one API key per line")

	articleSources := flag.String("article-sources", "", "comma separated article feeds (name=url)")
	videoChannels := flag.String("video-channels", "", "comma separated video channel feeds (name=url)")
	keyedSources := flag.String("keyed-sources", "", "comma separated source names that consume a pooled API key")

	classifierArticleEndpoint := flag.String("classifier-article-endpoint", "", "classifier endpoint for articles")
	classifierVideoEndpoint := flag.String("classifier-video-endpoint", "", "classifier endpoint for videos")
	classifierToken := flag.String("classifier-token", "", "bearer token for classifier requests")
	classifierTimeout := flag.Duration("classifier-timeout", 0, "timeout for classifier requests")

	breakerThreshold := flag.Int("breaker-failure-threshold", 0, "consecutive failures before a source circuit opens")
	breakerRecovery := flag.Duration("breaker-recovery-timeout", 0, "cool-off before an open circuit admits a probe")

	runTimeout := flag.Duration("run-timeout", 0, "per-source acquisition deadline")
	runMaxRetries := flag.Int("run-max-retries", 0, "retry attempts for transient upstream failures")
	backoffBase := flag.Duration("backoff-base", 0, "base delay for retry backoff")
	backoffCap := flag.Duration("backoff-cap", 0, "upper bound for retry backoff")
	backoffJitter := flag.Bool("backoff-jitter", false, "randomize retry backoff delays")
	maxConcurrent := flag.Int("max-concurrent", 0, "maximum sources harvested in parallel")

	articlesInterval := flag.Duration("articles-interval", 0, "interval between article job firings")
	videosInterval := flag.Duration("videos-interval", 0, "interval between video job firings")
	articlesKeyword := flag.String("articles-keyword", "", "search keyword for the articles job")
	videosKeyword := flag.String("videos-keyword", "", "search keyword for the videos job")
	articlesLimit := flag.Int("articles-limit", 0, "item cap per source for the articles job")
	videosLimit := flag.Int("videos-limit", 0, "item cap per source for the videos job")
	videosMinDuration := flag.Int("videos-min-duration", 0, "minimum video duration in seconds")
	videosMaxDuration := flag.Int("videos-max-duration", 0, "maximum video duration in seconds")
	videosRequireTranscript := flag.Bool("videos-require-transcript", false, "skip videos without an English transcript")
	jobsCoalesce := flag.Bool("jobs-coalesce", false, "remember one overlapping firing and replay it on idle")
	jobsMaxInstances := flag.Int("jobs-max-instances", 0, "concurrent executions allowed per job")
	jobsMisfireGrace := flag.Duration("jobs-misfire-grace", 0, "drop firings later than this grace period")
	schedulerAutostart := flag.Bool("scheduler-autostart", false, "start the scheduler immediately")

	authToken := flag.String("auth-token", "", "bearer token protecting /api routes")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	triggerLimit := flag.Int("rate-trigger-limit", 0, "maximum manual trigger requests per window for a single IP")
	triggerWindow := flag.Duration("rate-trigger-window", 0, "window for counting trigger requests")
	rateRedisAddr := flag.String("rate-redis-addr", "", "Redis address for distributed trigger throttling")
	rateRedisPassword := flag.String("rate-redis-password", "", "Redis password for distributed trigger throttling")
	rateRedisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for rate limiter Redis operations")
	corsOrigins := flag.String("cors-origins", "", "comma separated origins allowed to call the API")
	flag.Parse()

	logger := logging.New(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("MEDIAHARVEST_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("MEDIAHARVEST_LOG_FORMAT")),
	})
	auditLogger := logging.WithComponent(logger, "audit")
	recorder := metrics.Default()

	runtimeMode := modeValue(*mode, os.Getenv("MEDIAHARVEST_MODE"))
	listenAddr := resolveListenAddr(*addr, runtimeMode, os.Getenv("MEDIAHARVEST_ADDR"))

	driver, err := resolveStorageDriver(*storageDriver, os.Getenv("MEDIAHARVEST_STORAGE_DRIVER"), resolvePostgresDSN(*postgresDSN))
	if err != nil {
		logger.Error("failed to resolve storage driver", "error", err)
		os.Exit(exitConfig)
	}

	var repo storage.Repository
	switch driver {
	case "json":
		dataFile := resolveDataPath(*dataPath, os.Getenv("MEDIAHARVEST_DATA"))
		repo, err = storage.NewJSONRepository(dataFile)
	case "postgres":
		dsn := resolvePostgresDSN(*postgresDSN)
		if dsn == "" {
			logger.Error("postgres storage selected without DSN")
			os.Exit(exitConfig)
		}
		var pgOptions []storage.Option
		maxConns := resolveInt(*postgresMaxConns, "MEDIAHARVEST_POSTGRES_MAX_CONNS")
		minConns := resolveInt(*postgresMinConns, "MEDIAHARVEST_POSTGRES_MIN_CONNS")
		if maxConns > 0 || minConns > 0 {
			pgOptions = append(pgOptions, storage.WithPoolLimits(int32(maxConns), int32(minConns)))
		}
		maxLifetime := resolveDuration(*postgresMaxConnLifetime, "MEDIAHARVEST_POSTGRES_MAX_CONN_LIFETIME", 0)
		maxIdle := resolveDuration(*postgresMaxConnIdle, "MEDIAHARVEST_POSTGRES_MAX_CONN_IDLE", 0)
		if maxLifetime > 0 || maxIdle > 0 {
			pgOptions = append(pgOptions, storage.WithConnLifetimes(maxLifetime, maxIdle))
		}
		if healthInterval := resolveDuration(*postgresHealthInterval, "MEDIAHARVEST_POSTGRES_HEALTH_INTERVAL", 0); healthInterval > 0 {
			pgOptions = append(pgOptions, storage.WithHealthCheckInterval(healthInterval))
		}
		if acquireTimeout := resolveDuration(*postgresAcquireTimeout, "MEDIAHARVEST_POSTGRES_ACQUIRE_TIMEOUT", 0); acquireTimeout > 0 {
			pgOptions = append(pgOptions, storage.WithAcquireTimeout(acquireTimeout))
		}
		if appName := firstNonEmpty(*postgresAppName, os.Getenv("MEDIAHARVEST_POSTGRES_APP_NAME")); appName != "" {
			pgOptions = append(pgOptions, storage.WithApplicationName(appName))
		}
		repo, err = storage.NewPostgresRepository(dsn, pgOptions...)
	default:
		logger.Error("unsupported storage driver", "driver", driver)
		os.Exit(exitConfig)
	}
	if err != nil {
		logger.Error("failed to open datastore", "error", err)
		os.Exit(exitConfig)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = repo.Ping(pingCtx)
	pingCancel()
	if err != nil {
		logger.Error("datastore unreachable", "driver", driver, "error", err)
		os.Exit(exitDatastore)
	}

	var cache storage.FingerprintCache
	cacheAddr := firstNonEmpty(*cacheRedisAddr, os.Getenv("MEDIAHARVEST_CACHE_REDIS_ADDR"))
	cacheAddrs := splitAndTrim(firstNonEmpty(*cacheRedisAddrs, os.Getenv("MEDIAHARVEST_CACHE_REDIS_ADDRS")))
	if cacheAddr != "" || len(cacheAddrs) > 0 {
		cache, err = storage.NewRedisFingerprintCache(storage.RedisCacheConfig{
			Addr:       cacheAddr,
			Addrs:      cacheAddrs,
			Username:   firstNonEmpty(*cacheRedisUsername, os.Getenv("MEDIAHARVEST_CACHE_REDIS_USERNAME")),
			Password:   firstNonEmpty(*cacheRedisPassword, os.Getenv("MEDIAHARVEST_CACHE_REDIS_PASSWORD")),
			MasterName: firstNonEmpty(*cacheRedisMasterName, os.Getenv("MEDIAHARVEST_CACHE_REDIS_SENTINEL_MASTER")),
			PoolSize:   resolveInt(*cacheRedisPoolSize, "MEDIAHARVEST_CACHE_REDIS_POOL_SIZE"),
			TTL:        resolveDuration(*cacheTTL, "MEDIAHARVEST_CACHE_TTL", 0),
			TLS: storage.RedisTLSConfig{
				CAFile:             firstNonEmpty(*cacheRedisTLSCA, os.Getenv("MEDIAHARVEST_CACHE_REDIS_TLS_CA")),
				CertFile:           firstNonEmpty(*cacheRedisTLSCert, os.Getenv("MEDIAHARVEST_CACHE_REDIS_TLS_CERT")),
				KeyFile:            firstNonEmpty(*cacheRedisTLSKey, os.Getenv("MEDIAHARVEST_CACHE_REDIS_TLS_KEY")),
				ServerName:         firstNonEmpty(*cacheRedisTLSServerName, os.Getenv("MEDIAHARVEST_CACHE_REDIS_TLS_SERVER_NAME")),
				InsecureSkipVerify: resolveBool(*cacheRedisTLSSkipVerify, "MEDIAHARVEST_CACHE_REDIS_TLS_SKIP_VERIFY"),
			},
		})
		if err != nil {
			logger.Error("failed to configure fingerprint cache", "error", err)
			os.Exit(exitConfig)
		}
	}

	gateway := storage.NewGateway(repo, cache)

	keys, err := resolveKeys(
		splitAndTrim(firstNonEmpty(*apiKeys, os.Getenv("MEDIAHARVEST_API_KEYS"))),
		firstNonEmpty(*apiKeyFile, os.Getenv("MEDIAHARVEST_API_KEY_FILE")),
	)
	if err != nil {
		logger.Error("failed to load API keys", "error", err)
		os.Exit(exitConfig)
	}

	clk := clock.Real()
	pool := keypool.New(keys, clk)
	circuit := breaker.New(breaker.Config{
		FailureThreshold: resolveInt(*breakerThreshold, "MEDIAHARVEST_BREAKER_FAILURE_THRESHOLD"),
		RecoveryTimeout:  resolveDuration(*breakerRecovery, "MEDIAHARVEST_BREAKER_RECOVERY_TIMEOUT", 0),
		Clock:            clk,
	})

	registry := harvest.NewRegistry()
	keyed := toSet(splitAndTrim(firstNonEmpty(*keyedSources, os.Getenv("MEDIAHARVEST_KEYED_SOURCES"))))
	if err := registerSources(registry, models.KindArticle,
		firstNonEmpty(*articleSources, os.Getenv("MEDIAHARVEST_ARTICLE_SOURCES")), keyed); err != nil {
		logger.Error("failed to register article sources", "error", err)
		os.Exit(exitConfig)
	}
	if err := registerSources(registry, models.KindVideo,
		firstNonEmpty(*videoChannels, os.Getenv("MEDIAHARVEST_VIDEO_CHANNELS")), keyed); err != nil {
		logger.Error("failed to register video channels", "error", err)
		os.Exit(exitConfig)
	}
	if registry.Len() == 0 {
		logger.Error("no sources configured: provide --article-sources or --video-channels")
		os.Exit(exitConfig)
	}

	dispatcher := classifier.New(classifier.Config{
		ArticleEndpoint: firstNonEmpty(*classifierArticleEndpoint, os.Getenv("MEDIAHARVEST_CLASSIFIER_ARTICLE_ENDPOINT")),
		VideoEndpoint:   firstNonEmpty(*classifierVideoEndpoint, os.Getenv("MEDIAHARVEST_CLASSIFIER_VIDEO_ENDPOINT")),
		Token:           firstNonEmpty(*classifierToken, os.Getenv("MEDIAHARVEST_CLASSIFIER_TOKEN")),
		Timeout:         resolveDuration(*classifierTimeout, "MEDIAHARVEST_CLASSIFIER_TIMEOUT", 0),
		Logger:          logging.WithComponent(logger, "classifier"),
		Metrics:         recorder,
	})

	run := runner.New(runner.Config{
		Registry:         registry,
		Store:            gateway,
		Breaker:          circuit,
		Keys:             pool,
		Classifier:       dispatcher,
		Clock:            clk,
		Logger:           logging.WithComponent(logger, "runner"),
		Metrics:          recorder,
		TimeoutPerSource: resolveDuration(*runTimeout, "MEDIAHARVEST_RUN_TIMEOUT", 0),
		MaxRetries:       resolveInt(*runMaxRetries, "MEDIAHARVEST_RUN_MAX_RETRIES"),
		BackoffBase:      resolveDuration(*backoffBase, "MEDIAHARVEST_BACKOFF_BASE", 0),
		BackoffCap:       resolveDuration(*backoffCap, "MEDIAHARVEST_BACKOFF_CAP", 0),
		BackoffJitter:    resolveBool(*backoffJitter, "MEDIAHARVEST_BACKOFF_JITTER"),
	})
	concurrency := resolveInt(*maxConcurrent, "MEDIAHARVEST_MAX_CONCURRENT")
	if concurrency <= 0 {
		concurrency = 4
	}
	coordinator := runner.NewCoordinator(run, concurrency, logging.WithComponent(logger, "coordinator"))

	jobDefaults := scheduler.JobConfig{
		MaxInstances: resolveInt(*jobsMaxInstances, "MEDIAHARVEST_JOBS_MAX_INSTANCES"),
		Coalesce:     resolveBool(*jobsCoalesce, "MEDIAHARVEST_JOBS_COALESCE"),
		MisfireGrace: resolveDuration(*jobsMisfireGrace, "MEDIAHARVEST_JOBS_MISFIRE_GRACE", 0),
	}
	articlesJob := jobDefaults
	articlesJob.Sources = registryNamesByKind(registry, models.KindArticle)
	articlesJob.Interval = resolveDuration(*articlesInterval, "MEDIAHARVEST_ARTICLES_INTERVAL", time.Hour)
	articlesJob.Query = harvest.Query{
		Keyword: firstNonEmpty(*articlesKeyword, os.Getenv("MEDIAHARVEST_ARTICLES_KEYWORD")),
		Limit:   resolveInt(*articlesLimit, "MEDIAHARVEST_ARTICLES_LIMIT"),
	}
	videosJob := jobDefaults
	videosJob.Sources = registryNamesByKind(registry, models.KindVideo)
	videosJob.Interval = resolveDuration(*videosInterval, "MEDIAHARVEST_VIDEOS_INTERVAL", 2*time.Hour)
	videosJob.Query = harvest.Query{
		Keyword:            firstNonEmpty(*videosKeyword, os.Getenv("MEDIAHARVEST_VIDEOS_KEYWORD")),
		Limit:              resolveInt(*videosLimit, "MEDIAHARVEST_VIDEOS_LIMIT"),
		MinDurationSeconds: resolveInt(*videosMinDuration, "MEDIAHARVEST_VIDEOS_MIN_DURATION"),
		MaxDurationSeconds: resolveInt(*videosMaxDuration, "MEDIAHARVEST_VIDEOS_MAX_DURATION"),
		IncludeTranscripts: resolveBool(*videosRequireTranscript, "MEDIAHARVEST_VIDEOS_REQUIRE_TRANSCRIPT"),
	}

	// A job needs at least one source to validate; when only one kind is
	// configured the other job runs against the same sources.
	if len(articlesJob.Sources) == 0 {
		articlesJob.Sources = videosJob.Sources
	}
	if len(videosJob.Sources) == 0 {
		videosJob.Sources = articlesJob.Sources
	}
	sched, err := scheduler.New(scheduler.Config{
		Coordinator: coordinator,
		Clock:       clk,
		Logger:      logging.WithComponent(logger, "scheduler"),
		Metrics:     recorder,
		Articles:    articlesJob,
		Videos:      videosJob,
	})
	if err != nil {
		logger.Error("failed to configure scheduler", "error", err)
		os.Exit(exitConfig)
	}
	if resolveBool(*schedulerAutostart, "MEDIAHARVEST_SCHEDULER_AUTOSTART") {
		sched.Start()
	}

	handler := api.NewHandler(api.Handler{
		Store:       gateway,
		Registry:    registry,
		Scheduler:   sched,
		Runner:      run,
		Coordinator: coordinator,
		Breaker:     circuit,
		Keys:        pool,
		Classifier:  dispatcher,
		Metrics:     recorder,
	})

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("MEDIAHARVEST_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("MEDIAHARVEST_TLS_KEY")),
		},
		RateLimit: server.RateLimitConfig{
			GlobalRPS:     resolveFloat(*globalRPS, "MEDIAHARVEST_RATE_GLOBAL_RPS"),
			GlobalBurst:   resolveInt(*globalBurst, "MEDIAHARVEST_RATE_GLOBAL_BURST"),
			TriggerLimit:  resolveInt(*triggerLimit, "MEDIAHARVEST_RATE_TRIGGER_LIMIT"),
			TriggerWindow: resolveDuration(*triggerWindow, "MEDIAHARVEST_RATE_TRIGGER_WINDOW", time.Minute),
			RedisAddr:     firstNonEmpty(*rateRedisAddr, os.Getenv("MEDIAHARVEST_RATE_REDIS_ADDR")),
			RedisPassword: firstNonEmpty(*rateRedisPassword, os.Getenv("MEDIAHARVEST_RATE_REDIS_PASSWORD")),
			RedisTimeout:  resolveDuration(*rateRedisTimeout, "MEDIAHARVEST_RATE_REDIS_TIMEOUT", 2*time.Second),
		},
		CORS:        server.CORSConfig{Origins: splitAndTrim(firstNonEmpty(*corsOrigins, os.Getenv("MEDIAHARVEST_CORS_ORIGINS")))},
		AuthToken:   firstNonEmpty(*authToken, os.Getenv("MEDIAHARVEST_AUTH_TOKEN")),
		Logger:      logger,
		AuditLogger: auditLogger,
		Metrics:     recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(exitConfig)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("MediaHarvest listening", "addr", listenAddr, "mode", runtimeMode, "storage", driver, "sources", registry.Len())
	logger.Info("metrics endpoint available", "path", "/metrics")
	runErr := srv.Run(runCtx)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sched.Stop(ctx); err != nil {
		logger.Warn("scheduler stop failed", "error", err)
	}
	if err := gateway.Close(ctx); err != nil {
		logger.Warn("failed to close datastore", "error", err)
	}

	if runErr != nil {
		logger.Error("server error", "error", runErr)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// resolveKeys merges the flag/env list with an optional key file; the
// explicit list wins when both are set.
func resolveKeys(listed []string, filePath string) ([]string, error) {
	if len(listed) > 0 {
		return listed, nil
	}
	if filePath == "" {
		return nil, nil
	}
	return keypool.LoadKeyFile(filePath)
}

// registerSources parses "name=url" specs and registers a feed adapter for
// each under the given kind.
func registerSources(registry *harvest.Registry, kind models.ContentKind, raw string, keyed map[string]struct{}) error {
	for _, spec := range splitAndTrim(raw) {
		parts := strings.SplitN(spec, "=", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			return fmt.Errorf("invalid source %q, expected name=url", spec)
		}
		name := strings.ToLower(strings.TrimSpace(parts[0]))
		baseURL := strings.TrimSpace(parts[1])
		_, requiresKey := keyed[name]
		err := registry.Register(harvest.Descriptor{
			Name:        name,
			Kind:        kind,
			Platform:    name,
			BaseURL:     baseURL,
			RequiresKey: requiresKey,
			New: harvest.FeedFactory(harvest.FeedConfig{
				SourceName: name,
				Kind:       kind,
				BaseURL:    baseURL,
			}),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func registryNamesByKind(registry *harvest.Registry, kind models.ContentKind) []string {
	descriptors := registry.ByKind(kind)
	names := make([]string, 0, len(descriptors))
	for _, desc := range descriptors {
		names = append(names, desc.Name)
	}
	return names
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		set[strings.ToLower(value)] = struct{}{}
	}
	return set
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = defaultListenForMode(mode)
	}
	return listenAddr
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func defaultListenForMode(mode string) string {
	if mode == "production" {
		return ":80"
	}
	return ":8080"
}

func resolveStorageDriver(flagValue, envValue, postgresDSN string) (string, error) {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver, nil
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver, nil
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres", nil
	}
	return "json", nil
}

func resolveDataPath(flagValue, envValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := strings.TrimSpace(envValue); env != "" {
		return env
	}
	return "data/store.json"
}

func resolvePostgresDSN(flagValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("MEDIAHARVEST_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	return fallback
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}
