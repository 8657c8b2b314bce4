package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"

	"github.com/hitoshi/gymgate/internal/auth"
	"github.com/hitoshi/gymgate/internal/config"
	"github.com/hitoshi/gymgate/internal/credential"
	"github.com/hitoshi/gymgate/internal/database"
	"github.com/hitoshi/gymgate/internal/events"
	"github.com/hitoshi/gymgate/internal/handler"
	"github.com/hitoshi/gymgate/internal/identity"
	"github.com/hitoshi/gymgate/internal/idp"
	"github.com/hitoshi/gymgate/internal/ledger"
	"github.com/hitoshi/gymgate/internal/logger"
	"github.com/hitoshi/gymgate/internal/membership"
	"github.com/hitoshi/gymgate/internal/metrics"
	"github.com/hitoshi/gymgate/internal/middleware"
	"github.com/hitoshi/gymgate/internal/repository"
	"github.com/hitoshi/gymgate/internal/security"
	"github.com/hitoshi/gymgate/internal/upstream"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再設定
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("idp_issuer", cfg.IDPIssuer),
		slog.Bool("oidc", cfg.UsesOIDC()),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg)
	}
}

// server はHTTPハンドラーと終了時に解放するリソースをまとめたもの。
type server struct {
	handler     http.Handler
	rateLimiter *middleware.RateLimiter
	publisher   events.Publisher
}

func (s *server) close() {
	s.rateLimiter.Stop()
	if err := s.publisher.Close(); err != nil {
		slog.Error("failed to close event publisher", slog.String("error", err.Error()))
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, cfg.UpstreamTimeout)
	err = db.PingContext(pingCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. トークン検証（OIDCの場合はディスカバリーを行う）
	tokens, err := newTokenValidator(ctx, cfg)
	if err != nil {
		return err
	}

	// 3. 依存関係のワイヤリング
	srv, err := buildServer(cfg, db, tokens)
	if err != nil {
		return err
	}
	defer srv.close()

	// 4. HTTPサーバーの起動
	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      srv.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// newTokenValidator は設定に応じたトークン検証を生成する。
// IDP_JWT_SECRETがあればHS256、なければOIDCディスカバリーでJWKSを取得する。
func newTokenValidator(ctx context.Context, cfg *config.Config) (auth.TokenValidator, error) {
	if !cfg.UsesOIDC() {
		return auth.NewJWTValidator(auth.JWTValidatorConfig{
			Secret:   cfg.IDPJWTSecret,
			Issuer:   cfg.IDPIssuer,
			Audience: cfg.IDPAudience,
			Leeway:   cfg.IDPTokenLeeway,
		}), nil
	}

	discoverCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	v, err := auth.DiscoverOIDCValidator(discoverCtx, cfg.IDPIssuer, cfg.IDPClientID)
	if err != nil {
		return nil, fmt.Errorf("failed to discover identity provider: %w", err)
	}
	return v, nil
}

// buildServer はリポジトリからルーターまでを組み立てる。
func buildServer(cfg *config.Config, db *sql.DB, tokens auth.TokenValidator) (*server, error) {
	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 2. 外部呼び出しの方針
	policy := upstream.NewPolicy(cfg.UpstreamTimeout)
	if cfg.UpstreamRetryBase > 0 {
		policy.RetryBase = cfg.UpstreamRetryBase
	}
	policy.OnTimeout = collector.RecordUpstreamTimeout

	// 3. リポジトリの初期化
	identityRepo := repository.NewPostgresIdentityRepo(db)
	checkInRepo := repository.NewPostgresCheckInRepo(db)
	membershipRepo := repository.NewPostgresMembershipRepo(db)

	// 4. ユーザー解決
	profiles := idp.NewClient(idp.Config{
		ProfileURL:   cfg.IDPProfileURL,
		TokenURL:     cfg.IDPTokenURL,
		ClientID:     cfg.IDPClientID,
		ClientSecret: cfg.IDPClientSecret,
		Timeout:      cfg.UpstreamTimeout,
	})
	resolver := identity.NewResolver(identityRepo, profiles, security.NewProfileSanitizer(), policy, collector)

	// 5. クレデンシャル
	keys, err := credential.NewKeyRing([]byte(cfg.CredentialSecret), cfg.CredentialKeyID, cfg.CredentialPreviousKeyIDs...)
	if err != nil {
		return nil, fmt.Errorf("failed to build credential key ring: %w", err)
	}

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaCheckInTopic)
		slog.Info("check-in events enabled",
			slog.Any("brokers", cfg.KafkaBrokers),
			slog.String("topic", cfg.KafkaCheckInTopic),
		)
	}

	checkInLedger := ledger.New(checkInRepo, policy)
	validator := credential.NewValidator(
		keys, resolver, membership.NewChecker(membershipRepo, policy), checkInLedger, publisher, collector,
		credential.ValidatorConfig{
			TTL:          cfg.CredentialTTL,
			ClockSkew:    cfg.CredentialClockSkew,
			PublishLimit: cfg.CredentialPublishDeadline,
		},
	)

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(rateLimiterConfig(cfg))

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		TokenValidator:    tokens,
		IdentityResolver:  resolver,
		Metrics:           collector,
		HealthChecker:     db,
		MetricsHandler:    metrics.Handler(registry),
		CredentialIssuer:  credential.NewIssuer(keys, cfg.CredentialTTL),
		CheckInValidator:  validator,
		CheckInLister:     checkInLedger,
	})

	return &server{handler: router, rateLimiter: rateLimiter, publisher: publisher}, nil
}

// rateLimiterConfig は設定値（req/min）をレート制限の設定（req/sec）に変換する。
func rateLimiterConfig(cfg *config.Config) middleware.RateLimiterConfig {
	rlCfg := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitAddress > 0 {
		rlCfg.AddressRate = rate.Limit(float64(cfg.RateLimitAddress) / 60.0)
		rlCfg.AddressBurst = max(1, cfg.RateLimitAddress/6)
	}
	if cfg.RateLimitGeneral > 0 {
		rlCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
		rlCfg.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitCheckIn > 0 {
		rlCfg.CheckInRate = rate.Limit(float64(cfg.RateLimitCheckIn) / 60.0)
		rlCfg.CheckInBurst = max(1, cfg.RateLimitCheckIn/3)
	}
	return rlCfg
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Scheme + "://***@" + u.Host + u.Path
}
