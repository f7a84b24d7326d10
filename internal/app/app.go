package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/mapapp/internal/account"
	"github.com/hitoshi/mapapp/internal/config"
	"github.com/hitoshi/mapapp/internal/database"
	"github.com/hitoshi/mapapp/internal/event"
	"github.com/hitoshi/mapapp/internal/handler"
	"github.com/hitoshi/mapapp/internal/identity"
	"github.com/hitoshi/mapapp/internal/logger"
	"github.com/hitoshi/mapapp/internal/mail"
	"github.com/hitoshi/mapapp/internal/mapping"
	"github.com/hitoshi/mapapp/internal/metrics"
	"github.com/hitoshi/mapapp/internal/middleware"
	"github.com/hitoshi/mapapp/internal/profile"
	"github.com/hitoshi/mapapp/internal/registration"
	"github.com/hitoshi/mapapp/internal/repository"
	"github.com/hitoshi/mapapp/internal/security"
	"github.com/hitoshi/mapapp/internal/worker/cleanup"
	"github.com/hitoshi/mapapp/internal/worker/geocode"
	"github.com/hitoshi/mapapp/internal/worker/outbox"
)

const (
	// oauthTimeout はGoogle OAuthのトークン交換・ユーザー情報取得のタイムアウト。
	oauthTimeout = 10 * time.Second
	// cleanupInterval はクリーンアップジョブの実行間隔。
	cleanupInterval = 24 * time.Hour
	// shutdownTimeout はグレースフルシャットダウンの猶予。
	shutdownTimeout = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

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
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newRegistry はGo/プロセスのメトリクスを含むPrometheusレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// newIdentityProvider は設定からIDプロバイダーを構築し、外部ログインスキームを登録する。
func newIdentityProvider(cfg *config.Config, db *sql.DB) (*identity.Provider, error) {
	idp := identity.NewProvider(
		repository.NewPostgresIdentityUserRepo(db),
		repository.NewPostgresExternalLoginRepo(db),
		repository.NewPostgresTokenRepo(db),
		repository.NewPostgresSessionRepo(db),
		identity.Options{
			Password: identity.PasswordPolicy{
				RequiredLength:         cfg.PasswordRequiredLength,
				RequireDigit:           cfg.PasswordRequireDigit,
				RequireLowercase:       cfg.PasswordRequireLower,
				RequireUppercase:       cfg.PasswordRequireUpper,
				RequireNonAlphanumeric: cfg.PasswordRequireNonAlnum,
			},
			RequireConfirmedAccount: cfg.RequireConfirmedAccount,
			TokenSecret:             []byte(cfg.SessionSecret),
			ConfirmationTokenTTL:    cfg.ConfirmationTokenTTL,
			SessionMaxAge:           time.Duration(cfg.SessionMaxAge) * time.Second,
		},
	)

	if cfg.ExternalLoginEnabled() {
		idp.RegisterScheme(identity.GoogleScheme, identity.NewGoogleOAuthProvider(identity.GoogleOAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		}, security.NewOutboundClient(oauthTimeout)))
		slog.Info("external login enabled", slog.String("scheme", identity.GoogleScheme))
	}

	return idp, nil
}

// runServe はWebサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDB(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	profileRepo := repository.NewPostgresProfileRepo(db)
	eventRepo := repository.NewPostgresEventRepo(db)

	// 3. メトリクス
	reg := newRegistry()
	mc := metrics.NewCollector(reg)

	// 4. ドメインサービスの初期化
	idp, err := newIdentityProvider(cfg, db)
	if err != nil {
		return err
	}
	profileService := profile.NewService(profileRepo)
	registrationService := registration.NewService(idp, profileRepo, mc, cfg.BaseURL)
	accountService := account.NewService(idp, profileRepo)

	maps := mapping.NewProvider(cfg.GoogleMapsAPIKey)
	eventService := event.NewService(eventRepo, security.NewDescriptionSanitizer(), maps)

	// 5. 画面テンプレート
	renderer, err := handler.NewRenderer(profileService, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.AccountRateLimiterConfig(cfg.RateLimitAccount))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:          slog.Default(),
		HealthChecker:   db,
		MetricsGatherer: reg,

		SessionFinder: idp,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		Renderer: renderer,

		Identity:   idp,
		Registrar:  registrationService,
		Profiles:   profileService,
		Withdrawer: accountService,
		AccountConfig: handler.AccountHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		Events: eventService,
		Maps:   maps,
	})

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilSignal(server, "web server")
}

// serveUntilSignal はHTTPサーバーを起動し、SIGINT/SIGTERMでグレースフルシャットダウンする。
func serveUntilSignal(server *http.Server, name string) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		slog.Info(name+" starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("%s listen error: %w", name, err)
	case <-stop:
	}

	slog.Info("shutting down " + name + "...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("%s shutdown failed: %w", name, err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// newMailSender はSMTP_HOSTが設定されていればSMTP送信、未設定ならログ出力のみの送信者を返す。
func newMailSender(cfg *config.Config) mail.Sender {
	if cfg.SMTPHost == "" {
		slog.Warn("SMTP_HOST is not set; emails will be written to the log instead of being sent")
		return mail.NewLogSender(slog.Default())
	}
	return mail.NewSMTPSender(mail.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.MailFrom,
	})
}

// runWorker はワーカーモードで起動する。
// 確認メールのoutbox配送、イベント住所のジオコーディング、期限切れデータのクリーンアップを実行する。
// /health と /metrics を提供する運用用HTTPサーバーも起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDB(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	outboxRepo := repository.NewPostgresOutboxRepo(db)
	eventRepo := repository.NewPostgresEventRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	tokenRepo := repository.NewPostgresTokenRepo(db)

	reg := newRegistry()
	mc := metrics.NewCollector(reg)

	// 3. outboxディスパッチャの初期化
	dispatcher := outbox.NewDispatcher(outboxRepo, newMailSender(cfg), mc, slog.Default(), outbox.Config{
		BatchSize:      cfg.OutboxBatchSize,
		MaxAttempts:    cfg.OutboxMaxAttempts,
		MaxConcurrency: cfg.OutboxMaxConcurrent,
	})

	// 4. ジオコーディングバッチジョブの初期化（APIキー未設定時は無効）
	var geocodeBatch *geocode.BatchJob
	if cfg.GoogleMapsAPIKey != "" {
		if err := security.ValidateEndpoint(cfg.GeocodeEndpoint); err != nil {
			return fmt.Errorf("invalid GEOCODE_ENDPOINT: %w", err)
		}
		geocoder := mapping.NewGeocoder(
			security.NewOutboundClient(cfg.GeocodeTimeout),
			slog.Default(),
			cfg.GoogleMapsAPIKey,
			cfg.GeocodeEndpoint,
		)
		geocodeBatch = geocode.NewBatchJob(eventRepo, geocoder, mc, slog.Default(), geocode.BatchConfig{
			BatchInterval:    cfg.GeocodeBatchInterval,
			APIInterval:      cfg.GeocodeAPIInterval,
			MaxCallsPerCycle: cfg.GeocodeMaxCallsPerCycle,
		})
	} else {
		slog.Warn("GOOGLE_MAPS_API_KEY is not set; geocoding is disabled")
	}

	// 5. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(sessionRepo, tokenRepo, outboxRepo, slog.Default())
	cleanupJob.RetentionDays = cfg.OutboxRetentionDays

	// 6. 運用用HTTPサーバー
	r := chi.NewRouter()
	r.Get("/health", handler.HealthHandler(db))
	r.Method(http.MethodGet, "/metrics", metrics.Handler(reg))
	opsServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	go func() {
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker ops server listen error", slog.String("error", err.Error()))
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		opsServer.Shutdown(shutdownCtx)
	}()

	slog.Info("worker starting",
		slog.Duration("outbox_interval", cfg.OutboxInterval),
		slog.Int("outbox_max_concurrent", cfg.OutboxMaxConcurrent),
		slog.Bool("geocode_enabled", geocodeBatch != nil),
	)

	// ジオコーディングバッチジョブをバックグラウンドで起動
	if geocodeBatch != nil {
		go geocodeBatch.Start(ctx)
	}

	// クリーンアップジョブを日次でバックグラウンド実行
	go cleanupJob.Start(ctx, cleanupInterval)

	// outboxディスパッチャをメインgoroutineで実行（ブロッキング）
	dispatcher.Start(ctx, cfg.OutboxInterval)

	slog.Info("worker stopped gracefully")
	return nil
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
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}

// compile-time interface check
var (
	_ handler.IdentityService           = (*identity.Provider)(nil)
	_ middleware.CurrentUserFinder      = (*identity.Provider)(nil)
	_ registration.IdentityProvider     = (*identity.Provider)(nil)
	_ account.IdentityStore             = (*identity.Provider)(nil)
	_ handler.Registrar                 = (*registration.Service)(nil)
	_ handler.ProfileReader             = (*profile.Service)(nil)
	_ handler.DisplayNamer              = (*profile.Service)(nil)
	_ handler.Withdrawer                = (*account.Service)(nil)
	_ handler.EventServiceInterface     = (*event.Service)(nil)
	_ handler.MapScripts                = (*mapping.Provider)(nil)
	_ event.MapEmbedder                 = (*mapping.Provider)(nil)
	_ geocode.Geocoder                  = (*mapping.Geocoder)(nil)
	_ registration.ProfileStore         = (repository.ProfileRepository)(nil)
	_ account.ProfileDeleter            = (repository.ProfileRepository)(nil)
	_ event.Store                       = (repository.EventRepository)(nil)
	_ geocode.EventStore                = (repository.EventRepository)(nil)
	_ cleanup.ExpiredPurger             = (repository.SessionRepository)(nil)
	_ cleanup.ExpiredPurger             = (repository.TokenRepository)(nil)
	_ cleanup.OutboxPurger              = (repository.OutboxRepository)(nil)
	_ handler.HealthChecker             = (*sql.DB)(nil)
)
