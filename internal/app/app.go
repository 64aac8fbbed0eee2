package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nicolas-growmodo/twiliner-integration/internal/config"
	"github.com/nicolas-growmodo/twiliner-integration/internal/crm"
	"github.com/nicolas-growmodo/twiliner-integration/internal/database"
	"github.com/nicolas-growmodo/twiliner-integration/internal/logger"
	"github.com/nicolas-growmodo/twiliner-integration/internal/metrics"
	"github.com/nicolas-growmodo/twiliner-integration/internal/upstream"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再設定する
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
		port := os.Getenv("PORT")
		if port == "" {
			port = "3000"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("app_env", cfg.AppEnv),
		slog.String("cursor_backend", cfg.CursorBackend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandCRMCheck:
		return runCRMCheck(ctx, w, cfg)
	}

	c, err := buildComponents(ctx, cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			slog.Error("failed to close resources", slog.String("error", err.Error()))
		}
	}()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, c)
	case CommandSyncOnce:
		return runSyncOnce(ctx, c)
	default:
		return runServe(ctx, c)
	}
}

// runServe はWebhookサーバーと定期同期を同一プロセスで起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, c *components) error {
	server := &http.Server{
		Addr:         ":" + c.cfg.ServerPort,
		Handler:      c.router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	syncCtx, cancelSync := context.WithCancel(ctx)
	defer cancelSync()

	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		slog.Info("sync scheduler starting",
			slog.Duration("polling_interval", c.cfg.PollingInterval),
		)
		c.scheduler.Start(syncCtx, c.cfg.PollingInterval)
	}()

	var listenErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err, ok := <-serverErr:
		if ok {
			listenErr = fmt.Errorf("server listen error: %w", err)
		}
	}

	cancelSync()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	<-syncDone

	if listenErr != nil {
		return listenErr
	}

	slog.Info("stopped gracefully")
	return nil
}

// runWorker は定期同期のみを起動する。
// ctxがキャンセルされるまでブロックする。
func runWorker(ctx context.Context, c *components) error {
	slog.Info("worker starting",
		slog.Duration("polling_interval", c.cfg.PollingInterval),
	)

	c.scheduler.Start(ctx, c.cfg.PollingInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runSyncOnce は同期サイクルを1回実行して終了する。
// 予約検索に失敗した場合はエラーを返す。
func runSyncOnce(ctx context.Context, c *components) error {
	report, err := c.scheduler.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("sync cycle failed: %w", err)
	}

	slog.Info("sync cycle finished",
		slog.String("cycle_id", report.CycleID),
		slog.Int("found", report.Found),
		slog.Int("dispatched", report.Dispatched),
		slog.Int("failed", report.Failed),
		slog.Bool("cursor_advanced", report.CursorAdvanced),
	)
	return nil
}

// runMigrate はカーソル用テーブルのマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("migration failed: DATABASE_URL is not set")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL, slog.Default()); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runCRMCheck はBrevoのアカウント情報を取得して接続を確認する。
// APIキーが未設定の場合は何も送信せずにエラーを返す。
func runCRMCheck(ctx context.Context, w io.Writer, cfg *config.Config) error {
	if cfg.BrevoAPIKey == "" {
		return fmt.Errorf("crm check failed: %w", crm.ErrMissingAPIKey)
	}

	doer := upstream.NewDoer(upstreamConfig(cfg, upstreamBrevo), &http.Client{}, metrics.Nop{}, slog.Default())
	client := crm.NewClient(cfg.BrevoAPIURL, cfg.BrevoAPIKey, doer, slog.Default())

	account, err := client.Account(ctx)
	if err != nil {
		return fmt.Errorf("crm check failed: %w", err)
	}

	fmt.Fprintf(w, "Brevo connection OK\nemail: %s\ncompany: %s\n", account.Email, account.CompanyName)
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
