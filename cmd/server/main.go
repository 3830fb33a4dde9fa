package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	emailPkg "membership/internal/adapters/email"
	web "membership/internal/adapters/http"
	"membership/internal/adapters/http/middleware"
	"membership/internal/adapters/http/perf"
	"membership/internal/adapters/storage"
	memberStore "membership/internal/adapters/storage/member"
	"membership/internal/application/orchestrators"
	"membership/internal/application/projections"
	"membership/internal/config"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type flags struct {
	envFile      string
	addr         string
	export       bool
	hashPassword bool
	showVersion  bool
}

func parseFlags() flags {
	var f flags
	pflag.StringVar(&f.envFile, "env-file", ".env", "optional dotenv file read before the environment")
	pflag.StringVar(&f.addr, "addr", "", "listen address (overrides MEMBERSHIP_ADDR)")
	pflag.BoolVar(&f.export, "export", false, "write the roster as CSV to stdout and exit")
	pflag.BoolVar(&f.hashPassword, "hash-password", false, "read a password from stdin, print its bcrypt hash and exit")
	pflag.BoolVar(&f.showVersion, "version", false, "print the version and exit")
	pflag.Parse()
	return f
}

func main() {
	f := parseFlags()
	if f.showVersion {
		fmt.Println(version)
		return
	}
	if f.hashPassword {
		if err := printHash(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(f.envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if f.addr != "" {
		cfg.Addr = f.addr
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if err := run(cfg, f); err != nil {
		slog.Error("startup_failed", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level()}
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func printHash() error {
	fmt.Fprint(os.Stderr, "password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return errors.New("password must not be empty")
	}
	hash, err := middleware.HashPassword(password)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

// openStore connects the configured backend and returns the store, a health check and a closer.
func openStore(ctx context.Context, cfg config.Config, collector *perf.Collector) (memberStore.Store, func(context.Context) error, func() error, error) {
	switch cfg.Driver {
	case "postgres":
		db, err := memberStore.OpenPostgres(cfg.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := db.Use(storage.NewGormTiming(collector, cfg.SlowQuery())); err != nil {
			return nil, nil, nil, err
		}
		store := memberStore.NewGormStore(db)
		if err := store.Migrate(ctx); err != nil {
			return nil, nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, nil, err
		}
		return store, sqlDB.PingContext, sqlDB.Close, nil
	default:
		db, err := storage.OpenSQLite(cfg.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := storage.MigrateDB(db); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		timed := storage.NewTimedDB(db, collector, cfg.SlowQuery())
		return memberStore.NewSQLiteStore(timed), timed.Ping, timed.Close, nil
	}
}

func run(cfg config.Config, f flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := perf.NewCollector()
	store, ping, closeDB, err := openStore(ctx, cfg, collector)
	if err != nil {
		return err
	}
	defer closeDB()
	slog.Info("database_ready", "driver", cfg.Driver, "schema", storage.LatestSchemaVersion())

	if f.export {
		n, err := projections.QueryExportMembers(ctx, os.Stdout, projections.ExportMembersDeps{MemberStore: store})
		if err != nil {
			return err
		}
		slog.Info("roster_event", "event", "members_exported", "actor", "cli", "rows", n)
		return nil
	}

	config.Log(slog.Default(), cfg)

	key, err := cfg.SecretKey()
	if err != nil {
		return err
	}
	if cfg.ResendKey == "" {
		if cfg.IsProduction() {
			slog.Warn("email_disabled", "hint", "set "+config.Prefix+"_RESEND_KEY for delivery")
		} else {
			slog.Info("email_noop", "hint", "set "+config.Prefix+"_RESEND_KEY for delivery")
		}
	}
	if cfg.AdminPasswordHash == "" {
		slog.Warn("admin_disabled", "hint", "set "+config.Prefix+"_ADMIN_PASSWORD_HASH (see --hash-password)")
	}

	srv, err := web.NewServer(web.Options{
		CSRFKey:        key,
		TokenTTL:       cfg.TokenTTL,
		SecureCookies:  cfg.IsProduction(),
		TrustedOrigins: cfg.TrustedOrigins,
		RateLimit:      cfg.RateLimit,
		SlowRequest:    cfg.SlowRequest(),
		Identity: middleware.HostIdentity{
			Header:    cfg.IdentityHeader,
			AdminUser: cfg.AdminUser,
			AdminHash: []byte(cfg.AdminPasswordHash),
		},
		ContactURL:    cfg.ContactURL,
		EnrollURL:     cfg.EnrollURL,
		IntroMarkdown: cfg.IntroMarkdown,
	}, web.Deps{
		Members: store,
		Notifier: &orchestrators.Notifier{
			Sender:     emailPkg.NewSender(cfg.ResendKey, cfg.From),
			From:       cfg.From,
			ReplyTo:    cfg.ReplyTo,
			ContactURL: cfg.ContactURL,
		},
		Collector: collector,
		Ping:      ping,
	})
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server_starting", "version", version, "addr", cfg.Addr, "env", cfg.Env)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("server_stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
