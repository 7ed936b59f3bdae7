package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"smartrust/internal/app"
	"smartrust/internal/config"
	"smartrust/internal/db"
	"smartrust/internal/engine"
	"smartrust/internal/generation"
	"smartrust/internal/housekeeping"
	"smartrust/internal/identity"
	"smartrust/internal/migrate"
	"smartrust/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "st",
	Short: "SmarTrust CLI",
	Long: `SmarTrust drafts service contracts and tracks the work they describe.
Core concepts:
- Wizard: a short guided flow (role, identity verification, who you are, the project) that ends in a generated contract.
- Contract: the saved agreement, with its value and currency read from the project description.
- Reference tasks: the catalog every new contract draws its task list from.
- Board: the contract's tasks in three lanes (todo, in progress, done).
- Events: the audit log of contracts, tasks and invites, view with 'st events tail'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SMARTRUST")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Bool("debug", false, "verbose logging")
	rootCmd.PersistentFlags().String("as", "", "email of the user to act as")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("as", rootCmd.PersistentFlags().Lookup("as"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(catalogCmd())
	rootCmd.AddCommand(contractCmd())
	rootCmd.AddCommand(boardCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(eventsCmd())
}

func newLogger() (*zap.Logger, error) {
	if viper.GetBool("debug") {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func loadConfig() (*config.Config, error) {
	return config.LoadOrDefault(viper.GetString("workspace"))
}

func generatorFor(cfg *config.Config, log *zap.Logger) *generation.Client {
	g := cfg.Generation
	return generation.New(generation.Config{
		APIKey:               viper.GetString("openai_api_key"),
		BaseURL:              g.BaseURL,
		Model:                g.Model,
		QuestionsTemperature: g.QuestionsTemperature,
		ContractTemperature:  g.ContractTemperature,
		MaxQuestions:         g.MaxQuestions,
		Timeout:              time.Duration(g.TimeoutSeconds) * time.Second,
	}, log.Named("generation"))
}

func identityFor(e engine.Engine, cfg *config.Config, log *zap.Logger) identity.Service {
	return identity.Service{
		Repo:   e.Repo,
		Mailer: identity.LogMailer{Log: log.Named("mail")},
		Config: identity.Config{
			Secret:     viper.GetString("jwt_secret"),
			OTPTTL:     time.Duration(cfg.Auth.OTPTTLSeconds) * time.Second,
			Cooldown:   time.Duration(cfg.Auth.ResendCooldownSeconds) * time.Second,
			SessionTTL: time.Duration(cfg.Auth.SessionTTLHours) * time.Hour,
		},
		Log:   log.Named("identity"),
		Audit: &e.Events,
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger()
			if err != nil {
				return err
			}
			defer log.Sync()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("base-path") {
				cfg.Server.BasePath = basePath
			}
			if strings.TrimSpace(viper.GetString("jwt_secret")) == "" {
				return fmt.Errorf("SMARTRUST_JWT_SECRET is required to sign sessions")
			}
			ctx := cmd.Context()
			conn, dialect, err := app.Open(ctx, viper.GetString("workspace"), cfg)
			if err != nil {
				return err
			}
			defer conn.Close()

			e := engine.New(conn, dialect, cfg, generatorFor(cfg, log), log.Named("engine"))
			ids := identityFor(e, cfg, log)
			handler, err := server.New(server.Config{
				Engine:        e,
				Identity:      ids,
				BasePath:      cfg.Server.BasePath,
				AllowDevLogin: cfg.Auth.AllowDevLogin,
				Log:           log.Named("http"),
			})
			if err != nil {
				return err
			}

			hk := &housekeeping.Service{Engine: e, Config: cfg.Housekeeping, Log: log.Named("housekeeping")}
			if err := hk.Start(ctx); err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}
			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return server.NewDispatcher(e.Repo, cfg.Webhooks, log.Named("webhooks")).Run(gctx)
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			g.Go(func() error {
				log.Info("serving SmarTrust API",
					zap.String("addr", cfg.Server.Addr),
					zap.String("base_path", cfg.Server.BasePath),
					zap.Bool("dev_login", cfg.Auth.AllowDevLogin))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			dbCfg := db.Config{Workspace: viper.GetString("workspace"), Driver: cfg.Store.Driver, DSN: cfg.Store.DSN}
			conn, err := db.Open(dbCfg)
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn, dbCfg.Dialect()); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	c.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default smartrust.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.MkdirAll(workspace, 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	})
	c.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate smartrust.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return c
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	conn, dialect, err := app.Open(ctx, viper.GetString("workspace"), cfg)
	if err != nil {
		return err
	}
	defer conn.Close()
	e := engine.New(conn, dialect, cfg, generatorFor(cfg, log), log.Named("engine"))
	return fn(ctx, e)
}

// actingUser resolves --as to a principal. The user is created on first use.
func actingUser(ctx context.Context, e engine.Engine) (*identity.Principal, error) {
	email := strings.TrimSpace(viper.GetString("as"))
	if email == "" {
		return nil, fmt.Errorf("--as <email> required")
	}
	u, err := e.Repo.EnsureUser(ctx, email, "", nil)
	if err != nil {
		return nil, err
	}
	return &identity.Principal{UserID: u.ID, Email: u.Email, Source: "cli"}, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
