package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	redisserver "github.com/raniellyferreira/redis-inmemory-server"
	"github.com/raniellyferreira/redis-inmemory-server/admin"
	"github.com/raniellyferreira/redis-inmemory-server/metrics"
	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// serveConfig is the command line configuration after flags, environment
// and .env files have been merged.
type serveConfig struct {
	Port         int
	Bind         string
	Dir          string
	DBFilename   string
	ReplicaOf    string
	MasterAuth   string
	RequirePass  string
	LogLevel     string
	AdminAddr    string
	AdminSecret  string
	SyncTimeout  time.Duration
	ActiveExpire string
}

func newRootCommand() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "redis-server",
		Short: "Redis-compatible in-memory server with replication",
		Long: fmt.Sprintf(`redis-server (v%s, redis %s)

An in-memory key-value server speaking the Redis protocol. It persists to an
RDB file with SAVE, and can act as a replication master or as a replica of
another server. Every flag can also be set as REDIS_<FLAG> in the environment
or in a .env file (e.g. REDIS_REPLICAOF="localhost 6379").`, redisserver.Version, redisserver.RedisVersion),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loadEnv(v)
			return v.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := readConfig(v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	flags := rootCmd.Flags()
	flags.Int("port", 6379, "TCP port to listen on")
	flags.String("bind", "0.0.0.0", "interface to bind to")
	flags.String("dir", ".", "working directory holding the RDB file")
	flags.String("dbfilename", "dump.rdb", "RDB file loaded at startup and written by SAVE")
	flags.String("replicaof", "", `replicate from a master, as "host port"`)
	flags.String("masterauth", "", "password sent to the master")
	flags.String("requirepass", "", "password clients must AUTH with")
	flags.String("loglevel", redisserver.LevelNotice, "debug, verbose, notice or warning")
	flags.String("admin-addr", "", "address of the HTTP admin endpoint (disabled when empty)")
	flags.String("admin-secret", "", "secret for admin endpoint tokens (no authentication when empty)")
	flags.Duration("sync-timeout", 30*time.Second, "time allowed for the replication handshake and snapshot")
	flags.String("active-expire", "default", "expired key sweep: default, low-latency or off")

	rootCmd.AddCommand(newVersionCommand(), newTokenCommand(v))
	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			info := redisserver.VersionInfo()
			fmt.Fprintf(cmd.OutOrStdout(), "redis-server v%s (redis %s, %s)", info["version"], info["redis_version"], info["go_version"])
			if info["git_commit"] != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " commit %s", info["git_commit"])
			}
			fmt.Fprintln(cmd.OutOrStdout())
		},
	}
}

func newTokenCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a token for the admin endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := v.GetString("admin-secret")
			if secret == "" {
				return fmt.Errorf("--admin-secret (or REDIS_ADMIN_SECRET) is required")
			}
			token, err := admin.NewToken(secret, v.GetDuration("ttl"))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("admin-secret", "", "admin endpoint secret")
	cmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	return cmd
}

// loadEnv reads .env files and enables REDIS_ prefixed environment variables.
func loadEnv(v *viper.Viper) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	v.SetEnvPrefix("redis")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

func readConfig(v *viper.Viper) (serveConfig, error) {
	cfg := serveConfig{
		Port:         v.GetInt("port"),
		Bind:         v.GetString("bind"),
		Dir:          v.GetString("dir"),
		DBFilename:   v.GetString("dbfilename"),
		ReplicaOf:    strings.TrimSpace(v.GetString("replicaof")),
		MasterAuth:   v.GetString("masterauth"),
		RequirePass:  v.GetString("requirepass"),
		LogLevel:     v.GetString("loglevel"),
		AdminAddr:    v.GetString("admin-addr"),
		AdminSecret:  v.GetString("admin-secret"),
		SyncTimeout:  v.GetDuration("sync-timeout"),
		ActiveExpire: strings.ToLower(v.GetString("active-expire")),
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return cfg, fmt.Errorf("invalid port %d", cfg.Port)
	}
	return cfg, nil
}

var cleanupPresets = map[string]storage.CleanupConfig{
	"default":     storage.CleanupConfigDefault,
	"low-latency": storage.CleanupConfigLowLatency,
	"off":         storage.CleanupConfigDisabled,
}

// options converts the command line configuration into server options.
func (cfg serveConfig) options() ([]redisserver.Option, error) {
	role := "master"
	app := byte('M')
	if cfg.ReplicaOf != "" {
		role, app = "replica", 'S'
	}

	logger, err := redisserver.NewLogger(os.Stderr, cfg.LogLevel, app)
	if err != nil {
		return nil, err
	}
	cleanup, ok := cleanupPresets[cfg.ActiveExpire]
	if !ok {
		return nil, fmt.Errorf("invalid --active-expire %q", cfg.ActiveExpire)
	}

	opts := []redisserver.Option{
		redisserver.WithAddr(net.JoinHostPort(cfg.Bind, strconv.Itoa(cfg.Port))),
		redisserver.WithDir(cfg.Dir),
		redisserver.WithDBFilename(cfg.DBFilename),
		redisserver.WithPassword(cfg.RequirePass),
		redisserver.WithLogger(logger),
		redisserver.WithMetrics(metrics.New(role)),
		redisserver.WithAdminAddr(cfg.AdminAddr),
		redisserver.WithAdminSecret(cfg.AdminSecret),
		redisserver.WithSyncTimeout(cfg.SyncTimeout),
		redisserver.WithCleanup(cleanup),
	}
	if cfg.ReplicaOf != "" {
		opts = append(opts,
			redisserver.WithReplicaOf(cfg.ReplicaOf),
			redisserver.WithMasterAuth(cfg.MasterAuth),
		)
	}
	return opts, nil
}

func run(ctx context.Context, cfg serveConfig) error {
	opts, err := cfg.options()
	if err != nil {
		return err
	}
	srv, err := redisserver.New(opts...)
	if err != nil {
		return err
	}
	defer srv.Close()

	if err := srv.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}
