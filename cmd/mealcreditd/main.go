package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MarkoPoloResearchLab/mealcredits/internal/app"
)

const (
	flagEnvFile        = "env-file"
	flagHTTPListenAddr = "http-listen-addr"
	flagGRPCListenAddr = "grpc-listen-addr"
	flagDatabaseURL    = "database-url"
	flagMigrateOnStart = "migrate-on-start"
	flagAllowedOrigins = "allowed-origins"
	flagJWTSigningKey  = "jwt-signing-key"
	flagJWTIssuer      = "jwt-issuer"
	flagRequestTimeout = "request-timeout"
	flagSnowflakeNode  = "snowflake-node"
	flagCancelIsFinal  = "cancel-is-final"
	flagEventQueueSize = "event-queue-size"
	flagKafkaBrokers   = "kafka-brokers"
	flagKafkaTopic     = "kafka-topic"
	flagRedisAddr      = "redis-addr"
	flagRedisChannel   = "redis-channel"
	envPrefix          = "MEALCREDITS"
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "mealcreditd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "mealcreditd",
		Short:         "Meal credit ledger and order lifecycle service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(cmd)
		},
	}
	cmd.PersistentFlags().String(flagEnvFile, "", "optional dotenv file loaded before reading the environment")
	cmd.AddCommand(newServeCommand(), newMigrateCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	cfg := app.Config{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return app.Run(ctx, cfg)
		},
	}

	cmd.Flags().String(flagHTTPListenAddr, "", "HTTP listen address (default :8080)")
	cmd.Flags().String(flagGRPCListenAddr, "", "gRPC listen address (default :7000)")
	cmd.Flags().String(flagDatabaseURL, "", "postgres://, sqlite:// or memory:// database URL")
	cmd.Flags().Bool(flagMigrateOnStart, false, "apply PostgreSQL migrations before serving")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagJWTSigningKey, "", "HS256 key shared with the auth service (required)")
	cmd.Flags().String(flagJWTIssuer, "", "expected JWT issuer")
	cmd.Flags().Duration(flagRequestTimeout, 0, "per-request timeout (e.g. 5s)")
	cmd.Flags().Int64(flagSnowflakeNode, 0, "snowflake node number for transaction ids (0-1023)")
	cmd.Flags().Bool(flagCancelIsFinal, false, "reject refunding orders after they were cancelled")
	cmd.Flags().Int(flagEventQueueSize, 0, "buffered notification events before dropping")
	cmd.Flags().String(flagKafkaBrokers, "", "comma-separated Kafka brokers for event publishing")
	cmd.Flags().String(flagKafkaTopic, "", "Kafka topic for events")
	cmd.Flags().String(flagRedisAddr, "", "Redis address for event pub/sub")
	cmd.Flags().String(flagRedisChannel, "", "Redis channel for events")

	return cmd
}

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply PostgreSQL schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			v := newViper()
			if err := v.BindPFlag(flagDatabaseURL, cmd.Flags().Lookup(flagDatabaseURL)); err != nil {
				return err
			}
			databaseURL := v.GetString(flagDatabaseURL)
			if strings.TrimSpace(databaseURL) == "" {
				return fmt.Errorf("%s is required", flagDatabaseURL)
			}
			return app.Migrate(cmd.Context(), databaseURL)
		},
	}
	cmd.Flags().String(flagDatabaseURL, "", "postgres:// database URL (required)")
	return cmd
}

func loadEnvFile(cmd *cobra.Command) error {
	flag := cmd.Flag(flagEnvFile)
	if flag == nil || flag.Value.String() == "" {
		return nil
	}
	path := flag.Value.String()
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func loadConfig(cmd *cobra.Command, cfg *app.Config) error {
	v := newViper()
	for _, flagName := range []string{
		flagHTTPListenAddr, flagGRPCListenAddr, flagDatabaseURL, flagMigrateOnStart,
		flagAllowedOrigins, flagJWTSigningKey, flagJWTIssuer, flagRequestTimeout,
		flagSnowflakeNode, flagCancelIsFinal, flagEventQueueSize,
		flagKafkaBrokers, flagKafkaTopic, flagRedisAddr, flagRedisChannel,
	} {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.HTTPListenAddr = v.GetString(flagHTTPListenAddr)
	cfg.GRPCListenAddr = v.GetString(flagGRPCListenAddr)
	cfg.DatabaseURL = v.GetString(flagDatabaseURL)
	cfg.MigrateOnStart = v.GetBool(flagMigrateOnStart)
	cfg.AllowedOrigins = app.ParseList(v.GetString(flagAllowedOrigins))
	cfg.JWTSigningKey = v.GetString(flagJWTSigningKey)
	cfg.JWTIssuer = v.GetString(flagJWTIssuer)
	cfg.RequestTimeout = v.GetDuration(flagRequestTimeout)
	cfg.SnowflakeNode = v.GetInt64(flagSnowflakeNode)
	cfg.CancelIsFinal = v.GetBool(flagCancelIsFinal)
	cfg.EventQueueSize = v.GetInt(flagEventQueueSize)
	cfg.KafkaBrokers = app.ParseList(v.GetString(flagKafkaBrokers))
	cfg.KafkaTopic = v.GetString(flagKafkaTopic)
	cfg.RedisAddr = v.GetString(flagRedisAddr)
	cfg.RedisChannel = v.GetString(flagRedisChannel)

	return cfg.Validate()
}
