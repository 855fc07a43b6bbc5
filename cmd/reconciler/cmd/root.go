package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"cnab-reconciliation-service/cmd/reconciler/config"
	"cnab-reconciliation-service/internal/models"
	"cnab-reconciliation-service/internal/storage"
	"cnab-reconciliation-service/pkg/errors"
	"cnab-reconciliation-service/pkg/logger"
)

var (
	cfgFile   string
	verbose   bool
	configErr error
	version   = "dev"
	commit    = "unknown"
	date      = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "CNAB240 return file reconciliation tool",
	Long: `Reconciler decodes CNAB240 bank return files (T/U segment pairs), stores
the settled titles of two independent collections and reconciles them on
the bank reference number.

The two collections are the bank API export (side "api") and the general
return file (side "geral"). Each side lives in its own storage table.

Examples:
  reconciler import --side api retorno_api_0105.ret
  reconciler import --side geral --force retorno_geral_0105.ret
  reconciler reconcile --start 01/05/2024 --end 31/05/2024 --format xlsx --output may.xlsx
  reconciler sources --side api
  reconciler generate --count 100 --output sample.ret`,
	Version:           getVersionString(),
	PersistentPreRunE: setupLogging,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// Execute runs the root command. An interrupt cancels the running command's
// context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)
	config.SetDefaults(viper.GetViper())

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output (debug logging)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "text", "log format: text, json")
	flags.String("storage-driver", "sqlite", "storage backend: sqlite, jsonfile, elasticsearch")
	flags.String("storage-dsn", "reconciliation.db", "SQLite database path or JSON store directory")
	flags.StringSlice("storage-addresses", []string{"http://localhost:9200"}, "Elasticsearch addresses")
	flags.String("index-prefix", "cnab_", "Elasticsearch index name prefix")

	viper.BindPFlag(config.KeyVerbose, flags.Lookup("verbose"))
	viper.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))
	viper.BindPFlag(config.KeyLogFormat, flags.Lookup("log-format"))
	viper.BindPFlag(config.KeyStorageDriver, flags.Lookup("storage-driver"))
	viper.BindPFlag(config.KeyStorageDSN, flags.Lookup("storage-dsn"))
	viper.BindPFlag(config.KeyStorageAddresses, flags.Lookup("storage-addresses"))
	viper.BindPFlag(config.KeyIndexPrefix, flags.Lookup("index-prefix"))
}

// initConfig reads in config file and ENV variables.
func initConfig() {
	configErr = nil
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			configErr = errors.ConfigurationError(errors.CodeInvalidConfig, "config", cfgFile, err).
				WithSuggestion("Check the config file path and syntax")
			return
		}
	}

	viper.SetEnvPrefix("RECONCILER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

// setupLogging installs the configured logger as the global logger before
// any command runs.
func setupLogging(cmd *cobra.Command, args []string) error {
	if configErr != nil {
		return configErr
	}

	logConfig, err := config.CreateLoggerConfig(viper.GetViper())
	if err != nil {
		return err
	}
	log, err := logger.NewLogger(logConfig)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "log", logConfig, err)
	}
	logger.SetGlobalLogger(log)

	if cfgFile != "" {
		log.WithField("config_file", viper.ConfigFileUsed()).Debug("Using config file")
	}
	return nil
}

// openStore opens the configured storage backend.
func openStore(ctx context.Context) (storage.Store, error) {
	storeConfig, err := config.CreateStorageConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}
	logger.WithComponent("cli").WithFields(logger.Fields{
		"driver": storeConfig.Driver,
		"dsn":    storeConfig.DSN,
	}).Debug("Opening storage")
	return storage.Open(ctx, storeConfig)
}

// sidesFor resolves an optional --side value. An empty value selects both
// sides, api first.
func sidesFor(value string) ([]models.Side, error) {
	if strings.TrimSpace(value) == "" {
		return []models.Side{models.SideAPI, models.SideGeneral}, nil
	}
	side, err := models.ParseSide(value)
	if err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidValue, "side", value, err)
	}
	return []models.Side{side}, nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
