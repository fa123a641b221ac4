// Package cli provides the command-line interface for the TSDS services.
// Configuration merges config files, environment variables, and flags via
// Viper with the usual precedence (flags > env > file > defaults).
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bgeels/tsds-services/version"
)

// cfgFile holds the path to the configuration file specified via the
// --config flag. When empty, Viper searches for .tsds-services.yaml in the
// home and working directories.
var cfgFile string

// showVersion toggles printing build information instead of running a
// command.
var showVersion bool

// RootCmd is the entry point of the tsds-services CLI.
var RootCmd = &cobra.Command{
	Use:   "tsds-services",
	Short: "time-series data services",
	Long: `TSDS Services

Backend services for the time-series data system. The writer service
consumes batched measurement updates from RabbitMQ and commits them to the
MongoDB document store, coordinating with sibling workers through Redis
locks and a memcached presence cache.

Configuration can be provided via command-line flags, environment
variables, or a YAML configuration file with automatic precedence
handling.`,
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Println(version.String())
			return
		}
		cmd.Help()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.tsds-services.yaml)")
	RootCmd.Flags().BoolVar(&showVersion, "version", false, "print build information and exit")

	// Store configuration flags
	RootCmd.PersistentFlags().String("mongo-host", "", "MongoDB host")
	RootCmd.PersistentFlags().Int("mongo-port", 27017, "MongoDB port")

	// Lock service configuration flags
	RootCmd.PersistentFlags().String("redis-host", "", "Redis host")
	RootCmd.PersistentFlags().Int("redis-port", 6379, "Redis port")

	// Cache configuration flags
	RootCmd.PersistentFlags().String("memcache-host", "", "memcached host")
	RootCmd.PersistentFlags().Int("memcache-port", 11211, "memcached port")

	// Broker configuration flags
	RootCmd.PersistentFlags().String("rabbit-host", "", "RabbitMQ host")
	RootCmd.PersistentFlags().Int("rabbit-port", 5672, "RabbitMQ port")
	RootCmd.PersistentFlags().String("rabbit-queue", "", "RabbitMQ queue name")

	viper.BindPFlag("mongo.host", RootCmd.PersistentFlags().Lookup("mongo-host"))
	viper.BindPFlag("mongo.port", RootCmd.PersistentFlags().Lookup("mongo-port"))
	viper.BindPFlag("redis.host", RootCmd.PersistentFlags().Lookup("redis-host"))
	viper.BindPFlag("redis.port", RootCmd.PersistentFlags().Lookup("redis-port"))
	viper.BindPFlag("memcache.host", RootCmd.PersistentFlags().Lookup("memcache-host"))
	viper.BindPFlag("memcache.port", RootCmd.PersistentFlags().Lookup("memcache-port"))
	viper.BindPFlag("rabbit.host", RootCmd.PersistentFlags().Lookup("rabbit-host"))
	viper.BindPFlag("rabbit.port", RootCmd.PersistentFlags().Lookup("rabbit-port"))
	viper.BindPFlag("rabbit.queue", RootCmd.PersistentFlags().Lookup("rabbit-queue"))
}

// initConfig loads the configuration file and wires environment variables.
// Nested keys map to environment variables with underscores, e.g.
// TSDS_MONGO_HOST maps to mongo.host.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".tsds-services")
	}

	viper.SetEnvPrefix("TSDS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "using config file:", viper.ConfigFileUsed())
	}
}
