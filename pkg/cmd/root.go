package cmd

import (
	"strings"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"

	_ "github.com/go-sql-driver/mysql"
)

var RootCmd = &cobra.Command{
	Use:   "ocbot",
	Short: "ocbot trade bot",
	Long:  "interval-bucketed open-change trading bot",

	// SilenceUsage is an option to silence usage when an error occurs.
	SilenceUsage: true,

	RunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
}

func init() {
	RootCmd.PersistentFlags().Bool("debug", false, "debug flag")
	RootCmd.PersistentFlags().String("config", "", "config file")
	RootCmd.PersistentFlags().String("dsn", "", "mysql data source name")

	RootCmd.PersistentFlags().String("binance-api-key", "", "binance api key")
	RootCmd.PersistentFlags().String("binance-api-secret", "", "binance api secret")
}

func Execute() {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := godotenv.Load(); err != nil {
		log.Debugf("no dotenv file loaded: %v", err)
	}

	if err := viper.BindPFlags(RootCmd.PersistentFlags()); err != nil {
		log.WithError(err).Error("failed to bind persistent flags")
	}

	log.SetFormatter(&prefixed.TextFormatter{})

	if viper.GetBool("debug") {
		log.SetLevel(log.DebugLevel)
	}

	if err := RootCmd.Execute(); err != nil {
		log.WithError(err).Fatal("cannot execute command")
	}
}
