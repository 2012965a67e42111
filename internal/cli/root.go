package cli

import (
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/buildtall-systems/orderbridge/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "orderbridge",
	Short: "Relay burger orders between the realtime database and the robot",
	Long: `orderbridge polls the realtime database for new orders, emergency stops
and recovery commands, publishes them to the robot's message bus, and writes
robot status reports back to the database.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./orderbridge.yaml or ~/.config/orderbridge/orderbridge.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log every poll tick")
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "orderbridge"))
		}
		viper.SetConfigName("orderbridge")
		viper.SetConfigType("yaml")
	}

	config.BindEnv()

	if err := viper.ReadInConfig(); err == nil {
		log.Printf("using config file: %s", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		log.Printf("reading config file %s: %v", cfgFile, err)
	}
}
