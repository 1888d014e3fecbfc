package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "notifyctl",
	Short: "Notification engine CLI",
	Long:  `A CLI tool to send notifications, render templates and inspect delivery metrics.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.notifyctl.yaml)")
	rootCmd.PersistentFlags().String("engine-url", "", "base URL of the notification engine")
	viper.BindPFlag("engine_url", rootCmd.PersistentFlags().Lookup("engine-url"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".notifyctl")

		// Create config file if it doesn't exist
		configPath := filepath.Join(home, ".notifyctl.yaml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			f, err := os.Create(configPath)
			if err != nil {
				fmt.Printf("Warning: failed to create config file: %v\n", err)
			} else {
				f.Close()
			}
		}
	}

	viper.AutomaticEnv()
	viper.ReadInConfig()
}

func engineURL() string {
	if url := viper.GetString("engine_url"); url != "" {
		return url
	}
	return "http://localhost:8086"
}

func main() {
	Execute()
}
