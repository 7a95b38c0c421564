package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/yourusername/wistia-offline-go/internal/app"
	"github.com/yourusername/wistia-offline-go/internal/domain"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage server configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a default config file (default ~/.wistia-offline/config.yaml)",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")
		token, _ := cmd.Flags().GetString("api-token")

		path, err := writeDefaultConfig(args, token, force)
		exitOnError(err)
		fmt.Printf("Config written to %s\n", path)
	},
}

func init() {
	configInitCmd.Flags().BoolP("force", "f", false, "Overwrite an existing file")
	configInitCmd.Flags().String("api-token", "", "Wistia Data API token")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func writeDefaultConfig(args []string, token string, force bool) (string, error) {
	path := ""
	if len(args) == 1 {
		path = args[0]
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to locate home directory: %w", err)
		}
		path = filepath.Join(home, ".wistia-offline", "config.yaml")
	}

	if _, err := os.Stat(path); err == nil && !force {
		return "", fmt.Errorf("%s already exists, use --force to overwrite", path)
	}

	config := domain.DefaultConfig()
	config.Wistia.APIToken = token
	if err := app.SaveConfig(config, path); err != nil {
		return "", err
	}
	return path, nil
}
