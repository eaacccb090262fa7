package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/config"
	"github.com/thalysguimaraes/sync-todoist-things-sub000/internal/ui"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := flagConfig
		if path == "" {
			path = config.DefaultPath()
		}

		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists at %s", path)
		}

		if err := config.Default().Write(path); err != nil {
			return err
		}
		fmt.Println(ui.Pass("wrote default config to %s", path))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
