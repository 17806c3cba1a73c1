package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vobby/vobby/internal/utils"
)

var ErrConfigExists = errors.New("config file already exists (use --force to overwrite)")

func init() {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the vobby config file",
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file from the given flags",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			force, _ := cmd.Flags().GetBool("force")
			if utils.FileExists(cfg.Path) && !force {
				return fmt.Errorf("%s: %w", cfg.Path, ErrConfigExists)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(cfg.Path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", green.Render("wrote"), cfg.Path)
			return nil
		},
	}
	addBridgeFlags(initCmd.Flags())
	initCmd.Flags().Bool("force", false, "overwrite an existing config file")

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Print the config file in use",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath(cmd))
		},
	}

	configCmd.AddCommand(initCmd, pathCmd)
	rootCmd.AddCommand(configCmd)
}
