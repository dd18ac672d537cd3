package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"oraclebridge/internal/config"
	"oraclebridge/internal/keys"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config and generate an agent key",
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		path, err := configFile()
		if err != nil {
			return err
		}

		cfg := config.Default(home)
		if existing, err := config.Load(path); err == nil {
			cfg = existing
		}
		if err := os.MkdirAll(cfg.Agent.KeyStore, 0o700); err != nil {
			return err
		}
		agentKey, created, err := keys.EnsureKey(keys.DefaultAgentKeyPath(cfg.Agent.KeyStore), "agent")
		if err != nil {
			return err
		}
		cfg.Agent.Address = agentKey.Address
		if err := config.Write(path, cfg); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "initialized %s\n", path)
		fmt.Fprintf(out, "agent address: %s\n", agentKey.Address)
		if created {
			fmt.Fprintf(out, "key stored in %s\n", filepath.Clean(cfg.Agent.KeyStore))
		}
		if cfg.Contracts.Oracle == "" {
			fmt.Fprintln(out, "set contracts.oracle (or ORACLE_ADDRESS) before running")
		}
		return nil
	},
}
