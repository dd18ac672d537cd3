package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"oraclebridge/internal/tasks"
)

var statusLast uint32

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agent identity, registration and recent task status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		key, err := signingKey(cfg)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		gw, err := dialGateway(ctx, cfg)
		if err != nil {
			return err
		}
		defer gw.Close()

		out := cmd.OutOrStdout()
		agent := agentAddress(cfg, key)
		fmt.Fprintln(out, "agent status")
		fmt.Fprintf(out, "  address: %s\n", agent.Hex())
		if cfg.Contracts.Agent != "" {
			fmt.Fprintf(out, "  agent contract: %s\n", hexAddress(cfg.Contracts.Agent).Hex())
		}
		fmt.Fprintf(out, "  signing key: %t\n", key != nil)
		if gw.HasRegistry() {
			ok, err := gw.IsRegistered(ctx, agent)
			if err != nil {
				fmt.Fprintf(out, "  registered: unknown (%v)\n", err)
			} else {
				fmt.Fprintf(out, "  registered: %t\n", ok)
			}
		}

		store := tasks.NewStore(gw, logger)
		count, err := store.LatestTaskCount(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  oracle: %s\n", gw.OracleAddress().Hex())
		fmt.Fprintf(out, "  tasks: %d\n", count)

		start := uint32(0)
		if count > statusLast {
			start = count - statusLast
		}
		for idx := start; idx < count; idx++ {
			status, err := store.StatusOf(ctx, idx)
			if err != nil {
				fmt.Fprintf(out, "  [%d] unreadable: %v\n", idx, err)
				continue
			}
			responded := respondedLabel(store.HasResponded(ctx, idx, agent))
			lookup := store.Reconstruct(ctx, idx)
			name := "<" + lookup.Kind.String() + ">"
			if lookup.Kind == tasks.Found {
				name = lookup.Task.Name
			}
			fmt.Fprintf(out, "  [%d] %-11s responded=%-7s %s\n", idx, status, responded, name)
		}
		return nil
	},
}

// respondedLabel renders a respondent lookup; a failed read is shown as
// unknown rather than as a negative answer.
func respondedLabel(ok bool, err error) string {
	if err != nil {
		return "unknown"
	}
	return strconv.FormatBool(ok)
}

var listAgentsCmd = &cobra.Command{
	Use:   "list-agents",
	Short: "List agents enrolled in the registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		gw, err := dialGateway(ctx, cfg)
		if err != nil {
			return err
		}
		defer gw.Close()
		if !gw.HasRegistry() {
			return fmt.Errorf("no registry address configured (contracts.registry or REGISTRY_ADDRESS)")
		}
		agents, err := gw.AllAgents(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%d registered agents\n", len(agents))
		for _, a := range agents {
			fmt.Fprintf(out, "  %s\n", a.Hex())
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().Uint32Var(&statusLast, "last", 10, "Number of most recent tasks to show")
}
