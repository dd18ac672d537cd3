package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"oraclebridge/internal/chain"
	"oraclebridge/internal/submit"
)

var createTaskCmd = &cobra.Command{
	Use:   "create-task <name>",
	Short: "Create a new oracle task",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := strings.TrimSpace(strings.Join(args, " "))
		if name == "" {
			return fmt.Errorf("task name must not be empty")
		}
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
		if key == nil {
			return submit.ErrNoSigner
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		gw, err := dialGateway(ctx, cfg)
		if err != nil {
			return err
		}
		defer gw.Close()

		data, err := chain.PackCreateTask(name)
		if err != nil {
			return err
		}
		s := submit.New(submit.Options{Node: gw, Oracle: gw.OracleAddress(), Key: key, Log: logger})
		res, err := s.Send(ctx, gw.OracleAddress(), data)
		out := cmd.OutOrStdout()
		if errors.Is(err, submit.ErrReceiptPending) {
			fmt.Fprintf(out, "task sent, receipt not seen yet: tx=%s\n", res.Hash.Hex())
			return nil
		}
		if err != nil {
			return err
		}
		if idx, ok := chain.CreatedTaskIndex(res.Receipt, gw.OracleAddress()); ok {
			fmt.Fprintf(out, "task created: index=%d tx=%s\n", idx, res.Hash.Hex())
		} else {
			fmt.Fprintf(out, "task created: tx=%s (index not found in receipt logs)\n", res.Hash.Hex())
		}
		return nil
	},
}
