package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/terraskye/cqrs"
	"github.com/terraskye/cqrs/bank"
)

func (c *cli) executeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "execute <account-id> <command-json>",
		Short: "Execute one account command and print the resulting view",
		Long: `Executes a command given as a JSON object with exactly one key naming it:

  {"OpenAccount":{"account_id":"ABC-123"}}
  {"DepositMoney":{"amount":200}}
  {"WithdrawMoney":{"amount":50,"atm_id":"ATM-1"}}
  {"WriteCheck":{"check_number":"1170","amount":25}}`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			command, err := bank.DecodeCommand([]byte(args[1]))
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, c.cfg, c.logger, c.slog, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			metadata := cqrs.Metadata{"source": "cli", "uri": "bankaccount " + strings.Join(args, " ")}
			if err := a.commands.Execute(ctx, args[0], command, metadata); err != nil {
				return err
			}

			view, err := a.Account(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, view)
		},
	}
}

func (c *cli) viewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "view <account-id>",
		Short: "Print the current view of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, c.cfg, c.logger, c.slog, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			view, err := a.Account(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, view)
		},
	}
}

func (c *cli) replayCmd() *cobra.Command {
	var (
		after uint64
		audit bool
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Feed stored events to the account views",
		Long: `Replays every event committed after --after into the account views.
Views skip the events they have already applied, so pointing --view-store
at an empty store rebuilds it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := appOptions{}
			if audit {
				opts.audit = cmd.OutOrStdout()
			}

			// The replay itself feeds the processors.
			cfg := c.cfg
			cfg.AsyncProjections = false

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, c.logger, c.slog, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			position, err := a.Replay(ctx, after)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.ErrOrStderr(), "replayed up to position %d\n", position)
			return err
		},
	}

	cmd.Flags().Uint64Var(&after, "after", 0, "global position to start after")
	cmd.Flags().BoolVar(&audit, "audit", false, "print every replayed event to stdout")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
