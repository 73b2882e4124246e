package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	app "github.com/okian/ucoin/internal/app"
	"github.com/okian/ucoin/internal/config"
	"github.com/okian/ucoin/internal/domain/model"
	"github.com/okian/ucoin/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

const stopTimeout = 10 * time.Second

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	ledgerPath string
	signer     string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "ucoinctl",
		Short:        "Operate the ucoin reward ledger",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.ledgerPath, "ledger", "", "ledger file (overrides ledger_path)")
	root.PersistentFlags().StringVar(&opts.signer, "signer", "", "address approvals are issued as (overrides signer_address)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(
		registerCmd(opts),
		requestCmd(opts),
		approveCmd(opts),
		statusCmd(opts),
		claimsCmd(opts),
		leaderboardCmd(opts),
		grantCmd(opts),
	)
	return root
}

// withService loads config, applies flag overrides and runs fn against a
// started service. The service and ledger are closed when fn returns.
func withService(cmd *cobra.Command, opts *rootOptions, fn func(svc *app.Service) (any, error)) error {
	ctx := cmd.Context()
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	if opts.ledgerPath != "" {
		cfg.LedgerPath = opts.ledgerPath
	}
	if opts.signer != "" {
		cfg.SignerAddress = opts.signer
	}

	log := logger.Discard()
	if opts.verbose {
		if err := logger.Init(logger.WithOutput(cmd.ErrOrStderr()), logger.WithFormat(cfg.LogFormat)); err != nil {
			return err
		}
		_ = logger.SetLevelString(cfg.LogLevel)
		log = logger.Named("ucoinctl")
	}

	rt, err := app.Build(ctx, cfg, log, app.WithInitialRefresh(false))
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	svc := rt.Service
	if err := svc.Start(ctx); err != nil {
		return err
	}
	out, runErr := fn(svc)

	stopCtx, cancel := timeoutContext(cmd)
	defer cancel()
	if err := svc.Stop(stopCtx); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return runErr
	}
	return printJSON(cmd, out)
}

func timeoutContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(cmd.Context()), stopTimeout)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func registerCmd(opts *rootOptions) *cobra.Command {
	var wallet, handle string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register or relink an identity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, opts, func(svc *app.Service) (any, error) {
				return svc.Register(cmd.Context(), model.Identity{Address: wallet, Handle: handle})
			})
		},
	}
	cmd.Flags().StringVar(&wallet, "wallet", "", "wallet address")
	cmd.Flags().StringVar(&handle, "handle", "", "contribution account handle")
	_ = cmd.MarkFlagRequired("wallet")
	return cmd
}

func requestCmd(opts *rootOptions) *cobra.Command {
	var address, amount string
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Open a withdrawal request",
		RunE: func(cmd *cobra.Command, _ []string) error {
			amt, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("amount %q: %w", amount, err)
			}
			return withService(cmd, opts, func(svc *app.Service) (any, error) {
				return svc.RequestWithdrawal(cmd.Context(), address, amt)
			})
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "wallet address")
	cmd.Flags().StringVar(&amount, "amount", "", "amount to withdraw")
	_ = cmd.MarkFlagRequired("address")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func approveCmd(opts *rootOptions) *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Approve the pending request of an address as the signer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, opts, func(svc *app.Service) (any, error) {
				return svc.ApproveWithdrawal(cmd.Context(), address)
			})
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "wallet address")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}

func statusCmd(opts *rootOptions) *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the request slot of an address, or every pending request",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, opts, func(svc *app.Service) (any, error) {
				if address == "" {
					reqs, err := svc.PendingRequests(cmd.Context())
					if reqs == nil {
						reqs = []model.WithdrawalRequest{}
					}
					return reqs, err
				}
				return svc.Status(cmd.Context(), address)
			})
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "wallet address; empty lists pending requests")
	return cmd
}

func claimsCmd(opts *rootOptions) *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "claims",
		Short: "List completed claims and the remaining entitlement",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, opts, func(svc *app.Service) (any, error) {
				entries, err := svc.Claims(cmd.Context(), address)
				if err != nil {
					return nil, err
				}
				ent, err := svc.Entitlement(cmd.Context(), address)
				if err != nil {
					return nil, err
				}
				return claimsReport{Claims: entries, Entitlement: ent}, nil
			})
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "wallet address")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}

type claimsReport struct {
	Claims      []model.ClaimEntry `json:"claims"`
	Entitlement app.Entitlement    `json:"entitlement"`
}

func leaderboardCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Build the leaderboard from current telemetry",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, opts, func(svc *app.Service) (any, error) {
				if _, err := svc.Refresh(cmd.Context()); err != nil {
					return nil, err
				}
				return svc.TopN(cmd.Context(), limit)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of entries")
	return cmd
}

func grantCmd(opts *rootOptions) *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "grant-xp",
		Short: "Recompute XP from telemetry and write it to the ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, opts, func(svc *app.Service) (any, error) {
				return svc.GrantXP(cmd.Context(), address)
			})
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "wallet address")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}
