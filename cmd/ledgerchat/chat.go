package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ashureev/ledgerchat/internal/action"
	"github.com/ashureev/ledgerchat/internal/agent"
	"github.com/ashureev/ledgerchat/internal/config"
	"github.com/ashureev/ledgerchat/internal/identity"
	"github.com/ashureev/ledgerchat/internal/ledger"
	"github.com/spf13/cobra"
)

const defaultChatWallet = "0x000000000000000000000000000000000000c0de"

type chatOptions struct {
	wallet string
	fund   string
}

func newChatCmd() *cobra.Command {
	opts := chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant on stdin against the simulated ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
			return runChat(cmd.Context(), cfg, opts, cmd.InOrStdin(), cmd.OutOrStdout(), logger)
		},
	}
	cmd.Flags().StringVar(&opts.wallet, "wallet", defaultChatWallet, "wallet address that owns the session; empty for an anonymous session")
	cmd.Flags().StringVar(&opts.fund, "fund", "5", "amount credited to the wallet's smart account")
	return cmd
}

// runChat reads one message per line and prints each reply. Sessions live
// in memory and transactions go to a fresh simulated ledger.
func runChat(ctx context.Context, cfg *config.Config, opts chatOptions, in io.Reader, out io.Writer, logger *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = identity.WithAnonID(ctx, identity.NewAnonID())
	key, wallet := identity.SessionKey(ctx, opts.wallet)
	if opts.wallet != "" && wallet == "" {
		return fmt.Errorf("invalid wallet address %q", opts.wallet)
	}

	local := *cfg
	local.StoreBackend = config.StoreMemory
	local.Ledger.RPCURL = ""
	local.Classifier.Addr = ""

	p, err := buildPipeline(&local, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	if opts.fund != "" && wallet != "" {
		amount, err := action.ParseUnits(opts.fund, cfg.Network.Decimals)
		if err != nil {
			return fmt.Errorf("invalid fund amount: %w", err)
		}
		account := ledger.AccountAddress(wallet, cfg.Network.AccountSalt)
		p.sim.Fund(account, amount)
		fmt.Fprintf(out, "Smart account %s funded with %s %s.\n", account, opts.fund, cfg.Network.NativeSymbol)
	}
	fmt.Fprintln(out, "Type a message, or \"exit\" to quit.")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		resp, err := p.service.Chat(ctx, key, wallet, agent.ChatRequest{Message: line})
		if err != nil {
			return err
		}
		fmt.Fprintln(out, resp.Message)
		if resp.Transaction != nil && resp.Transaction.TxID != "" {
			fmt.Fprintf(out, "  tx %s (%s)\n", resp.Transaction.TxID, resp.Transaction.Status)
		}
	}
}
