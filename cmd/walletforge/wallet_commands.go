package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"

	"github.com/walletforge/walletforge/client"
)

// newClient builds an API client from the global flags.
func newClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only errors to stderr
	}))
	return client.NewClient(c.String("server-url"), nil, logger)
}

// printJSON pretty-prints v to stdout, optionally piping it through a jq
// filter first.
func printJSON(v interface{}, jqFilter string) error {
	if jqFilter == "" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	query, err := gojq.Parse(jqFilter)
	if err != nil {
		return fmt.Errorf("failed to parse jq filter %q: %w", jqFilter, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return fmt.Errorf("failed to compile jq filter %q: %w", jqFilter, err)
	}

	// Round-trip through JSON so gojq sees plain maps and slices.
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("failed to unmarshal output: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	iter := code.Run(generic)
	for {
		out, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := out.(error); isErr {
			return fmt.Errorf("jq filter error: %w", err)
		}
		if err := enc.Encode(out); err != nil {
			return err
		}
	}
	return nil
}

func jqFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "filter",
		Aliases: []string{"f"},
		Usage:   "jq expression applied to the JSON output",
	}
}

func createWalletCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Create a new custodial wallet",
		ArgsUsage: "[NAME]",
		Flags:     []cli.Flag{jqFlag()},
		Action: func(c *cli.Context) error {
			name := c.Args().Get(0)

			wlt, err := newClient(c).CreateWallet(context.Background(), name)
			if err != nil {
				return fmt.Errorf("failed to create wallet: %w", err)
			}
			return printJSON(wlt, c.String("filter"))
		},
	}
}

func listWalletsCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List all wallets",
		Flags: []cli.Flag{jqFlag()},
		Action: func(c *cli.Context) error {
			wallets, err := newClient(c).ListWallets(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list wallets: %w", err)
			}
			return printJSON(wallets, c.String("filter"))
		},
	}
}

func getWalletCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Get a wallet's cached snapshot",
		ArgsUsage: "ADDRESS",
		Flags:     []cli.Flag{jqFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}

			wlt, err := newClient(c).GetWallet(context.Background(), c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("failed to get wallet: %w", err)
			}
			return printJSON(wlt, c.String("filter"))
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Show a wallet's cached transaction history",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum records to return (0 = everything cached)",
			},
			jqFlag(),
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}

			txns, err := newClient(c).GetHistory(context.Background(), c.Args().Get(0), c.Int("limit"))
			if err != nil {
				return fmt.Errorf("failed to get history: %w", err)
			}
			return printJSON(txns, c.String("filter"))
		},
	}
}

func trackMintCommand() *cli.Command {
	return &cli.Command{
		Name:      "track",
		Usage:     "Add a token mint to a wallet's tracked set",
		ArgsUsage: "ADDRESS MINT",
		Flags:     []cli.Flag{jqFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() < 2 {
				return fmt.Errorf("wallet address and mint are required")
			}

			wlt, err := newClient(c).TrackMint(context.Background(), c.Args().Get(0), c.Args().Get(1))
			if err != nil {
				return fmt.Errorf("failed to track mint: %w", err)
			}
			return printJSON(wlt, c.String("filter"))
		},
	}
}

func refreshBalanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "refresh-balance",
		Usage:     "Synchronize a wallet's balances against the ledger",
		ArgsUsage: "ADDRESS",
		Flags:     []cli.Flag{jqFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}

			snap, err := newClient(c).RefreshBalance(context.Background(), c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("failed to refresh balance: %w", err)
			}
			if len(snap.FailedMints) > 0 {
				fmt.Fprintf(os.Stderr, "warning: %d tracked mint(s) could not be refreshed\n", len(snap.FailedMints))
			}
			return printJSON(snap, c.String("filter"))
		},
	}
}

func refreshHistoryCommand() *cli.Command {
	return &cli.Command{
		Name:      "refresh-history",
		Usage:     "Synchronize a wallet's transaction history against the ledger",
		ArgsUsage: "ADDRESS",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum signatures to fetch (0 = the server cap)",
			},
			jqFlag(),
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}

			result, err := newClient(c).RefreshHistory(context.Background(), c.Args().Get(0), c.Int("limit"))
			if err != nil {
				return fmt.Errorf("failed to refresh history: %w", err)
			}
			return printJSON(result, c.String("filter"))
		},
	}
}

func airdropCommand() *cli.Command {
	return &cli.Command{
		Name:      "airdrop",
		Usage:     "Request a devnet airdrop for a wallet",
		ArgsUsage: "ADDRESS [LAMPORTS]",
		Flags:     []cli.Flag{jqFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("wallet address is required")
			}

			var lamports uint64
			if raw := c.Args().Get(1); raw != "" {
				n, err := strconv.ParseUint(raw, 10, 64)
				if err != nil {
					return fmt.Errorf("invalid lamports %q: %w", raw, err)
				}
				lamports = n
			}

			receipt, err := newClient(c).Airdrop(context.Background(), c.Args().Get(0), lamports)
			if err != nil {
				return fmt.Errorf("airdrop failed: %w", err)
			}
			return printJSON(receipt, c.String("filter"))
		},
	}
}
