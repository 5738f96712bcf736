package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	// Best-effort: a missing .env just means the environment is already set.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "walletforge",
		Usage: "Solana wallet and token orchestration service CLI",
		Description: `A command-line tool for driving and debugging the walletforge service.

Use this CLI to create wallets, refresh cached balances and history,
launch token creation jobs, and inspect trending tokens.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			{
				Name:  "wallet",
				Usage: "Wallet management commands",
				Subcommands: []*cli.Command{
					createWalletCommand(),
					listWalletsCommand(),
					getWalletCommand(),
					historyCommand(),
					trackMintCommand(),
					refreshBalanceCommand(),
					refreshHistoryCommand(),
					airdropCommand(),
				},
			},
			{
				Name:  "token",
				Usage: "Token creation commands",
				Subcommands: []*cli.Command{
					createTokenCommand(),
					listJobsCommand(),
					getJobCommand(),
				},
			},
			trendingCommand(),
			{
				Name:  "server",
				Usage: "Server utility commands",
				Subcommands: []*cli.Command{
					healthCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Aliases: []string{"s"},
				Usage:   "walletforge server URL",
				EnvVars: []string{"WALLETFORGE_SERVER_URL"},
				Value:   "http://localhost:8080",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
