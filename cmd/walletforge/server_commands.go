package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
)

func trendingCommand() *cli.Command {
	return &cli.Command{
		Name:  "trending",
		Usage: "Show the trending token set",
		Flags: []cli.Flag{jqFlag()},
		Action: func(c *cli.Context) error {
			result, err := newClient(c).Trending(context.Background())
			if err != nil {
				return fmt.Errorf("failed to fetch trending tokens: %w", err)
			}
			return printJSON(result, c.String("filter"))
		},
	}
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Action: func(c *cli.Context) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := newClient(c).Health(ctx); err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			fmt.Println("OK")
			return nil
		},
	}
}
