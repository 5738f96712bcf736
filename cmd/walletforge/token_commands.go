package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/walletforge/walletforge/client"
)

func createTokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Launch a token creation job",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "owner",
				Aliases:  []string{"o"},
				Usage:    "Owner wallet address (becomes mint authority)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "name",
				Usage:    "Token name",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "symbol",
				Usage:    "Token symbol",
				Required: true,
			},
			&cli.UintFlag{
				Name:  "decimals",
				Usage: "Token decimals",
				Value: 9,
			},
			&cli.Uint64Flag{
				Name:     "supply",
				Usage:    "Initial supply in whole tokens",
				Required: true,
			},
			&cli.BoolFlag{
				Name:    "wait",
				Aliases: []string{"w"},
				Usage:   "Poll the job until it reaches a terminal state",
			},
			&cli.DurationFlag{
				Name:  "poll-interval",
				Usage: "Job poll interval when --wait is set",
				Value: 2 * time.Second,
			},
			jqFlag(),
		},
		Action: func(c *cli.Context) error {
			cl := newClient(c)
			ctx := context.Background()

			job, err := cl.CreateToken(ctx, client.TokenParams{
				OwnerAddress:  c.String("owner"),
				Name:          c.String("name"),
				Symbol:        c.String("symbol"),
				Decimals:      uint8(c.Uint("decimals")),
				InitialSupply: c.Uint64("supply"),
			})
			if err != nil {
				return fmt.Errorf("failed to submit token job: %w", err)
			}

			if c.Bool("wait") {
				job, err = waitForJob(ctx, cl, job.ID, c.Duration("poll-interval"))
				if err != nil {
					return err
				}
			}

			if err := printJSON(job, c.String("filter")); err != nil {
				return err
			}
			if job.State == "failed" {
				return fmt.Errorf("token job failed at step %s: %s", job.FailedStep, job.FailureReason)
			}
			return nil
		},
	}
}

// waitForJob polls until the job completes or fails.
func waitForJob(ctx context.Context, cl *client.Client, jobID string, interval time.Duration) (*client.Job, error) {
	for {
		job, err := cl.GetJob(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("failed to poll job: %w", err)
		}
		if job.State == "completed" || job.State == "failed" {
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func listJobsCommand() *cli.Command {
	return &cli.Command{
		Name:  "jobs",
		Usage: "List token creation jobs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "owner",
				Aliases: []string{"o"},
				Usage:   "Filter by owner wallet address",
			},
			jqFlag(),
		},
		Action: func(c *cli.Context) error {
			jobs, err := newClient(c).ListJobs(context.Background(), c.String("owner"))
			if err != nil {
				return fmt.Errorf("failed to list jobs: %w", err)
			}
			return printJSON(jobs, c.String("filter"))
		},
	}
}

func getJobCommand() *cli.Command {
	return &cli.Command{
		Name:      "job",
		Usage:     "Get one token creation job",
		ArgsUsage: "JOB_ID",
		Flags:     []cli.Flag{jqFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("job ID is required")
			}

			job, err := newClient(c).GetJob(context.Background(), c.Args().Get(0))
			if err != nil {
				return fmt.Errorf("failed to get job: %w", err)
			}
			return printJSON(job, c.String("filter"))
		},
	}
}
