package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/qmem/internal/pipeline"
)

func verifyCmd() *cli.Command {
	var (
		dir    string
		expect int64
	)

	return &cli.Command{
		Name:  "verify",
		Usage: "Replay the FC layer from the .mem files and check parity",
		Flags: []cli.Flag{
			outFlag(&dir),
			&cli.Int64Flag{
				Name:        "expect",
				Usage:       "digit reported by the hardware (-1 to skip)",
				Value:       pipeline.NoPrediction,
				Destination: &expect,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			rep, err := pipeline.Verify(ctx, resolveOutDir(dir, appConfig), int(expect))
			if rep != nil {
				renderScores(os.Stdout, rep.Scores, nil)
				fmt.Printf("predicted: %d\n", rep.Predicted)
				if rep.Manifest != nil {
					fmt.Printf("manifest:  %s\n", rep.Manifest.RunID)
				}
			}
			if errors.Is(err, pipeline.ErrParityMismatch) {
				return cli.Exit(fmt.Sprintf("FAIL: %v", err), 2)
			}
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: verify: %v", err), 1)
			}
			fmt.Println("OK")
			return nil
		},
	}
}
