package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/qmem/internal/pipeline"
)

func kernelCmd() *cli.Command {
	var (
		ckptPath string
		outDir   string
	)

	return &cli.Command{
		Name:  "kernel",
		Usage: "Extract the first conv kernel as 8x5x5 Q1.7 weights.mif",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "checkpoint",
				Aliases:     []string{"c"},
				Usage:       "model checkpoint (.pt, .pth, .safetensors, .json)",
				Destination: &ckptPath,
			},
			outFlag(&outDir),
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			ckptPath = pick(ckptPath, c.IsSet("checkpoint"), appConfig.Checkpoint)
			if ckptPath == "" {
				return cli.Exit("error: --checkpoint is required", 1)
			}
			rep, err := pipeline.AdaptKernelFile(ctx, ckptPath, resolveOutDir(outDir, appConfig))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: kernel: %v", err), 1)
			}
			fmt.Printf("%s: %s %v -> %v\n", rep.Path, rep.Key, rep.SourceShape, rep.Shape)
			if rep.Saturated > 0 {
				fmt.Printf("warning: %d weights clamped to the Q1.7 range\n", rep.Saturated)
			}
			return nil
		},
	}
}
