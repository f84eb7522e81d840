package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/qmem/internal/pipeline"
)

func convertCmd() *cli.Command {
	var ckptPath string

	return &cli.Command{
		Name:      "convert",
		Usage:     "Rewrite a checkpoint's state dict as F32 safetensors",
		ArgsUsage: "<out.safetensors>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "checkpoint",
				Aliases:     []string{"c"},
				Usage:       "model checkpoint (.pt, .pth, .safetensors, .json)",
				Destination: &ckptPath,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			ckptPath = pick(ckptPath, c.IsSet("checkpoint"), appConfig.Checkpoint)
			if ckptPath == "" {
				return cli.Exit("error: --checkpoint is required", 1)
			}
			if c.Args().Len() != 1 {
				return cli.Exit("error: convert takes exactly one output path", 1)
			}
			dst := c.Args().First()
			n, err := pipeline.ConvertCheckpoint(ctx, ckptPath, dst)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: convert: %v", err), 1)
			}
			fmt.Printf("%s: %d tensors\n", dst, n)
			return nil
		},
	}
}
