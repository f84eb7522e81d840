package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/qmem/internal/pipeline"
	"github.com/samcharles93/qmem/internal/pixelgrid"
)

func imageCmd() *cli.Command {
	var (
		inputPath string
		invert    string
		outDir    string
		show      bool
	)

	return &cli.Command{
		Name:      "image",
		Usage:     "Convert a picture or text grid into a 28x28 image.mif",
		ArgsUsage: "<picture|grid.txt>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "invert",
				Usage:       "picture polarity: auto, never, always",
				Value:       "auto",
				Destination: &invert,
			},
			&cli.BoolFlag{
				Name:        "show",
				Usage:       "print the grid as text",
				Destination: &show,
			},
			outFlag(&outDir),
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			inputPath = c.Args().First()
			if inputPath == "" {
				return cli.Exit("error: an input picture or grid file is required", 1)
			}
			inv, err := pixelgrid.ParseInvert(pick(invert, c.IsSet("invert"), appConfig.Invert))
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			g, err := pixelgrid.Load(inputPath, inv)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			path, err := pipeline.WriteImage(ctx, g, resolveOutDir(outDir, appConfig), time.Now())
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: image: %v", err), 1)
			}
			if show {
				fmt.Print(g.String())
			}
			fmt.Printf("%s: %d ink pixels\n", path, g.Ink())
			return nil
		},
	}
}
