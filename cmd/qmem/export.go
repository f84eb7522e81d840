package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/qmem/internal/pipeline"
)

func exportCmd() *cli.Command {
	var (
		ckptPath     string
		featuresPath string
		outDir       string
	)

	return &cli.Command{
		Name:  "export",
		Usage: "Quantize the FC layer and one sample into features.mem, fc_w_flat.mem and fc_b.mem",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "checkpoint",
				Aliases:     []string{"c"},
				Usage:       "model checkpoint (.pt, .pth, .safetensors, .json)",
				Destination: &ckptPath,
			},
			&cli.StringFlag{
				Name:        "features",
				Aliases:     []string{"f"},
				Usage:       "400-value feature vector (JSON array or text)",
				Destination: &featuresPath,
			},
			outFlag(&outDir),
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			ckptPath = pick(ckptPath, c.IsSet("checkpoint"), appConfig.Checkpoint)
			featuresPath = pick(featuresPath, c.IsSet("features"), appConfig.Features)
			if ckptPath == "" || featuresPath == "" {
				return cli.Exit("error: --checkpoint and --features are required", 1)
			}

			in, err := pipeline.LoadFCInput(ckptPath, featuresPath)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			dir := resolveOutDir(outDir, appConfig)
			m, err := pipeline.ExportFC(ctx, in, dir)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: export: %v", err), 1)
			}

			fmt.Printf("run:    %s\n", m.RunID)
			fmt.Printf("scales: features=%.6g weights=%.6g bias=%.6g (clamp %.6g)\n",
				m.Scales.Features, m.Scales.Weights, m.Scales.Bias, m.Scales.BiasClamp)
			renderScores(os.Stdout, m.Scores, m.FloatLogits)
			fmt.Printf("predicted: %d (float reference %d)\n", m.Predicted, m.FloatPredicted)
			return nil
		},
	}
}

// renderScores prints one row per class. logits may be nil.
func renderScores(w io.Writer, scores []int32, logits []float64) {
	table := tablewriter.NewWriter(w)
	header := []string{"CLASS", "SCORE"}
	if logits != nil {
		header = append(header, "FLOAT")
	}
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.SetBorder(false)
	for i, s := range scores {
		row := []string{strconv.Itoa(i), strconv.FormatInt(int64(s), 10)}
		if logits != nil {
			row = append(row, strconv.FormatFloat(logits[i], 'f', 4, 64))
		}
		table.Append(row)
	}
	table.Render()
}
