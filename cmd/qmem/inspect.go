package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/qmem/internal/checkpoint"
	"github.com/samcharles93/qmem/internal/pipeline"
)

func inspectCmd() *cli.Command {
	var limit int64

	return &cli.Command{
		Name:      "inspect",
		Usage:     "Summarize memory artifacts or list the tensors of a checkpoint",
		ArgsUsage: "<dir|file.mem|file.mif|checkpoint>",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:        "limit",
				Usage:       "max checkpoint tensors to list (0 for all)",
				Value:       50,
				Destination: &limit,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			path := c.Args().First()
			if path == "" {
				path = resolveOutDir("", appConfig)
			}
			st, err := os.Stat(path)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}

			switch ext := strings.ToLower(filepath.Ext(path)); {
			case st.IsDir():
				sums, err := pipeline.InspectDir(path)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				renderArtifacts(os.Stdout, sums)
			case ext == ".mem" || ext == ".mif":
				s, err := pipeline.InspectFile(path)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				renderArtifacts(os.Stdout, []pipeline.ArtifactSummary{s})
			default:
				ckpt, err := checkpoint.Load(path)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				tensors, m, ok := pipeline.InspectCheckpoint(ckpt)
				renderTensors(os.Stdout, tensors, int(limit))
				if ok {
					fmt.Printf("conv1: %s (%s)\n", m.Key, m.Reason)
				} else {
					fmt.Printf("conv1: not found: %s\n", m.Reason)
				}
			}
			return nil
		},
	}
}

func renderArtifacts(w io.Writer, sums []pipeline.ArtifactSummary) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"NAME", "FORMAT", "WIDTH", "DEPTH", "RECORDS", "FILLED", "MIN", "MAX"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	for _, s := range sums {
		table.Append([]string{
			s.Name,
			s.Format,
			strconv.Itoa(s.Width),
			strconv.Itoa(s.Depth),
			strconv.Itoa(s.Records),
			strconv.Itoa(s.Filled),
			strconv.FormatInt(s.Min, 10),
			strconv.FormatInt(s.Max, 10),
		})
	}
	table.Render()
}

func renderTensors(w io.Writer, tensors []pipeline.TensorSummary, limit int) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"KEY", "SHAPE", "MAX |X|"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	for i, t := range tensors {
		if limit > 0 && i == limit {
			table.Append([]string{fmt.Sprintf("... %d more", len(tensors)-limit), "", ""})
			break
		}
		table.Append([]string{t.Key, fmt.Sprint(t.Shape), strconv.FormatFloat(t.MaxAbs, 'g', 5, 64)})
	}
	table.Render()
}
