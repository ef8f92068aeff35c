package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lorallama/internal/model"
	"github.com/samcharles93/lorallama/internal/weights"
)

// tensorRow is one line of the inspect table.
type tensorRow struct {
	Name   string
	DType  string
	Shape  []int
	Params int
	Status string
}

func inspectCmd() *cli.Command {
	var (
		dir    string
		filter string
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "List the tensors of a model directory and check them against its config",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "model",
				Aliases:     []string{"m"},
				Usage:       "model directory",
				Required:    true,
				Destination: &dir,
			},
			&cli.StringFlag{
				Name:        "filter",
				Usage:       "only show tensors whose name contains this substring",
				Destination: &filter,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			f, err := weights.Open(filepath.Join(dir, model.WeightsFileName))
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()

			var layout []model.TensorSpec
			cfg, cfgErr := loadDirConfig(dir)
			if cfgErr == nil {
				layout = model.Layout(cfg)
				printConfig(os.Stdout, cfg)
			} else {
				_, _ = fmt.Fprintf(os.Stdout, "config: %v\n\n", cfgErr)
			}

			rows := inspectRows(f, layout)
			if filter != "" {
				rows = slices.DeleteFunc(rows, func(r tensorRow) bool { return !strings.Contains(r.Name, filter) })
			}
			renderTensorTable(os.Stdout, rows)

			var total int
			problems := 0
			for _, r := range rows {
				total += r.Params
				if r.Status != "ok" && r.Status != "" {
					problems++
				}
			}
			_, _ = fmt.Fprintf(os.Stdout, "\n%d tensors, %d parameters", len(rows), total)
			if problems > 0 {
				_, _ = fmt.Fprintf(os.Stdout, ", %d problems", problems)
			}
			_, _ = fmt.Fprintln(os.Stdout)
			return nil
		},
	}
}

func loadDirConfig(dir string) (model.Config, error) {
	for _, name := range model.ConfigFileNames {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return model.LoadConfig(p)
		}
	}
	return model.Config{}, fmt.Errorf("no config file in %s", dir)
}

// inspectRows lists every tensor in f. With a layout each row is marked
// ok, shape mismatch or unexpected, and tensors the layout requires but f
// lacks are appended as missing.
func inspectRows(f *weights.File, layout []model.TensorSpec) []tensorRow {
	want := make(map[string][]int, len(layout))
	for _, spec := range layout {
		want[spec.Name] = spec.Shape
	}

	var rows []tensorRow
	for _, name := range f.Names() {
		info, _ := f.Info(name)
		params := 1
		for _, d := range info.Shape {
			params *= d
		}
		row := tensorRow{Name: name, DType: info.DType, Shape: info.Shape, Params: params}
		if layout != nil {
			shape, ok := want[name]
			switch {
			case !ok:
				row.Status = "unexpected"
			case !slices.Equal(shape, info.Shape):
				row.Status = fmt.Sprintf("want %v", shape)
			default:
				row.Status = "ok"
			}
		}
		rows = append(rows, row)
	}
	for _, spec := range layout {
		if _, ok := f.Info(spec.Name); !ok {
			rows = append(rows, tensorRow{Name: spec.Name, Shape: spec.Shape, Status: "missing"})
		}
	}
	return rows
}

func printConfig(w io.Writer, cfg model.Config) {
	_, _ = fmt.Fprintf(w, "vocab %d, hidden %d, layers %d, heads %d/%d (head_dim %d, rotary %d), ffn %d\n",
		cfg.VocabSize, cfg.HiddenDim, cfg.NumLayers, cfg.NumHeads, cfg.NumKVHeads, cfg.HeadDim, cfg.RotaryDim, cfg.FFNDim)
	_, _ = fmt.Fprintf(w, "rope_theta %g, rms_eps %g, max_seq_len %d, causal %t, lora_rank %d\n\n",
		cfg.RopeTheta, cfg.RMSEps, cfg.MaxSeqLen, cfg.Causal, cfg.LoRARank)
}

func renderTensorTable(w io.Writer, rows []tensorRow) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"NAME", "DTYPE", "SHAPE", "PARAMS", "STATUS"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")

	data := make([][]string, 0, len(rows))
	for _, r := range rows {
		data = append(data, []string{r.Name, r.DType, fmt.Sprint(r.Shape), strconv.Itoa(r.Params), r.Status})
	}
	table.AppendBulk(data)
	table.Render()
}
