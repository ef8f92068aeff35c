package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lorallama/internal/api"
	"github.com/samcharles93/lorallama/internal/logger"
	"github.com/samcharles93/lorallama/internal/model"
)

type forwardOutput struct {
	Model  string              `json:"model"`
	Tokens []int               `json:"tokens"`
	Shape  []int               `json:"shape"`
	Top    [][]model.Candidate `json:"top"`
	Logits [][]float32         `json:"logits,omitempty"`
}

func forwardCmd() *cli.Command {
	var (
		tokensArg  string
		startPos   int64
		topK       int64
		format     string
		withLogits bool
	)

	return &cli.Command{
		Name:  "forward",
		Usage: "Run one forward pass and print the top tokens per position",
		Flags: append(modelFlags(),
			&cli.StringFlag{
				Name:        "tokens",
				Aliases:     []string{"t"},
				Usage:       "token ids, e.g. 1,2,3",
				Required:    true,
				Destination: &tokensArg,
			},
			&cli.Int64Flag{
				Name:        "start-pos",
				Usage:       "position of the first token",
				Destination: &startPos,
			},
			&cli.Int64Flag{
				Name:        "top-k",
				Aliases:     []string{"k"},
				Usage:       "candidates shown per position",
				Value:       5,
				Destination: &topK,
			},
			&cli.StringFlag{
				Name:        "format",
				Usage:       "output format (table, json)",
				Value:       "table",
				Destination: &format,
			},
			&cli.BoolFlag{
				Name:        "logits",
				Usage:       "include the full logits matrix (json format only)",
				Destination: &withLogits,
			},
		),
		Action: func(ctx context.Context, c *cli.Command) error {
			log := logger.FromContext(ctx)
			applyForwardConfig(c, cliConfigFrom(ctx), &topK)

			tokens, err := parseTokens(tokensArg)
			if err != nil {
				return err
			}
			if topK <= 0 {
				return fmt.Errorf("--top-k must be positive")
			}

			provider := api.NewCachedModelProvider(api.ProviderConfig{
				DefaultModelPath: modelPath,
				ModelsPath:       modelsPath,
				Logger:           log,
			})
			lm, err := provider.Model(ctx, "")
			if err != nil {
				return err
			}

			start := time.Now()
			logits, err := lm.Model.ForwardAt(tokens, int(startPos))
			if err != nil {
				return err
			}
			log.Debug("forward pass", "model", lm.Name, "tokens", len(tokens), "took", time.Since(start))

			top, err := model.TopK(logits, int(topK))
			if err != nil {
				return err
			}
			out := forwardOutput{Model: lm.Name, Tokens: tokens, Shape: logits.Shape(), Top: top}

			switch strings.ToLower(format) {
			case "json":
				if withLogits {
					vocab := logits.Dim(1)
					for r := range tokens {
						out.Logits = append(out.Logits, logits.Data()[r*vocab:(r+1)*vocab])
					}
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			case "table":
				renderForwardTable(os.Stdout, out, int(startPos))
				return nil
			}
			return fmt.Errorf("unknown format %q", format)
		},
	}
}

func renderForwardTable(w io.Writer, out forwardOutput, startPos int) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"POS", "INPUT", "RANK", "TOKEN", "LOGIT", "PROB"})
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")

	var rows [][]string
	for r, cands := range out.Top {
		for i, cand := range cands {
			pos, input := "", ""
			if i == 0 {
				pos = strconv.Itoa(startPos + r)
				input = strconv.Itoa(out.Tokens[r])
			}
			rows = append(rows, []string{
				pos,
				input,
				strconv.Itoa(i + 1),
				strconv.Itoa(cand.Token),
				strconv.FormatFloat(float64(cand.Logit), 'f', 4, 32),
				strconv.FormatFloat(float64(cand.Prob), 'f', 4, 32),
			})
		}
	}
	table.AppendBulk(rows)
	table.Render()
}
