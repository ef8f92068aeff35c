package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/lorallama/internal/logger"
	"github.com/samcharles93/lorallama/internal/model"
	"github.com/samcharles93/lorallama/internal/weights"
)

func initCmd() *cli.Command {
	var (
		out      string
		fromFile string
		zero     bool
		seed     int64
		dtype    string
		force    bool
		cfg      model.Config
		vocab    int64
		hidden   int64
		layers   int64
		heads    int64
		kvHeads  int64
		ffn      int64
		maxSeq   int64
		rank     int64
		alpha    float64
		causal   bool
	)

	return &cli.Command{
		Name:  "init",
		Usage: "Write a zero or random model directory for testing",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output directory", Required: true, Destination: &out},
			&cli.StringFlag{Name: "config", Usage: "start from this config.yaml/config.json instead of the size flags", Destination: &fromFile},
			&cli.BoolFlag{Name: "zero", Usage: "zero every weight", Destination: &zero},
			&cli.Int64Flag{Name: "seed", Usage: "random seed", Value: 1, Destination: &seed},
			&cli.StringFlag{Name: "dtype", Usage: "stored element type (F32, F16, BF16)", Value: weights.F32, Destination: &dtype},
			&cli.BoolFlag{Name: "force", Usage: "overwrite an existing model", Destination: &force},
			&cli.Int64Flag{Name: "vocab", Usage: "vocabulary size", Value: 32, Destination: &vocab},
			&cli.Int64Flag{Name: "hidden", Usage: "hidden dimension", Value: 16, Destination: &hidden},
			&cli.Int64Flag{Name: "layers", Usage: "decoder layers", Value: 2, Destination: &layers},
			&cli.Int64Flag{Name: "heads", Usage: "query heads", Value: 4, Destination: &heads},
			&cli.Int64Flag{Name: "kv-heads", Usage: "key/value heads (0 = heads)", Destination: &kvHeads},
			&cli.Int64Flag{Name: "ffn", Usage: "feed-forward dimension", Value: 32, Destination: &ffn},
			&cli.Int64Flag{Name: "max-seq-len", Usage: "maximum sequence length", Value: 256, Destination: &maxSeq},
			&cli.Int64Flag{Name: "lora-rank", Usage: "adapter rank (0 = no adapters)", Destination: &rank},
			&cli.Float64Flag{Name: "lora-alpha", Usage: "adapter alpha (scale = alpha/rank)", Destination: &alpha},
			&cli.BoolFlag{Name: "causal", Usage: "mask attention to earlier positions", Destination: &causal},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			log := logger.FromContext(ctx)
			applyInitConfig(c, cliConfigFrom(ctx), &seed)
			dtype = strings.ToUpper(dtype)

			if fromFile != "" {
				var err error
				if cfg, err = model.LoadConfig(fromFile); err != nil {
					return err
				}
			} else {
				cfg = model.Config{
					VocabSize:  int(vocab),
					HiddenDim:  int(hidden),
					NumLayers:  int(layers),
					NumHeads:   int(heads),
					NumKVHeads: int(kvHeads),
					FFNDim:     int(ffn),
					MaxSeqLen:  int(maxSeq),
					LoRARank:   int(rank),
					LoRAAlpha:  alpha,
					Causal:     causal,
				}
				cfg.ApplyDefaults()
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			weightsPath := filepath.Join(out, model.WeightsFileName)
			if _, err := os.Stat(weightsPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force)", weightsPath)
			}
			if err := os.MkdirAll(out, 0o755); err != nil {
				return err
			}
			if err := model.WriteConfig(filepath.Join(out, "config.yaml"), cfg); err != nil {
				return err
			}
			tensors := model.InitTensors(cfg, zero, seed)
			meta := map[string]string{"format": "lorallama", "init": "random"}
			if zero {
				meta["init"] = "zero"
			} else {
				meta["seed"] = fmt.Sprint(seed)
			}
			if err := weights.WriteFile(weightsPath, tensors, dtype, meta); err != nil {
				return err
			}
			log.Info("model written", "dir", out, "tensors", len(tensors), "dtype", dtype, "init", meta["init"])
			return nil
		},
	}
}
