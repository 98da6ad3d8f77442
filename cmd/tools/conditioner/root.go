package main

import (
	"context"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/z-therapist/backend/internal/imaging"
)

type options struct {
	strategy    string
	outDir      string
	width       int
	height      int
	clipLimit   float64
	tileGrid    []int
	concurrency int
}

func newRootCmd() *cobra.Command {
	opts := options{}
	defaults := imaging.DefaultParams()

	cmd := &cobra.Command{
		Use:   "conditioner [flags] <image>...",
		Short: "Run the frame conditioning pipeline over image files",
		Long: `Conditioner applies the same preprocessing the server runs before face
classification and writes each result as PNG, so strategies and CLAHE
settings can be compared offline.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.strategy, "strategy", "s", string(imaging.StrategyCombined), "conditioning strategy ("+strategyNames()+")")
	flags.StringVarP(&opts.outDir, "out", "o", "conditioned", "output directory")
	flags.IntVar(&opts.width, "width", defaults.TargetWidth, "target width")
	flags.IntVar(&opts.height, "height", defaults.TargetHeight, "target height")
	flags.Float64Var(&opts.clipLimit, "clip", defaults.CLAHE.ClipLimit, "CLAHE clip limit, <= 0 disables clipping")
	flags.IntSliceVar(&opts.tileGrid, "grid", defaults.CLAHE.TileGrid[:], "CLAHE tile grid as cols,rows")
	flags.IntVarP(&opts.concurrency, "concurrency", "j", runtime.NumCPU(), "files processed in parallel")

	cmd.AddCommand(&cobra.Command{
		Use:   "strategies",
		Short: "List the available strategies",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, s := range imaging.Strategies() {
				fmt.Fprintln(cmd.OutOrStdout(), s)
			}
		},
	})

	return cmd
}

func strategyNames() string {
	names := make([]string, 0, len(imaging.Strategies()))
	for _, s := range imaging.Strategies() {
		names = append(names, string(s))
	}
	return strings.Join(names, ", ")
}

func (o options) conditioner() (*imaging.Conditioner, error) {
	strategy, err := imaging.ParseStrategy(o.strategy)
	if err != nil {
		return nil, err
	}
	if o.width <= 0 || o.height <= 0 {
		return nil, fmt.Errorf("invalid target size %dx%d", o.width, o.height)
	}
	if len(o.tileGrid) != 2 {
		return nil, fmt.Errorf("--grid needs exactly two values, got %d", len(o.tileGrid))
	}

	params := imaging.DefaultParams()
	params.TargetWidth, params.TargetHeight = o.width, o.height
	params.CLAHE = imaging.CLAHEParams{ClipLimit: o.clipLimit, TileGrid: [2]int{o.tileGrid[0], o.tileGrid[1]}}
	return imaging.NewConditioner(strategy, params)
}

func run(ctx context.Context, opts options, inputs []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cond, err := opts.conditioner()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	limit := opts.concurrency
	if limit < 1 {
		limit = 1
	}

	var done atomic.Int32
	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, input := range inputs {
		input := input
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out, err := conditionFile(cond, input, opts.outDir)
			if err != nil {
				return err
			}
			done.Add(1)
			logrus.WithFields(logrus.Fields{"input": input, "output": out}).Debug("conditioned")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"files":    done.Load(),
		"strategy": cond.Settings().Strategy,
		"elapsed":  time.Since(start).Round(time.Millisecond),
	}).Info("conditioning finished")
	return nil
}

func conditionFile(cond *imaging.Conditioner, input, outDir string) (string, error) {
	data, err := os.ReadFile(input)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", input, err)
	}
	frame, err := imaging.Decode(data)
	if err != nil {
		return "", fmt.Errorf("%s: %w", input, err)
	}
	conditioned, settings, err := cond.Condition(frame)
	if err != nil {
		return "", fmt.Errorf("%s: %w", input, err)
	}

	name := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	out := filepath.Join(outDir, fmt.Sprintf("%s_%s.png", name, settings.Strategy))
	f, err := os.Create(out)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", out, err)
	}
	if err := png.Encode(f, conditioned.Image()); err != nil {
		f.Close()
		return "", fmt.Errorf("encode %s: %w", out, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", out, err)
	}
	return out, nil
}
