package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"metacount/pkg/metacount"
)

const (
	artifactsDir  = "artifacts"
	exportsDir    = "exports"
	defaultDBPath = "metacount.db"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "reset":
		return runReset(ctx, args[1:])
	case "pretrain":
		return runPretrain(ctx, args[1:])
	case "finetune":
		return runFinetune(ctx, args[1:])
	case "evaluate":
		return runEvaluate(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "profile":
		return runProfile(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	storeKind := fs.String("store", "memory", "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	verbose := fs.Bool("verbose", false, "log at info level even when piped")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath, *verbose)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Init(ctx); err != nil {
		return err
	}

	fmt.Printf("initialized store=%s\n", *storeKind)
	return nil
}

func runReset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	storeKind := fs.String("store", "memory", "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	verbose := fs.Bool("verbose", false, "log at info level even when piped")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath, *verbose)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Reset(ctx); err != nil {
		return err
	}

	fmt.Printf("reset store=%s\n", *storeKind)
	return nil
}

func runPretrain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("pretrain", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional config file, JSON or YAML")
	profileName := fs.String("profile", "", "named training profile (see profile list)")
	runID := fs.String("run-id", "", "explicit run id (optional)")
	dataset := fs.String("dataset", "synthetic", "dataset name")
	graphs := fs.Int("graphs", 64, "corpus size")
	minNodes := fs.Int("min-nodes", 8, "minimum nodes per graph")
	maxNodes := fs.Int("max-nodes", 24, "maximum nodes per graph")
	featureDim := fs.Int("feature-dim", 16, "node feature width")
	edgeDim := fs.Int("edge-dim", 0, "edge feature width (0 disables)")
	edgeProb := fs.Float64("edge-prob", 0.3, "per-pair link probability")
	trainFrac := fs.Float64("train-frac", 0.7, "training split fraction")
	valFrac := fs.Float64("val-frac", 0.15, "validation split fraction")
	batchSize := fs.Int("batch-size", 8, "graphs per batch")
	prefetch := fs.Int("prefetch", 0, "batches prefetched ahead of training (0 disables)")
	dataSeed := fs.Int64("data-seed", 1, "corpus rng seed")
	arch := fs.String("arch", "gin", "encoder architecture: gin|gcn")
	hiddenDim := fs.Int("hidden", 64, "encoder hidden width")
	layers := fs.Int("layers", 3, "encoder layer count")
	maskRatio := fs.Float64("mask-ratio", 0.4, "fraction of nodes masked per batch")
	rounds := fs.Int("rounds", 2, "reconstruction refinement rounds")
	useTeacher := fs.Bool("teacher", true, "maintain a momentum teacher encoder")
	momentum := fs.Float64("momentum", 0.995, "teacher EMA momentum")
	lossName := fs.String("loss", "mae", "reported loss kind: mae|mse|smse|huber")
	optimizedName := fs.String("optimized-loss", "", "optimized loss kind, defaults to -loss")
	schedule := fs.String("schedule", "0.5", "objective weight schedule, e.g. 0.5 or anneal_linear$0.9$0.1")
	objective := fs.String("objective", "attribute", "scheduled objective: attribute|regression")
	epochs := fs.Int("epochs", 0, "epoch limit (0 uses the trainer default)")
	accumulate := fs.Int("accumulate", 0, "micro-batches per optimizer step")
	clipNorm := fs.Float64("clip-norm", 0, "gradient norm threshold (negative disables)")
	patience := fs.Int("patience", 0, "stalled validations before early stop")
	threshold := fs.Float64("threshold", 0, "minimum validation improvement")
	lr := fs.Float64("lr", 0, "learning rate (0 uses the default)")
	weightDecay := fs.Float64("weight-decay", 0, "L2 weight decay (negative disables)")
	decayFactor := fs.Float64("decay-factor", 0, "learning-rate decay multiplier")
	decayEvery := fs.Int("decay-every", 0, "epochs between learning-rate decays")
	progressEvery := fs.Int("progress-every", 0, "micro-batches between progress lines")
	seed := fs.Int64("seed", 1, "training rng seed")
	storeKind := fs.String("store", "memory", "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	verbose := fs.Bool("verbose", false, "log at info level even when piped")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	logger := newLogger(*verbose)
	req := metacount.PretrainRequest{
		Data: metacount.DataConfig{
			Dataset:    *dataset,
			Graphs:     *graphs,
			MinNodes:   *minNodes,
			MaxNodes:   *maxNodes,
			FeatureDim: *featureDim,
			EdgeDim:    *edgeDim,
			EdgeProb:   *edgeProb,
			TrainFrac:  *trainFrac,
			ValFrac:    *valFrac,
			BatchSize:  *batchSize,
			Prefetch:   *prefetch,
			Seed:       *dataSeed,
		},
		Architecture:  *arch,
		HiddenDim:     *hiddenDim,
		Layers:        *layers,
		MaskRatio:     *maskRatio,
		Rounds:        *rounds,
		UseTeacher:    *useTeacher,
		Momentum:      *momentum,
		Loss:          *lossName,
		OptimizedLoss: *optimizedName,
		Schedule:      *schedule,
		Objective:     *objective,
		RunID:         *runID,
		Epochs:        *epochs,
		Accumulate:    *accumulate,
		ClipNorm:      *clipNorm,
		Patience:      *patience,
		Threshold:     *threshold,
		LR:            *lr,
		WeightDecay:   *weightDecay,
		DecayFactor:   *decayFactor,
		DecayEvery:    *decayEvery,
		ProgressEvery: *progressEvery,
		Seed:          *seed,
	}
	if *profileName != "" {
		if err := applyPretrainProfile(&req, *profileName); err != nil {
			return err
		}
	}
	if *configPath != "" {
		raw, err := loadConfigMap(*configPath)
		if err != nil {
			return err
		}
		applyPretrainConfig(&req, raw, logger)
	}
	overridePretrainFlags(&req, setFlags, map[string]any{
		"run-id":         *runID,
		"dataset":        *dataset,
		"graphs":         *graphs,
		"min-nodes":      *minNodes,
		"max-nodes":      *maxNodes,
		"feature-dim":    *featureDim,
		"edge-dim":       *edgeDim,
		"edge-prob":      *edgeProb,
		"train-frac":     *trainFrac,
		"val-frac":       *valFrac,
		"batch-size":     *batchSize,
		"prefetch":       *prefetch,
		"data-seed":      *dataSeed,
		"arch":           *arch,
		"hidden":         *hiddenDim,
		"layers":         *layers,
		"mask-ratio":     *maskRatio,
		"rounds":         *rounds,
		"teacher":        *useTeacher,
		"momentum":       *momentum,
		"loss":           *lossName,
		"optimized-loss": *optimizedName,
		"schedule":       *schedule,
		"objective":      *objective,
		"epochs":         *epochs,
		"accumulate":     *accumulate,
		"clip-norm":      *clipNorm,
		"patience":       *patience,
		"threshold":      *threshold,
		"lr":             *lr,
		"weight-decay":   *weightDecay,
		"decay-factor":   *decayFactor,
		"decay-every":    *decayEvery,
		"progress-every": *progressEvery,
		"seed":           *seed,
	})

	client, err := metacount.New(metacount.Options{
		StoreKind:    *storeKind,
		DBPath:       *dbPath,
		ArtifactsDir: artifactsDir,
		ExportsDir:   exportsDir,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Pretrain(ctx, req)
	if err != nil {
		return err
	}

	fmt.Printf("pretraining completed run_id=%s dataset=%s epochs=%d best_epoch=%d best_loss=%.6f stop=%s\n",
		summary.RunID, req.Data.Dataset, summary.Epochs, summary.BestEpoch, summary.BestLoss, summary.StopReason)
	fmt.Printf("parameters=%s\n", humanize.Comma(int64(summary.Parameters)))
	for i, v := range summary.ValLosses {
		fmt.Printf("epoch=%d val_loss=%.6f\n", i+1, v)
	}
	if summary.TestLoss != nil {
		fmt.Printf("test_loss=%.6f\n", *summary.TestLoss)
	}
	fmt.Printf("artifacts_dir=%s\n", summary.ArtifactsDir)
	return nil
}

func runFinetune(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("finetune", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional config file, JSON or YAML")
	pretrainRunID := fs.String("pretrain-run-id", "", "pretraining run supplying the encoder")
	latest := fs.Bool("latest", false, "use the most recent pretraining run")
	allowFresh := fs.Bool("allow-fresh", false, "train from random initialization when no checkpoint exists")
	runID := fs.String("run-id", "", "explicit run id (optional)")
	dataset := fs.String("dataset", "synthetic", "dataset name")
	graphs := fs.Int("graphs", 64, "corpus size")
	minNodes := fs.Int("min-nodes", 8, "minimum nodes per graph")
	maxNodes := fs.Int("max-nodes", 24, "maximum nodes per graph")
	featureDim := fs.Int("feature-dim", 0, "node feature width (0 adopts the pretrained width)")
	edgeDim := fs.Int("edge-dim", 0, "edge feature width (0 adopts the pretrained width)")
	edgeProb := fs.Float64("edge-prob", 0.3, "per-pair link probability")
	trainFrac := fs.Float64("train-frac", 0.7, "training split fraction")
	valFrac := fs.Float64("val-frac", 0.15, "validation split fraction")
	batchSize := fs.Int("batch-size", 8, "graphs per batch")
	prefetch := fs.Int("prefetch", 0, "batches prefetched ahead of training (0 disables)")
	dataSeed := fs.Int64("data-seed", 1, "corpus rng seed")
	arch := fs.String("arch", "gin", "encoder architecture for the fresh path")
	hiddenDim := fs.Int("hidden", 64, "encoder hidden width for the fresh path")
	layers := fs.Int("layers", 3, "encoder layer count for the fresh path")
	headDim := fs.Int("head-dim", 0, "regression head width (0 uses the default)")
	trainEncoder := fs.Bool("train-encoder", false, "update encoder weights instead of freezing them")
	alignment := fs.Bool("alignment", false, "enable the view-decorrelation penalty")
	alignDim := fs.Int("align-dim", 0, "alignment projection width (0 uses the default)")
	alignWeight := fs.Float64("align-weight", 0, "decorrelation penalty weight (negative disables)")
	lossName := fs.String("loss", "mae", "reported loss kind: mae|mse|smse|huber")
	optimizedName := fs.String("optimized-loss", "", "optimized loss kind, defaults to -loss")
	epochs := fs.Int("epochs", 0, "epoch limit (0 uses the trainer default)")
	accumulate := fs.Int("accumulate", 0, "micro-batches per optimizer step")
	clipNorm := fs.Float64("clip-norm", 0, "gradient norm threshold (negative disables)")
	patience := fs.Int("patience", 0, "stalled validations before early stop")
	threshold := fs.Float64("threshold", 0, "minimum validation improvement")
	lr := fs.Float64("lr", 0, "learning rate (0 uses the default)")
	weightDecay := fs.Float64("weight-decay", 0, "L2 weight decay (negative disables)")
	decayFactor := fs.Float64("decay-factor", 0, "learning-rate decay multiplier")
	decayEvery := fs.Int("decay-every", 0, "epochs between learning-rate decays")
	progressEvery := fs.Int("progress-every", 0, "micro-batches between progress lines")
	seed := fs.Int64("seed", 1, "training rng seed")
	storeKind := fs.String("store", "memory", "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	verbose := fs.Bool("verbose", false, "log at info level even when piped")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	logger := newLogger(*verbose)
	req := metacount.FinetuneRequest{
		Data: metacount.DataConfig{
			Dataset:    *dataset,
			Graphs:     *graphs,
			MinNodes:   *minNodes,
			MaxNodes:   *maxNodes,
			FeatureDim: *featureDim,
			EdgeDim:    *edgeDim,
			EdgeProb:   *edgeProb,
			TrainFrac:  *trainFrac,
			ValFrac:    *valFrac,
			BatchSize:  *batchSize,
			Prefetch:   *prefetch,
			Seed:       *dataSeed,
		},
		PretrainRunID: *pretrainRunID,
		Latest:        *latest,
		AllowFresh:    *allowFresh,
		Architecture:  *arch,
		HiddenDim:     *hiddenDim,
		Layers:        *layers,
		HeadDim:       *headDim,
		TrainEncoder:  *trainEncoder,
		Alignment:     *alignment,
		AlignDim:      *alignDim,
		AlignWeight:   *alignWeight,
		Loss:          *lossName,
		OptimizedLoss: *optimizedName,
		RunID:         *runID,
		Epochs:        *epochs,
		Accumulate:    *accumulate,
		ClipNorm:      *clipNorm,
		Patience:      *patience,
		Threshold:     *threshold,
		LR:            *lr,
		WeightDecay:   *weightDecay,
		DecayFactor:   *decayFactor,
		DecayEvery:    *decayEvery,
		ProgressEvery: *progressEvery,
		Seed:          *seed,
	}
	if *configPath != "" {
		raw, err := loadConfigMap(*configPath)
		if err != nil {
			return err
		}
		applyFinetuneConfig(&req, raw, logger)
		overrideFinetuneFlags(&req, setFlags, map[string]any{
			"pretrain-run-id": *pretrainRunID,
			"latest":          *latest,
			"allow-fresh":     *allowFresh,
			"run-id":          *runID,
			"dataset":         *dataset,
			"graphs":          *graphs,
			"min-nodes":       *minNodes,
			"max-nodes":       *maxNodes,
			"feature-dim":     *featureDim,
			"edge-dim":        *edgeDim,
			"edge-prob":       *edgeProb,
			"train-frac":      *trainFrac,
			"val-frac":        *valFrac,
			"batch-size":      *batchSize,
			"prefetch":        *prefetch,
			"data-seed":       *dataSeed,
			"arch":            *arch,
			"hidden":          *hiddenDim,
			"layers":          *layers,
			"head-dim":        *headDim,
			"train-encoder":   *trainEncoder,
			"alignment":       *alignment,
			"align-dim":       *alignDim,
			"align-weight":    *alignWeight,
			"loss":            *lossName,
			"optimized-loss":  *optimizedName,
			"epochs":          *epochs,
			"accumulate":      *accumulate,
			"clip-norm":       *clipNorm,
			"patience":        *patience,
			"threshold":       *threshold,
			"lr":              *lr,
			"weight-decay":    *weightDecay,
			"decay-factor":    *decayFactor,
			"decay-every":     *decayEvery,
			"progress-every":  *progressEvery,
			"seed":            *seed,
		})
	}

	client, err := metacount.New(metacount.Options{
		StoreKind:    *storeKind,
		DBPath:       *dbPath,
		ArtifactsDir: artifactsDir,
		ExportsDir:   exportsDir,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Finetune(ctx, req)
	if err != nil {
		return err
	}

	fmt.Printf("finetuning completed run_id=%s source=%s epochs=%d best_epoch=%d best_loss=%.6f stop=%s\n",
		summary.RunID, sourceDisplay(summary.PretrainRunID), summary.Epochs, summary.BestEpoch, summary.BestLoss, summary.StopReason)
	fmt.Printf("parameters=%s\n", humanize.Comma(int64(summary.Parameters)))
	for i, v := range summary.ValLosses {
		fmt.Printf("epoch=%d val_loss=%.6f\n", i+1, v)
	}
	if summary.TestLoss != nil {
		fmt.Printf("test_loss=%.6f\n", *summary.TestLoss)
	}
	fmt.Printf("artifacts_dir=%s\n", summary.ArtifactsDir)
	return nil
}

func runEvaluate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "evaluate the most recent pretraining run")
	split := fs.String("split", "test", "corpus part to evaluate: train|val|test")
	dataset := fs.String("dataset", "synthetic", "dataset name")
	graphs := fs.Int("graphs", 64, "corpus size")
	minNodes := fs.Int("min-nodes", 8, "minimum nodes per graph")
	maxNodes := fs.Int("max-nodes", 24, "maximum nodes per graph")
	edgeProb := fs.Float64("edge-prob", 0.3, "per-pair link probability")
	trainFrac := fs.Float64("train-frac", 0.7, "training split fraction")
	valFrac := fs.Float64("val-frac", 0.15, "validation split fraction")
	batchSize := fs.Int("batch-size", 8, "graphs per batch")
	dataSeed := fs.Int64("data-seed", 1, "corpus rng seed")
	lossName := fs.String("loss", "mae", "reported loss kind: mae|mse|smse|huber")
	optimizedName := fs.String("optimized-loss", "", "optimized loss kind, defaults to -loss")
	schedule := fs.String("schedule", "0.5", "objective weight schedule")
	objective := fs.String("objective", "attribute", "scheduled objective: attribute|regression")
	seed := fs.Int64("seed", 1, "evaluation mask seed")
	storeKind := fs.String("store", "memory", "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	verbose := fs.Bool("verbose", false, "log at info level even when piped")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath, *verbose)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Evaluate(ctx, metacount.EvaluateRequest{
		Data: metacount.DataConfig{
			Dataset:   *dataset,
			Graphs:    *graphs,
			MinNodes:  *minNodes,
			MaxNodes:  *maxNodes,
			EdgeProb:  *edgeProb,
			TrainFrac: *trainFrac,
			ValFrac:   *valFrac,
			BatchSize: *batchSize,
			Seed:      *dataSeed,
		},
		RunID:         *runID,
		Latest:        *latest,
		Split:         *split,
		Loss:          *lossName,
		OptimizedLoss: *optimizedName,
		Schedule:      *schedule,
		Objective:     *objective,
		Seed:          *seed,
	})
	if err != nil {
		return err
	}

	fmt.Printf("evaluation run_id=%s dataset=%s split=%s\n", summary.RunID, summary.Dataset, summary.Split)
	fmt.Printf("mean_loss=%.6f mean_reg=%.6f mean_attr=%.6f\n", summary.MeanLoss, summary.MeanReg, summary.MeanAttr)
	fmt.Printf("batches=%d graphs=%s nodes=%s\n",
		summary.Batches, humanize.Comma(int64(summary.Graphs)), humanize.Comma(int64(summary.Nodes)))
	fmt.Printf("report=%s\n", summary.ReportPath)
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	kind := fs.String("kind", "", "filter by run kind: pretrain|finetune")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	storeKind := fs.String("store", "memory", "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	verbose := fs.Bool("verbose", false, "log at info level even when piped")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := newClient(*storeKind, *dbPath, *verbose)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.Runs(ctx, metacount.RunsRequest{Limit: *limit, Kind: *kind})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}

	for _, item := range items {
		fmt.Printf("run_id=%s kind=%s dataset=%s created_at=%s epochs=%d best_epoch=%d best_loss=%.6f stop=%s\n",
			item.RunID,
			item.Kind,
			item.Dataset,
			item.CreatedAtUTC,
			item.Epochs,
			item.BestEpoch,
			item.BestLoss,
			item.StopReason,
		)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from the run index")
	outDir := fs.String("out", exportsDir, "export output directory")
	compare := fs.Bool("compare", false, "also aggregate validation curves across every indexed run")
	storeKind := fs.String("store", "memory", "store backend: memory|sqlite")
	dbPath := fs.String("db-path", defaultDBPath, "sqlite database path")
	verbose := fs.Bool("verbose", false, "log at info level even when piped")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath, *verbose)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Export(ctx, metacount.ExportRequest{
		RunID:   *runID,
		Latest:  *latest,
		OutDir:  *outDir,
		Compare: *compare,
	})
	if err != nil {
		return err
	}

	size, err := dirSize(summary.Directory)
	if err != nil {
		return err
	}
	fmt.Printf("exported run_id=%s to=%s size=%s\n", summary.RunID, summary.Directory, humanize.Bytes(uint64(size)))
	for _, path := range summary.CurveFiles {
		fmt.Printf("curves=%s\n", path)
	}
	return nil
}

func newClient(storeKind, dbPath string, verbose bool) (*metacount.Client, error) {
	return metacount.New(metacount.Options{
		StoreKind:    storeKind,
		DBPath:       dbPath,
		ArtifactsDir: artifactsDir,
		ExportsDir:   exportsDir,
		Logger:       newLogger(verbose),
	})
}

// newLogger keeps progress visible on interactive terminals and quiets
// piped output unless -verbose asks for it.
func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose || isatty.IsTerminal(os.Stderr.Fd()) {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func sourceDisplay(runID string) string {
	if runID == "" {
		return "fresh"
	}
	return runID
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: metacountctl <init|reset|pretrain|finetune|evaluate|runs|export|profile> [flags]", msg)
}
