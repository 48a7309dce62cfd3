package metacount

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"metacount/internal/encoder"
	"metacount/internal/finetune"
	"metacount/internal/graph"
	"metacount/internal/loss"
	"metacount/internal/metrics"
	"metacount/internal/model"
	"metacount/internal/optim"
	"metacount/internal/pretrain"
	"metacount/internal/stats"
	"metacount/internal/storage"
	"metacount/internal/tensor"
	"metacount/internal/train"
)

const (
	defaultArtifactsDir = "artifacts"
	defaultExportsDir   = "exports"
	defaultDBPath       = "metacount.db"
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	Logger       *slog.Logger
}

type Client struct {
	store      storage.Store
	storeReady bool
	logger     *slog.Logger

	artifactsDir string
	exportsDir   string
}

// DataConfig shapes the synthetic corpus an operation trains or
// evaluates on. Zero values take the defaults filled by each operation;
// EdgeDim stays zero unless edge features are wanted.
type DataConfig struct {
	Dataset    string
	Graphs     int
	MinNodes   int
	MaxNodes   int
	FeatureDim int
	EdgeDim    int
	EdgeProb   float64
	TrainFrac  float64
	ValFrac    float64
	BatchSize  int
	Prefetch   int // batches buffered ahead of the training loop, 0 disables
	Seed       int64
}

type PretrainRequest struct {
	Data DataConfig

	Architecture string
	HiddenDim    int
	Layers       int
	MaskRatio    float64
	Rounds       int
	UseTeacher   bool
	Momentum     float64

	Loss          string // reported criterion, also the optimized one unless overridden
	OptimizedLoss string
	Schedule      string // attribute-weight schedule spec, e.g. "0.5" or "anneal_linear$0.9$0.1"
	Objective     string // which objective the schedule weights: attribute|regression

	RunID         string
	Epochs        int
	Accumulate    int
	ClipNorm      float64
	Patience      int
	Threshold     float64
	LR            float64
	WeightDecay   float64
	DecayFactor   float64
	DecayEvery    int
	ProgressEvery int
	Seed          int64
}

type PretrainSummary struct {
	RunID        string
	ArtifactsDir string
	Parameters   int // trainable scalar count
	Epochs       int
	BestEpoch    int
	BestLoss     float64
	StopReason   string
	ValLosses    []float64
	TestLoss     *float64
}

type FinetuneRequest struct {
	Data DataConfig

	PretrainRunID string
	Latest        bool // fine-tune from the newest pretraining run
	AllowFresh    bool // proceed from random initialization when no checkpoint exists

	// Encoder shape for the fresh path; a resolved pretraining run
	// overrides these with its recorded configuration.
	Architecture string
	HiddenDim    int
	Layers       int

	HeadDim      int
	TrainEncoder bool
	Alignment    bool
	AlignDim     int
	AlignWeight  float64

	Loss          string
	OptimizedLoss string

	RunID         string
	Epochs        int
	Accumulate    int
	ClipNorm      float64
	Patience      int
	Threshold     float64
	LR            float64
	WeightDecay   float64
	DecayFactor   float64
	DecayEvery    int
	ProgressEvery int
	Seed          int64
}

type FinetuneSummary struct {
	RunID         string
	PretrainRunID string
	ArtifactsDir  string
	Parameters    int // trainable scalar count
	Epochs        int
	BestEpoch     int
	BestLoss      float64
	StopReason    string
	ValLosses     []float64
	TestLoss      *float64
}

type EvaluateRequest struct {
	Data DataConfig

	RunID  string
	Latest bool
	Split  string // corpus part to evaluate: train|val|test

	Loss          string
	OptimizedLoss string
	Schedule      string
	Objective     string

	Seed int64
}

type EvalSummary struct {
	RunID      string
	Dataset    string
	Split      string
	MeanLoss   float64
	MeanReg    float64
	MeanAttr   float64
	Batches    int
	Nodes      int
	Graphs     int
	ReportPath string
}

type RunsRequest struct {
	Limit int
	Kind  string // pretrain|finetune, empty lists both
}

type RunItem struct {
	RunID        string
	Kind         string
	Dataset      string
	CreatedAtUTC string
	Epochs       int
	BestEpoch    int
	BestLoss     float64
	StopReason   string
}

type ExportRequest struct {
	RunID   string
	Latest  bool
	OutDir  string
	Compare bool // also aggregate validation curves across every indexed run
}

type ExportSummary struct {
	RunID      string
	Directory  string
	CurveFiles []string
}

func New(opts Options) (*Client, error) {
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.NewStore(opts.StoreKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:        store,
		logger:       logger,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.ensureStore(ctx)
}

// Reset drops all persisted runs, checkpoints, and reports.
func (c *Client) Reset(ctx context.Context) error {
	resetter, ok := c.store.(storage.Resetter)
	if !ok {
		return errors.New("store backend does not support reset")
	}
	if err := c.ensureStore(ctx); err != nil {
		return err
	}
	return resetter.Reset(ctx)
}

// ensureStore runs schema setup once per client so callers do not have
// to issue an explicit Init before training or reading.
func (c *Client) ensureStore(ctx context.Context) error {
	if c.storeReady {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return err
	}
	c.storeReady = true
	return nil
}

func (c *Client) Pretrain(ctx context.Context, req PretrainRequest) (PretrainSummary, error) {
	if err := c.ensureStore(ctx); err != nil {
		return PretrainSummary{}, err
	}
	data := req.Data.withDefaults()
	if req.Architecture == "" {
		req.Architecture = "gin"
	}
	if req.HiddenDim <= 0 {
		req.HiddenDim = 64
	}
	if req.Layers <= 0 {
		req.Layers = 3
	}
	if req.MaskRatio <= 0 {
		req.MaskRatio = 0.4
	}
	if req.Rounds <= 0 {
		req.Rounds = 2
	}
	if req.UseTeacher && req.Momentum <= 0 {
		req.Momentum = 0.995
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	fillTrainDefaults(&req.LR, &req.WeightDecay)

	composer, err := composerFromNames(req.Loss, req.OptimizedLoss, req.Schedule, req.Objective)
	if err != nil {
		return PretrainSummary{}, err
	}

	trainLoader, valLoader, testLoader, err := buildLoaders(data)
	if err != nil {
		return PretrainSummary{}, err
	}
	if p, ok := trainLoader.(*graph.PrefetchLoader); ok {
		defer p.Stop()
	}

	m, err := pretrain.New(rand.New(rand.NewSource(req.Seed)), pretrain.Config{
		Architecture: req.Architecture,
		Encoder: encoder.Config{
			InputDim:  data.FeatureDim,
			HiddenDim: req.HiddenDim,
			Layers:    req.Layers,
			EdgeDim:   data.EdgeDim,
		},
		MaskRatio:  req.MaskRatio,
		Rounds:     req.Rounds,
		UseTeacher: req.UseTeacher,
		Momentum:   req.Momentum,
	})
	if err != nil {
		return PretrainSummary{}, err
	}

	trainer, err := train.New(train.Config{
		Model:         m,
		Composer:      composer,
		Store:         c.store,
		Train:         trainLoader,
		Val:           valLoader,
		Test:          testLoader,
		Optimizer:     optim.NewAdam(req.LR, req.WeightDecay),
		Metrics:       metrics.NewLog(c.logger),
		Logger:        c.logger,
		RunID:         req.RunID,
		Dataset:       data.Dataset,
		Epochs:        req.Epochs,
		Accumulate:    req.Accumulate,
		ClipNorm:      req.ClipNorm,
		Patience:      req.Patience,
		Threshold:     req.Threshold,
		DecayFactor:   req.DecayFactor,
		DecayEvery:    req.DecayEvery,
		ProgressEvery: req.ProgressEvery,
		Seed:          req.Seed,
	})
	if err != nil {
		return PretrainSummary{}, err
	}

	res, err := trainer.Run(ctx)
	if err != nil {
		return PretrainSummary{}, err
	}

	runDir, err := c.materializeRun(ctx, req.RunID)
	if err != nil {
		return PretrainSummary{}, err
	}

	summary := PretrainSummary{
		RunID:        res.RunID,
		ArtifactsDir: filepath.Clean(runDir),
		Parameters:   paramCount(m.Params()),
		Epochs:       res.Epochs,
		BestEpoch:    res.BestEpoch,
		BestLoss:     res.BestLoss,
		StopReason:   res.StopReason,
		ValLosses:    valLosses(res.History),
	}
	if res.Test != nil {
		testLoss := res.Test.MeanLoss
		summary.TestLoss = &testLoss
	}
	return summary, nil
}

func (c *Client) Finetune(ctx context.Context, req FinetuneRequest) (FinetuneSummary, error) {
	if req.PretrainRunID != "" && req.Latest {
		return FinetuneSummary{}, errors.New("use either pretrain run id or latest")
	}
	if err := c.ensureStore(ctx); err != nil {
		return FinetuneSummary{}, err
	}
	data := req.Data.withDefaults()
	if req.Architecture == "" {
		req.Architecture = "gin"
	}
	if req.HiddenDim <= 0 {
		req.HiddenDim = 64
	}
	if req.Layers <= 0 {
		req.Layers = 3
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	fillTrainDefaults(&req.LR, &req.WeightDecay)

	reported, optimized, err := kindsFromNames(req.Loss, req.OptimizedLoss)
	if err != nil {
		return FinetuneSummary{}, err
	}

	sourceID := req.PretrainRunID
	if req.Latest {
		record, err := c.latestRun(ctx, "pretrain")
		if err != nil {
			return FinetuneSummary{}, err
		}
		sourceID = record.ID
	}

	arch := req.Architecture
	hidden := req.HiddenDim
	layers := req.Layers
	var restoreParams []model.Parameter
	if sourceID != "" {
		record, ok, err := c.store.GetRun(ctx, sourceID)
		if err != nil {
			return FinetuneSummary{}, err
		}
		if !ok {
			return FinetuneSummary{}, fmt.Errorf("pretraining run not found: %s", sourceID)
		}
		arch = configString(record.Config, "architecture", arch)
		hidden = configInt(record.Config, "hidden_dim", hidden)
		layers = configInt(record.Config, "layers", layers)
		inputDim := configInt(record.Config, "input_dim", data.FeatureDim)
		edgeDim := configInt(record.Config, "edge_dim", data.EdgeDim)
		if req.Data.FeatureDim != 0 && req.Data.FeatureDim != inputDim {
			return FinetuneSummary{}, fmt.Errorf("feature dim %d does not match pretrained input dim %d", req.Data.FeatureDim, inputDim)
		}
		if req.Data.EdgeDim != 0 && req.Data.EdgeDim != edgeDim {
			return FinetuneSummary{}, fmt.Errorf("edge dim %d does not match pretrained edge dim %d", req.Data.EdgeDim, edgeDim)
		}
		data.FeatureDim = inputDim
		data.EdgeDim = edgeDim

		checkpoint, ok, err := c.store.GetCheckpoint(ctx, sourceID)
		if err != nil {
			return FinetuneSummary{}, err
		}
		if ok {
			restoreParams = checkpoint.Params
		} else if !req.AllowFresh {
			return FinetuneSummary{}, fmt.Errorf("no checkpoint for run %s; set AllowFresh to start from random initialization", sourceID)
		}
	} else if !req.AllowFresh {
		return FinetuneSummary{}, errors.New("finetune requires a pretraining run id, latest, or AllowFresh")
	}

	trainLoader, valLoader, testLoader, err := buildLoaders(data)
	if err != nil {
		return FinetuneSummary{}, err
	}
	if p, ok := trainLoader.(*graph.PrefetchLoader); ok {
		defer p.Stop()
	}

	pipe, err := finetune.New(rand.New(rand.NewSource(req.Seed)), finetune.Config{
		Architecture: arch,
		Encoder: encoder.Config{
			InputDim:  data.FeatureDim,
			HiddenDim: hidden,
			Layers:    layers,
			EdgeDim:   data.EdgeDim,
		},
		HeadDim:      req.HeadDim,
		TrainEncoder: req.TrainEncoder,
		Alignment:    req.Alignment,
		AlignDim:     req.AlignDim,
	})
	if err != nil {
		return FinetuneSummary{}, err
	}
	if restoreParams != nil {
		if err := pipe.LoadEncoder(restoreParams); err != nil {
			return FinetuneSummary{}, err
		}
	}

	trainer, err := finetune.NewTrainer(finetune.TrainConfig{
		Pipeline:      pipe,
		Store:         c.store,
		Train:         trainLoader,
		Val:           valLoader,
		Test:          testLoader,
		Optimizer:     optim.NewAdam(req.LR, req.WeightDecay),
		Metrics:       metrics.NewLog(c.logger),
		Logger:        c.logger,
		RunID:         req.RunID,
		Dataset:       data.Dataset,
		ReportedLoss:  reported,
		OptimizedLoss: optimized,
		AlignWeight:   req.AlignWeight,
		Epochs:        req.Epochs,
		Accumulate:    req.Accumulate,
		ClipNorm:      req.ClipNorm,
		Patience:      req.Patience,
		Threshold:     req.Threshold,
		DecayFactor:   req.DecayFactor,
		DecayEvery:    req.DecayEvery,
		ProgressEvery: req.ProgressEvery,
		Seed:          req.Seed,
	})
	if err != nil {
		return FinetuneSummary{}, err
	}

	res, err := trainer.Run(ctx)
	if err != nil {
		return FinetuneSummary{}, err
	}

	runDir, err := c.materializeRun(ctx, req.RunID)
	if err != nil {
		return FinetuneSummary{}, err
	}

	summary := FinetuneSummary{
		RunID:         res.RunID,
		PretrainRunID: sourceID,
		ArtifactsDir:  filepath.Clean(runDir),
		Parameters:    paramCount(pipe.Params()),
		Epochs:        res.Epochs,
		BestEpoch:     res.BestEpoch,
		BestLoss:      res.BestLoss,
		StopReason:    res.StopReason,
		ValLosses:     valLosses(res.History),
	}
	if res.Test != nil {
		testLoss := res.Test.MeanLoss
		summary.TestLoss = &testLoss
	}
	return summary, nil
}

// Evaluate restores a pretraining checkpoint and runs a no-gradient pass
// over one part of a freshly generated corpus. The report lands next to
// the run's training artifacts; persisted store records stay untouched.
func (c *Client) Evaluate(ctx context.Context, req EvaluateRequest) (EvalSummary, error) {
	if req.RunID != "" && req.Latest {
		return EvalSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return EvalSummary{}, errors.New("evaluate requires run id or latest")
	}
	if req.Split == "" {
		req.Split = "test"
	}
	if err := c.ensureStore(ctx); err != nil {
		return EvalSummary{}, err
	}
	data := req.Data.withDefaults()

	runID := req.RunID
	if req.Latest {
		record, err := c.latestRun(ctx, "pretrain")
		if err != nil {
			return EvalSummary{}, err
		}
		runID = record.ID
	}

	record, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return EvalSummary{}, err
	}
	if !ok {
		return EvalSummary{}, fmt.Errorf("run not found: %s", runID)
	}
	if record.Kind != "pretrain" {
		return EvalSummary{}, fmt.Errorf("evaluate supports pretraining checkpoints, run %s is %s", runID, record.Kind)
	}
	checkpoint, ok, err := c.store.GetCheckpoint(ctx, runID)
	if err != nil {
		return EvalSummary{}, err
	}
	if !ok {
		return EvalSummary{}, fmt.Errorf("no checkpoint for run %s", runID)
	}

	inputDim := configInt(record.Config, "input_dim", data.FeatureDim)
	edgeDim := configInt(record.Config, "edge_dim", data.EdgeDim)
	if req.Data.FeatureDim != 0 && req.Data.FeatureDim != inputDim {
		return EvalSummary{}, fmt.Errorf("feature dim %d does not match pretrained input dim %d", req.Data.FeatureDim, inputDim)
	}
	if req.Data.EdgeDim != 0 && req.Data.EdgeDim != edgeDim {
		return EvalSummary{}, fmt.Errorf("edge dim %d does not match pretrained edge dim %d", req.Data.EdgeDim, edgeDim)
	}
	data.FeatureDim = inputDim
	data.EdgeDim = edgeDim

	m, err := pretrain.New(rand.New(rand.NewSource(req.Seed)), pretrain.Config{
		Architecture: configString(record.Config, "architecture", "gin"),
		Encoder: encoder.Config{
			InputDim:  inputDim,
			HiddenDim: configInt(record.Config, "hidden_dim", 64),
			Layers:    configInt(record.Config, "layers", 3),
			EdgeDim:   edgeDim,
		},
		MaskRatio:  configFloat(record.Config, "mask_ratio", 0.3),
		Rounds:     configInt(record.Config, "rounds", 2),
		UseTeacher: configBool(record.Config, "use_teacher", false),
		Momentum:   configFloat(record.Config, "momentum", 0),
	})
	if err != nil {
		return EvalSummary{}, err
	}
	if err := m.Restore(checkpoint.Params); err != nil {
		return EvalSummary{}, err
	}

	composer, err := composerFromNames(req.Loss, req.OptimizedLoss, req.Schedule, req.Objective)
	if err != nil {
		return EvalSummary{}, err
	}

	trainLoader, valLoader, testLoader, err := buildLoaders(data)
	if err != nil {
		return EvalSummary{}, err
	}
	if p, ok := trainLoader.(*graph.PrefetchLoader); ok {
		defer p.Stop()
	}
	var loader graph.Loader
	switch req.Split {
	case "train":
		loader = trainLoader
	case "val":
		loader = valLoader
	case "test":
		loader = testLoader
	default:
		return EvalSummary{}, fmt.Errorf("unsupported split: %s", req.Split)
	}

	report, err := train.NewEvaluator(m, composer, req.Seed).Run(ctx, loader, data.Dataset, req.Split, 0, 1)
	if err != nil {
		return EvalSummary{}, err
	}
	report.RunID = runID

	path, err := stats.WriteEvalSnapshot(c.artifactsDir, report)
	if err != nil {
		return EvalSummary{}, err
	}
	c.logger.Info("evaluation complete",
		"run", runID, "dataset", data.Dataset, "split", req.Split, "loss", report.MeanLoss)

	return EvalSummary{
		RunID:      runID,
		Dataset:    data.Dataset,
		Split:      req.Split,
		MeanLoss:   report.MeanLoss,
		MeanReg:    report.MeanReg,
		MeanAttr:   report.MeanAttr,
		Batches:    report.Batches,
		Nodes:      report.Nodes,
		Graphs:     report.Graphs,
		ReportPath: path,
	}, nil
}

func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}

	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]RunItem, 0, req.Limit)
	for i := len(runs) - 1; i >= 0 && len(out) < req.Limit; i-- {
		run := runs[i]
		if req.Kind != "" && run.Kind != req.Kind {
			continue
		}
		out = append(out, RunItem{
			RunID:        run.ID,
			Kind:         run.Kind,
			Dataset:      run.Dataset,
			CreatedAtUTC: run.StartedAt.UTC().Format(time.RFC3339),
			Epochs:       run.Epochs,
			BestEpoch:    run.BestEpoch,
			BestLoss:     run.BestLoss,
			StopReason:   run.StopReason,
		})
	}
	return out, nil
}

func (c *Client) Export(ctx context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	if err := c.ensureStore(ctx); err != nil {
		return ExportSummary{}, err
	}

	runID := req.RunID
	if req.Latest {
		entries, err := stats.ListRunIndex(c.artifactsDir)
		if err != nil {
			return ExportSummary{}, err
		}
		if len(entries) == 0 {
			return ExportSummary{}, errors.New("no runs available to export")
		}
		runID = entries[0].RunID
	}

	// Rebuild the artifact directory from the store when it is missing,
	// as happens for runs persisted by another working directory.
	if _, ok, err := stats.ReadRunRecord(c.artifactsDir, runID); err != nil {
		return ExportSummary{}, err
	} else if !ok {
		if _, err := c.materializeRun(ctx, runID); err != nil {
			return ExportSummary{}, err
		}
	}

	dir, err := stats.ExportRun(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}

	summary := ExportSummary{RunID: runID, Directory: filepath.Clean(dir)}
	if req.Compare {
		entries, err := stats.ListRunIndex(c.artifactsDir)
		if err != nil {
			return ExportSummary{}, err
		}
		ids := make([]string, 0, len(entries))
		for _, e := range entries {
			ids = append(ids, e.RunID)
		}
		aggregates, err := stats.BuildCurveAggregates(c.artifactsDir, ids)
		if err != nil {
			return ExportSummary{}, err
		}
		files, err := stats.WriteCurveAggregates(dir, aggregates)
		if err != nil {
			return ExportSummary{}, err
		}
		summary.CurveFiles = files
	}
	return summary, nil
}

// materializeRun writes a persisted run's artifact directory from the
// store and refreshes the run index.
func (c *Client) materializeRun(ctx context.Context, runID string) (string, error) {
	record, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("run not found: %s", runID)
	}
	history, _, err := c.store.GetLossHistory(ctx, runID)
	if err != nil {
		return "", err
	}

	artifacts := stats.RunArtifacts{Run: record, History: history}
	valReport, ok, err := c.store.GetEvalReport(ctx, runID, "val")
	if err != nil {
		return "", err
	}
	if ok {
		artifacts.Val = &valReport
	}
	testReport, ok, err := c.store.GetEvalReport(ctx, runID, "test")
	if err != nil {
		return "", err
	}
	if ok {
		artifacts.Test = &testReport
	}

	runDir, err := stats.WriteRunArtifacts(c.artifactsDir, artifacts)
	if err != nil {
		return "", err
	}
	if err := stats.WriteRunSummary(runDir, stats.BuildRunSummary(record, history, artifacts.Test)); err != nil {
		return "", err
	}
	if err := stats.AppendRunIndex(c.artifactsDir, stats.IndexEntryFromRun(record)); err != nil {
		return "", err
	}
	return runDir, nil
}

func (c *Client) latestRun(ctx context.Context, kind string) (model.RunRecord, error) {
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return model.RunRecord{}, err
	}
	for i := len(runs) - 1; i >= 0; i-- {
		if kind == "" || runs[i].Kind == kind {
			return runs[i], nil
		}
	}
	if kind == "" {
		return model.RunRecord{}, errors.New("no runs available")
	}
	return model.RunRecord{}, fmt.Errorf("no %s runs available", kind)
}

func (d DataConfig) withDefaults() DataConfig {
	if d.Dataset == "" {
		d.Dataset = "synthetic"
	}
	if d.Graphs <= 0 {
		d.Graphs = 64
	}
	if d.MinNodes <= 0 {
		d.MinNodes = 8
	}
	if d.MaxNodes <= 0 {
		d.MaxNodes = 24
	}
	if d.FeatureDim <= 0 {
		d.FeatureDim = 16
	}
	if d.EdgeProb <= 0 {
		d.EdgeProb = 0.3
	}
	if d.TrainFrac <= 0 {
		d.TrainFrac = 0.7
	}
	if d.ValFrac <= 0 {
		d.ValFrac = 0.15
	}
	if d.BatchSize <= 0 {
		d.BatchSize = 8
	}
	return d
}

func buildLoaders(data DataConfig) (graph.Loader, graph.Loader, graph.Loader, error) {
	corpus, err := graph.GenerateCorpus(rand.New(rand.NewSource(data.Seed)), graph.SyntheticConfig{
		Graphs:     data.Graphs,
		MinNodes:   data.MinNodes,
		MaxNodes:   data.MaxNodes,
		FeatureDim: data.FeatureDim,
		EdgeDim:    data.EdgeDim,
		EdgeProb:   data.EdgeProb,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	trainGraphs, valGraphs, testGraphs, err := graph.Split(corpus, data.TrainFrac, data.ValFrac)
	if err != nil {
		return nil, nil, nil, err
	}

	var trainLoader graph.Loader
	trainLoader, err = loaderFor(trainGraphs, data.BatchSize, rand.New(rand.NewSource(data.Seed+1)))
	if err != nil {
		return nil, nil, nil, err
	}
	if data.Prefetch > 0 {
		trainLoader = graph.Prefetch(trainLoader, data.Prefetch)
	}
	valLoader, err := loaderFor(valGraphs, data.BatchSize, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	testLoader, err := loaderFor(testGraphs, data.BatchSize, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	return trainLoader, valLoader, testLoader, nil
}

func loaderFor(graphs []graph.Graph, batchSize int, rng *rand.Rand) (*graph.SliceLoader, error) {
	batches, err := graph.Batches(graphs, batchSize)
	if err != nil {
		return nil, err
	}
	return graph.NewSliceLoader(batches, rng), nil
}

func composerFromNames(reported, optimized, schedule, objective string) (*loss.Composer, error) {
	reportedKind, optimizedKind, err := kindsFromNames(reported, optimized)
	if err != nil {
		return nil, err
	}
	if schedule == "" {
		schedule = "0.5"
	}
	sched, err := loss.ParseSchedule(schedule)
	if err != nil {
		return nil, err
	}
	obj, err := loss.ParseObjective(objective)
	if err != nil {
		return nil, err
	}
	return loss.NewComposer(
		loss.NewCriterion(reportedKind, loss.RectifyReLU),
		loss.NewCriterion(optimizedKind, loss.RectifyLeaky),
		sched, obj,
	), nil
}

func kindsFromNames(reported, optimized string) (loss.Kind, loss.Kind, error) {
	if reported == "" {
		reported = "mae"
	}
	reportedKind, err := loss.ParseKind(reported)
	if err != nil {
		return 0, 0, err
	}
	optimizedKind := reportedKind
	if optimized != "" {
		optimizedKind, err = loss.ParseKind(optimized)
		if err != nil {
			return 0, 0, err
		}
	}
	return reportedKind, optimizedKind, nil
}

func fillTrainDefaults(lr, weightDecay *float64) {
	if *lr <= 0 {
		*lr = 6e-4
	}
	if *weightDecay < 0 {
		*weightDecay = 0
	} else if *weightDecay == 0 {
		*weightDecay = 5e-4
	}
}

func paramCount(params []tensor.Named) int {
	total := 0
	for _, p := range params {
		total += len(p.Dense.Data)
	}
	return total
}

func valLosses(history []model.LossPoint) []float64 {
	var out []float64
	for _, p := range history {
		if p.Split == "val" && p.Name == "regression" {
			out = append(out, p.Value)
		}
	}
	return out
}

func configString(cfg map[string]any, key, fallback string) string {
	if v, ok := cfg[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// Numeric config values arrive as int from the memory store and as
// float64 after a JSON round trip through sqlite.
func configInt(cfg map[string]any, key string, fallback int) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}

func configFloat(cfg map[string]any, key string, fallback float64) float64 {
	switch v := cfg[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return fallback
	}
}

func configBool(cfg map[string]any, key string, fallback bool) bool {
	if v, ok := cfg[key].(bool); ok {
		return v
	}
	return fallback
}
