package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/stat"

	"metacount/internal/model"
)

// RunSummary is the per-run digest written next to the raw artifacts.
// TestLoss is nil when the run never reached its test pass.
type RunSummary struct {
	RunID      string   `json:"run_id"`
	Kind       string   `json:"kind"`
	Dataset    string   `json:"dataset"`
	Epochs     int      `json:"epochs"`
	BestEpoch  int      `json:"best_epoch"`
	BestLoss   float64  `json:"best_loss"`
	StopReason string   `json:"stop_reason"`
	FinalVal   float64  `json:"final_val"`
	MeanVal    float64  `json:"mean_val"`
	StdVal     float64  `json:"std_val"`
	MinVal     float64  `json:"min_val"`
	TestLoss   *float64 `json:"test_loss,omitempty"`
}

// CurveAggregate folds the validation curves of several runs sharing a
// dataset and kind into per-epoch statistics. Leader is the run whose
// curve dominates every other (never higher, strictly lower overall),
// falling back to the lowest observed validation loss when no curve
// dominates.
type CurveAggregate struct {
	Dataset    string    `json:"dataset"`
	Kind       string    `json:"kind"`
	Runs       int       `json:"runs"`
	EpochIndex []int     `json:"epoch_index"`
	MeanVal    []float64 `json:"mean_val"`
	StdVal     []float64 `json:"std_val"`
	MinVal     []float64 `json:"min_val"`
	MaxVal     []float64 `json:"max_val"`
	Leader     string    `json:"leader_run_id"`
	LeaderBest float64   `json:"leader_best_loss"`
}

// BuildRunSummary digests a run record, its loss history, and the
// optional test report.
func BuildRunSummary(run model.RunRecord, history []model.LossPoint, test *model.EvalReport) RunSummary {
	summary := RunSummary{
		RunID:      run.ID,
		Kind:       run.Kind,
		Dataset:    run.Dataset,
		Epochs:     run.Epochs,
		BestEpoch:  run.BestEpoch,
		BestLoss:   run.BestLoss,
		StopReason: run.StopReason,
	}
	curve := valCurve(history)
	if len(curve) > 0 {
		summary.FinalVal = curve[len(curve)-1]
		summary.MeanVal, summary.StdVal = avgStd(curve)
		summary.MinVal = minFloat(curve)
	}
	if test != nil {
		loss := test.MeanLoss
		summary.TestLoss = &loss
	}
	return summary
}

// WriteRunSummary writes summary.json into the run's artifact directory.
func WriteRunSummary(runDir string, summary RunSummary) error {
	return writeJSON(filepath.Join(runDir, "summary.json"), summary)
}

// ReadRunSummary loads a run's summary.json if one was written.
func ReadRunSummary(baseDir, runID string) (RunSummary, bool, error) {
	path := filepath.Join(baseDir, runID, "summary.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RunSummary{}, false, nil
		}
		return RunSummary{}, false, err
	}
	var summary RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return RunSummary{}, false, err
	}
	return summary, true, nil
}

type aggregateRun struct {
	runID string
	curve []float64
}

// BuildCurveAggregates reads the listed runs' artifacts and groups
// their validation curves by dataset and kind, one aggregate per group.
func BuildCurveAggregates(baseDir string, runIDs []string) ([]CurveAggregate, error) {
	if len(runIDs) == 0 {
		return []CurveAggregate{}, nil
	}

	groups := make(map[string][]aggregateRun)
	for _, runID := range runIDs {
		run, ok, err := ReadRunRecord(baseDir, runID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("run record not found for run id: %s", runID)
		}
		history, ok, err := ReadLossHistory(baseDir, runID)
		if err != nil {
			return nil, err
		}
		if !ok {
			// Partial exports may only carry the CSV series.
			history, ok, err = ReadLossSeries(baseDir, runID)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("loss history not found for run id: %s", runID)
			}
		}
		key := run.Dataset + "\x00" + run.Kind
		groups[key] = append(groups[key], aggregateRun{runID: runID, curve: valCurve(history)})
	}

	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	aggregates := make([]CurveAggregate, 0, len(keys))
	for _, key := range keys {
		dataset, kind := splitGroupKey(key)
		aggregates = append(aggregates, buildAggregate(dataset, kind, groups[key]))
	}
	return aggregates, nil
}

// WriteCurveAggregates writes one plot-friendly text file per aggregate
// plus curve_summary.json listing every aggregate, and returns the text
// file paths.
func WriteCurveAggregates(outDir string, aggregates []CurveAggregate) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(aggregates))
	for _, agg := range aggregates {
		name := "curves_" + sanitizeToken(agg.Dataset) + "_" + sanitizeToken(agg.Kind) + ".txt"
		path := filepath.Join(outDir, name)
		if err := writeCurveFile(path, agg); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	if err := writeJSON(filepath.Join(outDir, "curve_summary.json"), aggregates); err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func buildAggregate(dataset, kind string, runs []aggregateRun) CurveAggregate {
	agg := CurveAggregate{Dataset: dataset, Kind: kind, Runs: len(runs)}

	maxEpochs := 0
	for _, run := range runs {
		if len(run.curve) > maxEpochs {
			maxEpochs = len(run.curve)
		}
	}
	for epoch := 0; epoch < maxEpochs; epoch++ {
		values := make([]float64, 0, len(runs))
		for _, run := range runs {
			if epoch < len(run.curve) {
				values = append(values, run.curve[epoch])
			}
		}
		mean, std := avgStd(values)
		agg.EpochIndex = append(agg.EpochIndex, epoch)
		agg.MeanVal = append(agg.MeanVal, mean)
		agg.StdVal = append(agg.StdVal, std)
		agg.MinVal = append(agg.MinVal, minOrZero(values))
		agg.MaxVal = append(agg.MaxVal, maxOrZero(values))
	}

	agg.Leader, agg.LeaderBest = pickLeader(runs)
	return agg
}

// pickLeader prefers a curve that dominates every other; with ragged or
// tied curves it falls back to the lowest single validation loss.
func pickLeader(runs []aggregateRun) (string, float64) {
	for _, candidate := range runs {
		dominates := len(runs) > 1
		for _, other := range runs {
			if other.runID == candidate.runID {
				continue
			}
			if !curveBetter(candidate.curve, other.curve) {
				dominates = false
				break
			}
		}
		if dominates {
			return candidate.runID, minFloat(candidate.curve)
		}
	}

	leader := ""
	best := 0.0
	for _, run := range runs {
		if len(run.curve) == 0 {
			continue
		}
		low := minFloat(run.curve)
		if leader == "" || low < best {
			leader = run.runID
			best = low
		}
	}
	return leader, best
}

// curveBetter reports whether curve a is at no epoch worse than b and
// strictly better somewhere. Curves of different lengths never compare.
func curveBetter(a, b []float64) bool {
	if b == nil || len(a) != len(b) || len(a) == 0 {
		return false
	}
	acc := 0.0
	for i := range a {
		if a[i] > b[i] {
			return false
		}
		acc += b[i] - a[i]
	}
	return acc > 0
}

func writeCurveFile(path string, agg CurveAggregate) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := fmt.Fprintf(file, "#Validation Loss Vs Epoch, Dataset:%s Kind:%s Runs:%d\n", agg.Dataset, agg.Kind, agg.Runs); err != nil {
		return err
	}
	if err := writeSeriesWithStd(file, agg.EpochIndex, agg.MeanVal, agg.StdVal); err != nil {
		return err
	}

	if _, err := fmt.Fprintf(file, "\n\n#Min Validation Loss Vs Epoch, Dataset:%s Kind:%s\n", agg.Dataset, agg.Kind); err != nil {
		return err
	}
	if err := writeSeries(file, agg.EpochIndex, agg.MinVal); err != nil {
		return err
	}

	if _, err := fmt.Fprintf(file, "\n\n#Max Validation Loss Vs Epoch, Dataset:%s Kind:%s\n", agg.Dataset, agg.Kind); err != nil {
		return err
	}
	return writeSeries(file, agg.EpochIndex, agg.MaxVal)
}

func writeSeriesWithStd(file *os.File, index []int, values, std []float64) error {
	length := minInt(len(index), minInt(len(values), len(std)))
	for i := 0; i < length; i++ {
		if _, err := fmt.Fprintf(file, "%d %g %g\n", index[i], values[i], std[i]); err != nil {
			return err
		}
	}
	return nil
}

func writeSeries(file *os.File, index []int, values []float64) error {
	length := minInt(len(index), len(values))
	for i := 0; i < length; i++ {
		if _, err := fmt.Fprintf(file, "%d %g\n", index[i], values[i]); err != nil {
			return err
		}
	}
	return nil
}

// valCurve extracts the per-epoch validation regression losses in epoch
// order.
func valCurve(history []model.LossPoint) []float64 {
	points := make([]model.LossPoint, 0, len(history))
	for _, point := range history {
		if point.Split == "val" && point.Name == "regression" {
			points = append(points, point)
		}
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Epoch < points[j].Epoch })

	curve := make([]float64, 0, len(points))
	for _, point := range points {
		curve = append(curve, point.Value)
	}
	return curve
}

func avgStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	mean := stat.Mean(values, nil)
	if len(values) < 2 {
		return mean, 0
	}
	return mean, stat.StdDev(values, nil)
}

func maxFloat(values []float64) float64 {
	max := values[0]
	for _, value := range values[1:] {
		if value > max {
			max = value
		}
	}
	return max
}

func minFloat(values []float64) float64 {
	min := values[0]
	for _, value := range values[1:] {
		if value < min {
			min = value
		}
	}
	return min
}

func maxOrZero(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return maxFloat(values)
}

func minOrZero(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return minFloat(values)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func splitGroupKey(key string) (string, string) {
	for i := 0; i < len(key); i++ {
		if key[i] == 0 {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}
