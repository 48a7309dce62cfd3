// Package stats writes per-run artifact directories: the run record,
// loss history, evaluation reports, and CSV series, plus an index of
// every run under a base directory. It also aggregates loss curves
// across runs for side-by-side comparison.
package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"metacount/internal/model"
)

const runIndexFile = "run_index.json"

// RunArtifacts bundles everything a finished run leaves behind. Val and
// Test are nil when the run stopped before producing them.
type RunArtifacts struct {
	Run     model.RunRecord
	History []model.LossPoint
	Val     *model.EvalReport
	Test    *model.EvalReport
}

// RunIndexEntry is one row of the base directory's run index.
type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	Kind         string  `json:"kind"`
	Dataset      string  `json:"dataset"`
	Epochs       int     `json:"epochs"`
	BestEpoch    int     `json:"best_epoch"`
	BestLoss     float64 `json:"best_loss"`
	StopReason   string  `json:"stop_reason"`
	CreatedAtUTC string  `json:"created_at_utc"`
}

// WriteRunArtifacts lays out one run's directory under baseDir:
// config.json (the full run record), loss_history.json, loss_series.csv,
// eval_val.json and eval_test.json when present, and a JSON-lines
// diagnostics dump of the test report's per-row losses.
func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Run.ID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Run.ID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Run); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "loss_history.json"), artifacts.History); err != nil {
		return "", err
	}
	if err := WriteLossSeries(runDir, artifacts.History); err != nil {
		return "", err
	}
	if artifacts.Val != nil {
		if err := writeJSON(filepath.Join(runDir, "eval_val.json"), artifacts.Val); err != nil {
			return "", err
		}
	}
	if artifacts.Test != nil {
		if err := writeJSON(filepath.Join(runDir, "eval_test.json"), artifacts.Test); err != nil {
			return "", err
		}
		if err := WriteEvalDiagnostics(filepath.Join(runDir, "test_diagnostics.jsonl"), *artifacts.Test); err != nil {
			return "", err
		}
	}

	return runDir, nil
}

// AppendRunIndex inserts or replaces the entry for its run id and
// rewrites the index file.
func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns every indexed run, newest first. A missing index
// file is an empty index, not an error.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// ExportRun copies a run's artifact files into outDir/<runID>. The run
// record, history, and CSV series must exist; evaluation reports,
// diagnostics, and summaries are copied only when present.
func ExportRun(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{"config.json", "loss_history.json", "loss_series.csv"} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	optional := []string{"eval_val.json", "eval_test.json", "test_diagnostics.jsonl", "summary.json"}
	for _, file := range optional {
		path := filepath.Join(src, file)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", err
		}
		if err := copyFile(path, filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}

	return dst, nil
}

// ReadRunRecord loads the config.json written for a run.
func ReadRunRecord(baseDir, runID string) (model.RunRecord, bool, error) {
	path := filepath.Join(baseDir, runID, "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.RunRecord{}, false, nil
		}
		return model.RunRecord{}, false, err
	}

	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, false, err
	}
	return run, true, nil
}

// ReadLossHistory loads the loss_history.json written for a run.
func ReadLossHistory(baseDir, runID string) ([]model.LossPoint, bool, error) {
	path := filepath.Join(baseDir, runID, "loss_history.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var history []model.LossPoint
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, false, err
	}
	return history, true, nil
}

// WriteLossSeries writes the history as loss_series.csv with one row
// per observation: epoch, step, split, name, value.
func WriteLossSeries(runDir string, history []model.LossPoint) error {
	path := filepath.Join(runDir, "loss_series.csv")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"epoch", "step", "split", "name", "value"}); err != nil {
		return err
	}
	for _, point := range history {
		if err := writer.Write([]string{
			strconv.Itoa(point.Epoch),
			strconv.Itoa(point.Step),
			point.Split,
			point.Name,
			strconv.FormatFloat(point.Value, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadLossSeries loads loss_series.csv back into loss points.
func ReadLossSeries(baseDir, runID string) ([]model.LossPoint, bool, error) {
	path := filepath.Join(baseDir, runID, "loss_series.csv")
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []model.LossPoint{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 5 {
		return nil, false, fmt.Errorf("loss series header must have at least 5 columns")
	}

	history := make([]model.LossPoint, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 5 {
			return nil, false, fmt.Errorf("loss series row must have at least 5 columns")
		}
		epoch, err := strconv.Atoi(record[0])
		if err != nil {
			return nil, false, err
		}
		step, err := strconv.Atoi(record[1])
		if err != nil {
			return nil, false, err
		}
		value, err := strconv.ParseFloat(record[4], 64)
		if err != nil {
			return nil, false, err
		}
		history = append(history, model.LossPoint{
			Epoch: epoch,
			Step:  step,
			Split: record[2],
			Name:  record[3],
			Value: value,
		})
	}
	return history, true, nil
}

// WriteEvalDiagnostics dumps a report's per-row targets and losses as
// JSON lines, one object per diagnostic row.
func WriteEvalDiagnostics(path string, report model.EvalReport) error {
	if path == "" {
		return fmt.Errorf("output path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	type diagnosticRow struct {
		Row    int     `json:"row"`
		Target float64 `json:"target"`
		Loss   float64 `json:"loss"`
	}
	for i := range report.NodeLosses {
		row := diagnosticRow{Row: i, Loss: report.NodeLosses[i]}
		if i < len(report.Targets) {
			row.Target = report.Targets[i]
		}
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		if _, err := file.Write(data); err != nil {
			return err
		}
		if _, err := file.Write([]byte("\n")); err != nil {
			return err
		}
	}
	return nil
}

// WriteEvalSnapshot stores a standalone evaluation next to the run's
// training artifacts, named after the dataset and split so repeated
// evaluations never clobber the reports written during training.
func WriteEvalSnapshot(baseDir string, report model.EvalReport) (string, error) {
	if report.RunID == "" {
		return "", fmt.Errorf("eval report carries no run id")
	}
	runDir := filepath.Join(baseDir, report.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("eval_%s_%s.json", sanitizeToken(report.Dataset), sanitizeToken(report.Split))
	path := filepath.Join(runDir, name)
	if err := writeJSON(path, report); err != nil {
		return "", err
	}
	return path, nil
}

// IndexEntryFromRun derives the index row for a finished run.
func IndexEntryFromRun(run model.RunRecord) RunIndexEntry {
	return RunIndexEntry{
		RunID:        run.ID,
		Kind:         run.Kind,
		Dataset:      run.Dataset,
		Epochs:       run.Epochs,
		BestEpoch:    run.BestEpoch,
		BestLoss:     run.BestLoss,
		StopReason:   run.StopReason,
		CreatedAtUTC: run.FinishedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
	}
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

func sanitizeToken(value string) string {
	var b strings.Builder
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	token := strings.Trim(b.String(), "_")
	if token == "" {
		return "unknown"
	}
	return token
}
