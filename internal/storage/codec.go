package storage

import (
	"encoding/json"
	"errors"

	"metacount/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

func EncodeCheckpoint(c model.Checkpoint) ([]byte, error) {
	return json.Marshal(c)
}

func DecodeCheckpoint(data []byte) (model.Checkpoint, error) {
	var checkpoint model.Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return model.Checkpoint{}, err
	}
	if err := checkVersion(checkpoint.VersionedRecord); err != nil {
		return model.Checkpoint{}, err
	}
	return checkpoint, nil
}

func EncodeRun(r model.RunRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

func EncodeEvalReport(r model.EvalReport) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeEvalReport(data []byte) (model.EvalReport, error) {
	var report model.EvalReport
	if err := json.Unmarshal(data, &report); err != nil {
		return model.EvalReport{}, err
	}
	if err := checkVersion(report.VersionedRecord); err != nil {
		return model.EvalReport{}, err
	}
	return report, nil
}

func EncodeLossHistory(history []model.LossPoint) ([]byte, error) {
	return json.Marshal(history)
}

func DecodeLossHistory(data []byte) ([]model.LossPoint, error) {
	var history []model.LossPoint
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}

// Stamp returns the current schema and codec versions for new records.
func Stamp() model.VersionedRecord {
	return model.VersionedRecord{
		SchemaVersion: CurrentSchemaVersion,
		CodecVersion:  CurrentCodecVersion,
	}
}
