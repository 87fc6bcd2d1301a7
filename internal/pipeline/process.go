package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"addrclean/internal"
	"addrclean/internal/config"
	"addrclean/internal/storage"
)

// ProcessingService runs one file end to end: load, resolve mapping, normalize,
// export and audit.
type ProcessingService struct {
	db         *storage.DB
	cfg        config.Config
	normalizer Normalizer
	logger     *zap.Logger
}

// NewProcessingService takes a nil db when runs should not be audited.
func NewProcessingService(db *storage.DB, cfg config.Config, normalizer Normalizer, logger *zap.Logger) *ProcessingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProcessingService{db: db, cfg: cfg, normalizer: normalizer, logger: logger}
}

type CleanResult struct {
	RunID      string
	OutputPath string
	Status     internal.RunStatus
	Stats      internal.RunStats
	Failures   []internal.BatchFailure
}

// Clean returns an error only for fatal problems, in which case no output file
// is written. Batch failures are reported in the result.
func (s *ProcessingService) Clean(ctx context.Context, inputPath, mappingPath, outputPath string) (CleanResult, error) {
	started := time.Now()
	runID := uuid.NewString()
	logger := s.logger.With(zap.String("run_id", runID), zap.String("input", inputPath))

	ds, err := LoadDataset(inputPath)
	if err != nil {
		return CleanResult{}, err
	}
	loaded := time.Now()
	logger.Info("dataset loaded", zap.Int("rows", len(ds.Rows)), zap.Int("columns", len(ds.Columns)))

	file, err := LoadMappingFile(mappingPath)
	if err != nil {
		return CleanResult{}, err
	}
	mapping, err := file.Resolve(ds)
	if err != nil {
		return CleanResult{}, err
	}

	engine := NewEngine(s.normalizer, EngineOptionsFromConfig(s.cfg), logger)
	res, err := engine.Run(ctx, internal.RunContext{Dataset: ds, Mapping: mapping})
	if err != nil {
		return CleanResult{}, err
	}
	normalized := time.Now()

	if outputPath == "" {
		outputPath = OutputPath(inputPath, s.cfg.OutputDir)
	}
	if err := ExportTable(res.Table, outputPath); err != nil {
		return CleanResult{}, err
	}
	finished := time.Now()

	out := CleanResult{
		RunID:      runID,
		OutputPath: outputPath,
		Status:     runStatus(res),
		Stats:      res.Stats,
		Failures:   res.Failures,
	}

	logger.Info("run finished",
		zap.String("status", string(out.Status)),
		zap.String("output", outputPath),
		zap.Int("records", res.Stats.RecordsExtracted),
		zap.Int("normalized", res.Stats.RecordsNormalized),
		zap.Int("failed_batches", res.Stats.FailedBatches),
		zap.Duration("elapsed", finished.Sub(started)))

	if s.db != nil {
		run := internal.RunRecord{
			ID:         runID,
			InputPath:  inputPath,
			OutputPath: outputPath,
			StartedAt:  started,
			FinishedAt: finished,
			Status:     out.Status,
			Counts: map[string]int{
				"rows":          len(ds.Rows),
				"respondents":   res.Stats.Slots,
				"extracted":     res.Stats.RecordsExtracted,
				"normalized":    res.Stats.RecordsNormalized,
				"batches":       res.Stats.Batches,
				"failedBatches": res.Stats.FailedBatches,
			},
			Timings: map[string]int64{
				"loadMs":      loaded.Sub(started).Milliseconds(),
				"normalizeMs": normalized.Sub(loaded).Milliseconds(),
				"exportMs":    finished.Sub(normalized).Milliseconds(),
				"totalMs":     finished.Sub(started).Milliseconds(),
			},
		}
		if err := s.db.InsertRun(run, failureRecords(runID, res.Failures)); err != nil {
			logger.Warn("run audit not recorded", zap.Error(err))
		}
	}

	return out, nil
}

func runStatus(res *Result) internal.RunStatus {
	switch {
	case res.Cancelled:
		return internal.RunCancelled
	case len(res.Failures) > 0:
		return internal.RunPartial
	default:
		return internal.RunOK
	}
}

func failureRecords(runID string, failures []internal.BatchFailure) []internal.FailureRecord {
	out := make([]internal.FailureRecord, 0, len(failures))
	for _, f := range failures {
		out = append(out, internal.FailureRecord{
			RunID:      runID,
			Slot:       f.Slot,
			BatchIndex: f.BatchIndex,
			FirstRowID: f.FirstRowID,
			LastRowID:  f.LastRowID,
			Records:    f.Records,
			Kind:       internal.FailureKind(f.Cause),
			Message:    f.Cause.Error(),
		})
	}
	return out
}
