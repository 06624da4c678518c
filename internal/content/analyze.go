package content

import (
	"context"
	"encoding/json"
	"log/slog"

	"bhasha/internal/logging"
	"bhasha/internal/quality"
	"bhasha/internal/queue"
	"bhasha/internal/services"
	"bhasha/internal/store"
	"bhasha/internal/workflow"
)

// AnalyzeHandler runs TaskAnalyze tasks.
type AnalyzeHandler struct {
	store    *store.Store
	analyzer quality.Analyzer
	logger   *slog.Logger
}

// NewAnalyzeHandler constructs the handler. A nil analyzer scores neutrally.
func NewAnalyzeHandler(st *store.Store, analyzer quality.Analyzer, logger *slog.Logger) *AnalyzeHandler {
	if analyzer == nil {
		analyzer = quality.Neutral{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &AnalyzeHandler{store: st, analyzer: analyzer, logger: logger.With(logging.String(logging.FieldComponent, "quality"))}
}

// Handle scores one content item. Analyzer failures record the neutral score
// instead of failing the task.
func (h *AnalyzeHandler) Handle(ctx context.Context, task *queue.Task) error {
	var payload AnalyzePayload
	if err := task.Decode(&payload); err != nil {
		return services.Wrap(services.ErrValidation, "quality", "decode", "invalid analyze payload", err)
	}
	logger := logging.WithContext(ctx, h.logger).With(logging.String(logging.FieldContentID, payload.ContentID))

	item, err := h.store.GetContent(ctx, payload.ContentID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "quality", "load", "load content", err)
	}
	if item == nil {
		logger.Info("content removed before analysis; skipping")
		return nil
	}

	result, err := h.analyzer.Analyze(ctx, quality.Request{
		Text:            item.Text,
		Language:        item.Language,
		ContentType:     item.ContentType,
		CulturalContext: item.CulturalContext,
	})
	if err != nil {
		logging.WarnWithContext(logger, "quality analysis failed; recording neutral score", "quality_fallback",
			append(logging.ErrorAttrs(err),
				logging.String(logging.FieldImpact, "content scored neutrally until re-analyzed"))...,
		)
		result = quality.Result{Score: quality.NeutralScore}
	}

	var raw []byte
	if result.Analysis != nil {
		if raw, err = json.Marshal(result.Analysis); err != nil {
			return services.Wrap(services.ErrValidation, "quality", "encode", "encode analysis", err)
		}
	}
	if err := h.store.SetContentQuality(ctx, item.ID, result.Score, raw); err != nil {
		return services.Wrap(services.ErrTransient, "quality", "persist", "store quality score", err)
	}
	logger.Info("content scored",
		logging.Float64("quality_score", result.Score),
		logging.String(logging.FieldEventType, "quality_scored"),
	)
	return nil
}

// HealthCheck reports which analyzer backs the handler.
func (h *AnalyzeHandler) HealthCheck(context.Context) workflow.StageHealth {
	if _, neutral := h.analyzer.(quality.Neutral); neutral {
		return workflow.UnhealthyStage(TaskAnalyze, "quality analysis disabled; neutral scores recorded")
	}
	return workflow.HealthyStage(TaskAnalyze)
}
