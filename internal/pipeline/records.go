package pipeline

import (
	"strings"

	"bhasha/internal/importer"
	"bhasha/internal/language"
	"bhasha/internal/store"
	"bhasha/internal/textutil"
	"bhasha/internal/validation"
)

// Normalize turns a raw payload into canonical records: it parses the
// payload, applies the field mapping, collapses whitespace in text and fills
// a missing language from the configured default or the text's script.
// The result depends only on its inputs, so every step can rebuild it.
func Normalize(ext *store.ExternalDataset, cfg store.PipelineConfig) ([]importer.Record, importer.Format, error) {
	format, err := importer.ParseFormat(cfg.Format)
	if err != nil {
		return nil, importer.FormatUnknown, err
	}
	if format == "" {
		format, _ = importer.ParseFormat(ext.Format)
	}
	raw, format, err := importer.Parse(ext.RawData, format)
	if err != nil {
		return nil, format, err
	}
	out := make([]importer.Record, 0, len(raw))
	for _, rec := range raw {
		if len(cfg.FieldMappings) > 0 {
			rec = importer.ApplyFieldMapping(rec, importer.FieldMapping(cfg.FieldMappings))
		}
		if text, ok := rec["text"].(string); ok {
			rec["text"] = textutil.NormalizeText(text)
		}
		if strings.TrimSpace(rec.String("language")) == "" {
			if lang := fillLanguage(rec.String("text"), cfg); lang != "" {
				rec["language"] = lang
			}
		}
		out = append(out, rec)
	}
	return out, format, nil
}

func fillLanguage(text string, cfg store.PipelineConfig) string {
	if cfg.AutoDetectLanguage {
		if lang, ok := language.DetectScript(text); ok {
			return string(lang)
		}
	}
	return cfg.DefaultLanguage
}

func (s *Service) validate(records []importer.Record, cfg store.PipelineConfig) validation.BatchResult {
	return validation.ValidateBatch(records, validation.BatchOptions{
		DefaultContentType: cfg.DefaultContentType,
		MinQuality:         cfg.MinQualityThreshold,
		MaxErrors:          s.maxErrors,
	})
}

func (s *Service) contentItem(p *store.Pipeline, c validation.Candidate) *store.ContentItem {
	source := c.Source
	if source == "" {
		source = s.sourceTag
	}
	status, _ := store.ParseContentStatus(p.Config.DefaultStatus)
	return &store.ContentItem{
		UserID:          p.UserID,
		Text:            c.Text,
		Language:        c.Language,
		ContentType:     c.ContentType,
		Region:          c.Region,
		Category:        c.Category,
		Source:          source,
		Dialect:         c.Dialect,
		CulturalContext: c.CulturalContext,
		Status:          status,
		QualityScore:    c.QualityScore,
	}
}
