// Package validation enforces content constraints for direct contributions
// and for bulk imports.
//
// The two modes differ on purpose. Direct creation hard-rejects every
// violation, including optional field ceilings. Bulk import coerces an
// invalid content type to the pipeline default and fills a missing quality
// score with the pipeline's minimum threshold.
package validation

import (
	"fmt"
	"strconv"
	"strings"

	"bhasha/internal/importer"
	"bhasha/internal/language"
	"bhasha/internal/textutil"
)

const (
	MinTextLength = 10
	MaxTextLength = 10000
	MaxTokens     = 2000
	MinQuality    = 0
	MaxQuality    = 10

	// DefaultMaxErrors is the bulk-mode error cap.
	DefaultMaxErrors = 100
	// AbortSentinel terminates a bulk error log that exceeded the cap.
	AbortSentinel = "Validation aborted: too many errors"
)

// ContentTypes lists the accepted content classifications.
var ContentTypes = []string{"text", "proverb", "narrative"}

// Optional field ceilings, in characters.
var fieldLimits = []struct {
	name  string
	limit int
}{
	{"region", 100},
	{"category", 100},
	{"source", 200},
	{"dialect", 100},
	{"culturalContext", 1000},
}

// IsContentType reports whether value is one of ContentTypes.
func IsContentType(value string) bool {
	for _, ct := range ContentTypes {
		if ct == value {
			return true
		}
	}
	return false
}

// ContentInput is a direct content contribution.
type ContentInput struct {
	Text            string
	Language        string
	ContentType     string
	Region          string
	Category        string
	Source          string
	Dialect         string
	CulturalContext string
	QualityScore    *float64
}

func (in ContentInput) optional(name string) string {
	switch name {
	case "region":
		return in.Region
	case "category":
		return in.Category
	case "source":
		return in.Source
	case "dialect":
		return in.Dialect
	case "culturalContext":
		return in.CulturalContext
	}
	return ""
}

// Result collects every violation found in one record.
type Result struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// Error joins the violations into one message.
func (r Result) Error() string {
	return strings.Join(r.Errors, "; ")
}

// ValidateContent applies the direct-creation rules without short-circuiting.
func ValidateContent(in ContentInput) Result {
	var errs []string
	errs = append(errs, checkText(in.Text)...)
	errs = append(errs, checkLanguage(in.Language)...)

	switch {
	case strings.TrimSpace(in.ContentType) == "":
		errs = append(errs, "content type is required")
	case !IsContentType(in.ContentType):
		errs = append(errs, fmt.Sprintf("content type must be one of %s", strings.Join(ContentTypes, ", ")))
	}

	if in.QualityScore != nil {
		if q := *in.QualityScore; q < MinQuality || q > MaxQuality {
			errs = append(errs, "quality score must be between 0 and 10")
		}
	}

	for _, f := range fieldLimits {
		if n := textutil.CharLength(in.optional(f.name)); n > f.limit {
			errs = append(errs, fmt.Sprintf("%s cannot exceed %d characters", f.name, f.limit))
		}
	}
	return Result{Valid: len(errs) == 0, Errors: errs}
}

func checkText(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return []string{"text is required"}
	}
	var errs []string
	n := textutil.CharLength(trimmed)
	if n < MinTextLength {
		errs = append(errs, fmt.Sprintf("text must be at least %d characters", MinTextLength))
	}
	if n > MaxTextLength {
		errs = append(errs, fmt.Sprintf("text cannot exceed %d characters", MaxTextLength))
	}
	if tokens := textutil.EstimateTokens(trimmed); tokens > MaxTokens {
		errs = append(errs, fmt.Sprintf("estimated token count %d exceeds %d", tokens, MaxTokens))
	}
	return errs
}

func checkLanguage(value string) []string {
	if strings.TrimSpace(value) == "" {
		return []string{"language is required"}
	}
	if !language.IsSupported(value) {
		return []string{fmt.Sprintf("unsupported language %q", value)}
	}
	return nil
}

// BatchOptions configure bulk validation.
type BatchOptions struct {
	DefaultContentType string
	MinQuality         float64
	MaxErrors          int
}

// Candidate is a record that passed bulk validation, in canonical form.
type Candidate struct {
	Row             int
	Text            string
	Language        string
	ContentType     string
	QualityScore    float64
	Region          string
	Category        string
	Source          string
	Dialect         string
	CulturalContext string
}

// BatchResult is the bulk-mode output.
type BatchResult struct {
	Valid     []Candidate
	Errors    []string
	Processed int
	Aborted   bool
}

// ValidateBatch filters records, producing one error line per rejected row.
// Processing stops once more than MaxErrors errors have accumulated.
func ValidateBatch(records []importer.Record, opts BatchOptions) BatchResult {
	maxErrors := opts.MaxErrors
	if maxErrors <= 0 {
		maxErrors = DefaultMaxErrors
	}
	defaultType := opts.DefaultContentType
	if !IsContentType(defaultType) {
		defaultType = ContentTypes[0]
	}

	var out BatchResult
	for i, rec := range records {
		row := i + 1
		out.Processed = row

		var errs []string
		text := strings.TrimSpace(rec.String("text"))
		errs = append(errs, checkText(text)...)
		lang := rec.String("language")
		errs = append(errs, checkLanguage(lang)...)

		contentType := strings.ToLower(strings.TrimSpace(rec.String("contentType")))
		if !IsContentType(contentType) {
			contentType = defaultType
		}

		quality := opts.MinQuality
		if rec.Has("qualityScore") {
			q, err := parseQuality(rec["qualityScore"])
			if err != nil {
				errs = append(errs, err.Error())
			} else {
				quality = q
			}
		}

		if len(errs) > 0 {
			out.Errors = append(out.Errors, fmt.Sprintf("Row %d: %s", row, strings.Join(errs, "; ")))
			if len(out.Errors) > maxErrors {
				out.Errors = append(out.Errors, AbortSentinel)
				out.Aborted = true
				break
			}
			continue
		}

		canonical, _ := language.Parse(lang)
		out.Valid = append(out.Valid, Candidate{
			Row:             row,
			Text:            text,
			Language:        string(canonical),
			ContentType:     contentType,
			QualityScore:    quality,
			Region:          strings.TrimSpace(rec.String("region")),
			Category:        strings.TrimSpace(rec.String("category")),
			Source:          strings.TrimSpace(rec.String("source")),
			Dialect:         strings.TrimSpace(rec.String("dialect")),
			CulturalContext: strings.TrimSpace(rec.String("culturalContext")),
		})
	}
	return out
}

func parseQuality(value any) (float64, error) {
	var q float64
	switch v := value.(type) {
	case float64:
		q = v
	case int:
		q = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("quality score %q is not a number", v)
		}
		q = parsed
	default:
		return 0, fmt.Errorf("quality score %v is not a number", v)
	}
	if q < MinQuality || q > MaxQuality {
		return 0, fmt.Errorf("quality score %g must be between 0 and 10", q)
	}
	return q, nil
}
