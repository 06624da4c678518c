package dataset

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"

	"bhasha/internal/services"
	"bhasha/internal/store"
)

// Split holds partition ratios.
type Split struct {
	Train      float64 `json:"train" yaml:"train"`
	Validation float64 `json:"validation" yaml:"validation"`
	Test       float64 `json:"test" yaml:"test"`
}

// ExportSplit is the default ratio for dataset downloads.
var ExportSplit = Split{Train: 0.8, Validation: 0.1, Test: 0.1}

// SubmissionSplit is the default ratio for provider submission.
var SubmissionSplit = Split{Train: 0.9, Validation: 0.1, Test: 0}

// Validate checks every ratio lies in [0,1] and the sum does not exceed 1.
func (s Split) Validate() error {
	for name, v := range map[string]float64{"train": s.Train, "validation": s.Validation, "test": s.Test} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return services.Wrap(services.ErrValidation, "dataset", "split", fmt.Sprintf("%s ratio %.2f outside [0,1]", name, v), nil)
		}
	}
	if s.Train+s.Validation+s.Test > 1+1e-9 {
		return services.Wrap(services.ErrValidation, "dataset", "split", "split ratios sum to more than 1", nil)
	}
	return nil
}

// Shuffler permutes n elements. *rand.Rand from math/rand and math/rand/v2
// both satisfy it.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

type globalShuffler struct{}

func (globalShuffler) Shuffle(n int, swap func(i, j int)) { rand.Shuffle(n, swap) }

// ExportFormat is a download encoding.
type ExportFormat string

const (
	ExportJSONL ExportFormat = "jsonl"
	ExportJSON  ExportFormat = "json"
	ExportCSV   ExportFormat = "csv"
)

// ParseExportFormat validates a format name; empty means jsonl.
func ParseExportFormat(value string) (ExportFormat, error) {
	switch f := ExportFormat(strings.ToLower(strings.TrimSpace(value))); f {
	case "":
		return ExportJSONL, nil
	case ExportJSONL, ExportJSON, ExportCSV:
		return f, nil
	default:
		return "", services.Wrap(services.ErrValidation, "dataset", "export", fmt.Sprintf("unsupported export format %q", value), nil)
	}
}

// ExportOptions configures Export. A zero Split uses ExportSplit and a nil
// Shuffler uses the global random source.
type ExportOptions struct {
	Split    Split
	Shuffler Shuffler
}

// Partitions is a shuffled train/validation/test split of dataset members.
type Partitions struct {
	Train      []store.ContentItem `json:"train"`
	Validation []store.ContentItem `json:"validation"`
	Test       []store.ContentItem `json:"test"`
	Metadata   ExportMetadata      `json:"metadata"`
}

// ExportMetadata describes an export.
type ExportMetadata struct {
	DatasetName  string         `json:"datasetName"`
	Language     string         `json:"language"`
	TotalSamples int            `json:"totalSamples"`
	Splits       map[string]int `json:"splits"`
}

// Export loads a dataset's surviving members and partitions them.
func (b *Builder) Export(ctx context.Context, id string, opts ExportOptions) (*Partitions, error) {
	ds, err := b.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := b.store.GetContentByIDs(ctx, ds.EntryIDs)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "dataset", "export", "load entries", err)
	}
	return PartitionItems(ds, items, opts)
}

// PartitionItems shuffles items and cuts floor(n*train) training and
// floor(n*validation) validation entries; the remainder is the test set.
func PartitionItems(ds *store.Dataset, items []store.ContentItem, opts ExportOptions) (*Partitions, error) {
	split := opts.Split
	if split == (Split{}) {
		split = ExportSplit
	}
	if err := split.Validate(); err != nil {
		return nil, err
	}
	shuffler := opts.Shuffler
	if shuffler == nil {
		shuffler = globalShuffler{}
	}

	shuffled := append([]store.ContentItem(nil), items...)
	shuffler.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	n := len(shuffled)
	trainN := int(math.Floor(float64(n) * split.Train))
	valN := int(math.Floor(float64(n) * split.Validation))
	if trainN+valN > n {
		valN = n - trainN
	}
	p := &Partitions{
		Train:      shuffled[:trainN],
		Validation: shuffled[trainN : trainN+valN],
		Test:       shuffled[trainN+valN:],
	}
	p.Metadata = ExportMetadata{
		DatasetName:  ds.Name,
		Language:     ds.Language,
		TotalSamples: n,
		Splits: map[string]int{
			"train":      len(p.Train),
			"validation": len(p.Validation),
			"test":       len(p.Test),
		},
	}
	return p, nil
}

// ExportRecord is the flat per-item shape used by JSONL and CSV exports and
// by custom provider submissions.
type ExportRecord struct {
	Split        string  `json:"split,omitempty"`
	Text         string  `json:"text"`
	Language     string  `json:"language"`
	ContentType  string  `json:"contentType"`
	Region       string  `json:"region,omitempty"`
	Category     string  `json:"category,omitempty"`
	QualityScore float64 `json:"qualityScore"`
}

// ExportRecords flattens items, tagging each with split.
func ExportRecords(split string, items []store.ContentItem) []ExportRecord {
	out := make([]ExportRecord, 0, len(items))
	for _, item := range items {
		out = append(out, ExportRecord{
			Split:        split,
			Text:         item.Text,
			Language:     item.Language,
			ContentType:  item.ContentType,
			Region:       item.Region,
			Category:     item.Category,
			QualityScore: item.QualityScore,
		})
	}
	return out
}

func (p *Partitions) records() []ExportRecord {
	out := ExportRecords("train", p.Train)
	out = append(out, ExportRecords("validation", p.Validation)...)
	return append(out, ExportRecords("test", p.Test)...)
}

// Encode renders the partitions in format. JSONL and CSV carry a split column
// per record; JSON keeps the partitions and metadata as one document.
func (p *Partitions) Encode(format ExportFormat) ([]byte, error) {
	if format == ExportJSON {
		return json.MarshalIndent(p, "", "  ")
	}
	return EncodeRecords(p.records(), format)
}

// EncodeRecords renders records as JSONL lines, CSV rows or a JSON array.
func EncodeRecords(records []ExportRecord, format ExportFormat) ([]byte, error) {
	switch format {
	case ExportJSON:
		if records == nil {
			records = []ExportRecord{}
		}
		return json.Marshal(records)
	case ExportJSONL, "":
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		for _, rec := range records {
			if err := enc.Encode(rec); err != nil {
				return nil, err
			}
		}
		return buf.Bytes(), nil
	case ExportCSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		_ = w.Write([]string{"split", "text", "language", "content_type", "region", "category", "quality_score"})
		for _, rec := range records {
			_ = w.Write([]string{
				rec.Split, rec.Text, rec.Language, rec.ContentType, rec.Region, rec.Category,
				strconv.FormatFloat(rec.QualityScore, 'f', -1, 64),
			})
		}
		w.Flush()
		return buf.Bytes(), w.Error()
	default:
		return nil, services.Wrap(services.ErrValidation, "dataset", "export", fmt.Sprintf("unsupported export format %q", format), nil)
	}
}
