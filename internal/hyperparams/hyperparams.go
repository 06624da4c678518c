// Package hyperparams derives a fine-tuning configuration from dataset size
// and the shape of its token distribution.
package hyperparams

import (
	"fmt"
	"math"

	"bhasha/internal/tokenstats"
)

const (
	// DefaultCostPer1KTokens is the training price used for cost estimates (USD).
	DefaultCostPer1KTokens = 0.008
	// LegacyAvgTokens stands in for datasets recorded without token statistics.
	LegacyAvgTokens = 100

	maxScaledRank = 32
	minBatchSize  = 4
)

// Params are the training hyperparameters handed to a provider.
type Params struct {
	LearningRate float64 `json:"learningRate" yaml:"learning_rate"`
	BatchSize    int     `json:"batchSize" yaml:"batch_size"`
	Epochs       int     `json:"epochs" yaml:"epochs"`
	LoraRank     int     `json:"loraRank" yaml:"lora_rank"`
	LoraAlpha    int     `json:"loraAlpha" yaml:"lora_alpha"`
}

// Validate checks that every parameter is usable by a provider.
func (p Params) Validate() error {
	switch {
	case p.LearningRate <= 0:
		return fmt.Errorf("learning rate must be positive")
	case p.BatchSize <= 0:
		return fmt.Errorf("batch size must be positive")
	case p.Epochs <= 0:
		return fmt.Errorf("epochs must be positive")
	case p.LoraRank <= 0 || p.LoraAlpha <= 0:
		return fmt.Errorf("lora rank and alpha must be positive")
	}
	return nil
}

// Input describes a dataset for recommendation. Distribution is nil when only
// a legacy average token figure is known.
type Input struct {
	DatasetSize     int
	Distribution    *tokenstats.Distribution
	AvgTokens       float64
	CostPer1KTokens float64
}

// Reasoning explains each parameter decision using the inputs that drove it.
type Reasoning struct {
	LearningRate string `json:"learningRate"`
	BatchSize    string `json:"batchSize"`
	Epochs       string `json:"epochs"`
	Lora         string `json:"lora"`
	Cost         string `json:"cost"`
}

// Recommendation is the full recommender output.
type Recommendation struct {
	Params           Params    `json:"parameters"`
	Reasoning        Reasoning `json:"reasoning"`
	EstimatedCost    float64   `json:"estimatedCost"`
	EstimatedMinutes int       `json:"estimatedTimeMinutes"`
	Confidence       float64   `json:"confidence"`
	AvgTokens        float64   `json:"avgTokens"`
}

// Recommend is a pure function of its input.
func Recommend(in Input) Recommendation {
	size := in.DatasetSize
	avg, stdDev, maxTokens := shape(in)
	cv := 0.0
	if avg > 0 {
		cv = stdDev / avg
	}

	var rec Recommendation
	rec.AvgTokens = avg

	lr := learningRate(size)
	rec.Params.LearningRate = lr
	rec.Reasoning.LearningRate = fmt.Sprintf("Dataset size %d selects learning rate %g; larger corpora use smaller steps for stable convergence.", size, lr)

	batch := baseBatchSize(size)
	highVariance := stdDev > 0.5*avg
	longSequences := maxTokens > 500
	if highVariance || longSequences {
		halved := batch / 2
		if halved < minBatchSize {
			halved = minBatchSize
		}
		reason := fmt.Sprintf("stdDev/avg ratio %.2f exceeds 0.5", cv)
		if !highVariance {
			reason = fmt.Sprintf("longest sample has %d tokens (over 500)", maxTokens)
		}
		rec.Reasoning.BatchSize = fmt.Sprintf("Base batch size %d for %d samples halved to %d because %s.", batch, size, halved, reason)
		batch = halved
	} else {
		rec.Reasoning.BatchSize = fmt.Sprintf("Batch size %d for %d samples; token lengths are uniform (stdDev/avg %.2f, max %d).", batch, size, cv, maxTokens)
	}
	rec.Params.BatchSize = batch

	epochs := epochsFor(avg)
	rec.Params.Epochs = epochs
	rec.Reasoning.Epochs = fmt.Sprintf("%d epochs for average token length %.0f; longer samples carry more signal per pass.", epochs, avg)

	rank := baseRank(size)
	loraNotes := fmt.Sprintf("base rank %d for %d samples", rank, size)
	if cv > 0.5 {
		rank, loraNotes = adjustRank(rank, 2, loraNotes, fmt.Sprintf("coefficient of variation %.2f", cv))
	}
	if maxTokens > 500 {
		rank, loraNotes = adjustRank(rank, 1.5, loraNotes, fmt.Sprintf("%d-token max length", maxTokens))
	}
	alpha := rank * 2
	alphaNote := "alpha = 2x rank"
	if size < 500 {
		alpha = rank * 4
		alphaNote = "alpha = 4x rank for a corpus under 500 samples"
	}
	rec.Params.LoraRank = rank
	rec.Params.LoraAlpha = alpha
	rec.Reasoning.Lora = fmt.Sprintf("LoRA rank %d and alpha %d: %s; %s.", rank, alpha, loraNotes, alphaNote)

	price := in.CostPer1KTokens
	if price <= 0 {
		price = DefaultCostPer1KTokens
	}
	rec.EstimatedCost = EstimateCost(size, avg, epochs, price)
	rec.EstimatedMinutes = EstimateMinutes(size, avg, epochs)
	rec.Reasoning.Cost = fmt.Sprintf("%d samples x %.0f tokens x %d epochs at $%g per 1K tokens = $%.2f, about %d minutes.", size, avg, epochs, price, rec.EstimatedCost, rec.EstimatedMinutes)

	rec.Confidence = 0.85
	if in.Distribution != nil && !in.Distribution.Empty() {
		rec.Confidence = 0.90
	}
	return rec
}

// EstimateCost returns the training cost in USD rounded to cents.
func EstimateCost(size int, avgTokens float64, epochs int, pricePer1K float64) float64 {
	total := float64(size) * avgTokens * float64(epochs)
	return math.Round(total/1000*pricePer1K*100) / 100
}

// EstimateMinutes returns the expected training duration.
func EstimateMinutes(size int, avgTokens float64, epochs int) int {
	mult := 1.0
	switch {
	case avgTokens > 200:
		mult = 1.5
	case avgTokens > 100:
		mult = 1.2
	}
	return int(math.Ceil(float64(size) * float64(epochs) / 1000 * 60 * mult))
}

func shape(in Input) (avg, stdDev float64, maxTokens int) {
	if in.Distribution != nil && !in.Distribution.Empty() {
		return in.Distribution.Avg, in.Distribution.StdDev, in.Distribution.Max
	}
	avg = in.AvgTokens
	if avg <= 0 {
		avg = LegacyAvgTokens
	}
	return avg, 0, 0
}

func learningRate(size int) float64 {
	switch {
	case size < 1000:
		return 5e-5
	case size < 5000:
		return 3e-5
	case size < 10000:
		return 2e-5
	default:
		return 1e-5
	}
}

func baseBatchSize(size int) int {
	switch {
	case size < 1000:
		return 8
	case size < 5000:
		return 16
	case size < 10000:
		return 32
	default:
		return 64
	}
}

func epochsFor(avg float64) int {
	switch {
	case avg < 50:
		return 5
	case avg < 100:
		return 4
	case avg < 200:
		return 3
	default:
		return 2
	}
}

func baseRank(size int) int {
	switch {
	case size < 500:
		return 4
	case size < 2000:
		return 8
	case size < 5000:
		return 16
	case size < 10000:
		return 32
	default:
		return 64
	}
}

// scaleRank multiplies rank by factor, capped at 32. The cap applies to the
// result, so a base rank of 64 comes out as 32.
func scaleRank(rank int, factor float64) int {
	return min(maxScaledRank, int(math.Floor(float64(rank)*factor)))
}

// adjustRank applies scaleRank and appends a note only when the rank moved.
func adjustRank(rank int, factor float64, notes, cause string) (int, string) {
	scaled := scaleRank(rank, factor)
	switch {
	case scaled > rank:
		notes += fmt.Sprintf(", scaled x%g to %d for %s", factor, scaled, cause)
	case scaled < rank:
		notes += fmt.Sprintf(", capped at %d for %s", scaled, cause)
	}
	return scaled, notes
}
