package quality

import "fmt"

// Thresholds bound an acceptable caption.
type Thresholds struct {
	MaxWER       float64 `json:"max_wer"`
	MaxLatencyMs float64 `json:"max_latency_ms"`
	MinAccuracy  float64 `json:"min_accuracy"`
}

// DefaultThresholds returns the analyzer defaults used when no profile applies.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MaxWER:       0.05,
		MaxLatencyMs: 2000,
		MinAccuracy:  0.95,
	}
}

// Metrics is the immutable quality record for one reference/hypothesis pair.
type Metrics struct {
	WER         float64  `json:"wer"`
	CER         float64  `json:"cer"`
	Accuracy    float64  `json:"accuracy"`
	Readability float64  `json:"readability"`
	LatencyMs   float64  `json:"latency_ms"`
	Passed      bool     `json:"passed"`
	Issues      []string `json:"issues"`
}

// WorstCase returns the metrics recorded when no transcript could be scored.
func WorstCase(issue string) Metrics {
	return Metrics{
		WER:      1.0,
		CER:      1.0,
		Accuracy: 0.0,
		Passed:   false,
		Issues:   []string{issue},
	}
}

// Analyze scores hypothesis against reference and checks the result against t.
// Each violated threshold adds an issue; Passed is true iff there are none.
func Analyze(reference, hypothesis string, latencyMs float64, t Thresholds) (Metrics, error) {
	wer, err := WordErrorRate(reference, hypothesis)
	if err != nil {
		return Metrics{}, err
	}
	cer, err := CharErrorRate(reference, hypothesis)
	if err != nil {
		return Metrics{}, err
	}

	m := Metrics{
		WER:         wer,
		CER:         cer,
		Accuracy:    1 - wer,
		Readability: Readability(hypothesis),
		LatencyMs:   latencyMs,
		Issues:      []string{},
	}

	if m.WER > t.MaxWER {
		m.Issues = append(m.Issues, fmt.Sprintf("WER %.4f exceeds threshold %v", m.WER, t.MaxWER))
	}
	if m.LatencyMs > t.MaxLatencyMs {
		m.Issues = append(m.Issues, fmt.Sprintf("Latency %.2fms exceeds threshold %vms", m.LatencyMs, t.MaxLatencyMs))
	}
	if m.Accuracy < t.MinAccuracy {
		m.Issues = append(m.Issues, fmt.Sprintf("Accuracy %.4f below threshold %v", m.Accuracy, t.MinAccuracy))
	}
	m.Passed = len(m.Issues) == 0

	return m, nil
}

// Sample is one input to BatchAnalyze.
type Sample struct {
	Reference  string
	Hypothesis string
	LatencyMs  float64
}

// Summary aggregates a batch.
type Summary struct {
	Total         int     `json:"total"`
	Passed        int     `json:"passed"`
	Failed        int     `json:"failed"`
	PassRate      float64 `json:"pass_rate"`
	MeanWER       float64 `json:"mean_wer"`
	MeanLatencyMs float64 `json:"mean_latency_ms"`
	MeanAccuracy  float64 `json:"mean_accuracy"`
}

// Batch holds per-sample metrics in input order plus their summary.
type Batch struct {
	Results []Metrics `json:"results"`
	Summary Summary   `json:"summary"`
}

// BatchAnalyze runs Analyze over samples. The first malformed sample aborts the batch.
func BatchAnalyze(samples []Sample, t Thresholds) (Batch, error) {
	batch := Batch{Results: make([]Metrics, 0, len(samples))}

	var werSum, latencySum, accuracySum float64
	for i, s := range samples {
		m, err := Analyze(s.Reference, s.Hypothesis, s.LatencyMs, t)
		if err != nil {
			return Batch{}, fmt.Errorf("sample %d: %w", i, err)
		}
		batch.Results = append(batch.Results, m)

		werSum += m.WER
		latencySum += m.LatencyMs
		accuracySum += m.Accuracy
		if m.Passed {
			batch.Summary.Passed++
		}
	}

	n := len(batch.Results)
	batch.Summary.Total = n
	batch.Summary.Failed = n - batch.Summary.Passed
	if n > 0 {
		batch.Summary.PassRate = float64(batch.Summary.Passed) / float64(n)
		batch.Summary.MeanWER = werSum / float64(n)
		batch.Summary.MeanLatencyMs = latencySum / float64(n)
		batch.Summary.MeanAccuracy = accuracySum / float64(n)
	}

	return batch, nil
}
