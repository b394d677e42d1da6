package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"

	"iara/internal/services"
)

// ClassifyOptions configures one classification.
type ClassifyOptions struct {
	Threshold float64
	Method    string
	// StemHint names the stem the input came from, if any.
	StemHint string
}

// Detection is one instrument found in the input.
type Detection struct {
	Instrument  string  `json:"instrument"`
	Confidence  float64 `json:"confidence"`
	Subcategory string  `json:"subcategory,omitempty"`
}

// Classification lists detections at or above the threshold, most confident
// first.
type Classification struct {
	Method            string             `json:"method"`
	Threshold         float64            `json:"confidence_threshold"`
	Detected          []Detection        `json:"detected_instruments"`
	OverallConfidence float64            `json:"overall_confidence"`
	Scores            map[string]float64 `json:"instrument_scores,omitempty"`
}

// Classifier identifies instruments.
type Classifier interface {
	Classify(ctx context.Context, path string, opts ClassifyOptions) (Classification, error)
}

// ExecClassifier runs a classification program that prints JSON.
type ExecClassifier struct {
	binary string
	exec   Executor
}

// NewExecClassifier builds a classifier around binary.
func NewExecClassifier(binary string, opts ...Option) *ExecClassifier {
	o := applyOptions(opts)
	return &ExecClassifier{binary: binary, exec: o.exec}
}

type classifierOutput struct {
	Detections []Detection        `json:"detections"`
	Scores     map[string]float64 `json:"scores"`
}

func (c *ExecClassifier) Classify(ctx context.Context, path string, opts ClassifyOptions) (Classification, error) {
	if opts.Method == "" {
		opts.Method = MethodHeuristic
	}
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultConfidenceThreshold
	}
	if !known(ClassificationMethods, opts.Method) {
		return Classification{}, services.Wrap(services.ErrValidation, "classifier", "classify", fmt.Sprintf("unsupported method %q", opts.Method), nil)
	}
	args := []string{"--method", opts.Method, "--threshold", strconv.FormatFloat(opts.Threshold, 'f', -1, 64)}
	if opts.StemHint != "" {
		args = append(args, "--stem-type", opts.StemHint)
	}
	args = append(args, path)

	out, err := runTool(ctx, c.exec, "classifier", "classify", c.binary, args)
	if err != nil {
		return Classification{}, err
	}
	var raw classifierOutput
	if err := json.Unmarshal(out, &raw); err != nil {
		return Classification{}, services.Wrap(services.ErrExternalTool, "classifier", "decode output", "invalid JSON from classifier", err)
	}
	return Summarize(raw.Detections, raw.Scores, opts), nil
}

// Summarize filters detections to known instruments at or above the
// threshold, orders them by confidence and averages the kept confidences.
func Summarize(detections []Detection, scores map[string]float64, opts ClassifyOptions) Classification {
	names := InstrumentNames()
	kept := make([]Detection, 0, len(detections))
	for _, d := range detections {
		if d.Confidence < opts.Threshold || !slices.Contains(names, d.Instrument) {
			continue
		}
		kept = append(kept, d)
	}
	slices.SortStableFunc(kept, func(a, b Detection) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		default:
			return 0
		}
	})
	overall := 0.0
	for _, d := range kept {
		overall += d.Confidence
	}
	if len(kept) > 0 {
		overall /= float64(len(kept))
	}
	return Classification{
		Method:            opts.Method,
		Threshold:         opts.Threshold,
		Detected:          kept,
		OverallConfidence: overall,
		Scores:            scores,
	}
}
