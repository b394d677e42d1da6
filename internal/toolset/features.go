package toolset

import (
	"encoding/json"

	"iara/internal/tool"
	"iara/internal/workflow"
)

// Feature groups of a complete analysis.
const (
	groupTemporal = "temporal"
	groupSpectral = "spectral"
	groupHarmonic = "harmonic"
	groupRhythmic = "rhythmic"
)

// featureNumber walks nested feature maps along keys. Missing keys and
// non-numeric leaves report false.
func featureNumber(features map[string]any, keys ...string) (float64, bool) {
	var cur any = features
	for _, k := range keys {
		m, ok := cur.(map[string]any)
		if !ok {
			return 0, false
		}
		cur, ok = m[k]
		if !ok {
			return 0, false
		}
	}
	switch v := cur.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}

// feature is featureNumber with missing values read as zero.
func feature(features map[string]any, keys ...string) float64 {
	v, _ := featureNumber(features, keys...)
	return v
}

func featureString(features map[string]any, group, key string) (string, bool) {
	m, ok := features[group].(map[string]any)
	if !ok {
		return "", false
	}
	s, ok := m[key].(string)
	return s, ok && s != ""
}

// stepValue returns the value of a completed step, or the error the step
// ended with.
func stepValue[T any](report *workflow.Report, name string) (T, error) {
	var zero T
	o, ok := report.Outcome(name)
	if !ok {
		return zero, tool.Errorf(tool.KindBackendFailure, "step %s did not run", name)
	}
	if !o.Completed() {
		if o.Err != nil {
			return zero, o.Err
		}
		return zero, tool.Errorf(tool.KindBackendFailure, "step %s ended %s", name, o.Status)
	}
	v, ok := o.Value.(T)
	if !ok {
		return zero, tool.Errorf(tool.KindBackendFailure, "step %s returned %T", name, o.Value)
	}
	return v, nil
}
