package toolset

import (
	"context"
	"fmt"
	"strings"

	"iara/internal/backend"
	"iara/internal/tool"
	"iara/internal/workflow"
)

// profileThreshold is lower than the classify default so weak detections can
// still be profiled.
const profileThreshold = 0.3

const opProfile = "profile"

// ProductionTips are mixing suggestions for one instrument family.
type ProductionTips struct {
	EQ         []string `json:"eq_suggestions"`
	Processing []string `json:"processing_tips"`
	Mixing     []string `json:"mixing_advice"`
}

// FrequencyProfile locates the instrument in the spectrum.
type FrequencyProfile struct {
	DominantFrequencies []string           `json:"dominant_frequencies"`
	SpectralShape       map[string]float64 `json:"spectral_shape,omitempty"`
}

// InstrumentProfile is the payload of instrument_profile. Characteristics and
// the spectral shape are empty when the analysis step failed; AnalysisError
// says why.
type InstrumentProfile struct {
	FileInfo         FileInfo         `json:"file_info"`
	Instrument       string           `json:"instrument_type"`
	Subtype          string           `json:"subtype"`
	KnownSubtypes    []string         `json:"known_subtypes"`
	Confidence       float64          `json:"confidence"`
	Characteristics  map[string]any   `json:"characteristics,omitempty"`
	ProductionTips   ProductionTips   `json:"production_tips"`
	FrequencyProfile FrequencyProfile `json:"frequency_profile"`
	AnalysisError    *tool.Error      `json:"analysis_error,omitempty"`
}

var instrumentTips = map[string]ProductionTips{
	"vocals": {
		EQ: []string{
			"High-pass filter around 80-100 Hz to remove low-end rumble",
			"Boost presence around 2-5 kHz for clarity",
			"De-ess around 6-8 kHz if sibilance is present",
		},
		Processing: []string{
			"Use compression with 3:1 ratio for consistent level",
			"Add subtle reverb for space and depth",
			"Consider pitch correction if needed",
		},
	},
	"drums": {
		EQ: []string{
			"Boost kick drum around 60-80 Hz for weight",
			"Add snap to snare around 2-4 kHz",
			"Control cymbals with high-shelf EQ",
		},
		Processing: []string{
			"Use parallel compression for punch",
			"Gate tom and cymbal tracks to reduce bleed",
			"Add reverb to snare for size",
		},
	},
	"bass": {
		EQ: []string{
			"High-pass below 30 Hz to remove sub-sonic content",
			"Shape fundamental around 60-100 Hz",
			"Add presence around 800 Hz - 2 kHz",
		},
		Processing: []string{
			"Use compression with slow attack for punch",
			"Consider multiband compression",
			"Ensure mono compatibility in low end",
		},
	},
}

var dominantFrequencies = map[string][]string{
	"vocals": {"Formants: 300-3400 Hz", "Presence: 2-5 kHz"},
	"drums":  {"Kick: 60-100 Hz", "Snare: 200 Hz & 2-4 kHz", "Cymbals: 8-16 kHz"},
	"bass":   {"Fundamentals: 40-200 Hz", "Harmonics: 200-800 Hz"},
}

func (t *Toolset) profileSpec() tool.Spec {
	return tool.Spec{
		Name:        "instrument_profile",
		Description: "Profile one instrument detected in an audio file: subtype, confidence, timbre, frequency range and mixing tips.",
		Schema: tool.Object(map[string]*tool.Property{
			"file_path":  tool.StringProperty("Path to the audio file"),
			"instrument": tool.EnumProperty("Instrument family to profile", backend.InstrumentNames()...),
		}, "file_path", "instrument"),
		Effect:      tool.EffectReadOnly,
		Unavailable: t.unavailable(backendClassifier),
		Handler:     t.handleProfile,
	}
}

func (t *Toolset) handleProfile(ctx context.Context, args tool.Arguments) (any, error) {
	path := strings.TrimSpace(args.String("file_path"))
	if _, err := requireFile(path); err != nil {
		return nil, err
	}
	instrument := args.String("instrument")
	dl := t.d.Deadlines

	// Classification and analysis run side by side; only a failed
	// classification stops the profile.
	plan := &workflow.Plan{}
	plan.Add(workflow.Step{
		Name:    opClassification,
		Fatal:   true,
		Timeout: dl.Classification,
		Run: func(ctx context.Context, _ workflow.Inputs) (any, error) {
			return t.classify(ctx, path, classifyParams{Threshold: profileThreshold, Method: backend.MethodHeuristic})
		},
	})
	plan.Add(workflow.Step{
		Name:    opAnalysis,
		Timeout: dl.Analysis,
		Run: func(ctx context.Context, _ workflow.Inputs) (any, error) {
			return t.analyze(ctx, path, backend.AnalysisComplete)
		},
	})
	plan.Add(workflow.Step{
		Name:      opProfile,
		DependsOn: []string{opClassification, opAnalysis},
		Run: func(_ context.Context, in workflow.Inputs) (any, error) {
			v, _ := in.Value(opClassification)
			return buildProfile(v.(ClassificationResult), instrument, in)
		},
	})
	run, err := t.d.Orchestrator.Run(ctx, plan)
	if err != nil {
		return nil, err
	}
	if _, err := stepValue[ClassificationResult](run, opClassification); err != nil {
		return nil, err
	}
	return stepValue[InstrumentProfile](run, opProfile)
}

func buildProfile(class ClassificationResult, instrument string, in workflow.Inputs) (InstrumentProfile, error) {
	var found *backend.Detection
	detected := make([]string, 0, len(class.Classification.Detected))
	for i, d := range class.Classification.Detected {
		detected = append(detected, d.Instrument)
		if d.Instrument == instrument && found == nil {
			found = &class.Classification.Detected[i]
		}
	}
	if found == nil {
		list := "none"
		if len(detected) > 0 {
			list = strings.Join(detected, ", ")
		}
		return InstrumentProfile{}, tool.InvalidArgument("instrument", "%s not detected in audio (detected: %s)", instrument, list)
	}

	p := InstrumentProfile{
		FileInfo:         class.FileInfo,
		Instrument:       instrument,
		Subtype:          found.Subcategory,
		Confidence:       found.Confidence,
		ProductionTips:   instrumentTips[instrument],
		FrequencyProfile: FrequencyProfile{DominantFrequencies: dominantFrequencies[instrument]},
	}
	if p.Subtype == "" {
		p.Subtype = "unknown"
	}
	for _, inst := range backend.Instruments {
		if inst.Name == instrument {
			p.KnownSubtypes = inst.Subcategories
		}
	}
	if found.Confidence < 0.6 {
		p.ProductionTips.Mixing = append(p.ProductionTips.Mixing,
			fmt.Sprintf("Low confidence (%.2f) - verify instrument identification", found.Confidence))
	}
	if p.FrequencyProfile.DominantFrequencies == nil {
		p.FrequencyProfile.DominantFrequencies = []string{}
	}
	if p.ProductionTips.EQ == nil {
		p.ProductionTips.EQ, p.ProductionTips.Processing = []string{}, []string{}
	}
	if p.ProductionTips.Mixing == nil {
		p.ProductionTips.Mixing = []string{}
	}

	if v, ok := in.Value(opAnalysis); ok {
		f := v.(AnalysisResult).Features
		p.Characteristics = instrumentCharacteristics(f, instrument)
		p.FrequencyProfile.SpectralShape = map[string]float64{
			"centroid_hz":  feature(f, groupSpectral, "spectral_centroid", "mean"),
			"bandwidth_hz": feature(f, groupSpectral, "spectral_bandwidth", "mean"),
			"rolloff_hz":   feature(f, groupSpectral, "spectral_rolloff", "mean"),
		}
	} else if o, ok := in.Outcome(opAnalysis); ok && o.Err != nil {
		p.AnalysisError = o.Err
	}
	return p, nil
}

// instrumentCharacteristics reads the complete analysis through the lens of
// one instrument family.
func instrumentCharacteristics(f map[string]any, instrument string) map[string]any {
	switch instrument {
	case "vocals":
		centroid := feature(f, groupSpectral, "spectral_centroid", "mean")
		rangeEstimate := "outside_typical"
		if centroid >= 500 && centroid <= 3000 {
			rangeEstimate = "mid"
		}
		return map[string]any{
			"fundamental_range":      "80-1100 Hz",
			"formant_range":          "300-3400 Hz",
			"mid_frequency_presence": centroid > 1000,
			"brightness":             centroid / 4000,
			"harmonic_content":       feature(f, groupHarmonic, "harmonic_energy") > 0.1,
			"vocal_range_estimate":   rangeEstimate,
		}
	case "drums":
		return map[string]any{
			"percussive_strength": feature(f, groupHarmonic, "percussive_energy") > 0.1,
			"transient_density":   feature(f, groupTemporal, "onset_rate_per_second"),
			"rhythm_clarity":      feature(f, groupRhythmic, "tempo_stability"),
		}
	case "bass":
		return map[string]any{
			"sub_bass":                "20-60 Hz presence",
			"bass_fundamentals":       "60-250 Hz",
			"low_mid_harmonics":       "250-500 Hz",
			"low_frequency_dominance": feature(f, groupRhythmic, "low_freq_energy") > 0.1,
			"bass_prominence":         feature(f, groupRhythmic, "rhythm_balance", "bass_prominence"),
		}
	default:
		return map[string]any{
			"harmonic_richness":   feature(f, groupHarmonic, "harmonic_energy"),
			"spectral_complexity": feature(f, groupSpectral, "spectral_bandwidth", "mean"),
		}
	}
}
