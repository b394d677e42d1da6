package backend

import (
	"path/filepath"
	"slices"
	"strings"
)

// Format describes an accepted input container.
type Format struct {
	Extension string `json:"extension"`
	Name      string `json:"name"`
}

// SupportedFormats lists accepted input extensions.
var SupportedFormats = []Format{
	{Extension: ".mp3", Name: "MP3"},
	{Extension: ".wav", Name: "WAV"},
	{Extension: ".flac", Name: "FLAC"},
	{Extension: ".m4a", Name: "M4A"},
	{Extension: ".ogg", Name: "OGG"},
	{Extension: ".aac", Name: "AAC"},
	{Extension: ".wma", Name: "WMA"},
}

// FormatForPath returns the format matching path's extension.
func FormatForPath(path string) (Format, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	for _, f := range SupportedFormats {
		if f.Extension == ext {
			return f, true
		}
	}
	return Format{}, false
}

// SupportedExtensions lists extensions without the leading dot.
func SupportedExtensions() []string {
	out := make([]string, 0, len(SupportedFormats))
	for _, f := range SupportedFormats {
		out = append(out, strings.TrimPrefix(f.Extension, "."))
	}
	return out
}

const (
	AnalysisBasic    = "basic"
	AnalysisComplete = "complete"
)

// AnalysisTypes lists accepted analysis depths.
var AnalysisTypes = []string{AnalysisBasic, AnalysisComplete}

// Model is a Demucs separation model.
type Model struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

const DefaultModel = "htdemucs_ft"

// SeparationModels lists supported Demucs models, best quality first.
var SeparationModels = []Model{
	{Name: "htdemucs_ft", Description: "Hybrid Transformer Demucs (Fine-tuned) - Best quality"},
	{Name: "htdemucs", Description: "Hybrid Transformer Demucs - Good quality, faster"},
	{Name: "hdemucs_mmi", Description: "Hybrid Demucs MMI - Good for older songs"},
	{Name: "mdx", Description: "MDX - Faster, good for vocals"},
	{Name: "mdx_extra", Description: "MDX Extra - Better separation, slower"},
}

// ModelNames returns the names of SeparationModels.
func ModelNames() []string {
	out := make([]string, 0, len(SeparationModels))
	for _, m := range SeparationModels {
		out = append(out, m.Name)
	}
	return out
}

// Stems produced by every supported model.
var Stems = []string{"drums", "bass", "other", "vocals"}

// StemFormats lists the output encodings Demucs can write.
var StemFormats = []string{"wav", "mp3", "flac"}

// StemMediaType maps a stem format to its media type.
func StemMediaType(format string) string {
	switch format {
	case "mp3":
		return "audio/mpeg"
	case "flac":
		return "audio/flac"
	default:
		return "audio/wav"
	}
}

// Instrument is a classifier family and its finer labels.
type Instrument struct {
	Name          string   `json:"name"`
	Subcategories []string `json:"subcategories"`
}

// Instruments lists every family the classifier can report.
var Instruments = []Instrument{
	{Name: "vocals", Subcategories: []string{"lead_vocals", "backing_vocals", "rap_vocals", "choir"}},
	{Name: "drums", Subcategories: []string{"acoustic_drums", "electronic_drums", "trap_kit", "latin_percussion"}},
	{Name: "bass", Subcategories: []string{"electric_bass", "acoustic_bass", "808_bass", "synth_bass"}},
	{Name: "guitar", Subcategories: []string{"electric_guitar", "acoustic_guitar", "distorted_guitar", "clean_guitar"}},
	{Name: "piano", Subcategories: []string{"acoustic_piano", "electric_piano", "digital_piano"}},
	{Name: "strings", Subcategories: []string{"violin", "cello", "orchestral_strings", "synthesized_strings"}},
	{Name: "brass", Subcategories: []string{"trumpet", "trombone", "french_horn", "synthesized_brass"}},
	{Name: "woodwinds", Subcategories: []string{"flute", "clarinet", "saxophone", "synthesized_woodwinds"}},
	{Name: "synth", Subcategories: []string{"lead_synth", "pad_synth", "bass_synth", "arp_synth"}},
	{Name: "other", Subcategories: []string{"unknown", "mixed", "ambient", "effects"}},
}

// InstrumentNames returns the family names of Instruments.
func InstrumentNames() []string {
	out := make([]string, 0, len(Instruments))
	for _, inst := range Instruments {
		out = append(out, inst.Name)
	}
	return out
}

const (
	MethodHeuristic = "heuristic"
	MethodML        = "ml"
	MethodHybrid    = "hybrid"

	DefaultConfidenceThreshold = 0.7
)

// ClassificationMethods lists accepted classifier strategies.
var ClassificationMethods = []string{MethodHeuristic, MethodML, MethodHybrid}

// FeatureDescriptions explains the features the classifier weighs.
var FeatureDescriptions = map[string]string{
	"spectral_centroid": "Brightness of the sound; high for cymbals and vocals, low for bass",
	"mfcc":              "Timbre envelope used to tell instrument families apart",
	"chroma":            "Pitch class energy; separates harmonic from percussive content",
	"frequency_bands":   "Energy in low, mid and high bands",
	"hpss":              "Harmonic and percussive separation ratio",
	"zcr":               "Zero crossing rate; high for noisy and percussive sounds",
	"rhythm":            "Onset strength and tempo regularity",
}

// PlotKind is a supported visualization.
type PlotKind struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

const (
	DefaultHopLength = 512
	DefaultNFFT      = 2048
)

// PlotKinds lists supported visualizations.
var PlotKinds = []PlotKind{
	{Name: "waveform", Description: "Time-domain waveform with optional amplitude envelope"},
	{Name: "stft_spectrogram", Description: "Short-Time Fourier Transform spectrogram"},
	{Name: "mel_spectrogram", Description: "Mel-scale spectrogram (perceptually motivated)"},
	{Name: "cqt_spectrogram", Description: "Constant-Q Transform spectrogram (musical pitch)"},
	{Name: "feature_analysis", Description: "Comprehensive musical feature visualization"},
}

// PlotKindNames returns the names of PlotKinds.
func PlotKindNames() []string {
	out := make([]string, 0, len(PlotKinds))
	for _, k := range PlotKinds {
		out = append(out, k.Name)
	}
	return out
}

func known(values []string, v string) bool {
	return slices.Contains(values, v)
}
