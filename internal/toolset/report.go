package toolset

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"iara/internal/artifact"
	"iara/internal/backend"
	"iara/internal/tool"
	"iara/internal/workflow"
)

const (
	reportJSON = "json"
	reportText = "text"

	reportVersion = "1.0"
)

var reportFormats = []string{reportJSON, reportText}

// reportPlotKinds are rendered when a report includes visualizations.
var reportPlotKinds = []string{"waveform", "mel_spectrogram"}

// ReportMetadata identifies one generated report.
type ReportMetadata struct {
	GeneratedAt     string `json:"generated_at"`
	FilePath        string `json:"file_path"`
	Format          string `json:"format"`
	AnalysisVersion string `json:"analysis_version"`
}

// ReportComplexity rates the rhythmic, harmonic and spectral density.
type ReportComplexity struct {
	Rhythmic         float64 `json:"rhythmic"`
	Harmonic         float64 `json:"harmonic"`
	SpectralRichness float64 `json:"spectral_richness"`
}

// ReportSummary is the human-oriented digest of a complete analysis.
type ReportSummary struct {
	Duration     string           `json:"duration"`
	TempoBPM     float64          `json:"tempo_bpm"`
	EstimatedKey string           `json:"estimated_key"`
	EnergyLevel  string           `json:"energy_level"`
	GenreHints   []string         `json:"genre_hints"`
	Complexity   ReportComplexity `json:"complexity"`
}

// Recommendations are production notes derived from the features plus
// fixed follow-up suggestions.
type Recommendations struct {
	ProductionNotes []string `json:"production_notes"`
	NextSteps       []string `json:"next_steps"`
}

// AnalysisReport is the payload of analysis_report. Text is set for the text
// format.
type AnalysisReport struct {
	Metadata            ReportMetadata          `json:"report_metadata"`
	FileInfo            AnalysisMetadata        `json:"file_info"`
	MusicalAnalysis     map[string]any          `json:"musical_analysis,omitempty"`
	Summary             ReportSummary           `json:"summary"`
	Recommendations     Recommendations         `json:"recommendations"`
	Visualizations      map[string]artifact.Ref `json:"visualizations,omitempty"`
	VisualizationErrors map[string]*tool.Error  `json:"visualization_errors,omitempty"`
	Text                string                  `json:"text,omitempty"`
}

var reportNextSteps = []string{
	"Consider using source separation for detailed instrument analysis",
	"Analyze individual stems for better instrument identification",
	"Compare with reference tracks in similar genre",
}

func (t *Toolset) reportSpec() tool.Spec {
	return tool.Spec{
		Name:        "analysis_report",
		Description: "Run a complete analysis and summarize it with genre hints, energy level and production notes, as JSON or text.",
		Schema: tool.Object(map[string]*tool.Property{
			"file_path":              tool.StringProperty("Path to the audio file"),
			"format":                 tool.EnumProperty("Report rendering", reportFormats...).WithDefault(reportJSON),
			"include_visualizations": tool.BooleanProperty("Also render a waveform and a mel spectrogram").WithDefault(false),
		}, "file_path"),
		Effect:      tool.EffectArtifactProducing,
		Unavailable: t.unavailable(backendAnalyzer),
		Handler:     t.handleReport,
	}
}

func (t *Toolset) handleReport(ctx context.Context, args tool.Arguments) (any, error) {
	path := strings.TrimSpace(args.String("file_path"))
	if _, err := requireFile(path); err != nil {
		return nil, err
	}
	format := args.String("format")
	dl := t.d.Deadlines

	plan := &workflow.Plan{}
	plan.Add(workflow.Step{
		Name:    opAnalysis,
		Fatal:   true,
		Timeout: dl.Analysis,
		Run: func(ctx context.Context, _ workflow.Inputs) (any, error) {
			return t.analyze(ctx, path, backend.AnalysisComplete)
		},
	})
	visualize := args.Bool("include_visualizations")
	if visualize {
		for _, kind := range reportPlotKinds {
			plan.Add(workflow.Step{
				Name:    "plot_" + kind,
				Timeout: dl.Visualization,
				Run: func(ctx context.Context, _ workflow.Inputs) (any, error) {
					return t.plot(ctx, path, plotParams{Kind: kind})
				},
			})
		}
	}
	run, err := t.d.Orchestrator.Run(ctx, plan)
	if err != nil {
		return nil, err
	}
	analysis, err := stepValue[AnalysisResult](run, opAnalysis)
	if err != nil {
		return nil, err
	}

	report := buildReport(path, format, analysis)
	if visualize {
		report.Visualizations = map[string]artifact.Ref{}
		for _, kind := range reportPlotKinds {
			res, err := stepValue[PlotResult](run, "plot_"+kind)
			if err != nil {
				if report.VisualizationErrors == nil {
					report.VisualizationErrors = map[string]*tool.Error{}
				}
				report.VisualizationErrors[kind] = tool.AsError(err)
				continue
			}
			report.Visualizations[kind] = res.Plot
		}
	}
	if format == reportText {
		report.Text = renderReport(report)
		report.MusicalAnalysis = nil
	}
	return report, nil
}

func buildReport(path, format string, analysis AnalysisResult) AnalysisReport {
	f := analysis.Features
	tempo := feature(f, groupTemporal, "tempo_bpm")
	key, ok := featureString(f, groupHarmonic, "estimated_key")
	if !ok {
		key = "unknown"
	}
	return AnalysisReport{
		Metadata: ReportMetadata{
			GeneratedAt:     time.Now().Format(time.DateTime),
			FilePath:        path,
			Format:          format,
			AnalysisVersion: reportVersion,
		},
		FileInfo:        analysis.Metadata,
		MusicalAnalysis: f,
		Summary: ReportSummary{
			Duration:     analysis.Metadata.DurationFormatted,
			TempoBPM:     tempo,
			EstimatedKey: key,
			EnergyLevel:  energyLevel(feature(f, groupSpectral, "rms_energy", "mean")),
			GenreHints:   genreHints(tempo),
			Complexity: ReportComplexity{
				Rhythmic:         feature(f, groupRhythmic, "rhythm_complexity"),
				Harmonic:         feature(f, groupHarmonic, "key_confidence"),
				SpectralRichness: feature(f, groupSpectral, "spectral_bandwidth", "mean"),
			},
		},
		Recommendations: Recommendations{
			ProductionNotes: productionNotes(f),
			NextSteps:       reportNextSteps,
		},
	}
}

// genreHints maps tempo ranges to the styles that usually sit there.
func genreHints(tempo float64) []string {
	switch {
	case tempo >= 60 && tempo <= 80:
		return []string{"ballad/slow"}
	case tempo > 80 && tempo <= 100:
		return []string{"pop/rock"}
	case tempo > 100 && tempo <= 130:
		return []string{"pop/dance"}
	case tempo > 130 && tempo <= 150:
		return []string{"hip-hop/trap"}
	case tempo > 150:
		return []string{"electronic/house"}
	}
	return []string{}
}

func energyLevel(rmsMean float64) string {
	switch {
	case rmsMean > 0.1:
		return "high"
	case rmsMean > 0.05:
		return "medium"
	default:
		return "low"
	}
}

// productionNotes only comments on features the analyzer reported.
func productionNotes(f map[string]any) []string {
	notes := []string{}
	if v, ok := featureNumber(f, groupTemporal, "beat_consistency"); ok && v < 0.7 {
		notes = append(notes, "Consider using a metronome - timing inconsistencies detected")
	}
	if v, ok := featureNumber(f, groupSpectral, "rms_energy", "dynamic_range"); ok && v < 0.1 {
		notes = append(notes, "Low dynamic range - consider varying the energy levels")
	}
	return notes
}

func renderReport(r AnalysisReport) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.SetTitle("Analysis report: " + r.FileInfo.FileInfo.Name)
	tw.AppendRows([]table.Row{
		{"Duration", r.Summary.Duration},
		{"Tempo", fmt.Sprintf("%.1f BPM", r.Summary.TempoBPM)},
		{"Key", r.Summary.EstimatedKey},
		{"Energy", r.Summary.EnergyLevel},
		{"Genre hints", strings.Join(r.Summary.GenreHints, ", ")},
		{"Rhythmic complexity", fmt.Sprintf("%.2f", r.Summary.Complexity.Rhythmic)},
		{"Harmonic complexity", fmt.Sprintf("%.2f", r.Summary.Complexity.Harmonic)},
		{"Spectral richness", fmt.Sprintf("%.0f Hz", r.Summary.Complexity.SpectralRichness)},
	})
	tw.AppendSeparator()
	for _, note := range r.Recommendations.ProductionNotes {
		tw.AppendRow(table.Row{"Production note", note})
	}
	for _, step := range r.Recommendations.NextSteps {
		tw.AppendRow(table.Row{"Next step", step})
	}
	for _, kind := range reportPlotKinds {
		if ref, ok := r.Visualizations[kind]; ok {
			tw.AppendRow(table.Row{"Plot " + kind, ref.Name})
		}
	}
	tw.AppendFooter(table.Row{"Generated", r.Metadata.GeneratedAt})
	return tw.Render()
}
