package toolset

import (
	"context"
	"time"

	"iara/internal/artifact"
	"iara/internal/backend"
	"iara/internal/deps"
	"iara/internal/tool"
)

// StatusReport is the payload of the status tool.
type StatusReport struct {
	Server         string        `json:"server"`
	Version        string        `json:"version"`
	Transport      string        `json:"transport,omitempty"`
	DeploymentMode string        `json:"deployment_mode"`
	OutputRoot     string        `json:"output_root,omitempty"`
	Device         string        `json:"device"`
	UptimeSeconds  float64       `json:"uptime_seconds"`
	Backends       []deps.Status `json:"backends"`
	Ready          bool          `json:"ready"`
}

func (t *Toolset) statusSpec() tool.Spec {
	return tool.Spec{
		Name:        "status",
		Description: "Report server version, deployment mode, and which analysis backends are installed.",
		Schema:      tool.Object(nil),
		Effect:      tool.EffectReadOnly,
		Handler: func(context.Context, tool.Arguments) (any, error) {
			env := t.d.Resolver.Environment()
			report := StatusReport{
				Server:         "iara",
				Version:        t.d.Version,
				Transport:      t.d.Transport,
				DeploymentMode: env.Mode,
				Device:         t.d.Backends.Device,
				UptimeSeconds:  seconds(time.Since(t.started)),
				Backends:       append([]deps.Status{}, t.d.Statuses...),
				Ready:          true,
			}
			if env.Mode != "remote" {
				report.OutputRoot = env.OutputRoot
			}
			for _, s := range t.d.Statuses {
				if !s.Available && !s.Optional {
					report.Ready = false
				}
			}
			return report, nil
		},
	}
}

func (t *Toolset) separationModelsSpec() tool.Spec {
	return tool.Spec{
		Name:        "separation_models",
		Description: "List Demucs models, stems, and output formats accepted by separate.",
		Schema:      tool.Object(nil),
		Effect:      tool.EffectReadOnly,
		Unavailable: t.unavailable(backendDemucs),
		Handler: func(context.Context, tool.Arguments) (any, error) {
			return map[string]any{
				"models":         backend.SeparationModels,
				"default_model":  backend.DefaultModel,
				"stems":          backend.Stems,
				"output_formats": backend.StemFormats,
				"device":         t.d.Backends.Device,
			}, nil
		},
	}
}

func (t *Toolset) classifierInfoSpec() tool.Spec {
	return tool.Spec{
		Name:        "classifier_info",
		Description: "List instrument families, detection methods, and the features the classifier weighs.",
		Schema:      tool.Object(nil),
		Effect:      tool.EffectReadOnly,
		Handler: func(context.Context, tool.Arguments) (any, error) {
			return map[string]any{
				"instruments":                  backend.Instruments,
				"methods":                      backend.ClassificationMethods,
				"default_confidence_threshold": backend.DefaultConfidenceThreshold,
				"features":                     backend.FeatureDescriptions,
				"available":                    t.unavailable(backendClassifier) == "",
			}, nil
		},
	}
}

func (t *Toolset) plotTypesSpec() tool.Spec {
	return tool.Spec{
		Name:        "plot_types",
		Description: "List visualizations accepted by plot.",
		Schema:      tool.Object(nil),
		Effect:      tool.EffectReadOnly,
		Handler: func(context.Context, tool.Arguments) (any, error) {
			return map[string]any{
				"plot_types":         backend.PlotKinds,
				"default_hop_length": backend.DefaultHopLength,
				"default_n_fft":      backend.DefaultNFFT,
				"artifact_kind":      t.artifactKind(),
			}, nil
		},
	}
}

// artifactKind reports how artifacts are returned in this deployment.
func (t *Toolset) artifactKind() artifact.Kind {
	if t.d.Resolver.Environment().Mode == "remote" {
		return artifact.KindInline
	}
	return artifact.KindPath
}
