package backend

import (
	"context"

	"iara/internal/media/ffprobe"
	"iara/internal/services"
)

// Inspector reads container metadata.
type Inspector interface {
	Inspect(ctx context.Context, path string) (ffprobe.Result, error)
}

// FFprobeInspector adapts the ffprobe package to Inspector.
type FFprobeInspector struct {
	binary string
	run    ffprobe.Runner
}

// NewFFprobeInspector builds an inspector. A nil runner uses exec.
func NewFFprobeInspector(binary string, run ffprobe.Runner) *FFprobeInspector {
	if run == nil {
		run = ffprobe.ExecRunner
	}
	return &FFprobeInspector{binary: binary, run: run}
}

func (i *FFprobeInspector) Inspect(ctx context.Context, path string) (ffprobe.Result, error) {
	result, err := ffprobe.InspectWith(ctx, i.run, i.binary, path)
	if err != nil {
		return ffprobe.Result{}, services.Wrap(services.ErrExternalTool, "ffprobe", "inspect", "metadata inspection failed", err)
	}
	return result, nil
}
