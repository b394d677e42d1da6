package toolset

import (
	"context"
	"fmt"
	"os"
	"strings"

	"iara/internal/backend"
	"iara/internal/resultcache"
	"iara/internal/tool"
)

// Validation is the payload of validate_audio.
type Validation struct {
	Valid     bool           `json:"valid"`
	FilePath  string         `json:"file_path"`
	Exists    bool           `json:"exists"`
	Format    string         `json:"format,omitempty"`
	SizeBytes int64          `json:"size_bytes"`
	Audio     *AudioMetadata `json:"audio,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// AudioMetadata is the ffprobe summary of the primary audio stream.
type AudioMetadata struct {
	Codec           string  `json:"codec"`
	DurationSeconds float64 `json:"duration_seconds"`
	SampleRateHz    int     `json:"sample_rate"`
	Channels        int     `json:"channels"`
	BitRate         int64   `json:"bit_rate,omitempty"`
	AudioStreams    int     `json:"audio_streams"`
}

func (t *Toolset) validateSpec() tool.Spec {
	return tool.Spec{
		Name:        "validate_audio",
		Description: "Check that a file exists, has a supported audio extension, and decodes as audio.",
		Schema: tool.Object(map[string]*tool.Property{
			"file_path": tool.StringProperty("Path to the audio file"),
		}, "file_path"),
		Effect:  tool.EffectReadOnly,
		Handler: t.handleValidate,
	}
}

func (t *Toolset) handleValidate(ctx context.Context, args tool.Arguments) (any, error) {
	path := strings.TrimSpace(args.String("file_path"))
	ctx, cancel := withDeadline(ctx, t.d.Deadlines.Inspection)
	defer cancel()

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		// Missing inputs are a normal answer for this tool, not a failure.
		v := Validation{FilePath: path, Error: fmt.Sprintf("file not found: %s", path)}
		if err == nil {
			v.Exists = true
			v.Error = fmt.Sprintf("%s is a directory", path)
		}
		return v, nil
	}

	key, err := resultcache.KeyForFiles("validate_audio", nil, path)
	if err != nil {
		return nil, err
	}
	v, err := t.cached(ctx, key, func(ctx context.Context) (any, error) {
		return t.validate(ctx, path, info.Size())
	})
	return v, deadlineError("validate_audio", t.d.Deadlines.Inspection, err)
}

func (t *Toolset) validate(ctx context.Context, path string, size int64) (Validation, error) {
	v := Validation{FilePath: path, Exists: true, SizeBytes: size}
	format, ok := backend.FormatForPath(path)
	if !ok {
		v.Error = fmt.Sprintf("unsupported format; expected one of %s", strings.Join(backend.SupportedExtensions(), ", "))
		return v, nil
	}
	v.Format = format.Name
	if size == 0 {
		v.Error = "file is empty"
		return v, nil
	}
	if t.unavailable(backendFFprobe) != "" {
		// Without ffprobe only the extension and size can be checked.
		v.Valid = true
		return v, nil
	}

	meta, err := t.d.Backends.Inspector.Inspect(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return Validation{}, err
		}
		v.Error = err.Error()
		return v, nil
	}
	primary, ok := meta.PrimaryAudio()
	if !ok {
		v.Error = "no audio stream found"
		return v, nil
	}
	v.Audio = &AudioMetadata{
		Codec:           primary.CodecName,
		DurationSeconds: meta.DurationSeconds(),
		SampleRateHz:    primary.SampleRateHz(),
		Channels:        primary.Channels,
		BitRate:         meta.BitRate(),
		AudioStreams:    meta.AudioStreamCount(),
	}
	v.Valid = true
	return v, nil
}
