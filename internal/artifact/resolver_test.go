package artifact

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"iara/internal/config"
	"iara/internal/services"
)

func plot(data string) Artifact {
	return Artifact{
		Source:    "/music/My Song.flac",
		Operation: "plot",
		Label:     "mel_spectrogram",
		Extension: "png",
		MediaType: "image/png",
		Data:      []byte(data),
	}
}

func TestRemoteModeReturnsInlineWithoutTouchingDisk(t *testing.T) {
	root := filepath.Join(t.TempDir(), "never")
	r, err := NewResolver(Environment{Mode: config.ModeRemote, OutputRoot: root}, nil)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	ref, err := r.Resolve(context.Background(), plot("png-bytes"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ref.Kind != KindInline {
		t.Fatalf("remote mode produced %q", ref.Kind)
	}
	got, err := ref.Bytes()
	if err != nil || string(got) != "png-bytes" {
		t.Fatalf("inline payload did not round-trip: %q %v", got, err)
	}
	if ref.MediaType != "image/png" || ref.SizeBytes != len("png-bytes") {
		t.Fatalf("unexpected ref metadata %+v", ref)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Fatalf("remote mode must not create the output root, stat err=%v", err)
	}
}

func TestLocalModeWritesUnderOutputRoot(t *testing.T) {
	root := t.TempDir()
	r, err := NewResolver(Environment{Mode: config.ModeLocal, OutputRoot: root}, nil)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	ref, err := r.Resolve(context.Background(), plot("png-bytes"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ref.Kind != KindPath {
		t.Fatalf("local mode produced %q", ref.Kind)
	}
	if !strings.HasPrefix(ref.Value, root+string(os.PathSeparator)) {
		t.Fatalf("artifact %q escaped output root %q", ref.Value, root)
	}
	data, err := os.ReadFile(ref.Value)
	if err != nil || !bytes.Equal(data, []byte("png-bytes")) {
		t.Fatalf("unexpected file content %q %v", data, err)
	}
	if !strings.HasPrefix(filepath.Base(ref.Value), "my_song-plot-mel_spectrogram-") || filepath.Ext(ref.Value) != ".png" {
		t.Fatalf("unexpected artifact name %q", ref.Value)
	}
}

func TestLocalModeIsIdempotentAndDistinguishesContent(t *testing.T) {
	r, err := NewResolver(Environment{Mode: config.ModeLocal, OutputRoot: t.TempDir()}, nil)
	if err != nil {
		t.Fatal(err)
	}
	first, err := r.Resolve(context.Background(), plot("a"))
	if err != nil {
		t.Fatal(err)
	}
	again, err := r.Resolve(context.Background(), plot("a"))
	if err != nil {
		t.Fatal(err)
	}
	other, err := r.Resolve(context.Background(), plot("b"))
	if err != nil {
		t.Fatal(err)
	}
	if first.Value != again.Value {
		t.Fatalf("same content should map to the same path: %q vs %q", first.Value, again.Value)
	}
	if first.Value == other.Value {
		t.Fatal("different content must not share a path")
	}
}

func TestLocalModeConcurrentWriters(t *testing.T) {
	r, err := NewResolver(Environment{Mode: config.ModeLocal, OutputRoot: t.TempDir()}, nil)
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	paths := make([]string, 8)
	for i := range paths {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ref, err := r.Resolve(context.Background(), plot("shared"))
			if err != nil {
				t.Error(err)
				return
			}
			paths[i] = ref.Value
		}()
	}
	wg.Wait()
	for _, p := range paths[1:] {
		if p != paths[0] {
			t.Fatalf("concurrent writers diverged: %v", paths)
		}
	}
}

func TestRepresentationInvariant(t *testing.T) {
	for _, mode := range []string{config.ModeLocal, config.ModeRemote} {
		r, err := NewResolver(Environment{Mode: mode, OutputRoot: t.TempDir()}, nil)
		if err != nil {
			t.Fatal(err)
		}
		refs, err := r.ResolveAll(context.Background(), []Artifact{
			{Source: "/a.wav", Operation: "separate", Label: "vocals", Extension: "wav", Data: []byte("v")},
			{Source: "/a.wav", Operation: "separate", Label: "drums", Extension: "wav", Data: []byte("d")},
		})
		if err != nil {
			t.Fatal(err)
		}
		want := KindPath
		if mode == config.ModeRemote {
			want = KindInline
		}
		for label, ref := range refs {
			if ref.Kind != want {
				t.Fatalf("%s mode produced %s ref for %s", mode, ref.Kind, label)
			}
		}
	}
}

func TestNewResolverRejectsBadEnvironment(t *testing.T) {
	_, err := NewResolver(Environment{Mode: config.ModeLocal}, nil)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for missing root, got %v", err)
	}
	_, err = NewResolver(Environment{Mode: "hybrid"}, nil)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error for unknown mode, got %v", err)
	}
}

func TestResolveRejectsEmptyArtifact(t *testing.T) {
	r, err := NewResolver(Environment{Mode: config.ModeRemote}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Resolve(context.Background(), Artifact{Operation: "plot"}); err == nil {
		t.Fatal("expected empty artifact to be rejected")
	}
}

func TestFileNameWithoutLabel(t *testing.T) {
	name := FileName(Artifact{Source: "/x/Take 5.mp3", Operation: "plot", Extension: ".PNG", Data: []byte("x")})
	if !strings.HasPrefix(name, "take_5-plot-") || !strings.HasSuffix(name, ".png") {
		t.Fatalf("unexpected name %q", name)
	}
	if parts := strings.Split(strings.TrimSuffix(name, ".png"), "-"); len(parts[len(parts)-1]) != 10 {
		t.Fatalf("expected a 10 character digest suffix in %q", name)
	}
}
