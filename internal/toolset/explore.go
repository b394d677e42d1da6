package toolset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"iara/internal/backend"
	"iara/internal/services"
	"iara/internal/tool"
)

// DirectoryListing is the payload of explore_directory.
type DirectoryListing struct {
	Directory  string         `json:"directory"`
	Recursive  bool           `json:"recursive"`
	TotalFiles int            `json:"total_files"`
	Shown      int            `json:"shown"`
	Truncated  bool           `json:"truncated"`
	ByFormat   map[string]int `json:"by_format"`
	Files      []FileInfo     `json:"files"`
}

func (t *Toolset) exploreSpec() tool.Spec {
	return tool.Spec{
		Name:        "explore_directory",
		Description: "List audio files in a directory, optionally filtered by extension.",
		Schema: tool.Object(map[string]*tool.Property{
			"directory":  tool.StringProperty("Directory to scan"),
			"extensions": tool.ArrayProperty("Extensions to include; defaults to every supported format", tool.EnumProperty("", backend.SupportedExtensions()...)),
			"limit":      tool.IntegerProperty("Maximum number of files to list").Between(1, 1000).WithDefault(50),
			"recursive":  tool.BooleanProperty("Descend into subdirectories").WithDefault(false),
		}, "directory"),
		Effect: tool.EffectReadOnly,
		Handler: func(ctx context.Context, args tool.Arguments) (any, error) {
			return exploreDirectory(ctx, args.String("directory"), args.Strings("extensions"), args.Int("limit"), args.Bool("recursive"))
		},
	}
}

func exploreDirectory(ctx context.Context, dir string, extensions []string, limit int, recursive bool) (DirectoryListing, error) {
	dir = strings.TrimSpace(dir)
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DirectoryListing{}, services.Wrap(services.ErrNotFound, "explore", "stat", fmt.Sprintf("directory not found: %s", dir), nil)
		}
		return DirectoryListing{}, services.Wrap(services.ErrExternalTool, "explore", "stat", "cannot read directory", err)
	}
	if !info.IsDir() {
		return DirectoryListing{}, tool.InvalidArgument("directory", "%s is not a directory", dir)
	}

	wanted := make(map[string]bool)
	for _, ext := range extensions {
		wanted["."+strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}
	if len(wanted) == 0 {
		for _, f := range backend.SupportedFormats {
			wanted[f.Extension] = true
		}
	}

	listing := DirectoryListing{Directory: dir, Recursive: recursive, ByFormat: map[string]int{}, Files: []FileInfo{}}
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			// Unreadable subtrees are skipped rather than failing the listing.
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !wanted[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		format, _ := backend.FormatForPath(path)
		listing.TotalFiles++
		listing.ByFormat[format.Name]++
		if len(listing.Files) < limit {
			fi, err := d.Info()
			if err != nil {
				return nil
			}
			listing.Files = append(listing.Files, FileInfo{Path: path, Name: d.Name(), Format: format.Name, SizeBytes: fi.Size()})
		}
		return nil
	})
	if err != nil {
		return DirectoryListing{}, services.Wrap(services.ErrExternalTool, "explore", "walk", "directory scan failed", err)
	}
	slices.SortFunc(listing.Files, func(a, b FileInfo) int { return strings.Compare(a.Path, b.Path) })
	listing.Shown = len(listing.Files)
	listing.Truncated = listing.TotalFiles > listing.Shown
	return listing, nil
}
