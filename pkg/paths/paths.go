// Package paths centralizes the series directory layout. Nothing else in
// the codebase joins path components for series or volume files.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SeriesPaths holds the resolved series-level files. WorldInfo and
// StyleGuide are empty when neither a volume nor a series copy exists.
type SeriesPaths struct {
	Root       string
	GlossaryDB string
	WorldInfo  string
	StyleGuide string
}

// VolumePaths holds every path under one volume directory. The .state
// subdirectory is the per-volume isolation boundary; nothing outside the
// volume writes into it.
type VolumePaths struct {
	VolumeDir string
	SourceDir string
	OutputDir string
	StateDir  string
	StateDB   string
	LogsDir   string
	CacheDir  string
}

// ResolveVolumeFromChapter extracts the volume and chapter names from a
// chapter path, which must follow {volume}/source/{chapter}.txt under the
// series root. Relative paths are taken relative to the root. The returned
// chapter name has no extension.
func ResolveVolumeFromChapter(seriesRoot, chapterPath string) (volume string, chapter string, err error) {
	root, err := filepath.Abs(seriesRoot)
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve series root: %w", err)
	}

	abs := chapterPath
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}
	abs = filepath.Clean(abs)

	rel, err := filepath.Rel(root, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", "", fmt.Errorf("chapter path %s is not inside series root %s", chapterPath, root)
	}

	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) != 3 || parts[1] != "source" {
		return "", "", fmt.Errorf("chapter path must follow {volume}/source/{chapter}.txt, got %s", rel)
	}

	name := parts[2]
	name = strings.TrimSuffix(name, filepath.Ext(name))
	if name == "" {
		return "", "", fmt.Errorf("chapter path has no file name: %s", rel)
	}

	return parts[0], name, nil
}

// ForSeries resolves series-level paths. When volumeName is non-empty, a
// world_info.md or style_guide.md inside that volume shadows the series
// copy.
func ForSeries(seriesRoot, volumeName string) (SeriesPaths, error) {
	root, err := filepath.Abs(seriesRoot)
	if err != nil {
		return SeriesPaths{}, fmt.Errorf("failed to resolve series root: %w", err)
	}

	p := SeriesPaths{
		Root:       root,
		GlossaryDB: filepath.Join(root, "glossary.db"),
	}

	if volumeName != "" {
		p.WorldInfo = existingFile(filepath.Join(root, volumeName, "world_info.md"))
		p.StyleGuide = existingFile(filepath.Join(root, volumeName, "style_guide.md"))
	}
	if p.WorldInfo == "" {
		p.WorldInfo = existingFile(filepath.Join(root, "world_info.md"))
	}
	if p.StyleGuide == "" {
		p.StyleGuide = existingFile(filepath.Join(root, "style_guide.md"))
	}

	return p, nil
}

// ForVolume resolves all paths under one volume directory. Nothing is
// created; call EnsureVolumeDirs for that.
func ForVolume(seriesRoot, volumeName string) (VolumePaths, error) {
	root, err := filepath.Abs(seriesRoot)
	if err != nil {
		return VolumePaths{}, fmt.Errorf("failed to resolve series root: %w", err)
	}
	if volumeName == "" || strings.ContainsRune(volumeName, filepath.Separator) {
		return VolumePaths{}, fmt.Errorf("invalid volume name %q", volumeName)
	}

	vol := filepath.Join(root, volumeName)
	state := filepath.Join(vol, ".state")
	return VolumePaths{
		VolumeDir: vol,
		SourceDir: filepath.Join(vol, "source"),
		OutputDir: filepath.Join(vol, "output"),
		StateDir:  state,
		StateDB:   filepath.Join(state, "state.db"),
		LogsDir:   filepath.Join(state, "logs"),
		CacheDir:  filepath.Join(state, "cache"),
	}, nil
}

// EnsureVolumeDirs creates the volume directory tree.
func EnsureVolumeDirs(p VolumePaths) error {
	for _, dir := range []string{p.SourceDir, p.OutputDir, p.StateDir, p.LogsDir, p.CacheDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// ResolvePrompt returns the prompt text for name. A series-level override at
// {root}/prompts/{name}.txt wins over the bundled default.
func ResolvePrompt(seriesRoot, name string, bundled map[string]string) (string, error) {
	override := filepath.Join(seriesRoot, "prompts", name+".txt")
	data, err := os.ReadFile(override)
	if err == nil {
		return string(data), nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read prompt override %s: %w", override, err)
	}

	if text, ok := bundled[name]; ok {
		return text, nil
	}
	return "", fmt.Errorf("prompt %q not found at %s and not bundled", name, override)
}

// SourceChapters lists the chapter files in a volume's source directory,
// sorted by name, as chapter names without extension.
func SourceChapters(p VolumePaths) ([]string, error) {
	entries, err := os.ReadDir(p.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read source directory: %w", err)
	}

	chapters := []string{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		chapters = append(chapters, strings.TrimSuffix(entry.Name(), ".txt"))
	}
	return chapters, nil
}

// ChapterSourcePath returns the source file for a chapter name.
func ChapterSourcePath(p VolumePaths, chapter string) string {
	return filepath.Join(p.SourceDir, chapter+".txt")
}

// ChapterOutputPath returns the assembled translation file for a chapter.
func ChapterOutputPath(p VolumePaths, chapter string) string {
	return filepath.Join(p.OutputDir, chapter+".txt")
}

func existingFile(path string) string {
	info, err := os.Stat(path)
	if err == nil && info.Mode().IsRegular() {
		return path
	}
	return ""
}
