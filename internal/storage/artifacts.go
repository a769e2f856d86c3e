package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Layout resolves every path in the per-job artifact tree. All components go
// through it so the directory shape has a single owner.
type Layout struct {
	OutputsRoot string
	UploadsRoot string
	JobDataRoot string
}

// NewLayout creates the three filesystem roots if they don't exist yet.
func NewLayout(outputsRoot, uploadsRoot, jobDataRoot string) (*Layout, error) {
	l := &Layout{OutputsRoot: outputsRoot, UploadsRoot: uploadsRoot, JobDataRoot: jobDataRoot}
	for _, dir := range []string{outputsRoot, uploadsRoot, jobDataRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return l, nil
}

func (l *Layout) JobDir(jobID string) string  { return filepath.Join(l.OutputsRoot, jobID) }
func (l *Layout) JobRecord(jobID string) string {
	return filepath.Join(l.JobDataRoot, jobID+".json")
}
func (l *Layout) ScriptPath(jobID string) string {
	return filepath.Join(l.JobDir(jobID), "script.json")
}
func (l *Layout) SectionsDir(jobID string) string {
	return filepath.Join(l.JobDir(jobID), "sections")
}
func (l *Layout) SectionDir(jobID string, index int) string {
	return filepath.Join(l.SectionsDir(jobID), strconv.Itoa(index))
}

// LegacySectionDir is the id-keyed directory older pipelines wrote.
func (l *Layout) LegacySectionDir(jobID, sectionID string) string {
	return filepath.Join(l.SectionsDir(jobID), sectionID)
}

func (l *Layout) SectionAudio(jobID string, index int) string {
	return filepath.Join(l.SectionDir(jobID, index), "section_audio.mp3")
}
func (l *Layout) SceneFile(jobID string, index int) string {
	return filepath.Join(l.SectionDir(jobID, index), fmt.Sprintf("scene_%d.py", index))
}
func (l *Layout) FinalSection(jobID string, index int) string {
	return filepath.Join(l.SectionDir(jobID, index), "final_section.mp4")
}

// LegacyMergedSection is the flat merged_<i>.mp4 older pipelines wrote.
func (l *Layout) LegacyMergedSection(jobID string, index int) string {
	return filepath.Join(l.SectionsDir(jobID), fmt.Sprintf("merged_%d.mp4", index))
}

func (l *Layout) ChoreographyPlan(jobID string, index int) string {
	return filepath.Join(l.SectionDir(jobID, index), "choreography_plan.json")
}
func (l *Layout) VisualScript(jobID string, index int) string {
	return filepath.Join(l.SectionDir(jobID, index), fmt.Sprintf("visual_script_%d.json", index))
}
func (l *Layout) SectionStatus(jobID string, index int) string {
	return filepath.Join(l.SectionDir(jobID, index), "status.json")
}

func (l *Layout) ConcatList(jobID string) string {
	return filepath.Join(l.JobDir(jobID), "concat_list.txt")
}
func (l *Layout) FinalVideo(jobID string) string {
	return filepath.Join(l.JobDir(jobID), "final_video.mp4")
}
func (l *Layout) Thumbnail(jobID string) string {
	return filepath.Join(l.JobDir(jobID), "thumbnail.jpg")
}
func (l *Layout) VideoInfoPath(jobID string) string {
	return filepath.Join(l.JobDir(jobID), "video_info.json")
}
func (l *Layout) TranslationsDir(jobID string) string {
	return filepath.Join(l.JobDir(jobID), "translations")
}

func (l *Layout) UploadPath(fileID, ext string) string {
	return filepath.Join(l.UploadsRoot, fileID+ext)
}

// FindUpload locates an uploaded file by id regardless of extension.
func (l *Layout) FindUpload(fileID string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(l.UploadsRoot, fileID+".*"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		// Uploads may be stored without a dot when the original had no extension.
		candidate := filepath.Join(l.UploadsRoot, fileID)
		if _, statErr := os.Stat(candidate); statErr == nil {
			return candidate, nil
		}
		return "", fmt.Errorf("uploaded file not found for id %s", fileID)
	}
	return matches[0], nil
}

// ResolveSectionVideo returns the section's final MP4, trying the preferred
// index-based path first, then the legacy forms, then any MP4 in the
// section directory.
func (l *Layout) ResolveSectionVideo(jobID string, index int, sectionID string) (string, bool) {
	preferred := l.FinalSection(jobID, index)
	if fileExists(preferred) {
		return preferred, true
	}
	legacy := l.LegacyMergedSection(jobID, index)
	if fileExists(legacy) {
		return legacy, true
	}
	for _, dir := range []string{l.SectionDir(jobID, index), l.LegacySectionDir(jobID, sectionID)} {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if !e.IsDir() && filepath.Ext(e.Name()) == ".mp4" {
				return filepath.Join(dir, e.Name()), true
			}
		}
	}
	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it into place, so concurrent readers never see a partial write.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// WriteJSONAtomic marshals v with indentation and writes it atomically.
func WriteJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	return WriteFileAtomic(path, data)
}
