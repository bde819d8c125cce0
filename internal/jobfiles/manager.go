// Package jobfiles owns the per-job scratch space under the temp directory
// and the sweeps that keep it from filling up.
package jobfiles

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Scratch files follow a fixed naming scheme so a sweep can attribute any
// file to its job by name alone:
//
//	{temp}/{job_id}_original.{ext}
//	{temp}/{job_id}_page_{n}.png
//	{temp}/{job_id}_preprocessed.png
type Manager struct {
	tempDir string
	logger  *slog.Logger
}

func NewManager(tempDir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{tempDir: tempDir, logger: logger}
}

func (m *Manager) TempDir() string { return m.tempDir }

func (m *Manager) OriginalPath(jobID, ext string) string {
	return filepath.Join(m.tempDir, fmt.Sprintf("%s_original.%s", jobID, strings.TrimPrefix(ext, ".")))
}

func (m *Manager) PagePath(jobID string, page int) string {
	return filepath.Join(m.tempDir, fmt.Sprintf("%s_page_%d.png", jobID, page))
}

func (m *Manager) PreprocessedPath(jobID string) string {
	return filepath.Join(m.tempDir, jobID+"_preprocessed.png")
}

// SaveOriginal copies an uploaded document into the job's scratch space.
func (m *Manager) SaveOriginal(jobID, ext string, r io.Reader) (string, error) {
	if err := os.MkdirAll(m.tempDir, 0o755); err != nil {
		return "", err
	}
	dst := m.OriginalPath(jobID, ext)
	f, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		os.Remove(dst)
		return "", err
	}
	return dst, nil
}

// DeleteJobFiles removes every scratch file belonging to the job. Deletion
// is best-effort: all files are attempted and the failures come back as a
// list rather than aborting on the first one.
func (m *Manager) DeleteJobFiles(jobID string) []error {
	var errs []error
	for _, path := range m.listJobFiles(jobID) {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("removing %s: %w", path, err))
		}
	}
	if len(errs) > 0 {
		m.logger.Warn("jobfiles.delete_incomplete", "job_id", jobID, "failures", len(errs))
	} else {
		m.logger.Debug("jobfiles.deleted", "job_id", jobID)
	}
	return errs
}

func (m *Manager) listJobFiles(jobID string) []string {
	matches, _ := filepath.Glob(filepath.Join(m.tempDir, jobID+"_*"))
	return matches
}

// JobIDsOnDisk returns the set of job ids that own at least one scratch file.
func (m *Manager) JobIDsOnDisk() (map[string]struct{}, error) {
	entries, err := os.ReadDir(m.tempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]struct{}{}, nil
		}
		return nil, err
	}
	ids := make(map[string]struct{})
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := jobIDFromFilename(e.Name()); ok {
			ids[id] = struct{}{}
		}
	}
	return ids, nil
}

// jobIDFromFilename reverses the naming scheme; files that don't match it
// are ignored rather than deleted.
func jobIDFromFilename(name string) (string, bool) {
	for _, marker := range []string{"_original.", "_page_", "_preprocessed."} {
		if i := strings.LastIndex(name, marker); i > 0 {
			return name[:i], true
		}
	}
	return "", false
}

// Stats summarizes what the temp directory currently holds.
type Stats struct {
	Files      int   `json:"files"`
	TotalBytes int64 `json:"total_bytes"`
	Jobs       int   `json:"jobs"`
}

func (m *Manager) Stats() (Stats, error) {
	entries, err := os.ReadDir(m.tempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return Stats{}, nil
		}
		return Stats{}, err
	}
	var st Stats
	jobs := make(map[string]struct{})
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		st.Files++
		if info, err := e.Info(); err == nil {
			st.TotalBytes += info.Size()
		}
		if id, ok := jobIDFromFilename(e.Name()); ok {
			jobs[id] = struct{}{}
		}
	}
	st.Jobs = len(jobs)
	return st, nil
}
