package jobfiles

import (
	"context"
	"time"

	"github.com/invoicator-app/invoicator/internal/store"
)

// Sweeper runs the cleanup passes over the store and the scratch directory.
type Sweeper struct {
	files *Manager
	jobs  store.JobStore
}

func NewSweeper(files *Manager, jobs store.JobStore) *Sweeper {
	return &Sweeper{files: files, jobs: jobs}
}

// SweepResult reports what one pass touched.
type SweepResult struct {
	ExpiredJobs  int      `json:"expired_jobs"`
	OrphanedJobs int      `json:"orphaned_jobs"`
	DeletedJobs  int      `json:"deleted_jobs"`
	Errors       []string `json:"errors,omitempty"`
}

// SweepExpired marks live jobs past their deadline as expired and removes
// their scratch files. Already-terminal jobs are untouched, which makes a
// second pass over the same set a no-op.
func (s *Sweeper) SweepExpired(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	expired, err := s.jobs.ListExpired(ctx, now)
	if err != nil {
		return res, err
	}
	for _, job := range expired {
		if err := s.jobs.MarkExpired(ctx, job.ID); err != nil {
			// lost the race against a concurrent transition; skip the files
			res.Errors = append(res.Errors, err.Error())
			continue
		}
		res.ExpiredJobs++
		for _, ferr := range s.files.DeleteJobFiles(job.ID) {
			res.Errors = append(res.Errors, ferr.Error())
		}
	}
	return res, nil
}

// SweepOrphans removes scratch files whose job id no longer exists in the
// store, typically left behind by a crash between file write and job insert.
func (s *Sweeper) SweepOrphans(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	onDisk, err := s.files.JobIDsOnDisk()
	if err != nil {
		return res, err
	}
	ids, err := s.jobs.ListJobIDs(ctx)
	if err != nil {
		return res, err
	}
	known := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}
	for id := range onDisk {
		if _, ok := known[id]; ok {
			continue
		}
		res.OrphanedJobs++
		for _, ferr := range s.files.DeleteJobFiles(id) {
			res.Errors = append(res.Errors, ferr.Error())
		}
	}
	return res, nil
}

// ForceCleanup deletes every job and every scratch file. Meant for operator
// use, not for the periodic sweep loop.
func (s *Sweeper) ForceCleanup(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	onDisk, err := s.files.JobIDsOnDisk()
	if err != nil {
		return res, err
	}
	for id := range onDisk {
		for _, ferr := range s.files.DeleteJobFiles(id) {
			res.Errors = append(res.Errors, ferr.Error())
		}
	}
	deleted, err := s.jobs.DeleteAllJobs(ctx)
	if err != nil {
		return res, err
	}
	res.DeletedJobs = deleted
	return res, nil
}

// Run executes both periodic sweeps until the context is canceled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if _, err := s.SweepExpired(ctx, now); err != nil {
				s.files.logger.Error("jobfiles.expired_sweep_failed", "error", err)
			}
			if _, err := s.SweepOrphans(ctx); err != nil {
				s.files.logger.Error("jobfiles.orphan_sweep_failed", "error", err)
			}
		}
	}
}
