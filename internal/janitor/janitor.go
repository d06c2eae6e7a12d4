// Package janitor periodically evicts old files from the log and
// cascade-debug-dump folders, backing the `clean` bot command. Eviction
// is by age on a schedule or on demand; nothing here reacts to a file
// appearing.
package janitor

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/dieriver/balrog-go/internal/servicelog"
)

// Janitor sweeps a fixed set of folders on a schedule, or on demand via
// RunNow (the `clean` bot command).
type Janitor struct {
	folders   []string
	retention time.Duration
	interval  time.Duration
	logger    servicelog.Logger

	trigger chan struct{}
}

// New builds a Janitor retaining files younger than retention in folders,
// sweeping every interval and on every RunNow call.
func New(logger servicelog.Logger, folders []string, retention, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{
		folders:   folders,
		retention: retention,
		interval:  interval,
		logger:    logger,
		trigger:   make(chan struct{}, 1),
	}
}

// RunNow requests an immediate sweep, coalesced with any pending request.
func (j *Janitor) RunNow() {
	select {
	case j.trigger <- struct{}{}:
	default:
	}
}

// Run sweeps on the configured interval and whenever RunNow is called,
// until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	j.sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep()
		case <-j.trigger:
			j.sweep()
		}
	}
}

func (j *Janitor) sweep() {
	cutoff := time.Now().Add(-j.retention)
	for _, folder := range j.folders {
		if folder == "" {
			continue
		}
		j.sweepFolder(folder, cutoff)
	}
}

func (j *Janitor) sweepFolder(folder string, cutoff time.Time) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		if !os.IsNotExist(err) {
			j.logger.Error("janitor: failed to read folder", servicelog.String("folder", folder), servicelog.Error(err))
		}
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			j.logger.Warn("janitor: failed to stat entry", servicelog.String("file", entry.Name()), servicelog.Error(err))
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(folder, entry.Name())
		if err := os.Remove(path); err != nil {
			j.logger.Warn("janitor: failed to remove stale file", servicelog.String("file", path), servicelog.Error(err))
			continue
		}
		j.logger.Info("janitor: removed stale file", servicelog.String("file", path), servicelog.Time("modtime", info.ModTime()))
	}
}
