package registry

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/toolbox/internal/artifact"
	"github.com/aliskhannn/toolbox/internal/model"
)

// DefaultRetention is how long an undelivered record is kept.
const DefaultRetention = time.Hour

// SweepResult summarizes a single sweep over one store.
type SweepResult struct {
	Kind       model.Kind     `json:"kind"`
	Evicted    []model.Record `json:"evicted"`
	Skipped    int            `json:"skipped"`     // eligible but leased by a running download
	FileErrors int            `json:"file_errors"` // files that could not be deleted
}

// Sweeper removes delivered or expired records together with their files.
type Sweeper struct {
	outputDir string
	retention time.Duration
	now       func() time.Time
	remove    func(string) error
}

// NewSweeper creates a Sweeper for artifacts stored in outputDir.
// A non-positive retention falls back to DefaultRetention.
func NewSweeper(outputDir string, retention time.Duration) *Sweeper {
	if retention <= 0 {
		retention = DefaultRetention
	}

	return &Sweeper{
		outputDir: outputDir,
		retention: retention,
		now:       time.Now,
		remove:    os.Remove,
	}
}

// Retention returns the configured retention window.
func (sw *Sweeper) Retention() time.Duration {
	return sw.retention
}

type candidate struct {
	token string
	entry *entry
}

// Sweep evicts every record of s that is consumed or older than the retention window.
//
// Eligibility is decided under the store lock; records currently leased by a
// download are skipped and picked up by a later sweep. Failing to delete a
// file is logged and does not keep the record in the store.
func (sw *Sweeper) Sweep(s *Store) SweepResult {
	now := sw.now()
	res := SweepResult{Kind: s.Kind()}

	s.mu.RLock()
	candidates := make([]candidate, 0)
	for tok, e := range s.entries {
		if e.rec.Evictable(now, sw.retention) {
			candidates = append(candidates, candidate{token: tok, entry: e})
		}
	}
	s.mu.RUnlock()

	for _, c := range candidates {
		if !c.entry.lease.TryLock() {
			res.Skipped++
			continue
		}

		s.mu.RLock()
		current := s.entries[c.token]
		rec := snapshot(c.entry.rec)
		s.mu.RUnlock()

		if current != c.entry {
			c.entry.lease.Unlock()
			continue
		}

		res.FileErrors += sw.removeFiles(rec)

		s.mu.Lock()
		if s.entries[c.token] == c.entry {
			s.removeLocked(c.token, c.entry)
		}
		s.mu.Unlock()

		c.entry.lease.Unlock()
		res.Evicted = append(res.Evicted, rec)
	}

	s.pruneGone(now.Add(-sw.retention))

	if len(res.Evicted) > 0 || res.FileErrors > 0 {
		zlog.Logger.Info().
			Str("kind", string(res.Kind)).
			Int("evicted", len(res.Evicted)).
			Int("skipped", res.Skipped).
			Int("file_errors", res.FileErrors).
			Msg("sweep finished")
	}

	return res
}

// removeFiles deletes the source, the derived artifact, its scratch file and the
// recorded output path. It returns the number of deletions that failed.
func (sw *Sweeper) removeFiles(rec model.Record) int {
	out := artifact.Path(sw.outputDir, rec.Kind, rec.Token, rec.Params)

	paths := []string{rec.SourcePath, out, artifact.PartialPath(out)}
	if rec.OutputPath != "" && rec.OutputPath != out {
		paths = append(paths, rec.OutputPath)
	}

	failed := 0
	for _, p := range paths {
		if p == "" {
			continue
		}

		if err := sw.remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			zlog.Logger.Warn().
				Err(err).
				Str("token", rec.Token).
				Str("path", p).
				Msg("failed to remove file")
			failed++
		}
	}

	return failed
}
