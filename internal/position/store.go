// =================================
// File: internal/position/store.go
// =================================
package position

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Stats are the portfolio counters persisted alongside positions.
type Stats struct {
	DailyPnlUsdc      float64    `json:"daily_pnl_usdc"`
	ConsecutiveLosses int        `json:"consecutive_losses"`
	LastLossTime      *time.Time `json:"last_loss_time,omitempty"`
}

// Snapshot is the persisted document: one file per calendar day.
type Snapshot struct {
	SavedAt time.Time   `json:"saved_at"`
	Open    []*Position `json:"open"`
	Closed  []*Position `json:"closed"`
	Stats   Stats       `json:"stats"`
}

// Store writes day-keyed snapshot files. Writes go through a temp file
// and rename so a crash mid-write never corrupts the previous snapshot.
type Store struct {
	dir    string
	logger *zap.Logger

	// now is swappable for tests.
	now func() time.Time
}

func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &Store{
		dir:    dir,
		logger: logger.Named("store"),
		now:    time.Now,
	}, nil
}

func (s *Store) pathFor(day time.Time) string {
	return filepath.Join(s.dir, "positions_"+day.Format("2006-01-02")+".json")
}

// Save writes the snapshot to today's file atomically.
func (s *Store) Save(snapshot *Snapshot) error {
	snapshot.SavedAt = s.now().UTC()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	path := s.pathFor(s.now())
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// Load restores today's snapshot. When today has no file yet, the
// prior day's open positions carry over but its risk counters do not:
// a new trading day starts with clean PnL and loss streaks while still
// tracking open risk.
func (s *Store) Load() (*Snapshot, error) {
	today := s.now()

	snapshot, err := s.loadFile(s.pathFor(today))
	if err == nil {
		s.logger.Info("📂 Restored today's positions",
			zap.Int("open", len(snapshot.Open)),
			zap.Int("closed", len(snapshot.Closed)))
		return snapshot, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	prior, perr := s.loadFile(s.pathFor(today.AddDate(0, 0, -1)))
	if perr != nil {
		if os.IsNotExist(perr) {
			return &Snapshot{}, nil
		}
		return nil, perr
	}

	carried := &Snapshot{Open: prior.Open}
	s.logger.Info("📂 Carried open positions from prior day, counters reset",
		zap.Int("open", len(carried.Open)))
	return carried, nil
}

func (s *Store) loadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return &snapshot, nil
}
