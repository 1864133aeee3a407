package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/spinsense/internal/spin"
)

// DetectorConfig is the stored detector profile. There is at most one row.
type DetectorConfig struct {
	Threshold    float64 `json:"threshold"`
	StartDelayMs int64   `json:"start_delay_ms"`
	StopDelayMs  int64   `json:"stop_delay_ms"`
	StatsWindow  int     `json:"stats_window"`
	UpdatedAt    int64   `json:"updated_at"`
}

// DetectorConfigFrom converts detector parameters to their stored form.
func DetectorConfigFrom(c spin.Config, statsWindow int) DetectorConfig {
	return DetectorConfig{
		Threshold:    c.Threshold,
		StartDelayMs: c.StartDelay.Milliseconds(),
		StopDelayMs:  c.StopDelay.Milliseconds(),
		StatsWindow:  statsWindow,
	}
}

// Validate checks that the profile converts to a usable detector config. It
// catches delays that overflow a Duration and out of range stats windows,
// which spin.Config cannot represent.
func (c DetectorConfig) Validate() error {
	if _, err := spin.DelayFromMillis(c.StartDelayMs); err != nil {
		return fmt.Errorf("start delay: %w", err)
	}
	if _, err := spin.DelayFromMillis(c.StopDelayMs); err != nil {
		return fmt.Errorf("stop delay: %w", err)
	}
	if err := spin.ValidateStatsWindow(c.StatsWindow); err != nil {
		return err
	}
	return c.SpinConfig().Validate()
}

// SpinConfig returns the detector parameters held by the profile. Call
// Validate first on profiles from outside the process.
func (c DetectorConfig) SpinConfig() spin.Config {
	return spin.Config{
		Threshold:  c.Threshold,
		StartDelay: time.Duration(c.StartDelayMs) * time.Millisecond,
		StopDelay:  time.Duration(c.StopDelayMs) * time.Millisecond,
	}
}

// GetDetectorConfig returns the stored profile, or nil if none was saved.
func (db *DB) GetDetectorConfig() (*DetectorConfig, error) {
	var c DetectorConfig
	err := db.QueryRow(`SELECT threshold, start_delay_ms, stop_delay_ms, stats_window, updated_at
	                    FROM detector_config WHERE id = 1`).
		Scan(&c.Threshold, &c.StartDelayMs, &c.StopDelayMs, &c.StatsWindow, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get detector config: %w", err)
	}
	return &c, nil
}

// SaveDetectorConfig validates and stores the profile, replacing any
// previous one. UpdatedAt is set on c.
func (db *DB) SaveDetectorConfig(c *DetectorConfig) error {
	if c.StatsWindow <= 0 {
		c.StatsWindow = spin.DefaultStatsWindow
	}
	if err := c.Validate(); err != nil {
		return err
	}
	c.UpdatedAt = time.Now().Unix()

	_, err := db.Exec(`INSERT INTO detector_config (id, threshold, start_delay_ms, stop_delay_ms, stats_window, updated_at)
	                   VALUES (1, ?, ?, ?, ?, ?)
	                   ON CONFLICT(id) DO UPDATE SET
	                       threshold = excluded.threshold,
	                       start_delay_ms = excluded.start_delay_ms,
	                       stop_delay_ms = excluded.stop_delay_ms,
	                       stats_window = excluded.stats_window,
	                       updated_at = excluded.updated_at`,
		c.Threshold, c.StartDelayMs, c.StopDelayMs, c.StatsWindow, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save detector config: %w", err)
	}
	return nil
}

// DeleteDetectorConfig removes the stored profile so file and built-in
// defaults apply again.
func (db *DB) DeleteDetectorConfig() error {
	if _, err := db.Exec(`DELETE FROM detector_config WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to delete detector config: %w", err)
	}
	return nil
}
