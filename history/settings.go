package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pagesnap/pagesnap/capture"
)

// Settings is the tunable subset of capture.Config persisted in the
// settings table. Zero fields fall back to the engine defaults.
type Settings struct {
	Overlap                    int    `json:"overlap,omitempty"`
	SettleDelayMs              int    `json:"settle_delay_ms,omitempty"`
	SegmentTimeoutMs           int    `json:"segment_timeout_ms,omitempty"`
	TotalTimeoutMs             int    `json:"total_timeout_ms,omitempty"`
	MaxSegments                int    `json:"max_segments,omitempty"`
	MaxLogicalHeight           int    `json:"max_logical_height,omitempty"`
	MaxOutputDimension         int    `json:"max_output_dimension,omitempty"`
	MaxOutputBytes             int    `json:"max_output_bytes,omitempty"`
	JPEGQualities              []int  `json:"jpeg_qualities,omitempty"`
	AllowPartialOnFinalTimeout bool   `json:"allow_partial_on_final_timeout,omitempty"`
}

// Apply overlays the settings onto a capture.Config. Zero fields leave
// the config untouched.
func (st Settings) Apply(cfg capture.Config) capture.Config {
	if st.Overlap > 0 {
		cfg.Overlap = st.Overlap
	}
	if st.SettleDelayMs > 0 {
		cfg.SettleDelay = time.Duration(st.SettleDelayMs) * time.Millisecond
	}
	if st.SegmentTimeoutMs > 0 {
		cfg.SegmentTimeout = time.Duration(st.SegmentTimeoutMs) * time.Millisecond
	}
	if st.TotalTimeoutMs > 0 {
		cfg.TotalTimeout = time.Duration(st.TotalTimeoutMs) * time.Millisecond
	}
	if st.MaxSegments > 0 {
		cfg.MaxSegments = st.MaxSegments
	}
	if st.MaxLogicalHeight > 0 {
		cfg.MaxLogicalHeight = st.MaxLogicalHeight
	}
	if st.MaxOutputDimension > 0 {
		cfg.MaxOutputDimension = st.MaxOutputDimension
	}
	if st.MaxOutputBytes > 0 {
		cfg.MaxOutputBytes = st.MaxOutputBytes
	}
	if len(st.JPEGQualities) > 0 {
		cfg.JPEGQualities = st.JPEGQualities
	}
	if st.AllowPartialOnFinalTimeout {
		cfg.AllowPartialOnFinalTimeout = true
	}
	return cfg
}

// LoadSettings reads the single settings row.
func (s *Store) LoadSettings(ctx context.Context) (Settings, error) {
	var raw string
	err := s.DB.QueryRowContext(ctx,
		`SELECT config FROM settings WHERE id = 1`).Scan(&raw)
	if err != nil {
		return Settings{}, fmt.Errorf("history: load settings: %w", err)
	}
	var st Settings
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return Settings{}, fmt.Errorf("history: parse settings: %w", err)
	}
	return st, nil
}

// SaveSettings replaces the settings row. Watchers on other connections
// pick up the change through PRAGMA data_version.
func (s *Store) SaveSettings(ctx context.Context, st Settings) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("history: marshal settings: %w", err)
	}
	_, err = s.DB.ExecContext(ctx,
		`UPDATE settings SET config = ?, updated_at = ? WHERE id = 1`,
		string(raw), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("history: save settings: %w", err)
	}
	return nil
}
