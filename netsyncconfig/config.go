// Package netsyncconfig defines the Options a Session is constructed with,
// and the JSON loader that builds one from a config file: JSON file,
// env-var path override, Reload, per-field verify, with no package-global
// state; Options is always constructed and passed explicitly to the
// session constructor.
package netsyncconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/cppla-netsync/netsync/netsynclog"
)

// EnvOverridePath is the environment variable that selects the config file
// path when Load is called with an empty path; an explicit argument wins.
const EnvOverridePath = "NETSYNC_CONFIG"

// Options carries every session tunable plus the ambient logging config
// and the N-player/2-player confirmation compatibility toggle.
type Options struct {
	MaxPlayers    int `json:"max_players"`
	MaxSpectators int `json:"max_spectators"`

	PredictionFrames      int `json:"prediction_frames"`
	InputQueueLength      int `json:"input_queue_length"`
	FrameDelay            int `json:"frame_delay"`
	FramesPerSecond       int `json:"frames_per_second"`
	SyncPackets           int `json:"sync_packets"`
	RecommendationInterval int `json:"recommendation_interval"`

	KeepAliveInterval      time.Duration `json:"keep_alive_interval"`
	QualityReportInterval  time.Duration `json:"quality_report_interval"`
	DisconnectNotifyStart  time.Duration `json:"disconnect_notify_start"`
	DisconnectTimeout      time.Duration `json:"disconnect_timeout"`

	TimeSyncWindow    int `json:"time_sync_window"`
	MinFrameAdvantage int `json:"min_frame_advantage"`
	MaxFrameAdvantage int `json:"max_frame_advantage"`

	// LegacyTwoPlayerConfirmation reverts min_confirmed_frame computation
	// to the 2-player-only local-view path.
	LegacyTwoPlayerConfirmation bool `json:"legacy_two_player_confirmation"`

	Log netsynclog.Config `json:"log"`
}

// DefaultOptions returns the recommended defaults.
func DefaultOptions() *Options {
	return &Options{
		MaxPlayers:             4,
		MaxSpectators:          32,
		PredictionFrames:       8,
		InputQueueLength:       128,
		FrameDelay:             2,
		FramesPerSecond:        60,
		SyncPackets:            5,
		RecommendationInterval: 240,
		KeepAliveInterval:      200 * time.Millisecond,
		QualityReportInterval:  1000 * time.Millisecond,
		DisconnectNotifyStart:  750 * time.Millisecond,
		DisconnectTimeout:      5000 * time.Millisecond,
		TimeSyncWindow:         40,
		MinFrameAdvantage:      2,
		MaxFrameAdvantage:      9,
		Log:                    netsynclog.Config{Level: "info"},
	}
}

// Load reads and parses a JSON config file, starting from DefaultOptions
// and overlaying whatever fields are present in the file. If path is
// empty, EnvOverridePath is consulted.
func Load(path string) (*Options, error) {
	if path == "" {
		path = os.Getenv(EnvOverridePath)
	}
	opts := DefaultOptions()
	if path == "" {
		return opts, nil
	}
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("netsyncconfig: read %s: %w", path, err)
	}
	if err := json.Unmarshal(buf, opts); err != nil {
		return nil, fmt.Errorf("netsyncconfig: parse %s: %w", path, err)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// Reload re-reads path and returns a freshly loaded Options; it does not
// modify any existing Options value or package global.
func Reload(path string) (*Options, error) {
	return Load(path)
}

// Validate checks for the class of programmer error: malformed values the
// host should never pass, which fail fatally at the call site rather than
// being tolerated.
func (o *Options) Validate() error {
	if o.MaxPlayers <= 0 {
		return fmt.Errorf("netsyncconfig: max_players must be positive")
	}
	if o.MaxSpectators < 0 {
		return fmt.Errorf("netsyncconfig: max_spectators must not be negative")
	}
	if o.PredictionFrames <= 0 {
		return fmt.Errorf("netsyncconfig: prediction_frames must be positive")
	}
	if o.InputQueueLength <= o.PredictionFrames {
		return fmt.Errorf("netsyncconfig: input_queue_length must exceed prediction_frames")
	}
	if o.FrameDelay < 0 {
		return fmt.Errorf("netsyncconfig: frame_delay must not be negative")
	}
	if o.FramesPerSecond <= 0 {
		return fmt.Errorf("netsyncconfig: frames_per_second must be positive")
	}
	if o.SyncPackets <= 0 {
		return fmt.Errorf("netsyncconfig: sync_packets must be positive")
	}
	if o.TimeSyncWindow <= 0 {
		return fmt.Errorf("netsyncconfig: time_sync_window must be positive")
	}
	if o.MinFrameAdvantage < 0 || o.MaxFrameAdvantage < o.MinFrameAdvantage {
		return fmt.Errorf("netsyncconfig: invalid frame advantage bounds")
	}
	return nil
}
