package peer

import "time"

// Config bundles the per-peer protocol timing parameters.
type Config struct {
	NumSyncPackets        int
	KeepAliveInterval     time.Duration
	QualityReportInterval time.Duration
	DisconnectNotifyStart time.Duration
	DisconnectTimeout     time.Duration
	SendLatency           time.Duration
	MaxPendingInputs      int
}

// DefaultConfig returns the recommended default timing values.
func DefaultConfig() Config {
	return Config{
		NumSyncPackets:        5,
		KeepAliveInterval:     200 * time.Millisecond,
		QualityReportInterval: time.Second,
		DisconnectNotifyStart: 750 * time.Millisecond,
		DisconnectTimeout:     5 * time.Second,
		SendLatency:           200 * time.Millisecond,
		MaxPendingInputs:      DefaultMaxPendingInputs,
	}
}
