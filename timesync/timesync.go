// Package timesync implements TimeSync: a rolling-window frame-advantage
// estimator that recommends how many frames the locally-ahead peer should
// sleep to let the slower peer catch up.
package timesync

import "github.com/cppla-netsync/netsync/frame"

// TimeSync accumulates the last Window samples of (local, remote) frame
// advantage and derives a recommended sleep count from their averages.
type TimeSync struct {
	window            int
	minFrameAdvantage int
	maxFrameAdvantage int

	local  []frame.FrameSpan
	remote []frame.FrameSpan
	next   int
	filled int
}

// New builds a TimeSync with the given rolling window size and sleep
// clamp bounds (recommended defaults: window=40, min=2, max=9).
func New(window, minFrameAdvantage, maxFrameAdvantage int) *TimeSync {
	return &TimeSync{
		window:            window,
		minFrameAdvantage: minFrameAdvantage,
		maxFrameAdvantage: maxFrameAdvantage,
		local:             make([]frame.FrameSpan, window),
		remote:            make([]frame.FrameSpan, window),
	}
}

// AdvanceFrame records one sample: the local peer's frame advantage over
// the remote peer, and the remote's reported advantage over us.
func (t *TimeSync) AdvanceFrame(localAdvantage, remoteAdvantage frame.FrameSpan) {
	t.local[t.next] = localAdvantage
	t.remote[t.next] = remoteAdvantage
	t.next = (t.next + 1) % t.window
	if t.filled < t.window {
		t.filled++
	}
}

// GetRecommendedSleep returns how many frames the host should sleep this
// tick. If we're behind on average (avg_local < avg_remote) it returns 0;
// don't sleep, catch up. Otherwise it returns half the average lead,
// clamped to [0, maxFrameAdvantage], and only once that lead exceeds
// minFrameAdvantage.
func (t *TimeSync) GetRecommendedSleep() int {
	if t.filled == 0 {
		return 0
	}
	var sumLocal, sumRemote int64
	for i := 0; i < t.filled; i++ {
		sumLocal += int64(t.local[i])
		sumRemote += int64(t.remote[i])
	}
	avgLocal := float64(sumLocal) / float64(t.filled)
	avgRemote := float64(sumRemote) / float64(t.filled)

	if avgLocal < avgRemote {
		return 0
	}
	lead := (avgLocal - avgRemote) / 2
	if lead <= float64(t.minFrameAdvantage) {
		return 0
	}
	sleep := int(lead)
	if sleep > t.maxFrameAdvantage {
		sleep = t.maxFrameAdvantage
	}
	if sleep < 0 {
		sleep = 0
	}
	return sleep
}

// Reset clears all recorded samples, e.g. on peer reconnect.
func (t *TimeSync) Reset() {
	t.next = 0
	t.filled = 0
}
