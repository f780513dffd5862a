package timesync

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSymmetricAdvantageNeverSleeps(t *testing.T) {
	ts := New(40, 2, 9)
	for i := 0; i < 40; i++ {
		ts.AdvanceFrame(5, 5)
	}
	// property 7: when both peers report the same local_frame_advantage k
	// (the remote sample is the peer's own reported advantage), neither
	// recommends sleep > 0, whether k is positive or negative.
	ts2 := New(40, 2, 9)
	for i := 0; i < 40; i++ {
		ts2.AdvanceFrame(-5, -5)
	}
	require.Equal(t, 0, ts.GetRecommendedSleep())
	require.Equal(t, 0, ts2.GetRecommendedSleep())
}

func TestBehindNeverSleeps(t *testing.T) {
	ts := New(40, 2, 9)
	for i := 0; i < 40; i++ {
		ts.AdvanceFrame(-3, 3)
	}
	require.Equal(t, 0, ts.GetRecommendedSleep())
}

func TestAheadRecommendsClampedSleep(t *testing.T) {
	ts := New(40, 2, 9)
	for i := 0; i < 40; i++ {
		ts.AdvanceFrame(20, 0)
	}
	require.Equal(t, 9, ts.GetRecommendedSleep())
}

func TestBelowMinimumNoSleep(t *testing.T) {
	ts := New(40, 2, 9)
	for i := 0; i < 40; i++ {
		ts.AdvanceFrame(2, 0)
	}
	require.Equal(t, 0, ts.GetRecommendedSleep())
}

func TestEmptyWindowNoSleep(t *testing.T) {
	ts := New(40, 2, 9)
	require.Equal(t, 0, ts.GetRecommendedSleep())
}
