package frame

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFrameOrdering(t *testing.T) {
	cases := []struct {
		name string
		a, b Frame
		want Frame
	}{
		{"both set, a smaller", Frame(3), Frame(7), Frame(3)},
		{"both set, b smaller", Frame(9), Frame(2), Frame(2)},
		{"a null", Null, Frame(5), Frame(5)},
		{"b null", Frame(5), Null, Frame(5)},
		{"both null", Null, Null, Null},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, Min(c.a, c.b))
		})
	}
}

func TestFrameNextPrevious(t *testing.T) {
	require.Equal(t, Frame(1), Zero.Next())
	require.Equal(t, Null, Zero.Previous())
	require.True(t, Null.IsNull())
	require.False(t, Zero.IsNull())
}

func TestFrameSpanDuration(t *testing.T) {
	require.Equal(t, time.Second, FrameSpan(60).Duration(60))
	require.Equal(t, time.Duration(0), FrameSpan(60).Duration(0))
	require.Equal(t, FrameSpan(60), SpanFromDuration(time.Second, 60))
}

func TestFrameSpanAbs(t *testing.T) {
	require.Equal(t, FrameSpan(5), FrameSpan(-5).Abs())
	require.Equal(t, FrameSpan(5), FrameSpan(5).Abs())
}
