// SPDX-License-Identifier: MIT

package presence

import (
	"testing"
	"time"
)

func TestBucketFor(t *testing.T) {
	now := time.UnixMilli(1_724_680_000_000)
	ms := func(d time.Duration) *int64 {
		v := now.Add(-d).UnixMilli()
		return &v
	}

	tests := []struct {
		name       string
		lastActive *int64
		online     bool
		want       Bucket
	}{
		{"online overrides age", ms(48 * time.Hour), true, BucketOnlineNow},
		{"online with no activity", nil, true, BucketOnlineNow},
		{"no activity recorded", nil, false, BucketInactive},
		{"five seconds ago", ms(5 * time.Second), false, BucketActive10s},
		{"exactly ten seconds", ms(10 * time.Second), false, BucketActive1m},
		{"thirty seconds ago", ms(30 * time.Second), false, BucketActive1m},
		{"three minutes ago", ms(3 * time.Minute), false, BucketActive5m},
		{"ten minutes ago", ms(10 * time.Minute), false, BucketActive15m},
		{"thirty minutes ago", ms(30 * time.Minute), false, BucketActive1h},
		{"five hours ago", ms(5 * time.Hour), false, BucketActiveToday},
		{"exactly one day", ms(24 * time.Hour), false, BucketInactive},
		{"two days ago", ms(48 * time.Hour), false, BucketInactive},
		{"clock skew into the future", ms(-3 * time.Second), false, BucketActive10s},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BucketFor(now, tt.lastActive, tt.online); got != tt.want {
				t.Errorf("BucketFor() = %s, want %s", got, tt.want)
			}
		})
	}
}
