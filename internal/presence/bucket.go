// SPDX-License-Identifier: MIT

package presence

import "time"

// Bucket classifies how recently a user was active.
type Bucket string

const (
	BucketOnlineNow   Bucket = "online_now"
	BucketActive10s   Bucket = "active_10s"
	BucketActive1m    Bucket = "active_1m"
	BucketActive5m    Bucket = "active_5m"
	BucketActive15m   Bucket = "active_15m"
	BucketActive1h    Bucket = "active_1h"
	BucketActiveToday Bucket = "active_today"
	BucketInactive    Bucket = "inactive"
)

// BucketFor classifies the age of the last activity timestamp. A live
// presence key overrides any age; a user with no recorded activity is
// inactive.
func BucketFor(now time.Time, lastActiveMS *int64, online bool) Bucket {
	if online {
		return BucketOnlineNow
	}
	if lastActiveMS == nil {
		return BucketInactive
	}

	age := now.Sub(time.UnixMilli(*lastActiveMS))
	switch {
	case age < 10*time.Second:
		return BucketActive10s
	case age < time.Minute:
		return BucketActive1m
	case age < 5*time.Minute:
		return BucketActive5m
	case age < 15*time.Minute:
		return BucketActive15m
	case age < time.Hour:
		return BucketActive1h
	case age < 24*time.Hour:
		return BucketActiveToday
	default:
		return BucketInactive
	}
}
