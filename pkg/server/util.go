package server

import "time"

func timeNowPlus(d time.Duration) time.Time {
	return time.Now().Add(d)
}
