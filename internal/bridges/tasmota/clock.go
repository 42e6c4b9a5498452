package tasmota

import "time"

// Clock supplies the current time. Tests substitute a manual clock to
// advance poll schedules and timeouts without sleeping.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }
