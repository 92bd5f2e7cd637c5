package appointment

import "time"

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock reads wall-clock time in UTC.
var SystemClock Clock = systemClock{}
