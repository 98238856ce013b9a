package transcribe

import "time"

// accountant tracks billable active time as a closed total plus at most
// one open segment. Paused time is never inside a segment, so it never
// counts.
type accountant struct {
	accumulated  time.Duration
	segmentStart time.Time
}

func (a *accountant) openSegment(now time.Time) {
	if a.segmentStart.IsZero() {
		a.segmentStart = now
	}
}

func (a *accountant) closeSegment(now time.Time) {
	if a.segmentStart.IsZero() {
		return
	}
	a.accumulated += now.Sub(a.segmentStart)
	a.segmentStart = time.Time{}
}

// active returns closed time plus the open segment, if any.
func (a *accountant) active(now time.Time) time.Duration {
	if a.segmentStart.IsZero() {
		return a.accumulated
	}
	return a.accumulated + now.Sub(a.segmentStart)
}
