// Package eta implements the ETA Estimator: combining a rate-tracker
// estimate with the remaining bytes of an in-flight fetch to produce a
// probabilistic completion time, rendered as the iRobot-ETA header value.
package eta

import (
	"fmt"
	"time"

	"github.com/wtsi-hgi/irobot/pkg/precache/ratetracker"
)

// Estimate is a point-in-time ETA: a central completion time plus a
// symmetric uncertainty window derived from the rate tracker's standard
// error.
type Estimate struct {
	CompletesAt time.Time
	UncertaintySeconds float64
}

// ForRemaining computes an ETA given how many bytes remain and the
// current rate estimate for the channel doing the fetching. If the rate
// tracker has no samples yet, ok is false and callers should fall back to
// a coarser signal (e.g. "unknown" in the response).
func ForRemaining(remaining uint64, rate ratetracker.Estimate, now time.Time) (Estimate, bool) {
	if rate.Samples == 0 || rate.MeanBps <= 0 {
		return Estimate{}, false
	}

	secondsRemaining := float64(remaining) / rate.MeanBps

	// Propagate the rate's relative standard error into a time
	// uncertainty: if the rate's stderr is large relative to its mean,
	// the time estimate is proportionally as uncertain.
	var uncertainty float64
	if rate.MeanBps > 0 {
		relativeErr := rate.StderrBps / rate.MeanBps
		uncertainty = secondsRemaining * relativeErr
	}

	return Estimate{
		CompletesAt:        now.Add(time.Duration(secondsRemaining * float64(time.Second))),
		UncertaintySeconds: uncertainty,
	}, true
}

// Header renders the estimate as the "iRobot-ETA" header value: an
// ISO8601 UTC timestamp followed by a signed second-granularity
// uncertainty window, e.g. "2026-08-01T12:00:00Z +/- 45".
func (e Estimate) Header() string {
	return fmt.Sprintf("%s +/- %.0f", e.CompletesAt.UTC().Format(time.RFC3339), e.UncertaintySeconds)
}

// MediaType is the representation iRobot clients request to receive an
// ETA instead of blocking on the object itself.
const MediaType = "application/vnd.irobot.eta"
