// Package analytics rebuilds the daily training-load series (CTL/ATL/TSB)
// from per-activity stress scores.
package analytics

import (
	"context"
	"log"
	"time"
)

// Conventional time constants: chronic load smooths over six weeks, acute
// load over one week.
const (
	DefaultCTLDays = 42
	DefaultATLDays = 7
)

// ActivityStress is one activity's contribution to its day's stress total.
type ActivityStress struct {
	StartTime time.Time
	TSS       float64
}

// DailyLoad is one row of the persisted daily snapshot.
type DailyLoad struct {
	Day time.Time
	TSS float64
	CTL float64
	ATL float64
	TSB float64
}

// Store captures the persistence operations the calculator needs.
type Store interface {
	// ActivityStress returns every activity for the user ordered by start time,
	// with missing stress scores reported as zero.
	ActivityStress(ctx context.Context, userID string) ([]ActivityStress, error)
	// ReplaceDailyLoad atomically swaps the user's snapshot rows.
	ReplaceDailyLoad(ctx context.Context, userID string, days []DailyLoad) error
	// DailyLoad reads snapshot rows on or after the given day, ascending.
	DailyLoad(ctx context.Context, userID string, since time.Time) ([]DailyLoad, error)
}

// Calculator derives smoothed load metrics and maintains the daily snapshot.
type Calculator struct {
	store   Store
	ctlDays int
	atlDays int
	logger  *log.Logger
	now     func() time.Time
}

// NewCalculator constructs a Calculator with conventional time constants.
func NewCalculator(store Store) *Calculator {
	return &Calculator{
		store:   store,
		ctlDays: DefaultCTLDays,
		atlDays: DefaultATLDays,
		logger:  log.New(log.Writer(), "[pmc] ", log.LstdFlags),
		now:     time.Now,
	}
}

// Smooth applies an exponential weighted moving average with alpha = 1/tau:
// S[0] = x[0], S[i] = alpha*x[i] + (1-alpha)*S[i-1]. No forward-looking bias.
func Smooth(xs []float64, tau int) []float64 {
	if len(xs) == 0 {
		return nil
	}
	if tau < 1 {
		tau = 1
	}

	alpha := 1.0 / float64(tau)
	out := make([]float64, len(xs))
	out[0] = xs[0]
	for i := 1; i < len(xs); i++ {
		out[i] = alpha*xs[i] + (1-alpha)*out[i-1]
	}
	return out
}

// BuildDaily buckets activity stress into UTC days, zero-filling gaps from the
// first activity through the "until" day, and computes CTL, ATL, and TSB.
func BuildDaily(stresses []ActivityStress, until time.Time, ctlDays, atlDays int) []DailyLoad {
	if len(stresses) == 0 {
		return nil
	}

	first := day(stresses[0].StartTime)
	for _, s := range stresses[1:] {
		if d := day(s.StartTime); d.Before(first) {
			first = d
		}
	}

	last := day(until)
	if last.Before(first) {
		last = first
	}

	n := int(last.Sub(first).Hours()/24) + 1
	tss := make([]float64, n)
	for _, s := range stresses {
		idx := int(day(s.StartTime).Sub(first).Hours() / 24)
		if idx >= 0 && idx < n {
			tss[idx] += s.TSS
		}
	}

	ctl := Smooth(tss, ctlDays)
	atl := Smooth(tss, atlDays)

	out := make([]DailyLoad, n)
	for i := range out {
		out[i] = DailyLoad{
			Day: first.AddDate(0, 0, i),
			TSS: tss[i],
			CTL: ctl[i],
			ATL: atl[i],
			TSB: ctl[i] - atl[i],
		}
	}
	return out
}

// Rebuild recomputes the full daily series for a user and replaces the
// persisted snapshot. Handlers call it after each ingested activity; the
// whole-series rebuild makes redeliveries harmless.
func (c *Calculator) Rebuild(ctx context.Context, userID string) error {
	stresses, err := c.store.ActivityStress(ctx, userID)
	if err != nil {
		return err
	}

	days := BuildDaily(stresses, c.now().UTC(), c.ctlDays, c.atlDays)
	if err := c.store.ReplaceDailyLoad(ctx, userID, days); err != nil {
		return err
	}

	c.logger.Printf("rebuilt training load (user=%s, days=%d)", userID, len(days))
	recordRebuild(len(days))
	return nil
}

// Series reads the persisted snapshot covering the trailing number of days.
func (c *Calculator) Series(ctx context.Context, userID string, days int) ([]DailyLoad, error) {
	if days <= 0 {
		days = 90
	}
	since := day(c.now().UTC()).AddDate(0, 0, -days+1)
	return c.store.DailyLoad(ctx, userID, since)
}

func day(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
