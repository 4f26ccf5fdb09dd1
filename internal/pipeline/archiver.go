package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/truthmarkets/settled/internal/domain"
)

// Archiver drains audit history older than the retention window from the
// database into object storage.
type Archiver struct {
	blobArchiver  domain.Archiver
	retentionDays int
	logger        *slog.Logger
}

// NewArchiver creates a new Archiver.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// Run executes one archive pass over audit entries older than the retention
// cutoff.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
	a.logger.Info("starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	archived, err := a.blobArchiver.ArchiveAudit(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving audit entries before %v: %w", cutoff, err)
	}

	a.logger.Info("archive run complete", slog.Int64("audit_archived", archived))
	return nil
}

// RunCron runs archive passes on a standard 5-field cron expression
// ("minute hour day-of-month month day-of-week") until the context is
// cancelled. "0 3 1 * *" archives at 03:00 on the first of each month.
func (a *Archiver) RunCron(ctx context.Context, cronExpr string) error {
	sched, err := parseCron(cronExpr)
	if err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", cronExpr, err)
	}
	a.logger.Info("archiver cron started", slog.String("cron", cronExpr))

	for {
		next, err := sched.next(time.Now().UTC())
		if err != nil {
			return fmt.Errorf("cron %q: %w", cronExpr, err)
		}
		a.logger.Info("archiver waiting for next cron trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", time.Until(next)),
		)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if err := a.Run(ctx); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}

// cronSchedule is a parsed 5-field cron expression. Each field is a bitmask
// of accepted values; zero means wildcard. Values never exceed 63 (minutes
// 0-59), so one uint64 per field suffices.
type cronSchedule struct {
	minute, hour, dom, month, dow uint64
}

// fieldNames index the parse error messages.
var fieldNames = [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}

// fieldMax bounds each field's legal values.
var fieldMax = [5]int{59, 23, 31, 12, 6}

// parseCron parses a 5-field cron expression. Fields accept "*" or a
// comma-separated value list.
func parseCron(expr string) (cronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return cronSchedule{}, fmt.Errorf("cron expression must have 5 fields, got %d", len(fields))
	}

	var masks [5]uint64
	for i, field := range fields {
		mask, err := parseCronField(field, fieldMax[i])
		if err != nil {
			return cronSchedule{}, fmt.Errorf("parsing %s field: %w", fieldNames[i], err)
		}
		masks[i] = mask
	}

	return cronSchedule{
		minute: masks[0],
		hour:   masks[1],
		dom:    masks[2],
		month:  masks[3],
		dow:    masks[4],
	}, nil
}

// parseCronField turns one field into a value bitmask; "*" yields the zero
// wildcard mask.
func parseCronField(field string, max int) (uint64, error) {
	if field == "*" {
		return 0, nil
	}

	var mask uint64
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)
		v, err := strconv.Atoi(part)
		if err != nil {
			return 0, fmt.Errorf("invalid cron field value %q: %w", part, err)
		}
		if v < 0 || v > max {
			return 0, fmt.Errorf("cron field value %d out of range 0-%d", v, max)
		}
		mask |= 1 << uint(v)
	}
	return mask, nil
}

// hits reports whether the mask admits v.
func hits(mask uint64, v int) bool {
	return mask == 0 || mask&(1<<uint(v)) != 0
}

// matches reports whether t satisfies every field of the schedule.
func (s cronSchedule) matches(t time.Time) bool {
	return hits(s.minute, t.Minute()) &&
		hits(s.hour, t.Hour()) &&
		hits(s.dom, t.Day()) &&
		hits(s.month, int(t.Month())) &&
		hits(s.dow, int(t.Weekday()))
}

// next finds the first matching minute after t, scanning minute boundaries up
// to a year out.
func (s cronSchedule) next(after time.Time) (time.Time, error) {
	candidate := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.Add(366 * 24 * time.Hour)

	for candidate.Before(limit) {
		if s.matches(candidate) {
			return candidate, nil
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("no matching time within a year")
}
