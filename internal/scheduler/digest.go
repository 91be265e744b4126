package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var digestParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseDigest parses the digest schedule.
//
// Supported forms:
//   - Cron: "0 9 * * *", "@daily", "@every 6h"
//   - Interval duration: "6h", "90m"
//   - Interval HH:MM: "02:30" (every 2 hours 30 minutes)
//
// An empty schedule returns a nil schedule (digest disabled).
func ParseDigest(raw, tz string) (cron.Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, nil
	}

	loc := time.Local
	if tz = strings.TrimSpace(tz); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("digest.timezone: invalid %q: %w", tz, err)
		}
		loc = l
	}

	// any whitespace or leading '@' => cron
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		sched, err := digestParser.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("digest.schedule: %w", err)
		}
		if spec, ok := sched.(*cron.SpecSchedule); ok {
			spec.Location = loc
		}
		return sched, nil
	}

	if m := reHHMM.FindStringSubmatch(s); m != nil {
		hh, herr := strconv.Atoi(m[1])
		mm, merr := strconv.Atoi(m[2])
		if herr != nil || merr != nil {
			return nil, fmt.Errorf("digest.schedule: invalid interval %q", s)
		}
		if mm > 59 {
			return nil, fmt.Errorf("digest.schedule: invalid minutes in %q", s)
		}
		return every(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute)
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, fmt.Errorf(
			"digest.schedule: invalid %q (use cron like '0 9 * * *', HH:MM like '06:00', or duration like '6h')", raw)
	}
	return every(d)
}

func every(d time.Duration) (cron.Schedule, error) {
	if d < time.Minute {
		return nil, fmt.Errorf("digest.schedule: interval must be >= 1m")
	}
	return cron.Every(d), nil
}
