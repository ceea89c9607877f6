// Package botsense maintains per-host bot sensitivity scores and maps them to
// crawl politeness parameters.
package botsense

import (
	"fmt"
	"time"

	"github.com/localnewslab/newsminer/internal/pipeline"
)

// Sensitivity bounds. Every host score stays inside this range.
const (
	MinSensitivity     = 1
	MaxSensitivity     = 10
	DefaultSensitivity = 5
)

// LevelConfig is the politeness tuple for one sensitivity level. All seven
// fields are monotonically non-decreasing from level 1 to level 10; level 1 is
// the most permissive, level 10 the most cautious.
type LevelConfig struct {
	InterRequestDelayMin time.Duration
	InterRequestDelayMax time.Duration
	BatchSleep           time.Duration
	CaptchaBackoffBase   time.Duration
	CaptchaBackoffMax    time.Duration
	MaxBackoff           time.Duration
	RequestTimeout       time.Duration
}

var levels = [MaxSensitivity]LevelConfig{
	{500 * time.Millisecond, 1 * time.Second, 2 * time.Second, 30 * time.Second, 2 * time.Minute, 5 * time.Minute, 10 * time.Second},
	{1 * time.Second, 2 * time.Second, 3 * time.Second, 45 * time.Second, 3 * time.Minute, 8 * time.Minute, 12 * time.Second},
	{1500 * time.Millisecond, 3 * time.Second, 5 * time.Second, 1 * time.Minute, 5 * time.Minute, 10 * time.Minute, 15 * time.Second},
	{2 * time.Second, 4 * time.Second, 8 * time.Second, 90 * time.Second, 8 * time.Minute, 15 * time.Minute, 20 * time.Second},
	{3 * time.Second, 6 * time.Second, 12 * time.Second, 2 * time.Minute, 10 * time.Minute, 20 * time.Minute, 25 * time.Second},
	{5 * time.Second, 9 * time.Second, 20 * time.Second, 3 * time.Minute, 15 * time.Minute, 30 * time.Minute, 30 * time.Second},
	{8 * time.Second, 14 * time.Second, 30 * time.Second, 5 * time.Minute, 20 * time.Minute, 45 * time.Minute, 40 * time.Second},
	{12 * time.Second, 20 * time.Second, 45 * time.Second, 8 * time.Minute, 30 * time.Minute, 1 * time.Hour, 50 * time.Second},
	{18 * time.Second, 30 * time.Second, 75 * time.Second, 12 * time.Minute, 45 * time.Minute, 90 * time.Minute, 60 * time.Second},
	{30 * time.Second, 60 * time.Second, 2 * time.Minute, 20 * time.Minute, 1 * time.Hour, 2 * time.Hour, 90 * time.Second},
}

// LevelFor returns the politeness tuple for a sensitivity score, clamping
// out-of-range values into [MinSensitivity, MaxSensitivity].
func LevelFor(sensitivity int) LevelConfig {
	return levels[Clamp(sensitivity)-1]
}

// Clamp forces a score into the valid sensitivity range.
func Clamp(sensitivity int) int {
	if sensitivity < MinSensitivity {
		return MinSensitivity
	}
	if sensitivity > MaxSensitivity {
		return MaxSensitivity
	}
	return sensitivity
}

// ValidateLevels checks the monotonicity invariant of the lookup table. It is
// called from NewManager so a bad edit fails fast at startup.
func ValidateLevels() error {
	for i := 1; i < len(levels); i++ {
		prev, cur := levels[i-1], levels[i]
		fields := []struct {
			name string
			a, b time.Duration
		}{
			{"inter_request_delay_min", prev.InterRequestDelayMin, cur.InterRequestDelayMin},
			{"inter_request_delay_max", prev.InterRequestDelayMax, cur.InterRequestDelayMax},
			{"batch_sleep", prev.BatchSleep, cur.BatchSleep},
			{"captcha_backoff_base", prev.CaptchaBackoffBase, cur.CaptchaBackoffBase},
			{"captcha_backoff_max", prev.CaptchaBackoffMax, cur.CaptchaBackoffMax},
			{"max_backoff", prev.MaxBackoff, cur.MaxBackoff},
			{"request_timeout", prev.RequestTimeout, cur.RequestTimeout},
		}
		for _, f := range fields {
			if f.b < f.a {
				return fmt.Errorf("level table %s decreases between level %d and %d", f.name, i, i+1)
			}
		}
	}
	return nil
}

// escalationRule maps a detection event type to its sensitivity adjustment.
// Stronger signals escalate more and cool down faster.
type escalationRule struct {
	increase     int
	maxCap       int
	baseCooldown time.Duration
}

var escalationRules = map[pipeline.DetectionType]escalationRule{
	pipeline.DetectionCaptcha:         {increase: 3, maxCap: 10, baseCooldown: 2 * time.Hour},
	pipeline.DetectionForbidden:       {increase: 2, maxCap: 10, baseCooldown: 3 * time.Hour},
	pipeline.DetectionRateLimited:     {increase: 2, maxCap: 9, baseCooldown: 2 * time.Hour},
	pipeline.DetectionRepeatedFailure: {increase: 1, maxCap: 9, baseCooldown: 4 * time.Hour},
	pipeline.DetectionTimeout:         {increase: 1, maxCap: 8, baseCooldown: 6 * time.Hour},
}
