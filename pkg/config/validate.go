package config

import (
	"errors"
	"strings"
	"time"

	"github.com/dd0wney/cluso-assembler/pkg/export"
	"github.com/dd0wney/cluso-assembler/pkg/validation"
)

var errRegion = errors.New("region is required when a bucket is set")

// Validate checks every section and reports all failures together
func (c *Config) Validate() error {
	return validation.ValidateAll(
		validation.NewConfigValidator("log").
			OneOf("level", strings.ToLower(c.LogLevel), []string{"debug", "info", "warn", "warning", "error"}),
		&c.Frame, &c.Factory, &c.Links, &c.Progress, &c.Population, &c.Export, &c.HTTP,
	)
}

func (f *FrameConfig) Validate() error {
	return validation.NewConfigValidator("frame").
		RangeDuration("budget", f.Budget, 100*time.Microsecond, time.Second).
		MinDuration("interval", f.Interval, time.Millisecond).
		Positive("queue_size", f.QueueSize).
		Validate()
}

func (f *FactoryConfig) Validate() error {
	return validation.NewConfigValidator("factory").
		Positive("produce_quota", f.ProduceQuota).
		Positive("ready_quota", f.ReadyQuota).
		NonNegative("low_water", f.LowWater).
		Positive("replenish", f.Replenish).
		AtLeast("burst", f.Burst, "replenish", f.Replenish).
		Validate()
}

func (l *LinksConfig) Validate() error {
	return validation.NewConfigValidator("links").
		Positive("batch_size", l.BatchSize).
		RangeInt("max_in_flight", l.MaxInFlight, 1, 10000).
		MinDuration("resolve_timeout", l.ResolveTimeout, time.Millisecond).
		RangeDuration("resolve_poll", l.ResolvePoll, time.Millisecond, l.ResolveTimeout).
		NonNegative("visible_ceiling", l.Ceiling).
		RangeFloat("ready_threshold", l.ReadyThreshold, 0, 1).
		MinDuration("ready_timeout", l.ReadyTimeout, 0).
		Validate()
}

func (p *ProgressConfig) Validate() error {
	return validation.NewConfigValidator("progress").
		MinDuration("interval", p.Interval, 10*time.Millisecond).
		Validate()
}

func (p *PopulationConfig) Validate() error {
	return validation.NewConfigValidator("population").
		MinDuration("min_backoff", p.MinBackoff, time.Microsecond).
		RangeDuration("max_backoff", p.MaxBackoff, p.MinBackoff, time.Minute).
		MinDuration("stuck_after", p.StuckAfter, time.Millisecond).
		Validate()
}

func (e *ExportConfig) Validate() error {
	return validation.NewConfigValidator("export").
		OneOf("format", e.Format, []string{string(export.FormatJSON), string(export.FormatSnappy)}).
		When(e.Bucket != "", func(v *validation.ConfigValidator) {
			v.Custom("s3.region", func() error {
				if e.S3.Region == "" {
					return errRegion
				}
				return nil
			})
		}).
		Validate()
}

func (h *HTTPConfig) Validate() error {
	return validation.NewConfigValidator("http").
		When(h.Addr != "", func(v *validation.ConfigValidator) {
			v.MinDuration("read_timeout", h.ReadTimeout, 100*time.Millisecond).
				MinDuration("write_timeout", h.WriteTimeout, 100*time.Millisecond).
				MinDuration("shutdown_timeout", h.ShutdownTimeout, 0)
		}).
		Validate()
}
