package scoring

import (
	"time"

	"github.com/dieguito9000/rskj/errors"
	"github.com/dieguito9000/rskj/settings"
)

// maxUnboundedPunishment caps unbounded escalation so the product never overflows.
const maxUnboundedPunishment = 100 * 365 * 24 * time.Hour

// PunishmentParameters describe how long a punishment lasts and how it grows with each
// previous punishment of the same peer.
//
// IncrementRate is a positive percentage: every previous punishment multiplies the duration
// by (100+IncrementRate)/100. A zero MaximumDuration leaves the duration unbounded.
type PunishmentParameters struct {
	Duration        time.Duration
	IncrementRate   int
	MaximumDuration time.Duration
}

func NewPunishmentParameters(duration time.Duration, incrementRate int, maximumDuration time.Duration) (PunishmentParameters, error) {
	p := PunishmentParameters{
		Duration:        duration,
		IncrementRate:   incrementRate,
		MaximumDuration: maximumDuration,
	}

	if err := p.Validate(); err != nil {
		return PunishmentParameters{}, err
	}

	return p, nil
}

func NewPunishmentParametersFromSettings(s settings.PunishmentSettings) (PunishmentParameters, error) {
	return NewPunishmentParameters(s.Duration, s.IncrementRate, s.MaximumDuration)
}

func (p PunishmentParameters) Validate() error {
	if p.Duration <= 0 {
		return errors.NewConfigurationError("punishment duration must be positive, got %s", p.Duration)
	}

	if p.IncrementRate <= 0 {
		return errors.NewConfigurationError("punishment increment rate must be positive, got %d", p.IncrementRate)
	}

	if p.MaximumDuration < 0 {
		return errors.NewConfigurationError("punishment maximum duration must not be negative, got %s", p.MaximumDuration)
	}

	if p.MaximumDuration > 0 && p.MaximumDuration < p.Duration {
		return errors.NewConfigurationError("punishment maximum duration %s is lower than the base duration %s", p.MaximumDuration, p.Duration)
	}

	return nil
}

type PunishmentCalculator struct {
	params PunishmentParameters
}

func NewPunishmentCalculator(params PunishmentParameters) *PunishmentCalculator {
	return &PunishmentCalculator{params: params}
}

// Calculate returns the duration of the next punishment of a peer that has already been
// punished previousPunishments times.
func (c *PunishmentCalculator) Calculate(previousPunishments int) time.Duration {
	limit := c.params.MaximumDuration
	if limit == 0 {
		limit = maxUnboundedPunishment
	}

	factor := time.Duration(100 + c.params.IncrementRate)
	result := c.params.Duration

	for i := 0; i < previousPunishments; i++ {
		if result >= limit/factor*100 {
			return limit
		}

		next := result * factor / 100
		if next <= result {
			next = result + 1
		}

		result = next
	}

	if result > limit {
		return limit
	}

	return result
}
