package scoring

import (
	"time"
)

// PeerScoring is the reputation record of a single node id or address.
type PeerScoring struct {
	counters        [numEventTypes]uint64
	punishedUntil   time.Time
	punishmentCount int
	lastActivity    time.Time
}

func newPeerScoring(now time.Time) *PeerScoring {
	return &PeerScoring{lastActivity: now}
}

// recordEvent updates the counters and, for punishable events, extends the punishment.
// The returned time is the punishment expiration, zero when the event did not punish.
func (ps *PeerScoring) recordEvent(event EventType, now time.Time, calculator *PunishmentCalculator) time.Time {
	ps.counters[event]++
	ps.lastActivity = now

	if !event.IsPunishable() {
		return time.Time{}
	}

	until := now.Add(calculator.Calculate(ps.punishmentCount))
	if until.After(ps.punishedUntil) {
		ps.punishedUntil = until
	}

	ps.punishmentCount++

	return ps.punishedUntil
}

func (ps *PeerScoring) isPunished(now time.Time) bool {
	return now.Before(ps.punishedUntil)
}

func (ps *PeerScoring) badEvents() uint64 {
	var total uint64

	for e := EventType(0); e < numEventTypes; e++ {
		if e.IsPunishable() {
			total += ps.counters[e]
		}
	}

	return total
}

func (ps *PeerScoring) goodEvents() uint64 {
	var total uint64

	for e := EventType(0); e < numEventTypes; e++ {
		if !e.IsPunishable() {
			total += ps.counters[e]
		}
	}

	return total
}

func (ps *PeerScoring) EventCount(event EventType) uint64 {
	if !event.valid() {
		return 0
	}

	return ps.counters[event]
}

func (ps *PeerScoring) PunishedUntil() time.Time {
	return ps.punishedUntil
}

func (ps *PeerScoring) PunishmentCount() int {
	return ps.punishmentCount
}

// PeerScoringInformation is a read-only snapshot of a record, as served by the status API.
type PeerScoringInformation struct {
	ID              string            `json:"id"`
	Type            string            `json:"type"`
	GoodReputation  bool              `json:"good_reputation"`
	PunishedUntil   *time.Time        `json:"punished_until,omitempty"`
	PunishmentCount int               `json:"punishment_count"`
	LastActivity    time.Time         `json:"last_activity"`
	Events          map[string]uint64 `json:"events"`
}

func (ps *PeerScoring) information(id, recordType string, now time.Time) PeerScoringInformation {
	info := PeerScoringInformation{
		ID:              id,
		Type:            recordType,
		GoodReputation:  !ps.isPunished(now),
		PunishmentCount: ps.punishmentCount,
		LastActivity:    ps.lastActivity,
		Events:          make(map[string]uint64),
	}

	if !info.GoodReputation {
		until := ps.punishedUntil
		info.PunishedUntil = &until
	}

	for e := EventType(0); e < numEventTypes; e++ {
		if ps.counters[e] > 0 {
			info.Events[e.String()] = ps.counters[e]
		}
	}

	return info
}
