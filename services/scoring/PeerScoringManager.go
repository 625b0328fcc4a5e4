// Package scoring keeps the reputation of remote peers. Every peer is tracked twice, by its
// stable node id and by the network address of its current connection, so a misbehaving
// node cannot shake off a punishment by reconnecting under a new id from the same address
// or under the same id from a new address.
//
// Punishments escalate: each punishment of the same record lasts longer than the previous
// one, and an active punishment is never shortened. Records live in bounded LRU sets, the
// least recently active record is evicted first.
package scoring

import (
	"bufio"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dieguito9000/rskj/errors"
	"github.com/dieguito9000/rskj/model"
	"github.com/dieguito9000/rskj/settings"
	"github.com/dieguito9000/rskj/ulogger"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	trackNode    = "node"
	trackAddress = "address"
)

// PunishmentHandler is notified every time a peer gets punished. It is called after the
// manager released its lock, so it may call back into the manager.
type PunishmentHandler interface {
	OnPeerPunished(peer model.PeerIdentity, until time.Time, event EventType)
}

// PunishmentHandlerFunc adapts a function to PunishmentHandler.
type PunishmentHandlerFunc func(peer model.PeerIdentity, until time.Time, event EventType)

func (f PunishmentHandlerFunc) OnPeerPunished(peer model.PeerIdentity, until time.Time, event EventType) {
	f(peer, until, event)
}

// Reputation summarises a node record for peer ordering.
type Reputation struct {
	BadEvents  uint64
	GoodEvents uint64
}

// Better reports whether r ranks ahead of other: fewer bad events first, then more good ones.
func (r Reputation) Better(other Reputation) bool {
	if r.BadEvents != other.BadEvents {
		return r.BadEvents < other.BadEvents
	}

	return r.GoodEvents > other.GoodEvents
}

type Option func(*PeerScoringManager)

func WithClock(clk clock.Clock) Option {
	return func(m *PeerScoringManager) {
		m.clock = clk
	}
}

func WithPunishmentHandler(handler PunishmentHandler) Option {
	return func(m *PeerScoringManager) {
		m.handler = handler
	}
}

type PeerScoringManager struct {
	mu                sync.Mutex
	logger            ulogger.Logger
	clock             clock.Clock
	handler           PunishmentHandler
	nodeCalculator    *PunishmentCalculator
	addressCalculator *PunishmentCalculator
	nodes             *lru.Cache[string, *PeerScoring]
	addresses         *lru.Cache[string, *PeerScoring]
	banList           *BanList
}

func NewPeerScoringManager(logger ulogger.Logger, numberOfNodes int, nodeParams, addressParams PunishmentParameters, opts ...Option) (*PeerScoringManager, error) {
	initPrometheusMetrics()

	if numberOfNodes <= 0 {
		return nil, errors.NewConfigurationError("scoring number of nodes must be positive, got %d", numberOfNodes)
	}

	if err := nodeParams.Validate(); err != nil {
		return nil, errors.NewConfigurationError("invalid node punishment parameters", err)
	}

	if err := addressParams.Validate(); err != nil {
		return nil, errors.NewConfigurationError("invalid address punishment parameters", err)
	}

	m := &PeerScoringManager{
		logger:            logger,
		clock:             clock.New(),
		nodeCalculator:    NewPunishmentCalculator(nodeParams),
		addressCalculator: NewPunishmentCalculator(addressParams),
	}

	for _, opt := range opts {
		opt(m)
	}

	var err error

	m.nodes, err = lru.NewWithEvict[string, *PeerScoring](numberOfNodes, func(string, *PeerScoring) {
		prometheusScoringEvictions.WithLabelValues(trackNode).Inc()
	})
	if err != nil {
		return nil, errors.NewConfigurationError("could not create node scoring set", err)
	}

	m.addresses, err = lru.NewWithEvict[string, *PeerScoring](numberOfNodes, func(string, *PeerScoring) {
		prometheusScoringEvictions.WithLabelValues(trackAddress).Inc()
	})
	if err != nil {
		return nil, errors.NewConfigurationError("could not create address scoring set", err)
	}

	m.banList = NewBanList(m.clock)

	return m, nil
}

func NewPeerScoringManagerFromSettings(logger ulogger.Logger, tSettings *settings.Settings, opts ...Option) (*PeerScoringManager, error) {
	nodeParams, err := NewPunishmentParametersFromSettings(tSettings.Scoring.Nodes)
	if err != nil {
		return nil, err
	}

	addressParams, err := NewPunishmentParametersFromSettings(tSettings.Scoring.Addresses)
	if err != nil {
		return nil, err
	}

	return NewPeerScoringManager(logger, tSettings.Scoring.NumberOfNodes, nodeParams, addressParams, opts...)
}

// RecordEvent updates the node and address records of the peer.
func (m *PeerScoringManager) RecordEvent(peer model.PeerIdentity, event EventType) {
	if !event.valid() {
		m.logger.Errorf("[PeerScoringManager] ignoring unknown event %d for %s", event, peer)
		return
	}

	now := m.clock.Now()

	m.mu.Lock()

	var until time.Time

	if peer.NodeID != "" {
		if nodeUntil := m.recordLocked(m.nodes, trackNode, peer.NodeID, event, now, m.nodeCalculator); nodeUntil.After(until) {
			until = nodeUntil
		}
	}

	if peer.Address != "" {
		if addressUntil := m.recordLocked(m.addresses, trackAddress, peer.Address, event, now, m.addressCalculator); addressUntil.After(until) {
			until = addressUntil
		}
	}

	handler := m.handler

	m.mu.Unlock()

	prometheusScoringEvents.WithLabelValues(event.String()).Inc()

	if !event.IsPunishable() || until.IsZero() {
		return
	}

	m.logger.Infof("[PeerScoringManager] peer %s punished until %s after %s", peer, until.Format(time.RFC3339), event)

	if handler != nil {
		handler.OnPeerPunished(peer, until, event)
	}
}

// SetPunishmentHandler installs the handler when the manager was built before its consumer.
// A handler can only be installed once.
func (m *PeerScoringManager) SetPunishmentHandler(handler PunishmentHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.handler != nil {
		return errors.NewInvalidArgumentError("punishment handler already set")
	}

	m.handler = handler

	return nil
}

func (m *PeerScoringManager) recordLocked(set *lru.Cache[string, *PeerScoring], track, key string, event EventType, now time.Time, calculator *PunishmentCalculator) time.Time {
	record, ok := set.Get(key)
	if !ok {
		record = newPeerScoring(now)
		set.Add(key, record)
		prometheusScoringRecords.WithLabelValues(track).Set(float64(set.Len()))
	}

	until := record.recordEvent(event, now, calculator)
	if !until.IsZero() {
		prometheusScoringPunishments.WithLabelValues(track).Inc()
	}

	return until
}

// IsPunished reports whether the node id or the address of the peer is punished, or the
// address is manually banned.
func (m *PeerScoringManager) IsPunished(peer model.PeerIdentity) bool {
	now := m.clock.Now()

	m.mu.Lock()
	punished := m.isPunishedLocked(peer, now)
	m.mu.Unlock()

	if punished {
		return true
	}

	return peer.Address != "" && m.banList.IsBanned(peer.Address)
}

func (m *PeerScoringManager) isPunishedLocked(peer model.PeerIdentity, now time.Time) bool {
	if record, ok := m.nodes.Peek(peer.NodeID); ok && record.isPunished(now) {
		return true
	}

	if record, ok := m.addresses.Peek(peer.Address); ok && record.isPunished(now) {
		return true
	}

	return false
}

func (m *PeerScoringManager) HasGoodReputation(peer model.PeerIdentity) bool {
	return !m.IsPunished(peer)
}

// Reputation returns the counters of the node record; unknown peers are clean.
func (m *PeerScoringManager) Reputation(peer model.PeerIdentity) Reputation {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.reputationLocked(peer)
}

func (m *PeerScoringManager) reputationLocked(peer model.PeerIdentity) Reputation {
	record, ok := m.nodes.Peek(peer.NodeID)
	if !ok {
		return Reputation{}
	}

	return Reputation{BadEvents: record.badEvents(), GoodEvents: record.goodEvents()}
}

// GetPeersByReputation drops punished and duplicate candidates and orders the rest best
// first. Ties are broken by node id.
func (m *PeerScoringManager) GetPeersByReputation(candidates []model.PeerIdentity) []model.PeerIdentity {
	type ranked struct {
		peer       model.PeerIdentity
		reputation Reputation
	}

	now := m.clock.Now()
	seen := make(map[string]struct{}, len(candidates))
	eligible := make([]ranked, 0, len(candidates))

	m.mu.Lock()

	for _, peer := range candidates {
		if _, ok := seen[peer.Key()]; ok {
			continue
		}

		seen[peer.Key()] = struct{}{}

		if m.isPunishedLocked(peer, now) {
			continue
		}

		eligible = append(eligible, ranked{peer: peer, reputation: m.reputationLocked(peer)})
	}

	m.mu.Unlock()

	result := make([]model.PeerIdentity, 0, len(eligible))

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].reputation != eligible[j].reputation {
			return eligible[i].reputation.Better(eligible[j].reputation)
		}

		return eligible[i].peer.NodeID < eligible[j].peer.NodeID
	})

	for _, r := range eligible {
		if r.peer.Address != "" && m.banList.IsBanned(r.peer.Address) {
			continue
		}

		result = append(result, r.peer)
	}

	return result
}

// GetPeersInformation returns a snapshot of every node and address record.
func (m *PeerScoringManager) GetPeersInformation() []PeerScoringInformation {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	info := make([]PeerScoringInformation, 0, m.nodes.Len()+m.addresses.Len())

	for _, key := range m.nodes.Keys() {
		if record, ok := m.nodes.Peek(key); ok {
			info = append(info, record.information(key, trackNode, now))
		}
	}

	for _, key := range m.addresses.Keys() {
		if record, ok := m.addresses.Peek(key); ok {
			info = append(info, record.information(key, trackAddress, now))
		}
	}

	return info
}

// GetPeerScoring returns a copy of the node record of the peer.
func (m *PeerScoringManager) GetPeerScoring(peer model.PeerIdentity) (PeerScoring, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.nodes.Peek(peer.NodeID)
	if !ok {
		return PeerScoring{}, false
	}

	return *record, true
}

// ClearPeerScoring forgets both records of the peer, lifting any punishment.
func (m *PeerScoringManager) ClearPeerScoring(peer model.PeerIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nodes.Remove(peer.NodeID)
	m.addresses.Remove(peer.Address)

	prometheusScoringRecords.WithLabelValues(trackNode).Set(float64(m.nodes.Len()))
	prometheusScoringRecords.WithLabelValues(trackAddress).Set(float64(m.addresses.Len()))

	m.logger.Infof("[PeerScoringManager] cleared scoring of %s", peer)
}

// BanAddress bans an IP or subnet until the given time; a zero time bans until removed.
func (m *PeerScoringManager) BanAddress(addressOrSubnet string, until time.Time) error {
	if err := m.banList.Add(addressOrSubnet, until); err != nil {
		return err
	}

	m.logger.Infof("[PeerScoringManager] banned %s", addressOrSubnet)

	return nil
}

func (m *PeerScoringManager) UnbanAddress(addressOrSubnet string) error {
	if err := m.banList.Remove(addressOrSubnet); err != nil {
		return err
	}

	m.logger.Infof("[PeerScoringManager] unbanned %s", addressOrSubnet)

	return nil
}

func (m *PeerScoringManager) ListBannedAddresses() []BanInfo {
	return m.banList.List()
}

// LoadBannedAddresses reads one IP or subnet per line and bans each until removed. Blank
// lines and lines starting with # are skipped.
func (m *PeerScoringManager) LoadBannedAddresses(r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	count := 0

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if err := m.banList.Add(line, time.Time{}); err != nil {
			return count, err
		}

		count++
	}

	if err := scanner.Err(); err != nil {
		return count, errors.NewProcessingError("could not read banned addresses", err)
	}

	return count, nil
}
