package scoring

import (
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dieguito9000/rskj/errors"
)

type BanInfo struct {
	Key            string     `json:"key"`
	ExpirationTime time.Time  `json:"expiration_time"`
	Subnet         *net.IPNet `json:"-"`
}

// BanList holds manual address bans. Entries are single IPs or CIDR subnets; a zero
// expiration time bans until removed.
type BanList struct {
	mu          sync.RWMutex
	clock       clock.Clock
	bannedPeers map[string]BanInfo
}

func NewBanList(clk clock.Clock) *BanList {
	return &BanList{
		clock:       clk,
		bannedPeers: make(map[string]BanInfo),
	}
}

// parseBanKey turns an IP or a subnet in CIDR notation into the map key and the subnet it
// covers. A single IP becomes a /32 or /128 subnet.
func parseBanKey(ipOrSubnet string) (string, *net.IPNet, error) {
	ipOrSubnet = strings.TrimSpace(ipOrSubnet)

	if strings.Contains(ipOrSubnet, "/") {
		_, subnet, err := net.ParseCIDR(ipOrSubnet)
		if err != nil {
			return "", nil, errors.NewInvalidArgumentError("can't parse subnet: %s", ipOrSubnet, err)
		}

		return subnet.String(), subnet, nil
	}

	ip := net.ParseIP(ipOrSubnet)
	if ip == nil {
		return "", nil, errors.NewInvalidArgumentError("can't parse IP: %s", ipOrSubnet)
	}

	bits := 128
	if ip.To4() != nil {
		bits = 32
	}

	_, subnet, err := net.ParseCIDR(fmt.Sprintf("%s/%d", ip.String(), bits))
	if err != nil {
		return "", nil, errors.NewInvalidArgumentError("can't parse IP: %s", ipOrSubnet, err)
	}

	return ip.String(), subnet, nil
}

// Add bans an IP or subnet. Banning an entry twice replaces its expiration time.
func (b *BanList) Add(ipOrSubnet string, expirationTime time.Time) error {
	key, subnet, err := parseBanKey(ipOrSubnet)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.bannedPeers[key] = BanInfo{
		Key:            key,
		ExpirationTime: expirationTime,
		Subnet:         subnet,
	}

	return nil
}

func (b *BanList) Remove(ipOrSubnet string) error {
	key, _, err := parseBanKey(ipOrSubnet)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.bannedPeers[key]; !ok {
		return errors.NewNotFoundError("%s is not banned", ipOrSubnet)
	}

	delete(b.bannedPeers, key)

	return nil
}

// IsBanned checks whether an address, with or without a port, falls in any active ban.
func (b *BanList) IsBanned(address string) bool {
	ip := addressIP(address)
	if ip == nil {
		return false
	}

	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	for key, banInfo := range b.bannedPeers {
		if banInfo.expired(now) {
			delete(b.bannedPeers, key)
			continue
		}

		if banInfo.Subnet.Contains(ip) {
			return true
		}
	}

	return false
}

// List returns the active bans ordered by key.
func (b *BanList) List() []BanInfo {
	now := b.clock.Now()

	b.mu.RLock()
	defer b.mu.RUnlock()

	bans := make([]BanInfo, 0, len(b.bannedPeers))

	for _, banInfo := range b.bannedPeers {
		if !banInfo.expired(now) {
			bans = append(bans, banInfo)
		}
	}

	sort.Slice(bans, func(i, j int) bool {
		return bans[i].Key < bans[j].Key
	})

	return bans
}

func (bi BanInfo) expired(now time.Time) bool {
	return !bi.ExpirationTime.IsZero() && !now.Before(bi.ExpirationTime)
}

// addressIP extracts the IP of a peer address such as "10.0.0.1", "10.0.0.1:5050" or
// "[::1]:5050".
func addressIP(address string) net.IP {
	if host, _, err := net.SplitHostPort(address); err == nil {
		address = host
	}

	return net.ParseIP(strings.Trim(address, "[]"))
}
