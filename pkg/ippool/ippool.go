// Package ippool manages public IPv4 allocation out of CIDR pools. A pool
// enumerates its host addresses in fixed 256-address pages so a /16 never
// materializes sixty-five thousand integers to find one free IP. Addresses
// travel as uint32 host integers in the database; rendering to dotted quads
// happens at the API edge.
package ippool

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PageSize is the host enumeration window.
const PageSize = 256

// Allocation modes, selected once at process start.
const (
	ModeFloating = "floating"
	ModeFixed    = "fixed"
	ModeAWS      = "aws"
)

// Pool is one public CIDR range.
type Pool struct {
	ID        int64     `json:"id"`
	Network   string    `json:"network"`
	IPv6      bool      `json:"ipv6"`
	Node      *string   `json:"node,omitempty"`
	BlockedIPs []int64  `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// PodIP is one assigned public address.
type PodIP struct {
	PodID  uuid.UUID `json:"pod_id"`
	PoolID int64     `json:"pool_id"`
	IP     int64     `json:"-"`
}

// IPToInt converts an IPv4 address to its host integer.
func IPToInt(addr netip.Addr) (uint32, error) {
	if !addr.Is4() {
		return 0, fmt.Errorf("address %s is not IPv4", addr)
	}
	b := addr.As4()
	return binary.BigEndian.Uint32(b[:]), nil
}

// IntToIP converts a host integer back to an IPv4 address.
func IntToIP(n uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], n)
	return netip.AddrFrom4(b)
}

// Prefix parses the pool's CIDR.
func (p *Pool) Prefix() (netip.Prefix, error) {
	prefix, err := netip.ParsePrefix(p.Network)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("parsing pool network %q: %w", p.Network, err)
	}
	return prefix.Masked(), nil
}

// hostRange returns the inclusive [first, last] host integers of a prefix.
// Network and broadcast addresses are excluded for prefixes shorter than /31.
func hostRange(prefix netip.Prefix) (uint32, uint32, error) {
	base, err := IPToInt(prefix.Addr())
	if err != nil {
		return 0, 0, err
	}
	bits := prefix.Bits()
	size := uint32(1) << (32 - bits)
	if bits >= 31 {
		return base, base + size - 1, nil
	}
	return base + 1, base + size - 2, nil
}

// HostCount returns the number of usable host addresses in the pool.
func (p *Pool) HostCount() (int, error) {
	prefix, err := p.Prefix()
	if err != nil {
		return 0, err
	}
	first, last, err := hostRange(prefix)
	if err != nil {
		return 0, err
	}
	return int(last-first) + 1, nil
}

// Blocked returns the blocked set as host integers.
func (p *Pool) Blocked() map[uint32]bool {
	set := make(map[uint32]bool, len(p.BlockedIPs))
	for _, ip := range p.BlockedIPs {
		set[uint32(ip)] = true
	}
	return set
}

// Contains reports whether the address integer falls inside the pool.
func (p *Pool) Contains(n uint32) bool {
	prefix, err := p.Prefix()
	if err != nil {
		return false
	}
	return prefix.Contains(IntToIP(n))
}

// FirstFree scans the pool's host pages and returns the first address that
// is neither allocated nor blocked. The scan walks 256-address windows and
// stops at the first page with a free host.
func (p *Pool) FirstFree(allocated map[uint32]bool) (uint32, bool) {
	prefix, err := p.Prefix()
	if err != nil {
		return 0, false
	}
	first, last, err := hostRange(prefix)
	if err != nil {
		return 0, false
	}
	blocked := p.Blocked()

	for pageStart := first; ; pageStart += PageSize {
		pageEnd := pageStart + PageSize - 1
		if pageEnd > last || pageEnd < pageStart { // overflow guard
			pageEnd = last
		}
		for n := pageStart; n <= pageEnd; n++ {
			if !allocated[n] && !blocked[n] {
				return n, true
			}
			if n == pageEnd { // avoid uint32 wrap on n++
				break
			}
		}
		if pageEnd == last {
			return 0, false
		}
	}
}

// IsFree reports whether one specific address is available.
func (p *Pool) IsFree(n uint32, allocated map[uint32]bool) bool {
	if !p.Contains(n) {
		return false
	}
	prefix, err := p.Prefix()
	if err != nil {
		return false
	}
	first, last, err := hostRange(prefix)
	if err != nil || n < first || n > last {
		return false
	}
	return !allocated[n] && !p.Blocked()[n]
}

// ParseAutoblock expands a comma-separated mix of single addresses and a-b
// ranges into a sorted, deduplicated set of host integers. Items may be
// dotted quads or raw integers; whitespace around items is ignored. The
// result is order-independent: parse("a,b") == parse("b,a").
func ParseAutoblock(s string) ([]int64, error) {
	set := make(map[uint32]bool)
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		lo, hi, err := parseAutoblockItem(item)
		if err != nil {
			return nil, err
		}
		if hi < lo {
			lo, hi = hi, lo
		}
		if hi-lo >= 1<<16 {
			return nil, fmt.Errorf("autoblock range %q is too large", item)
		}
		for n := lo; ; n++ {
			set[n] = true
			if n == hi {
				break
			}
		}
	}

	out := make([]int64, 0, len(set))
	for n := range set {
		out = append(out, int64(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func parseAutoblockItem(item string) (uint32, uint32, error) {
	if lo, hi, found := strings.Cut(item, "-"); found {
		a, err := parseAutoblockAddr(strings.TrimSpace(lo))
		if err != nil {
			return 0, 0, err
		}
		b, err := parseAutoblockAddr(strings.TrimSpace(hi))
		if err != nil {
			return 0, 0, err
		}
		return a, b, nil
	}
	n, err := parseAutoblockAddr(item)
	return n, n, err
}

func parseAutoblockAddr(s string) (uint32, error) {
	if addr, err := netip.ParseAddr(s); err == nil {
		return IPToInt(addr)
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid autoblock entry %q", s)
	}
	return uint32(n), nil
}

// BlockIP adds an address to the blocked list, returning the new list and
// whether it changed. Blocking an allocated IP does not touch the
// allocation.
func BlockIP(blocked []int64, n uint32) ([]int64, bool) {
	for _, b := range blocked {
		if uint32(b) == n {
			return blocked, false
		}
	}
	out := append(append([]int64(nil), blocked...), int64(n))
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, true
}

// UnblockIP removes an address from the blocked list.
func UnblockIP(blocked []int64, n uint32) ([]int64, bool) {
	for i, b := range blocked {
		if uint32(b) == n {
			return append(append([]int64(nil), blocked[:i]...), blocked[i+1:]...), true
		}
	}
	return blocked, false
}
