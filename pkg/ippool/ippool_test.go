package ippool

import (
	"net/netip"
	"reflect"
	"testing"
)

func TestIPIntRoundTrip(t *testing.T) {
	addrs := []string{"0.0.0.1", "10.0.0.1", "192.168.1.254", "255.255.255.255"}
	for _, raw := range addrs {
		addr := netip.MustParseAddr(raw)
		n, err := IPToInt(addr)
		if err != nil {
			t.Fatalf("IPToInt(%s) error = %v", raw, err)
		}
		if got := IntToIP(n); got != addr {
			t.Errorf("IntToIP(IPToInt(%s)) = %s", raw, got)
		}
	}
}

func TestIPToInt_RejectsIPv6(t *testing.T) {
	if _, err := IPToInt(netip.MustParseAddr("::1")); err == nil {
		t.Fatal("IPToInt() accepted an IPv6 address")
	}
}

func TestParseAutoblock(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "single dotted IP",
			input: "10.0.0.1",
			want:  []string{"10.0.0.1"},
		},
		{
			name:  "dotted range",
			input: "10.0.0.1-10.0.0.3",
			want:  []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"},
		},
		{
			name:  "mixed list with duplicates",
			input: "10.0.0.5, 10.0.0.1-10.0.0.2, 10.0.0.5",
			want:  []string{"10.0.0.1", "10.0.0.2", "10.0.0.5"},
		},
		{
			name:  "empty",
			input: "",
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAutoblock(tt.input)
			if err != nil {
				t.Fatalf("ParseAutoblock(%q) error = %v", tt.input, err)
			}
			rendered := make([]string, 0, len(got))
			for _, n := range got {
				rendered = append(rendered, IntToIP(uint32(n)).String())
			}
			if !reflect.DeepEqual(rendered, tt.want) {
				t.Errorf("ParseAutoblock(%q) = %v, want %v", tt.input, rendered, tt.want)
			}
		})
	}
}

func TestParseAutoblock_OrderIndependent(t *testing.T) {
	a, err := ParseAutoblock("10.0.0.9, 10.0.0.1-10.0.0.3")
	if err != nil {
		t.Fatalf("ParseAutoblock() error = %v", err)
	}
	b, err := ParseAutoblock("10.0.0.1-10.0.0.3, 10.0.0.9")
	if err != nil {
		t.Fatalf("ParseAutoblock() error = %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Errorf("ParseAutoblock is order dependent: %v != %v", a, b)
	}
}

func TestParseAutoblock_Invalid(t *testing.T) {
	for _, input := range []string{"not-an-ip", "10.0.0.1-banana", "1-2-3"} {
		if _, err := ParseAutoblock(input); err == nil {
			t.Errorf("ParseAutoblock(%q) accepted invalid input", input)
		}
	}
}

func TestPoolHostCount(t *testing.T) {
	tests := []struct {
		network string
		want    int
	}{
		{"192.168.1.0/24", 254}, // network and broadcast excluded
		{"192.168.1.0/30", 2},
		{"192.168.1.4/31", 2},
		{"192.168.1.4/32", 1},
	}
	for _, tt := range tests {
		p := Pool{Network: tt.network}
		got, err := p.HostCount()
		if err != nil {
			t.Fatalf("HostCount(%s) error = %v", tt.network, err)
		}
		if got != tt.want {
			t.Errorf("HostCount(%s) = %d, want %d", tt.network, got, tt.want)
		}
	}
}

func TestPoolFirstFree(t *testing.T) {
	p := Pool{Network: "192.168.1.0/24"}

	n, ok := p.FirstFree(nil)
	if !ok || IntToIP(n).String() != "192.168.1.1" {
		t.Fatalf("FirstFree() = %s, %v; want 192.168.1.1", IntToIP(n), ok)
	}

	// Block the first host and allocate the second: the scan must skip both.
	first, _ := IPToInt(netip.MustParseAddr("192.168.1.1"))
	second, _ := IPToInt(netip.MustParseAddr("192.168.1.2"))
	p.BlockedIPs = []int64{int64(first)}

	n, ok = p.FirstFree(map[uint32]bool{second: true})
	if !ok || IntToIP(n).String() != "192.168.1.3" {
		t.Fatalf("FirstFree() = %s, %v; want 192.168.1.3", IntToIP(n), ok)
	}
}

func TestPoolFirstFree_Exhausted(t *testing.T) {
	p := Pool{Network: "192.168.1.0/30"}
	a, _ := IPToInt(netip.MustParseAddr("192.168.1.1"))
	b, _ := IPToInt(netip.MustParseAddr("192.168.1.2"))

	if _, ok := p.FirstFree(map[uint32]bool{a: true, b: true}); ok {
		t.Fatal("FirstFree() found an address in an exhausted pool")
	}
}

func TestPoolFirstFree_WalksPastFullPage(t *testing.T) {
	// A /23 has two 256-address pages; fill the whole first page and verify
	// the scan lands on the second.
	p := Pool{Network: "10.0.0.0/23"}
	allocated := make(map[uint32]bool)
	start, _ := IPToInt(netip.MustParseAddr("10.0.0.1"))
	for n := start; n < start+PageSize; n++ {
		allocated[n] = true
	}

	n, ok := p.FirstFree(allocated)
	if !ok {
		t.Fatal("FirstFree() failed with a free second page")
	}
	if got := IntToIP(n).String(); got != "10.0.1.1" {
		t.Errorf("FirstFree() = %s, want 10.0.1.1", got)
	}
}

func TestBlockUnblockIP(t *testing.T) {
	var blocked []int64

	blocked, changed := BlockIP(blocked, 100)
	if !changed || len(blocked) != 1 {
		t.Fatalf("BlockIP() = %v, changed=%v", blocked, changed)
	}

	// Blocking twice is a no-op.
	blocked, changed = BlockIP(blocked, 100)
	if changed || len(blocked) != 1 {
		t.Fatalf("repeated BlockIP() = %v, changed=%v", blocked, changed)
	}

	blocked, changed = UnblockIP(blocked, 100)
	if !changed || len(blocked) != 0 {
		t.Fatalf("UnblockIP() = %v, changed=%v", blocked, changed)
	}

	// Unblocking an absent address is a no-op.
	if _, changed = UnblockIP(blocked, 100); changed {
		t.Fatal("UnblockIP() reported a change on an empty list")
	}
}

func TestPoolIsFree(t *testing.T) {
	p := Pool{Network: "192.168.1.0/24"}
	n, _ := IPToInt(netip.MustParseAddr("192.168.1.10"))
	outside, _ := IPToInt(netip.MustParseAddr("10.0.0.1"))
	network, _ := IPToInt(netip.MustParseAddr("192.168.1.0"))

	if !p.IsFree(n, nil) {
		t.Error("IsFree() = false for an unallocated in-range address")
	}
	if p.IsFree(outside, nil) {
		t.Error("IsFree() = true for an address outside the pool")
	}
	if p.IsFree(network, nil) {
		t.Error("IsFree() = true for the network address")
	}
	if p.IsFree(n, map[uint32]bool{n: true}) {
		t.Error("IsFree() = true for an allocated address")
	}
}
