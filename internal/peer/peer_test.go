package peer

import (
	"testing"
)

func TestNextSidRollover(t *testing.T) {
	p := &Peer{Sid: 0xffffffff}
	if got := p.NextSid(); got != 1 {
		t.Fatalf("rollover landed on %d, want 1", got)
	}
	p.Tid = 0xffffffff
	if got := p.NextTid(); got != 1 {
		t.Fatalf("tid rollover landed on %d, want 1", got)
	}
}

func TestValidSid(t *testing.T) {
	cases := []struct {
		next, prev uint32
		want       bool
	}{
		{1, 0, true},
		{5, 5, true},
		{4, 5, false},
		{0, 0xffffffff, true},       // wrapped forward
		{0xffffffff, 0, false},      // regressed across the wrap
		{1 << 31, 0, false},         // exactly half the space is stale
		{(1 << 31) - 1, 0, true},    // just under half is fresh
		{10, 0x80000000 + 20, true}, // forward across the midpoint
	}
	for _, tc := range cases {
		if got := ValidSid(tc.next, tc.prev); got != tc.want {
			t.Fatalf("ValidSid(%d, %d) = %v, want %v", tc.next, tc.prev, got, tc.want)
		}
	}
}

func TestRegistryAddAndRekey(t *testing.T) {
	reg := NewRegistry()
	r := NewRemote(0, "", 0)
	if err := reg.Add(r); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := reg.Add(NewRemote(0, "", 0)); err == nil {
		t.Fatalf("duplicate id accepted")
	}

	if err := reg.Rekey(0, 1); err != nil {
		t.Fatalf("Rekey failed: %v", err)
	}
	if r.ID != 1 {
		t.Fatalf("rekey did not update the peer: %d", r.ID)
	}
	if reg.Has(0) || !reg.Has(1) {
		t.Fatalf("rekey left stale entries")
	}

	if err := reg.Rekey(5, 6); err == nil {
		t.Fatalf("rekey of missing id accepted")
	}
	other := NewRemote(3, "", 0)
	if err := reg.Add(other); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := reg.Rekey(3, 1); err == nil {
		t.Fatalf("rekey onto occupied id accepted")
	}
	if other.ID != 3 {
		t.Fatalf("failed rekey mutated the peer")
	}
}

func TestRegistryMintID(t *testing.T) {
	reg := NewRegistry()
	if got := reg.MintID(1); got != 2 {
		t.Fatalf("first minted id %d, want 2", got)
	}
	_ = reg.Add(NewRemote(2, "", 0))
	_ = reg.Add(NewRemote(3, "", 0))
	if got := reg.MintID(1); got != 4 {
		t.Fatalf("minted id %d, want 4", got)
	}
	// Never mint the local peer's own id.
	if got := reg.MintID(4); got != 5 {
		t.Fatalf("minted id %d shadows the local peer", got)
	}
}

func TestRemoteRefreshInvalidatesSession(t *testing.T) {
	r := NewRemote(2, "", 0)
	if err := r.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	r.Endowed = true
	if err := r.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if r.Endowed {
		t.Fatalf("refresh kept the session endowed")
	}
	if _, err := r.Session(); err == nil {
		t.Fatalf("session handed out without an endow")
	}
}
