package keep

import (
	"os"
	"testing"

	"roadway/internal/peer"
)

func TestLocalRoundTrip(t *testing.T) {
	kp, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	local, err := peer.NewLocal(2, "127.0.0.1", 7531, nil, nil)
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}
	if err := kp.DumpLocal(local); err != nil {
		t.Fatalf("DumpLocal failed: %v", err)
	}

	got, err := kp.LoadLocal()
	if err != nil {
		t.Fatalf("LoadLocal failed: %v", err)
	}
	if got.ID != 2 || got.Port != 7531 {
		t.Fatalf("restored peer wrong: %+v", got.Peer)
	}
	if !got.Accepted {
		t.Fatalf("peer with an assigned id restored unaccepted")
	}
	if got.Signer.VerHex() != local.Signer.VerHex() {
		t.Fatalf("signing key did not survive")
	}
	if got.Priver.PubHex() != local.Priver.PubHex() {
		t.Fatalf("encryption key did not survive")
	}
}

func TestLoadLocalMissing(t *testing.T) {
	kp, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := kp.LoadLocal(); !os.IsNotExist(err) {
		t.Fatalf("missing keep reported %v", err)
	}
}

func TestRemotesRoundTrip(t *testing.T) {
	kp, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	seedLocal, err := peer.NewLocal(0, "", 0, nil, nil)
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}
	reg := peer.NewRegistry()
	accepted := peer.NewRemote(1, "127.0.0.1", 7530)
	if _, err := accepted.SetVerhex(seedLocal.Signer.VerHex()); err != nil {
		t.Fatalf("SetVerhex failed: %v", err)
	}
	if _, err := accepted.SetPubhex(seedLocal.Priver.PubHex()); err != nil {
		t.Fatalf("SetPubhex failed: %v", err)
	}
	accepted.Accepted = true
	provisional := peer.NewRemote(0, "127.0.0.1", 7539)
	_ = reg.Add(accepted)
	_ = reg.Add(provisional)

	if err := kp.DumpRemotes(reg); err != nil {
		t.Fatalf("DumpRemotes failed: %v", err)
	}
	back, err := kp.LoadRemotes()
	if err != nil {
		t.Fatalf("LoadRemotes failed: %v", err)
	}
	// The provisional remote must not be persisted.
	if back.Len() != 1 {
		t.Fatalf("restored %d remotes, want 1", back.Len())
	}
	got, ok := back.Get(1)
	if !ok || !got.Accepted {
		t.Fatalf("accepted remote did not survive")
	}
	if got.Pubber.PubHex() != seedLocal.Priver.PubHex() {
		t.Fatalf("remote public key did not survive")
	}
}

func TestLoadRemotesMissing(t *testing.T) {
	kp, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	reg, err := kp.LoadRemotes()
	if err != nil {
		t.Fatalf("LoadRemotes failed: %v", err)
	}
	if reg.Len() != 0 {
		t.Fatalf("empty keep produced %d remotes", reg.Len())
	}
}

func TestClear(t *testing.T) {
	kp, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	local, err := peer.NewLocal(1, "", 0, nil, nil)
	if err != nil {
		t.Fatalf("NewLocal failed: %v", err)
	}
	if err := kp.DumpLocal(local); err != nil {
		t.Fatalf("DumpLocal failed: %v", err)
	}
	if err := kp.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, err := kp.LoadLocal(); !os.IsNotExist(err) {
		t.Fatalf("clear left state behind: %v", err)
	}
	// Clearing twice is fine.
	if err := kp.Clear(); err != nil {
		t.Fatalf("second Clear failed: %v", err)
	}
}
