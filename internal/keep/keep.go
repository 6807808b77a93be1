// Package keep persists road identity across restarts: the local peer's
// id, counters, and long-term private keys, and the public keys of every
// accepted remote. Ephemeral session keys are never written; a restart
// always re-endows.
package keep

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"roadway/internal/crypto"
	"roadway/internal/peer"
)

const (
	localFile   = "local.json"
	remotesFile = "remotes.json"
	dirPerm     = 0o700
	filePerm    = 0o600
)

// LocalRecord is the persisted form of the local peer.
type LocalRecord struct {
	ID      uint32 `json:"id"`
	Host    string `json:"host"`
	Port    uint16 `json:"port"`
	SignHex string `json:"signhex"`
	PriHex  string `json:"prihex"`
}

// RemoteRecord is the persisted form of one accepted remote.
type RemoteRecord struct {
	ID     uint32 `json:"id"`
	Host   string `json:"host"`
	Port   uint16 `json:"port"`
	VerHex string `json:"verhex"`
	PubHex string `json:"pubhex"`
}

// Keep reads and writes road state under one directory.
type Keep struct {
	dir string
}

func New(dir string) (*Keep, error) {
	if dir == "" {
		return nil, fmt.Errorf("keep: directory required")
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("keep: %w", err)
	}
	return &Keep{dir: dir}, nil
}

func (k *Keep) Dir() string { return k.dir }

// DumpLocal writes the local peer's identity, private keys included.
func (k *Keep) DumpLocal(local *peer.Local) error {
	rec := LocalRecord{
		ID:      local.ID,
		Host:    local.Host,
		Port:    local.Port,
		SignHex: local.Signer.KeyHex(),
		PriHex:  local.Priver.KeyHex(),
	}
	return k.write(localFile, rec)
}

// LoadLocal restores the local peer; a missing file reports os.ErrNotExist.
func (k *Keep) LoadLocal() (*peer.Local, error) {
	var rec LocalRecord
	if err := k.read(localFile, &rec); err != nil {
		return nil, err
	}
	signer, err := crypto.NewSignerFromHex(rec.SignHex)
	if err != nil {
		return nil, fmt.Errorf("keep: %w", err)
	}
	priver, err := crypto.NewPrivateerFromHex(rec.PriHex)
	if err != nil {
		return nil, fmt.Errorf("keep: %w", err)
	}
	local, err := peer.NewLocal(rec.ID, rec.Host, rec.Port, signer, priver)
	if err != nil {
		return nil, err
	}
	local.Accepted = rec.ID != 0
	return local, nil
}

// DumpRemotes writes every accepted remote's public keys.
func (k *Keep) DumpRemotes(reg *peer.Registry) error {
	recs := make([]RemoteRecord, 0, reg.Len())
	for _, r := range reg.All() {
		if !r.Accepted {
			continue
		}
		recs = append(recs, RemoteRecord{
			ID:     r.ID,
			Host:   r.Host,
			Port:   r.Port,
			VerHex: r.Verfer.VerHex(),
			PubHex: r.Pubber.PubHex(),
		})
	}
	return k.write(remotesFile, recs)
}

// LoadRemotes restores accepted remotes into a fresh registry. A missing
// file yields an empty registry, not an error.
func (k *Keep) LoadRemotes() (*peer.Registry, error) {
	reg := peer.NewRegistry()
	var recs []RemoteRecord
	if err := k.read(remotesFile, &recs); err != nil {
		if os.IsNotExist(err) {
			return reg, nil
		}
		return nil, err
	}
	for _, rec := range recs {
		r := peer.NewRemote(rec.ID, rec.Host, rec.Port)
		if _, err := r.SetVerhex(rec.VerHex); err != nil {
			return nil, fmt.Errorf("keep: remote %d: %w", rec.ID, err)
		}
		if _, err := r.SetPubhex(rec.PubHex); err != nil {
			return nil, fmt.Errorf("keep: remote %d: %w", rec.ID, err)
		}
		r.Accepted = true
		if err := reg.Add(r); err != nil {
			return nil, fmt.Errorf("keep: %w", err)
		}
	}
	return reg, nil
}

// Clear removes all persisted state.
func (k *Keep) Clear() error {
	for _, name := range []string{localFile, remotesFile} {
		if err := os.Remove(filepath.Join(k.dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("keep: %w", err)
		}
	}
	return nil
}

func (k *Keep) write(name string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("keep: %w", err)
	}
	path := filepath.Join(k.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, filePerm); err != nil {
		return fmt.Errorf("keep: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("keep: %w", err)
	}
	return nil
}

func (k *Keep) read(name string, v any) error {
	raw, err := os.ReadFile(filepath.Join(k.dir, name))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("keep: %s: %w", name, err)
	}
	return nil
}
