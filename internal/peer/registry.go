package peer

import (
	"fmt"
	"sort"
)

// Registry maps remote peer ids to their state. It is owned by exactly one
// stack and mutated only from that stack's service cycle, so it carries no
// lock of its own.
type Registry struct {
	peers map[uint32]*Remote
}

func NewRegistry() *Registry {
	return &Registry{peers: make(map[uint32]*Remote)}
}

// Add registers a remote under its id. A second add for a live id is a
// caller error.
func (r *Registry) Add(p *Remote) error {
	if _, ok := r.peers[p.ID]; ok {
		return fmt.Errorf("registry: peer id %d already present", p.ID)
	}
	r.peers[p.ID] = p
	return nil
}

func (r *Registry) Get(id uint32) (*Remote, bool) {
	p, ok := r.peers[id]
	return p, ok
}

func (r *Registry) Has(id uint32) bool {
	_, ok := r.peers[id]
	return ok
}

func (r *Registry) Len() int { return len(r.peers) }

// All returns remotes in ascending id order.
func (r *Registry) All() []*Remote {
	out := make([]*Remote, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// First returns the lowest-id remote; during bootstrap that is the
// provisional channel master.
func (r *Registry) First() (*Remote, bool) {
	all := r.All()
	if len(all) == 0 {
		return nil, false
	}
	return all[0], true
}

// Rekey atomically moves a remote from old to new id, as the join
// initiator must after the master assigns real ids. Occupied targets are
// an error and leave the registry unchanged.
func (r *Registry) Rekey(old, new uint32) error {
	p, ok := r.peers[old]
	if !ok {
		return fmt.Errorf("registry: no peer under id %d", old)
	}
	if old == new {
		return nil
	}
	if _, taken := r.peers[new]; taken {
		return fmt.Errorf("registry: peer id %d already present", new)
	}
	delete(r.peers, old)
	p.ID = new
	r.peers[new] = p
	return nil
}

// MintID returns the lowest unused id starting at 2; ids 0 and 1 are
// reserved for bootstrap and the channel master. The caller passes its
// own id so a minted id never shadows it.
func (r *Registry) MintID(localID uint32) uint32 {
	id := uint32(2)
	for r.Has(id) || id == localID {
		id++
	}
	return id
}
