package region

import (
	"fmt"
	"strings"
)

// ID uniquely identifies a Region.
type ID uint64

// KeyRange describes the inclusive-exclusive key range handled by a Region.
type KeyRange struct {
	Start []byte
	End   []byte // empty slice denotes infinity
}

// Epoch tracks structural changes of a Region.
type Epoch struct {
	// Version increases when the key range of a Region changes (split/merge).
	Version uint64
	// ConfVersion increases when the peer set changes (add/remove peers).
	ConfVersion uint64
}

func (e Epoch) String() string {
	return fmt.Sprintf("{conf_ver:%d version:%d}", e.ConfVersion, e.Version)
}

// IsEpochStale reports whether epoch lags behind check in either dimension.
// The comparison is not symmetric: two epochs that moved in different
// directions are each stale relative to the other.
func IsEpochStale(epoch, check Epoch) bool {
	return epoch.Version < check.Version || epoch.ConfVersion < check.ConfVersion
}

// PeerRole distinguishes voting members from learners.
type PeerRole int

const (
	// Voter is a full voting member of the Region's Raft group.
	Voter PeerRole = iota
	// Learner only receives logs; not part of quorum until promoted.
	Learner
)

// Peer describes a Region replica hosted on a Store.
type Peer struct {
	ID      uint64
	StoreID uint64
	Role    PeerRole
}

// SameAs reports whether p and other name the same replica. Role changes do
// not change replica identity.
func (p Peer) SameAs(other Peer) bool {
	return p.ID == other.ID && p.StoreID == other.StoreID
}

func (p Peer) String() string {
	return fmt.Sprintf("{id:%d store_id:%d}", p.ID, p.StoreID)
}

// State captures the lifecycle of a Region.
type State int

const (
	// StateActive indicates the Region is serving traffic.
	StateActive State = iota
	// StateSplitting indicates the Region is splitting its key range.
	StateSplitting
	// StateMerging indicates the Region is merging with another Region.
	StateMerging
	// StateTombstone indicates the Region has been removed.
	StateTombstone
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateSplitting:
		return "splitting"
	case StateMerging:
		return "merging"
	case StateTombstone:
		return "tombstone"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Region aggregates metadata describing a single shard of the keyspace.
type Region struct {
	ID     ID
	Range  KeyRange
	Epoch  Epoch
	Peers  []Peer
	State  State
	Leader uint64 // Peer ID currently considered leader (best-effort hint)
}

// ContainsKey reports whether the region manages the provided key.
func (r *Region) ContainsKey(key []byte) bool {
	if r == nil {
		return false
	}
	if len(r.Range.Start) > 0 && string(key) < string(r.Range.Start) {
		return false
	}
	if len(r.Range.End) > 0 && string(key) >= string(r.Range.End) {
		return false
	}
	return true
}

// HasPeer reports whether peer is a member of the region.
func (r *Region) HasPeer(peer Peer) bool {
	if r == nil {
		return false
	}
	for _, p := range r.Peers {
		if p.SameAs(peer) {
			return true
		}
	}
	return false
}

// FindPeerByStore returns the replica hosted on storeID.
func (r *Region) FindPeerByStore(storeID uint64) (Peer, bool) {
	if r == nil {
		return Peer{}, false
	}
	for _, p := range r.Peers {
		if p.StoreID == storeID {
			return p, true
		}
	}
	return Peer{}, false
}

// FindPeer returns the replica with the given peer id.
func (r *Region) FindPeer(peerID uint64) (Peer, bool) {
	if r == nil {
		return Peer{}, false
	}
	for _, p := range r.Peers {
		if p.ID == peerID {
			return p, true
		}
	}
	return Peer{}, false
}

// RemovePeer drops the replica with the given peer id and reports whether it
// was present.
func (r *Region) RemovePeer(peerID uint64) bool {
	if r == nil {
		return false
	}
	for i, p := range r.Peers {
		if p.ID == peerID {
			r.Peers = append(r.Peers[:i:i], r.Peers[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the Region metadata for safe mutation.
func (r *Region) Clone() Region {
	if r == nil {
		return Region{}
	}
	cp := *r
	cp.Range = KeyRange{
		Start: append([]byte(nil), r.Range.Start...),
		End:   append([]byte(nil), r.Range.End...),
	}
	if len(r.Peers) > 0 {
		cp.Peers = append([]Peer(nil), r.Peers...)
	}
	return cp
}

func (r Region) String() string {
	peers := make([]string, 0, len(r.Peers))
	for _, p := range r.Peers {
		peers = append(peers, p.String())
	}
	return fmt.Sprintf("{id:%d start_key:%q end_key:%q epoch:%s peers:[%s]}",
		r.ID, r.Range.Start, r.Range.End, r.Epoch, strings.Join(peers, " "))
}
