package raftstore

import (
	"fmt"

	"github.com/cockroachdb/pebble"
	jsoniter "github.com/json-iterator/go"

	"nyxstore/internal/raftstore/keys"
	regionpkg "nyxstore/internal/region"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// metaStore persists local region metadata and pending merges in the store
// engine.
type metaStore struct {
	db *pebble.DB
}

type regionEntry struct {
	ID          uint64       `json:"id"`
	StartKey    []byte       `json:"start_key"`
	EndKey      []byte       `json:"end_key"`
	Version     uint64       `json:"version"`
	ConfVersion uint64       `json:"conf_version"`
	State       int          `json:"state"`
	Leader      uint64       `json:"leader"`
	Peers       []regionPeer `json:"peers"`
}

type regionPeer struct {
	ID      uint64 `json:"id"`
	StoreID uint64 `json:"store_id"`
	Role    int    `json:"role"`
}

// pendingMerge remembers the target before it absorbed From so the merge can
// be rolled back.
type pendingMerge struct {
	Before regionEntry `json:"before"`
	From   regionEntry `json:"from"`
}

func makeRegionEntry(region regionpkg.Region) regionEntry {
	entry := regionEntry{
		ID:          uint64(region.ID),
		StartKey:    region.Range.Start,
		EndKey:      region.Range.End,
		Version:     region.Epoch.Version,
		ConfVersion: region.Epoch.ConfVersion,
		State:       int(region.State),
		Leader:      region.Leader,
	}
	for _, p := range region.Peers {
		entry.Peers = append(entry.Peers, regionPeer{ID: p.ID, StoreID: p.StoreID, Role: int(p.Role)})
	}
	return entry
}

func (e regionEntry) toRegion() regionpkg.Region {
	region := regionpkg.Region{
		ID:     regionpkg.ID(e.ID),
		Range:  regionpkg.KeyRange{Start: e.StartKey, End: e.EndKey},
		Epoch:  regionpkg.Epoch{Version: e.Version, ConfVersion: e.ConfVersion},
		State:  regionpkg.State(e.State),
		Leader: e.Leader,
	}
	for _, p := range e.Peers {
		region.Peers = append(region.Peers, regionpkg.Peer{ID: p.ID, StoreID: p.StoreID, Role: regionpkg.PeerRole(p.Role)})
	}
	return region.Clone()
}

func (s *metaStore) putRegions(regions ...regionpkg.Region) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, r := range regions {
		data, err := json.Marshal(makeRegionEntry(r))
		if err != nil {
			return err
		}
		if err := batch.Set(keys.RegionMetaKey(r.ID), data, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

func (s *metaStore) putMerge(into regionpkg.ID, m pendingMerge) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.db.Set(keys.MergeStateKey(into), data, pebble.Sync)
}

func (s *metaStore) deleteMerge(into regionpkg.ID) error {
	return s.db.Delete(keys.MergeStateKey(into), pebble.Sync)
}

func (s *metaStore) loadRegions() ([]regionpkg.Region, error) {
	lo, hi := keys.RegionMetaRange()
	var out []regionpkg.Region
	err := s.scan(lo, hi, func(value []byte) error {
		var entry regionEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			return err
		}
		out = append(out, entry.toRegion())
		return nil
	})
	return out, err
}

func (s *metaStore) loadMerges() (map[regionpkg.ID]pendingMerge, error) {
	lo, hi := keys.MergeStateRange()
	out := make(map[regionpkg.ID]pendingMerge)
	err := s.scan(lo, hi, func(value []byte) error {
		var m pendingMerge
		if err := json.Unmarshal(value, &m); err != nil {
			return err
		}
		out[regionpkg.ID(m.Before.ID)] = m
		return nil
	})
	return out, err
}

func (s *metaStore) scan(lo, hi []byte, fn func(value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lo, UpperBound: hi})
	if err != nil {
		return err
	}
	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Value()); err != nil {
			err = fmt.Errorf("decode %q: %w", iter.Key(), err)
			_ = iter.Close()
			return err
		}
	}
	return iter.Close()
}
