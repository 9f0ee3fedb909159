// Package keys lays out column families and region metadata inside the single
// pebble keyspace of a store.
package keys

import (
	"encoding/binary"
	"fmt"

	regionpkg "nyxstore/internal/region"
)

const (
	CFDefault = "default"
	CFLock    = "lock"
	CFWrite   = "write"
	CFRaft    = "raft"
)

var cfPrefixes = map[string][]byte{
	CFDefault: []byte("d/"),
	CFLock:    []byte("l/"),
	CFWrite:   []byte("w/"),
	CFRaft:    []byte("r/"),
}

// DataCFs are the column families that hold user data for a region range.
var DataCFs = []string{CFDefault, CFLock, CFWrite}

var (
	regionMetaPrefix = []byte("m/region/")
	mergeStatePrefix = []byte("m/merge/")
)

// DataKey encodes key under cf.
func DataKey(cf string, key []byte) ([]byte, error) {
	p, ok := cfPrefixes[cf]
	if !ok {
		return nil, fmt.Errorf("unknown column family %q", cf)
	}
	out := make([]byte, 0, len(p)+len(key))
	out = append(out, p...)
	return append(out, key...), nil
}

// CFRange maps a user key range of cf onto the keyspace. A nil start or end
// means the smallest or largest key of the family.
func CFRange(cf string, start, end []byte) (lo, hi []byte, err error) {
	p, ok := cfPrefixes[cf]
	if !ok {
		return nil, nil, fmt.Errorf("unknown column family %q", cf)
	}
	lo = append(append([]byte(nil), p...), start...)
	if len(end) == 0 {
		hi = prefixEnd(p)
	} else {
		hi = append(append([]byte(nil), p...), end...)
	}
	return lo, hi, nil
}

// RegionMetaKey is the key of the local metadata record of a region.
func RegionMetaKey(id regionpkg.ID) []byte {
	out := append([]byte(nil), regionMetaPrefix...)
	return binary.BigEndian.AppendUint64(out, uint64(id))
}

// RegionMetaRange bounds every region metadata record.
func RegionMetaRange() (lo, hi []byte) {
	return append([]byte(nil), regionMetaPrefix...), prefixEnd(regionMetaPrefix)
}

// MergeStateKey is the key of the pending merge record of the target region.
func MergeStateKey(into regionpkg.ID) []byte {
	out := append([]byte(nil), mergeStatePrefix...)
	return binary.BigEndian.AppendUint64(out, uint64(into))
}

func MergeStateRange() (lo, hi []byte) {
	return append([]byte(nil), mergeStatePrefix...), prefixEnd(mergeStatePrefix)
}

func prefixEnd(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
