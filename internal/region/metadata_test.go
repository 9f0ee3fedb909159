package region

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsEpochStale(t *testing.T) {
	base := Epoch{Version: 5, ConfVersion: 3}

	cases := []struct {
		name  string
		epoch Epoch
		check Epoch
		stale bool
	}{
		{name: "equal", epoch: base, check: base, stale: false},
		{name: "version behind", epoch: Epoch{Version: 4, ConfVersion: 3}, check: base, stale: true},
		{name: "conf version behind", epoch: Epoch{Version: 5, ConfVersion: 2}, check: base, stale: true},
		{name: "both behind", epoch: Epoch{Version: 1, ConfVersion: 1}, check: base, stale: true},
		{name: "ahead", epoch: Epoch{Version: 6, ConfVersion: 4}, check: base, stale: false},
		{name: "version ahead conf behind", epoch: Epoch{Version: 6, ConfVersion: 2}, check: base, stale: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.stale, IsEpochStale(tc.epoch, tc.check))
		})
	}
}

func TestIsEpochStaleDirection(t *testing.T) {
	a := Epoch{Version: 1, ConfVersion: 1}
	b := Epoch{Version: 2, ConfVersion: 2}
	require.True(t, IsEpochStale(a, b))
	require.False(t, IsEpochStale(b, a))

	// Components moved in opposite directions: each is stale to the other.
	c := Epoch{Version: 3, ConfVersion: 1}
	d := Epoch{Version: 1, ConfVersion: 3}
	require.True(t, IsEpochStale(c, d))
	require.True(t, IsEpochStale(d, c))
}

func TestIsEpochStaleMatchesDefinition(t *testing.T) {
	for v1 := uint64(0); v1 < 3; v1++ {
		for c1 := uint64(0); c1 < 3; c1++ {
			for v2 := uint64(0); v2 < 3; v2++ {
				for c2 := uint64(0); c2 < 3; c2++ {
					a := Epoch{Version: v1, ConfVersion: c1}
					b := Epoch{Version: v2, ConfVersion: c2}
					require.Equal(t, v1 < v2 || c1 < c2, IsEpochStale(a, b))
					if a == b {
						require.False(t, IsEpochStale(a, b))
					}
					if !IsEpochStale(a, b) && !IsEpochStale(b, a) {
						require.Equal(t, a, b)
					}
				}
			}
		}
	}
}

func TestRegionPeers(t *testing.T) {
	r := Region{
		ID: 1,
		Peers: []Peer{
			{ID: 10, StoreID: 1},
			{ID: 11, StoreID: 2, Role: Learner},
		},
	}

	require.True(t, r.HasPeer(Peer{ID: 10, StoreID: 1}))
	require.True(t, r.HasPeer(Peer{ID: 11, StoreID: 2}), "role is not part of identity")
	require.False(t, r.HasPeer(Peer{ID: 10, StoreID: 2}))

	p, ok := r.FindPeerByStore(2)
	require.True(t, ok)
	require.Equal(t, uint64(11), p.ID)

	p, ok = r.FindPeer(11)
	require.True(t, ok)
	require.Equal(t, Learner, p.Role)
	_, ok = r.FindPeer(12)
	require.False(t, ok)

	clone := r.Clone()
	require.True(t, clone.RemovePeer(10))
	require.False(t, clone.RemovePeer(10))
	require.Len(t, clone.Peers, 1)
	require.Len(t, r.Peers, 2, "clone must not alias the original peers")
	require.Equal(t, uint64(10), r.Peers[0].ID)
}

func TestRegionContainsKey(t *testing.T) {
	r := &Region{Range: KeyRange{Start: []byte("b"), End: []byte("d")}}
	require.False(t, r.ContainsKey([]byte("a")))
	require.True(t, r.ContainsKey([]byte("b")))
	require.True(t, r.ContainsKey([]byte("c")))
	require.False(t, r.ContainsKey([]byte("d")))

	unbounded := &Region{}
	require.True(t, unbounded.ContainsKey([]byte("zzz")))

	var nilRegion *Region
	require.False(t, nilRegion.ContainsKey([]byte("a")))
}
