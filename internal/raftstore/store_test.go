package raftstore

import (
	"sync"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/raft/v3/raftpb"
	"go.uber.org/zap/zaptest"

	"nyxstore/internal/raftstore/keys"
	"nyxstore/internal/raftstore/message"
	"nyxstore/internal/raftstore/worker"
	regionpkg "nyxstore/internal/region"
)

type recordingScheduler[T any] struct {
	mu    sync.Mutex
	tasks []T
}

func (r *recordingScheduler[T]) Schedule(task T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	return nil
}

func (r *recordingScheduler[T]) drain() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.tasks
	r.tasks = nil
	return out
}

type storeHarness struct {
	dir     string
	db      *pebble.DB
	store   *Store
	pd      *recordingScheduler[worker.PDTask]
	compact *recordingScheduler[worker.CompactTask]
}

func newHarness(t *testing.T) *storeHarness {
	t.Helper()
	h := &storeHarness{dir: t.TempDir()}
	h.open(t)
	t.Cleanup(func() {
		if h.db != nil {
			_ = h.db.Close()
		}
	})
	return h
}

func (h *storeHarness) open(t *testing.T) {
	t.Helper()
	db, err := pebble.Open(h.dir, &pebble.Options{})
	require.NoError(t, err)
	h.db = db
	h.pd = &recordingScheduler[worker.PDTask]{}
	h.compact = &recordingScheduler[worker.CompactTask]{}
	store, err := New(Config{StoreID: 1, Address: "127.0.0.1:20160", Capacity: 1 << 30},
		db, message.NewSendCh("test", 16), h.pd, h.compact, zaptest.NewLogger(t))
	require.NoError(t, err)
	h.store = store
}

func (h *storeHarness) reopen(t *testing.T) {
	t.Helper()
	require.NoError(t, h.db.Close())
	h.db = nil
	h.open(t)
}

func (h *storeHarness) apply(t *testing.T, id regionpkg.ID, req message.AdminRequest) error {
	t.Helper()
	region, ok := h.store.Region(id)
	require.True(t, ok)
	local, _ := region.FindPeerByStore(1)
	return h.applyAt(region, local, req)
}

func (h *storeHarness) applyAt(region regionpkg.Region, peer regionpkg.Peer, req message.AdminRequest) error {
	cmd := message.NewAdminCmd(region, peer, req)
	var result error
	called := false
	cmd.Callback = func(err error) {
		called = true
		result = err
	}
	h.store.HandleMsg(cmd)
	if !called {
		panic("callback not invoked")
	}
	return result
}

func testRegion(id regionpkg.ID, peerID uint64, start, end string) regionpkg.Region {
	r := regionpkg.Region{
		ID:     id,
		Epoch:  regionpkg.Epoch{Version: 1, ConfVersion: 1},
		Peers:  []regionpkg.Peer{{ID: peerID, StoreID: 1}},
		Leader: peerID,
	}
	if start != "" {
		r.Range.Start = []byte(start)
	}
	if end != "" {
		r.Range.End = []byte(end)
	}
	return r
}

func TestNewRejectsZeroStoreID(t *testing.T) {
	db, err := pebble.Open(t.TempDir(), &pebble.Options{})
	require.NoError(t, err)
	defer db.Close()
	_, err = New(Config{}, db, message.NewSendCh("test", 1), &recordingScheduler[worker.PDTask]{}, &recordingScheduler[worker.CompactTask]{}, nil)
	require.Error(t, err)
}

func TestBootstrap(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Bootstrap(testRegion(1, 1, "", "")))
	require.Error(t, h.store.Bootstrap(testRegion(1, 1, "", "")))

	foreign := testRegion(2, 5, "", "")
	foreign.Peers[0].StoreID = 9
	require.Error(t, h.store.Bootstrap(foreign))

	regions := h.store.Regions()
	require.Len(t, regions, 1)
	require.Equal(t, regionpkg.ID(1), regions[0].ID)
}

func TestApplySplit(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Bootstrap(testRegion(1, 1, "", "")))

	require.NoError(t, h.apply(t, 1, message.NewSplitRequest([]byte("m"), 2, []uint64{3})))

	left, ok := h.store.Region(1)
	require.True(t, ok)
	right, ok := h.store.Region(2)
	require.True(t, ok)

	require.Empty(t, left.Range.Start)
	require.Equal(t, []byte("m"), left.Range.End)
	require.Equal(t, []byte("m"), right.Range.Start)
	require.Empty(t, right.Range.End)
	require.Equal(t, uint64(2), left.Epoch.Version)
	require.Equal(t, left.Epoch, right.Epoch)
	require.Equal(t, []regionpkg.Peer{{ID: 3, StoreID: 1}}, right.Peers)
	require.Equal(t, uint64(3), right.Leader)

	tasks := h.pd.drain()
	require.Len(t, tasks, 1)
	report, ok := tasks[0].(worker.ReportSplitTask)
	require.True(t, ok)
	require.Equal(t, regionpkg.ID(1), report.Left.ID)
	require.Equal(t, regionpkg.ID(2), report.Right.ID)

	d := h.store.Diagnostics()
	require.Equal(t, 2, d.Regions)
	require.Equal(t, 2, d.Leaders)
	require.Equal(t, uint64(1), d.AppliedCommands)
}

func TestApplySplitRejections(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Bootstrap(testRegion(1, 1, "b", "x")))

	err := h.apply(t, 1, message.NewSplitRequest([]byte("b"), 2, []uint64{3}))
	require.ErrorIs(t, err, ErrInvalidSplitKey)
	err = h.apply(t, 1, message.NewSplitRequest([]byte("z"), 2, []uint64{3}))
	require.ErrorIs(t, err, ErrInvalidSplitKey)
	err = h.apply(t, 1, message.NewSplitRequest([]byte("k"), 2, []uint64{3, 4}))
	require.Error(t, err)
	err = h.apply(t, 1, message.NewSplitRequest([]byte("k"), 1, []uint64{3}))
	require.Error(t, err)

	require.Equal(t, uint64(4), h.store.Diagnostics().RejectedCommands)
	require.Empty(t, h.pd.drain())
}

func TestStaleCommandRejected(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Bootstrap(testRegion(1, 1, "", "")))
	before, _ := h.store.Region(1)
	peer := before.Peers[0]

	require.NoError(t, h.applyAt(before, peer, message.NewSplitRequest([]byte("m"), 2, []uint64{3})))
	err := h.applyAt(before, peer, message.NewSplitRequest([]byte("c"), 4, []uint64{5}))
	require.ErrorIs(t, err, ErrStaleCommand)

	_, ok := h.store.Region(4)
	require.False(t, ok)
}

func TestUnknownRegionCommand(t *testing.T) {
	h := newHarness(t)
	region := testRegion(7, 1, "", "")
	err := h.applyAt(region, region.Peers[0], message.NewTransferLeaderRequest(region.Peers[0]))
	require.ErrorIs(t, err, ErrRegionNotFound)
}

func TestApplyChangePeer(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Bootstrap(testRegion(1, 1, "", "")))

	learner := regionpkg.Peer{ID: 10, StoreID: 2}
	require.NoError(t, h.apply(t, 1, message.NewChangePeerRequest(raftpb.ConfChangeAddLearnerNode, learner)))
	region, _ := h.store.Region(1)
	require.Len(t, region.Peers, 2)
	require.Equal(t, regionpkg.Learner, region.Peers[1].Role)
	require.Equal(t, uint64(2), region.Epoch.ConfVersion)

	// Promotion keeps the peer and bumps the conf version again.
	require.NoError(t, h.apply(t, 1, message.NewChangePeerRequest(raftpb.ConfChangeAddNode, learner)))
	region, _ = h.store.Region(1)
	require.Len(t, region.Peers, 2)
	require.Equal(t, regionpkg.Voter, region.Peers[1].Role)
	require.Equal(t, uint64(3), region.Epoch.ConfVersion)

	// Adding an existing voter is a no-op.
	require.NoError(t, h.apply(t, 1, message.NewChangePeerRequest(raftpb.ConfChangeAddNode, learner)))
	region, _ = h.store.Region(1)
	require.Equal(t, uint64(3), region.Epoch.ConfVersion)

	require.NoError(t, h.apply(t, 1, message.NewChangePeerRequest(raftpb.ConfChangeRemoveNode, learner)))
	region, _ = h.store.Region(1)
	require.Len(t, region.Peers, 1)
	require.Equal(t, uint64(4), region.Epoch.ConfVersion)
	require.Empty(t, h.compact.drain())
}

func TestRemoveLocalPeerDestroysRegion(t *testing.T) {
	h := newHarness(t)
	region := testRegion(1, 1, "", "")
	region.Peers = append(region.Peers, regionpkg.Peer{ID: 2, StoreID: 2})
	require.NoError(t, h.store.Bootstrap(region))

	key, err := keys.DataKey(keys.CFDefault, []byte("a"))
	require.NoError(t, err)
	require.NoError(t, h.db.Set(key, []byte("v"), pebble.Sync))

	require.NoError(t, h.apply(t, 1, message.NewChangePeerRequest(raftpb.ConfChangeRemoveNode, regionpkg.Peer{ID: 1, StoreID: 1})))

	got, _ := h.store.Region(1)
	require.Equal(t, regionpkg.StateTombstone, got.State)
	require.Zero(t, got.Leader)
	_, _, err = h.db.Get(key)
	require.ErrorIs(t, err, pebble.ErrNotFound)
	require.Len(t, h.compact.drain(), len(keys.DataCFs))

	err = h.apply(t, 1, message.NewTransferLeaderRequest(regionpkg.Peer{ID: 2, StoreID: 2}))
	require.ErrorIs(t, err, ErrRegionTombstone)
}

func TestApplyTransferLeader(t *testing.T) {
	h := newHarness(t)
	region := testRegion(1, 1, "", "")
	region.Peers = append(region.Peers, regionpkg.Peer{ID: 2, StoreID: 2})
	require.NoError(t, h.store.Bootstrap(region))

	require.Error(t, h.apply(t, 1, message.NewTransferLeaderRequest(regionpkg.Peer{ID: 9, StoreID: 9})))
	require.NoError(t, h.apply(t, 1, message.NewTransferLeaderRequest(regionpkg.Peer{ID: 2, StoreID: 2})))

	got, _ := h.store.Region(1)
	require.Equal(t, uint64(2), got.Leader)
	require.Equal(t, 0, h.store.Diagnostics().Leaders)
}

func TestTombstoneMessage(t *testing.T) {
	h := newHarness(t)
	region := testRegion(1, 1, "a", "k")
	region.Peers = append(region.Peers, regionpkg.Peer{ID: 2, StoreID: 2})
	region.Leader = 2
	require.NoError(t, h.store.Bootstrap(region))

	inside, err := keys.DataKey(keys.CFWrite, []byte("c"))
	require.NoError(t, err)
	outside, err := keys.DataKey(keys.CFWrite, []byte("z"))
	require.NoError(t, err)
	require.NoError(t, h.db.Set(inside, []byte("v"), pebble.Sync))
	require.NoError(t, h.db.Set(outside, []byte("v"), pebble.Sync))

	local := regionpkg.Peer{ID: 1, StoreID: 1}
	stale := message.RaftMessage{RegionID: 1, FromPeer: local, ToPeer: local,
		RegionEpoch: regionpkg.Epoch{Version: 0, ConfVersion: 1}, IsTombstone: true}
	h.store.HandleMsg(stale)
	got, _ := h.store.Region(1)
	require.Equal(t, regionpkg.StateActive, got.State)

	misaddressed := stale
	misaddressed.RegionEpoch = regionpkg.Epoch{Version: 1, ConfVersion: 2}
	misaddressed.ToPeer = regionpkg.Peer{ID: 2, StoreID: 2}
	h.store.HandleMsg(misaddressed)
	got, _ = h.store.Region(1)
	require.Equal(t, regionpkg.StateActive, got.State)

	notTombstone := misaddressed
	notTombstone.ToPeer = local
	notTombstone.IsTombstone = false
	h.store.HandleMsg(notTombstone)
	got, _ = h.store.Region(1)
	require.Equal(t, regionpkg.StateActive, got.State)

	valid := notTombstone
	valid.IsTombstone = true
	h.store.HandleMsg(valid)
	got, _ = h.store.Region(1)
	require.Equal(t, regionpkg.StateTombstone, got.State)

	_, _, err = h.db.Get(inside)
	require.ErrorIs(t, err, pebble.ErrNotFound)
	value, closer, err := h.db.Get(outside)
	require.NoError(t, err)
	require.Equal(t, []byte("v"), value)
	require.NoError(t, closer.Close())

	tasks := h.compact.drain()
	require.Len(t, tasks, len(keys.DataCFs))
	for _, task := range tasks {
		require.Equal(t, []byte("a"), task.StartKey)
		require.Equal(t, []byte("k"), task.EndKey)
	}
	require.Equal(t, 1, h.store.Diagnostics().Tombstones)
}

func TestMergeShutdownAndRollback(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Bootstrap(testRegion(1, 1, "", "m")))
	source := testRegion(2, 2, "m", "")
	source.Epoch.Version = 3
	require.NoError(t, h.store.Bootstrap(source))

	require.NoError(t, h.apply(t, 1, message.NewMergeRequest(source)))
	into, _ := h.store.Region(1)
	require.Equal(t, regionpkg.StateMerging, into.State)
	require.Empty(t, into.Range.Start)
	require.Empty(t, into.Range.End)
	require.Equal(t, uint64(4), into.Epoch.Version)
	require.Equal(t, 1, h.store.Diagnostics().PendingMerges)

	tasks := h.pd.drain()
	require.Len(t, tasks, 1)
	validate, ok := tasks[0].(worker.ValidateMergeRegionTask)
	require.True(t, ok)
	require.Equal(t, regionpkg.ID(2), validate.FromRegion.ID)
	require.Equal(t, regionpkg.ID(1), validate.IntoRegionID)

	require.ErrorIs(t, h.apply(t, 1, message.NewMergeRequest(source)), ErrMergeInProgress)

	h.store.HandleMsg(message.RollbackRegionMerge{IntoRegionID: 1})
	into, _ = h.store.Region(1)
	require.Equal(t, regionpkg.StateActive, into.State)
	require.Equal(t, []byte("m"), into.Range.End)
	require.Equal(t, uint64(4), into.Epoch.Version)
	require.Zero(t, h.store.Diagnostics().PendingMerges)

	require.NoError(t, h.apply(t, 1, message.NewMergeRequest(source)))
	require.NoError(t, h.apply(t, 2, message.NewShutdownRegionRequest(source)))

	from, _ := h.store.Region(2)
	require.Equal(t, regionpkg.StateTombstone, from.State)
	into, _ = h.store.Region(1)
	require.Equal(t, regionpkg.StateActive, into.State)
	require.Empty(t, into.Range.End)
	require.Zero(t, h.store.Diagnostics().PendingMerges)
	require.Empty(t, h.compact.drain())
}

func TestTombstoneDuringMergeIgnoresRollback(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Bootstrap(testRegion(1, 1, "", "m")))
	source := testRegion(2, 2, "m", "")
	require.NoError(t, h.store.Bootstrap(source))
	require.NoError(t, h.apply(t, 1, message.NewMergeRequest(source)))
	require.Equal(t, 1, h.store.Diagnostics().PendingMerges)

	into, _ := h.store.Region(1)
	h.store.HandleMsg(message.RaftMessage{RegionID: 1, ToPeer: regionpkg.Peer{ID: 1, StoreID: 1},
		RegionEpoch: into.Epoch, IsTombstone: true})
	got, _ := h.store.Region(1)
	require.Equal(t, regionpkg.StateTombstone, got.State)
	require.Zero(t, h.store.Diagnostics().PendingMerges)

	h.store.HandleMsg(message.RollbackRegionMerge{IntoRegionID: 1})
	got, _ = h.store.Region(1)
	require.Equal(t, regionpkg.StateTombstone, got.State)
	require.Empty(t, got.Range.End)

	h.reopen(t)
	require.Zero(t, h.store.Diagnostics().PendingMerges)
	got, _ = h.store.Region(1)
	require.Equal(t, regionpkg.StateTombstone, got.State)
}

func TestRemoveLocalPeerDuringMergeClearsPendingMerge(t *testing.T) {
	h := newHarness(t)
	into := testRegion(1, 1, "", "m")
	into.Peers = append(into.Peers, regionpkg.Peer{ID: 3, StoreID: 2})
	require.NoError(t, h.store.Bootstrap(into))
	source := testRegion(2, 2, "m", "")
	require.NoError(t, h.store.Bootstrap(source))
	require.NoError(t, h.apply(t, 1, message.NewMergeRequest(source)))

	require.NoError(t, h.apply(t, 1, message.NewChangePeerRequest(raftpb.ConfChangeRemoveNode, regionpkg.Peer{ID: 1, StoreID: 1})))
	require.Zero(t, h.store.Diagnostics().PendingMerges)

	h.store.HandleMsg(message.RollbackRegionMerge{IntoRegionID: 1})
	got, _ := h.store.Region(1)
	require.Equal(t, regionpkg.StateTombstone, got.State)

	h.reopen(t)
	require.Zero(t, h.store.Diagnostics().PendingMerges)
}

func TestMergeRequiresAdjacency(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Bootstrap(testRegion(1, 1, "", "c")))
	require.NoError(t, h.store.Bootstrap(testRegion(2, 2, "m", "")))

	source, _ := h.store.Region(2)
	require.Error(t, h.apply(t, 1, message.NewMergeRequest(source)))
	into, _ := h.store.Region(1)
	require.Equal(t, regionpkg.StateActive, into.State)
}

func TestReloadFromEngine(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Bootstrap(testRegion(1, 1, "", "m")))
	source := testRegion(2, 2, "m", "")
	require.NoError(t, h.store.Bootstrap(source))
	require.NoError(t, h.apply(t, 1, message.NewMergeRequest(source)))

	h.reopen(t)

	regions := h.store.Regions()
	require.Len(t, regions, 2)
	require.Equal(t, regionpkg.StateMerging, regions[0].State)
	require.Equal(t, 1, h.store.Diagnostics().PendingMerges)

	h.store.HandleMsg(message.RollbackRegionMerge{IntoRegionID: 1})
	into, _ := h.store.Region(1)
	require.Equal(t, []byte("m"), into.Range.End)
}

func TestAskSplitAndMerge(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Bootstrap(testRegion(1, 1, "", "")))
	follower := testRegion(2, 2, "", "")
	follower.Peers = append(follower.Peers, regionpkg.Peer{ID: 3, StoreID: 2})
	follower.Leader = 3
	require.NoError(t, h.store.Bootstrap(follower))

	require.ErrorIs(t, h.store.AskSplit(1, nil), ErrInvalidSplitKey)
	require.ErrorIs(t, h.store.AskSplit(2, []byte("k")), ErrNotLeader)
	require.ErrorIs(t, h.store.AskSplit(9, []byte("k")), ErrRegionNotFound)
	require.NoError(t, h.store.AskSplit(1, []byte("k")))
	require.NoError(t, h.store.AskMerge(1))
	require.ErrorIs(t, h.store.AskMerge(2), ErrNotLeader)

	tasks := h.pd.drain()
	require.Len(t, tasks, 2)
	split, ok := tasks[0].(worker.AskSplitTask)
	require.True(t, ok)
	require.Equal(t, []byte("k"), split.SplitKey)
	require.Equal(t, uint64(1), split.Peer.ID)
	_, ok = tasks[1].(worker.AskMergeTask)
	require.True(t, ok)
}

func TestTicks(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Bootstrap(testRegion(1, 1, "", "m")))
	follower := testRegion(2, 2, "m", "")
	follower.Peers = append(follower.Peers, regionpkg.Peer{ID: 3, StoreID: 2})
	follower.Leader = 3
	require.NoError(t, h.store.Bootstrap(follower))

	h.store.onRegionHeartbeatTick()
	tasks := h.pd.drain()
	require.Len(t, tasks, 1)
	hb, ok := tasks[0].(worker.HeartbeatTask)
	require.True(t, ok)
	require.Equal(t, regionpkg.ID(1), hb.Region.ID)
	require.Equal(t, uint64(1), hb.Peer.ID)

	h.store.onValidatePeerTick()
	tasks = h.pd.drain()
	require.Len(t, tasks, 1)
	vp, ok := tasks[0].(worker.ValidatePeerTask)
	require.True(t, ok)
	require.Equal(t, regionpkg.ID(2), vp.Region.ID)
	require.Equal(t, uint64(2), vp.Peer.ID)

	h.store.onStoreHeartbeatTick()
	tasks = h.pd.drain()
	require.Len(t, tasks, 1)
	sh, ok := tasks[0].(worker.StoreHeartbeatTask)
	require.True(t, ok)
	require.Equal(t, uint64(1), sh.Stats.StoreID)
	require.Equal(t, uint32(2), sh.Stats.RegionCount)
	require.Equal(t, uint32(1), sh.Stats.LeaderCount)
	require.Equal(t, "127.0.0.1:20160", sh.Stats.Address)
	require.LessOrEqual(t, sh.Stats.Available, sh.Stats.Capacity)
}
