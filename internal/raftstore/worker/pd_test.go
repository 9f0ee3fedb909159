package worker

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.etcd.io/etcd/raft/v3/raftpb"
	"go.uber.org/zap/zaptest"

	"nyxstore/internal/pd"
	"nyxstore/internal/raftstore/message"
	regionpkg "nyxstore/internal/region"
)

var errUnavailable = errors.New("pd unavailable")

type fakePDClient struct {
	askSplitResp  pd.AskSplitResponse
	askMergeResp  pd.AskMergeResponse
	heartbeatResp pd.RegionHeartbeatResponse
	region        *regionpkg.Region
	err           error

	mu    sync.Mutex
	calls []string
}

func (f *fakePDClient) record(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakePDClient) AskSplit(context.Context, regionpkg.Region) (pd.AskSplitResponse, error) {
	f.record("AskSplit")
	if f.err != nil {
		return pd.AskSplitResponse{}, f.err
	}
	return f.askSplitResp, nil
}

func (f *fakePDClient) AskMerge(context.Context, regionpkg.Region) (pd.AskMergeResponse, error) {
	f.record("AskMerge")
	if f.err != nil {
		return pd.AskMergeResponse{}, f.err
	}
	return f.askMergeResp, nil
}

func (f *fakePDClient) RegionHeartbeat(context.Context, regionpkg.Region, regionpkg.Peer, []pd.PeerStats) (pd.RegionHeartbeatResponse, error) {
	f.record("RegionHeartbeat")
	if f.err != nil {
		return pd.RegionHeartbeatResponse{}, f.err
	}
	return f.heartbeatResp, nil
}

func (f *fakePDClient) StoreHeartbeat(context.Context, pd.StoreStats) error {
	f.record("StoreHeartbeat")
	return f.err
}

func (f *fakePDClient) ReportSplit(context.Context, regionpkg.Region, regionpkg.Region) error {
	f.record("ReportSplit")
	return f.err
}

func (f *fakePDClient) GetRegionByID(context.Context, regionpkg.ID) (*regionpkg.Region, error) {
	f.record("GetRegionByID")
	if f.err != nil {
		return nil, f.err
	}
	if f.region == nil {
		return nil, nil
	}
	clone := f.region.Clone()
	return &clone, nil
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []message.Msg
	err  error
}

func (s *recordingSender) TrySend(m message.Msg) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, m)
	return nil
}

type event struct{ kind, outcome string }

type recordingObserver struct {
	requests   []event
	directives []string
	validates  []string
}

func (o *recordingObserver) OnRequest(kind, outcome string) {
	o.requests = append(o.requests, event{kind, outcome})
}
func (o *recordingObserver) OnHeartbeatDirective(d string) { o.directives = append(o.directives, d) }
func (o *recordingObserver) OnValidatePeer(r string)       { o.validates = append(o.validates, r) }

func newTestRunner(t *testing.T, client pd.Client) (*PDRunner, *recordingSender, *recordingObserver) {
	sender := &recordingSender{}
	obs := &recordingObserver{}
	return NewPDRunner(client, sender, WithObserver(obs), WithLogger(zaptest.NewLogger(t))), sender, obs
}

var (
	p1 = regionpkg.Peer{ID: 1, StoreID: 1}
	p2 = regionpkg.Peer{ID: 2, StoreID: 2}
	p3 = regionpkg.Peer{ID: 3, StoreID: 3}
)

func localRegion() regionpkg.Region {
	return regionpkg.Region{
		ID:    1,
		Range: regionpkg.KeyRange{Start: []byte("a"), End: []byte("z")},
		Epoch: regionpkg.Epoch{Version: 2, ConfVersion: 3},
		Peers: []regionpkg.Peer{p1, p2},
	}
}

func TestAskSplitSendsSplitRequest(t *testing.T) {
	client := &fakePDClient{askSplitResp: pd.AskSplitResponse{NewRegionID: 2, NewPeerIDs: []uint64{10}}}
	runner, sender, obs := newTestRunner(t, client)
	region := regionpkg.Region{ID: 1, Epoch: regionpkg.Epoch{Version: 0, ConfVersion: 1}, Peers: []regionpkg.Peer{p1}}

	runner.Run(context.Background(), AskSplitTask{Region: region, SplitKey: []byte("k5"), Peer: p1})

	require.Len(t, sender.msgs, 1)
	cmd, ok := sender.msgs[0].(message.RaftCmd)
	require.True(t, ok)
	require.Equal(t, regionpkg.ID(1), cmd.Request.Header.RegionID)
	require.Equal(t, region.Epoch, cmd.Request.Header.RegionEpoch)
	require.Equal(t, p1, cmd.Request.Header.Peer)
	admin := cmd.Request.AdminRequest
	require.Equal(t, message.AdminCmdSplit, admin.CmdType)
	require.Equal(t, []byte("k5"), admin.Split.SplitKey)
	require.Equal(t, regionpkg.ID(2), admin.Split.NewRegionID)
	require.Equal(t, []uint64{10}, admin.Split.NewPeerIDs)
	require.Equal(t, []event{{RequestAskSplit, OutcomeAll}, {RequestAskSplit, OutcomeSuccess}}, obs.requests)
}

func TestAskSplitSendFailureIsDropped(t *testing.T) {
	client := &fakePDClient{askSplitResp: pd.AskSplitResponse{NewRegionID: 2}}
	runner, sender, _ := newTestRunner(t, client)
	sender.err = message.ErrChannelFull

	require.NotPanics(t, func() {
		runner.Run(context.Background(), AskSplitTask{Region: localRegion(), SplitKey: []byte("m"), Peer: p1})
	})
	require.Empty(t, sender.msgs)
}

func TestAskMergeNeverSends(t *testing.T) {
	into := regionpkg.Region{ID: 5}
	for _, resp := range []pd.AskMergeResponse{{OK: true, IntoRegion: &into}, {OK: false}} {
		client := &fakePDClient{askMergeResp: resp}
		runner, sender, obs := newTestRunner(t, client)
		runner.Run(context.Background(), AskMergeTask{Region: localRegion()})
		require.Empty(t, sender.msgs)
		if resp.OK {
			require.Contains(t, obs.requests, event{RequestAskMerge, OutcomeSuccess})
		} else {
			require.Equal(t, []event{{RequestAskMerge, OutcomeAll}}, obs.requests)
		}
	}
}

func TestHeartbeatDirectives(t *testing.T) {
	merged := regionpkg.Region{ID: 9}
	cases := []struct {
		name string
		resp pd.RegionHeartbeatResponse
		want message.AdminCmdType
	}{
		{"change peer", pd.RegionHeartbeatResponse{ChangePeer: &pd.ChangePeer{ChangeType: raftpb.ConfChangeAddNode, Peer: p3}}, message.AdminCmdChangePeer},
		{"transfer leader", pd.RegionHeartbeatResponse{TransferLeader: &pd.TransferLeader{Peer: p2}}, message.AdminCmdTransferLeader},
		{"region merge", pd.RegionHeartbeatResponse{RegionMerge: &pd.RegionMerge{FromRegion: merged}}, message.AdminCmdMerge},
		{"region shutdown", pd.RegionHeartbeatResponse{RegionShutdown: &pd.RegionShutdown{Region: merged}}, message.AdminCmdShutdownRegion},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runner, sender, obs := newTestRunner(t, &fakePDClient{heartbeatResp: tc.resp})
			runner.Run(context.Background(), HeartbeatTask{Region: localRegion(), Peer: p1})
			require.Len(t, sender.msgs, 1)
			cmd := sender.msgs[0].(message.RaftCmd)
			require.Equal(t, tc.want, cmd.Request.AdminRequest.CmdType)
			require.Equal(t, localRegion().Epoch, cmd.Request.Header.RegionEpoch)
			require.Equal(t, []string{tc.name}, obs.directives)
		})
	}
}

func TestHeartbeatAmbiguousResponseActsOnChangePeerOnly(t *testing.T) {
	resp := pd.RegionHeartbeatResponse{
		ChangePeer:     &pd.ChangePeer{ChangeType: raftpb.ConfChangeRemoveNode, Peer: p2},
		TransferLeader: &pd.TransferLeader{Peer: p2},
	}
	runner, sender, _ := newTestRunner(t, &fakePDClient{heartbeatResp: resp})
	runner.Run(context.Background(), HeartbeatTask{Region: localRegion(), Peer: p1})

	require.Len(t, sender.msgs, 1)
	admin := sender.msgs[0].(message.RaftCmd).Request.AdminRequest
	require.Equal(t, message.AdminCmdChangePeer, admin.CmdType)
	require.Equal(t, raftpb.ConfChangeRemoveNode, admin.ChangePeer.ChangeType)
	require.Equal(t, p2, admin.ChangePeer.Peer)
	require.Nil(t, admin.TransferLeader)
}

func TestHeartbeatWithoutDirective(t *testing.T) {
	runner, sender, obs := newTestRunner(t, &fakePDClient{})
	runner.Run(context.Background(), HeartbeatTask{Region: localRegion(), Peer: p1})
	require.Empty(t, sender.msgs)
	require.Empty(t, obs.directives)
}

func TestValidatePeerRemovedFromRegion(t *testing.T) {
	local := localRegion()
	pdRegion := local.Clone()
	pdRegion.RemovePeer(p2.ID)
	runner, sender, obs := newTestRunner(t, &fakePDClient{region: &pdRegion})

	runner.Run(context.Background(), ValidatePeerTask{Region: local, Peer: p2})

	require.Len(t, sender.msgs, 1)
	msg, ok := sender.msgs[0].(message.RaftMessage)
	require.True(t, ok, "expected a tombstone, got %T", sender.msgs[0])
	require.Equal(t, local.ID, msg.RegionID)
	require.Equal(t, p2, msg.FromPeer)
	require.Equal(t, p2, msg.ToPeer)
	require.Equal(t, pdRegion.Epoch, msg.RegionEpoch)
	require.True(t, msg.IsTombstone)
	require.Equal(t, []string{ValidatePeerStale}, obs.validates)
}

func TestValidatePeerStillMember(t *testing.T) {
	local := localRegion()
	runner, sender, obs := newTestRunner(t, &fakePDClient{region: &local})
	runner.Run(context.Background(), ValidatePeerTask{Region: local, Peer: p2})
	require.Empty(t, sender.msgs)
	require.Equal(t, []string{ValidatePeerValid}, obs.validates)
}

func TestValidatePeerUnknownRegion(t *testing.T) {
	runner, sender, obs := newTestRunner(t, &fakePDClient{})
	runner.Run(context.Background(), ValidatePeerTask{Region: localRegion(), Peer: p2})
	require.Empty(t, sender.msgs)
	require.Empty(t, obs.validates)
}

func TestValidatePeerLocalEpochNewer(t *testing.T) {
	local := localRegion()
	pdRegion := local.Clone()
	pdRegion.Epoch.Version = 1
	pdRegion.RemovePeer(p2.ID)
	runner, sender, obs := newTestRunner(t, &fakePDClient{region: &pdRegion})

	runner.Run(context.Background(), ValidatePeerTask{Region: local, Peer: p2})

	require.Empty(t, sender.msgs)
	require.Equal(t, []string{ValidateEpochError}, obs.validates)
}

func TestValidateMergeRegion(t *testing.T) {
	from := localRegion()
	newer := from.Clone()
	newer.Epoch.Version++
	olderConf := from.Clone()
	olderConf.Epoch.ConfVersion--

	cases := []struct {
		name     string
		pd       *regionpkg.Region
		rollback bool
	}{
		{"missing at pd", nil, true},
		{"newer at pd", &newer, true},
		{"equal epoch", &from, false},
		{"pd behind", &olderConf, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runner, sender, _ := newTestRunner(t, &fakePDClient{region: tc.pd})
			runner.Run(context.Background(), ValidateMergeRegionTask{FromRegion: from, IntoRegionID: 7})
			if !tc.rollback {
				require.Empty(t, sender.msgs)
				return
			}
			require.Equal(t, []message.Msg{message.RollbackRegionMerge{IntoRegionID: 7}}, sender.msgs)
		})
	}
}

func TestReportSplitCountsSuccessOnlyWithoutError(t *testing.T) {
	left, right := localRegion(), regionpkg.Region{ID: 2}

	runner, _, obs := newTestRunner(t, &fakePDClient{})
	runner.Run(context.Background(), ReportSplitTask{Left: left, Right: right})
	require.Equal(t, []event{{RequestReportSplit, OutcomeAll}, {RequestReportSplit, OutcomeSuccess}}, obs.requests)

	runner, _, obs = newTestRunner(t, &fakePDClient{err: errUnavailable})
	runner.Run(context.Background(), ReportSplitTask{Left: left, Right: right})
	require.Equal(t, []event{{RequestReportSplit, OutcomeAll}, {RequestReportSplit, OutcomeFailure}}, obs.requests)
}

func TestRPCErrorsProduceNoMessages(t *testing.T) {
	region := localRegion()
	tasks := []PDTask{
		AskSplitTask{Region: region, SplitKey: []byte("m"), Peer: p1},
		AskMergeTask{Region: region},
		HeartbeatTask{Region: region, Peer: p1},
		StoreHeartbeatTask{Stats: pd.StoreStats{StoreID: 1}},
		ReportSplitTask{Left: region, Right: regionpkg.Region{ID: 2}},
		ValidatePeerTask{Region: region, Peer: p2},
		ValidateMergeRegionTask{FromRegion: region, IntoRegionID: 3},
	}
	for _, task := range tasks {
		t.Run(task.String(), func(t *testing.T) {
			client := &fakePDClient{
				err:           errUnavailable,
				askSplitResp:  pd.AskSplitResponse{NewRegionID: 2},
				heartbeatResp: pd.ResponseFor(&pd.TransferLeader{Peer: p2}),
			}
			runner, sender, obs := newTestRunner(t, client)
			require.NotPanics(t, func() { runner.Run(context.Background(), task) })
			require.Empty(t, sender.msgs)
			require.Len(t, client.calls, 1)
			require.Contains(t, obs.requests, event{obs.requests[0].kind, OutcomeFailure})
		})
	}
}

func TestTaskStrings(t *testing.T) {
	require.Equal(t, `ask split region 1 with key "k5"`, AskSplitTask{Region: regionpkg.Region{ID: 1}, SplitKey: []byte("k5")}.String())
	require.Equal(t, "ask merge region 4", AskMergeTask{Region: regionpkg.Region{ID: 4}}.String())
	require.Contains(t, ValidateMergeRegionTask{IntoRegionID: 8}.String(), "region id 8")
}
