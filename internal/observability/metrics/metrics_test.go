package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"nyxstore/internal/raftstore"
	"nyxstore/internal/raftstore/worker"
)

func TestStoreCollectorObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := NewStoreCollector(reg, "nyxstore_test")

	collector.Observe(raftstore.Diagnostics{
		Regions:          4,
		Leaders:          2,
		Tombstones:       1,
		PendingMerges:    1,
		PendingMessages:  3,
		AppliedCommands:  10,
		RejectedCommands: 2,
	})

	require.Equal(t, 4.0, testutil.ToFloat64(collector.regions))
	require.Equal(t, 2.0, testutil.ToFloat64(collector.leaders))
	require.Equal(t, 2.0, testutil.ToFloat64(collector.rejectedCommands))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, mfs, 7)
}

func TestStoreCollectorSample(t *testing.T) {
	collector := NewStoreCollector(prometheus.NewRegistry(), "")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		collector.Sample(ctx, time.Millisecond, func() raftstore.Diagnostics {
			return raftstore.Diagnostics{Regions: 5}
		})
	}()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(collector.regions) == 5
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestPDCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := NewPDCollector(reg, "nyxstore_test")

	collector.OnRequest(worker.RequestAskSplit, worker.OutcomeAll)
	collector.OnRequest(worker.RequestAskSplit, worker.OutcomeSuccess)
	collector.OnRequest(worker.RequestAskSplit, worker.OutcomeAll)
	collector.OnHeartbeatDirective("transfer leader")
	collector.OnValidatePeer(worker.ValidatePeerStale)
	collector.ObserveCompaction("write", 20*time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(collector.requests.WithLabelValues(worker.RequestAskSplit, worker.OutcomeAll)))
	require.Equal(t, 1.0, testutil.ToFloat64(collector.requests.WithLabelValues(worker.RequestAskSplit, worker.OutcomeSuccess)))
	require.Equal(t, 1.0, testutil.ToFloat64(collector.directives.WithLabelValues("transfer leader")))
	require.Equal(t, 1.0, testutil.ToFloat64(collector.validatePeer.WithLabelValues(worker.ValidatePeerStale)))
	require.Equal(t, 1, testutil.CollectAndCount(collector.compactRange))
}

func TestStartServerRequiresAddress(t *testing.T) {
	require.Error(t, StartServer(context.Background(), "", nil, nil))
}
