package pd

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	regionpkg "nyxstore/internal/region"
)

func TestDirectivePriority(t *testing.T) {
	change := &ChangePeer{Peer: regionpkg.Peer{ID: 1}}
	transfer := &TransferLeader{Peer: regionpkg.Peer{ID: 2}}
	merge := &RegionMerge{FromRegion: regionpkg.Region{ID: 3}}
	shutdown := &RegionShutdown{Region: regionpkg.Region{ID: 4}}

	all := RegionHeartbeatResponse{ChangePeer: change, TransferLeader: transfer, RegionMerge: merge, RegionShutdown: shutdown}
	require.Same(t, change, all.Directive())

	all.ChangePeer = nil
	require.Same(t, transfer, all.Directive())

	all.TransferLeader = nil
	require.Same(t, merge, all.Directive())

	all.RegionMerge = nil
	require.Same(t, shutdown, all.Directive())

	all.RegionShutdown = nil
	require.Nil(t, all.Directive())
	require.Equal(t, "none", DirectiveName(all.Directive()))
}

func TestResponseForRoundTrip(t *testing.T) {
	for _, d := range []Directive{
		&ChangePeer{}, &TransferLeader{}, &RegionMerge{}, &RegionShutdown{},
	} {
		require.Same(t, d, ResponseFor(d).Directive(), DirectiveName(d))
	}
}

func TestErrorClassification(t *testing.T) {
	wrapped := fmt.Errorf("lookup: %w", ErrRegionNotFound)
	require.True(t, IsRegionNotFoundError(wrapped))
	require.True(t, IsRegionNotFoundError(status.Error(codes.NotFound, "gone")))
	require.False(t, IsRegionNotFoundError(errors.New("boom")))
	require.False(t, IsRegionNotFoundError(nil))

	st, ok := status.FromError(ToStatus(fmt.Errorf("x: %w", ErrStaleRegion)))
	require.True(t, ok)
	require.Equal(t, codes.FailedPrecondition, st.Code())
	require.True(t, IsStaleRegionError(ToStatus(ErrStaleRegion)))

	st, ok = status.FromError(ToStatus(errors.New("boom")))
	require.True(t, ok)
	require.Equal(t, codes.Internal, st.Code())
	require.Nil(t, ToStatus(nil))
}
