package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.etcd.io/etcd/raft/v3/raftpb"

	"nyxstore/internal/pd"
	pdgrpc "nyxstore/internal/pd/grpc"
	regionpkg "nyxstore/internal/region"
)

type options struct {
	endpoint string
	timeout  time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "nyxstore-ctl",
		Short:        "Inspect regions and queue operators on a nyxstore PD",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.endpoint, "pd", "127.0.0.1:2379", "PD endpoint")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Second, "per-request timeout")

	root.AddCommand(
		regionsCmd(opts),
		regionCmd(opts),
		transferLeaderCmd(opts),
		changePeerCmd(opts, "add-peer", "Add a voter to a region", raftpb.ConfChangeAddNode),
		changePeerCmd(opts, "add-learner", "Add a learner to a region", raftpb.ConfChangeAddLearnerNode),
		changePeerCmd(opts, "remove-peer", "Remove a peer from a region", raftpb.ConfChangeRemoveNode),
	)
	return root
}

func withClient(opts *options, fn func(ctx context.Context, c *pdgrpc.Client) error) error {
	c, err := pdgrpc.NewClient(opts.endpoint, nil, pdgrpc.WithRequestTimeout(opts.timeout))
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(context.Background(), c)
}

func regionsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "regions",
		Short: "List every region known to PD",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(opts, func(ctx context.Context, c *pdgrpc.Client) error {
				regions, err := c.Regions(ctx)
				if err != nil {
					return err
				}
				for _, r := range regions {
					fmt.Fprintln(cmd.OutOrStdout(), r)
				}
				return nil
			})
		},
	}
}

func regionCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "region <region-id>",
		Short: "Show one region",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUint(args[0], "region id")
			if err != nil {
				return err
			}
			return withClient(opts, func(ctx context.Context, c *pdgrpc.Client) error {
				region, err := c.GetRegionByID(ctx, regionpkg.ID(id))
				if err != nil {
					return err
				}
				if region == nil {
					return fmt.Errorf("region %d not found", id)
				}
				fmt.Fprintln(cmd.OutOrStdout(), *region)
				return nil
			})
		},
	}
}

func transferLeaderCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "transfer-leader <region-id> <peer-id> <store-id>",
		Short: "Move region leadership to a peer",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, peer, err := parseRegionPeer(args)
			if err != nil {
				return err
			}
			return withClient(opts, func(ctx context.Context, c *pdgrpc.Client) error {
				return c.AddOperator(ctx, id, &pd.TransferLeader{Peer: peer})
			})
		},
	}
}

func changePeerCmd(opts *options, use, short string, changeType raftpb.ConfChangeType) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <region-id> <peer-id> <store-id>",
		Short: short,
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, peer, err := parseRegionPeer(args)
			if err != nil {
				return err
			}
			if changeType == raftpb.ConfChangeAddLearnerNode {
				peer.Role = regionpkg.Learner
			}
			return withClient(opts, func(ctx context.Context, c *pdgrpc.Client) error {
				return c.AddOperator(ctx, id, &pd.ChangePeer{ChangeType: changeType, Peer: peer})
			})
		},
	}
}

func parseRegionPeer(args []string) (regionpkg.ID, regionpkg.Peer, error) {
	id, err := parseUint(args[0], "region id")
	if err != nil {
		return 0, regionpkg.Peer{}, err
	}
	peerID, err := parseUint(args[1], "peer id")
	if err != nil {
		return 0, regionpkg.Peer{}, err
	}
	storeID, err := parseUint(args[2], "store id")
	if err != nil {
		return 0, regionpkg.Peer{}, err
	}
	return regionpkg.ID(id), regionpkg.Peer{ID: peerID, StoreID: storeID}, nil
}

func parseUint(s, what string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("invalid %s %q", what, s)
	}
	return v, nil
}
