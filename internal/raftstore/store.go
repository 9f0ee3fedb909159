// Package raftstore hosts the region peers of one store. It applies admin
// commands coming back from the PD worker, answers tombstone and rollback
// notices, and periodically reports its regions to PD.
package raftstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"nyxstore/internal/pd"
	"nyxstore/internal/raftstore/message"
	"nyxstore/internal/raftstore/worker"
	regionpkg "nyxstore/internal/region"
)

var (
	ErrRegionNotFound  = errors.New("raftstore: region not found")
	ErrRegionTombstone = errors.New("raftstore: region is tombstone")
	ErrStaleCommand    = errors.New("raftstore: command epoch is stale")
	ErrNotLeader       = errors.New("raftstore: local peer is not leader")
	ErrInvalidSplitKey = errors.New("raftstore: invalid split key")
	ErrMergeInProgress = errors.New("raftstore: merge in progress")
)

// Scheduler accepts background tasks without blocking.
type Scheduler[T any] interface {
	Schedule(task T) error
}

// Config holds the per-store settings of a Store.
type Config struct {
	StoreID                 uint64
	Address                 string
	Capacity                uint64
	RegionHeartbeatInterval time.Duration
	ValidatePeerInterval    time.Duration
	StoreHeartbeatInterval  time.Duration
}

func (c Config) withDefaults() Config {
	if c.RegionHeartbeatInterval <= 0 {
		c.RegionHeartbeatInterval = 2 * time.Second
	}
	if c.ValidatePeerInterval <= 0 {
		c.ValidatePeerInterval = 10 * time.Second
	}
	if c.StoreHeartbeatInterval <= 0 {
		c.StoreHeartbeatInterval = 10 * time.Second
	}
	return c
}

// Diagnostics is a point-in-time summary of the store.
type Diagnostics struct {
	Regions          int
	Leaders          int
	Tombstones       int
	PendingMerges    int
	PendingMessages  int
	AppliedCommands  uint64
	RejectedCommands uint64
}

type Store struct {
	cfg          Config
	db           *pebble.DB
	meta         *metaStore
	ch           *message.SendCh
	pdTasks      Scheduler[worker.PDTask]
	compactTasks Scheduler[worker.CompactTask]
	logger       *zap.Logger
	startTime    time.Time

	mu       sync.RWMutex
	regions  map[regionpkg.ID]*regionpkg.Region
	merges   map[regionpkg.ID]pendingMerge
	applied  uint64
	rejected uint64
}

// New loads the regions persisted in db. ch is the inbound message channel
// shared with the PD worker.
func New(cfg Config, db *pebble.DB, ch *message.SendCh, pdTasks Scheduler[worker.PDTask], compactTasks Scheduler[worker.CompactTask], logger *zap.Logger) (*Store, error) {
	if cfg.StoreID == 0 {
		return nil, fmt.Errorf("store id is zero")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		cfg:          cfg.withDefaults(),
		db:           db,
		meta:         &metaStore{db: db},
		ch:           ch,
		pdTasks:      pdTasks,
		compactTasks: compactTasks,
		logger:       logger.With(zap.Uint64("store_id", cfg.StoreID)),
		startTime:    time.Now(),
		regions:      make(map[regionpkg.ID]*regionpkg.Region),
	}
	regions, err := s.meta.loadRegions()
	if err != nil {
		return nil, fmt.Errorf("load regions: %w", err)
	}
	for i := range regions {
		r := regions[i]
		s.regions[r.ID] = &r
	}
	if s.merges, err = s.meta.loadMerges(); err != nil {
		return nil, fmt.Errorf("load pending merges: %w", err)
	}
	s.logger.Info("raftstore loaded", zap.Int("regions", len(s.regions)), zap.Int("pending_merges", len(s.merges)))
	return s, nil
}

// Bootstrap installs a region that this store hosts a peer of.
func (s *Store) Bootstrap(region regionpkg.Region) error {
	if _, ok := region.FindPeerByStore(s.cfg.StoreID); !ok {
		return fmt.Errorf("region %d has no peer on store %d", region.ID, s.cfg.StoreID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.regions[region.ID]; ok {
		return fmt.Errorf("region %d already exists", region.ID)
	}
	return s.saveLocked(region.Clone())
}

// Region returns a copy of a local region, tombstones included.
func (s *Store) Region(id regionpkg.ID) (regionpkg.Region, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.regions[id]
	if !ok {
		return regionpkg.Region{}, false
	}
	return r.Clone(), true
}

// Regions returns copies of all local regions ordered by id.
func (s *Store) Regions() []regionpkg.Region {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]regionpkg.Region, 0, len(s.regions))
	for _, r := range s.regions {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) Diagnostics() Diagnostics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := Diagnostics{
		PendingMerges:    len(s.merges),
		AppliedCommands:  s.applied,
		RejectedCommands: s.rejected,
	}
	if s.ch != nil {
		d.PendingMessages = s.ch.Len()
	}
	for _, r := range s.regions {
		if r.State == regionpkg.StateTombstone {
			d.Tombstones++
			continue
		}
		d.Regions++
		if s.isLeader(r) {
			d.Leaders++
		}
	}
	return d
}

// AskSplit asks PD to split a led region at key.
func (s *Store) AskSplit(id regionpkg.ID, key []byte) error {
	region, local, err := s.ledRegion(id)
	if err != nil {
		return err
	}
	if !validSplitKey(&region, key) {
		return fmt.Errorf("%w: %q for region %s", ErrInvalidSplitKey, key, region)
	}
	return s.pdTasks.Schedule(worker.AskSplitTask{
		Region:   region,
		SplitKey: append([]byte(nil), key...),
		Peer:     local,
	})
}

// AskMerge asks PD to merge a led region into a neighbour.
func (s *Store) AskMerge(id regionpkg.ID) error {
	region, _, err := s.ledRegion(id)
	if err != nil {
		return err
	}
	return s.pdTasks.Schedule(worker.AskMergeTask{Region: region})
}

func (s *Store) ledRegion(id regionpkg.ID) (regionpkg.Region, regionpkg.Peer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, err := s.liveRegionLocked(id)
	if err != nil {
		return regionpkg.Region{}, regionpkg.Peer{}, err
	}
	local, _ := r.FindPeerByStore(s.cfg.StoreID)
	if !s.isLeader(r) {
		return regionpkg.Region{}, regionpkg.Peer{}, fmt.Errorf("%w: region %d", ErrNotLeader, id)
	}
	return r.Clone(), local, nil
}

// Run consumes inbound messages and drives the heartbeat tickers until ctx
// is done or the message channel is closed.
func (s *Store) Run(ctx context.Context) error {
	regionTicker := time.NewTicker(s.cfg.RegionHeartbeatInterval)
	defer regionTicker.Stop()
	validateTicker := time.NewTicker(s.cfg.ValidatePeerInterval)
	defer validateTicker.Stop()
	storeTicker := time.NewTicker(s.cfg.StoreHeartbeatInterval)
	defer storeTicker.Stop()

	s.onStoreHeartbeatTick()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-s.ch.Receive():
			if !ok {
				return nil
			}
			s.HandleMsg(msg)
		case <-regionTicker.C:
			s.onRegionHeartbeatTick()
		case <-validateTicker.C:
			s.onValidatePeerTick()
		case <-storeTicker.C:
			s.onStoreHeartbeatTick()
		}
	}
}

// HandleMsg applies one inbound message synchronously.
func (s *Store) HandleMsg(msg message.Msg) {
	switch m := msg.(type) {
	case message.RaftCmd:
		err := s.applyAdmin(m.Request)
		if err != nil {
			s.logger.Warn("admin command rejected", zap.Stringer("cmd", m), zap.Error(err))
		}
		if m.Callback != nil {
			m.Callback(err)
		}
	case message.RaftMessage:
		s.handleRaftMessage(m)
	case message.RollbackRegionMerge:
		s.rollbackMerge(m.IntoRegionID)
	default:
		s.logger.Warn("unknown message", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (s *Store) onRegionHeartbeatTick() {
	for _, r := range s.Regions() {
		if r.State == regionpkg.StateTombstone || !s.isLeader(&r) {
			continue
		}
		local, _ := r.FindPeerByStore(s.cfg.StoreID)
		s.schedulePD(worker.HeartbeatTask{Region: r, Peer: local})
	}
}

func (s *Store) onValidatePeerTick() {
	for _, r := range s.Regions() {
		if r.State == regionpkg.StateTombstone || s.isLeader(&r) {
			continue
		}
		local, ok := r.FindPeerByStore(s.cfg.StoreID)
		if !ok {
			continue
		}
		s.schedulePD(worker.ValidatePeerTask{Region: r, Peer: local})
	}
}

func (s *Store) onStoreHeartbeatTick() {
	s.schedulePD(worker.StoreHeartbeatTask{Stats: s.storeStats()})
}

func (s *Store) storeStats() pd.StoreStats {
	d := s.Diagnostics()
	stats := pd.StoreStats{
		StoreID:     s.cfg.StoreID,
		Address:     s.cfg.Address,
		Capacity:    s.cfg.Capacity,
		RegionCount: uint32(d.Regions),
		LeaderCount: uint32(d.Leaders),
		IsBusy:      d.PendingMessages > 0,
		StartTime:   s.startTime,
		Timestamp:   time.Now(),
	}
	if s.db != nil {
		stats.UsedSize = s.db.Metrics().DiskSpaceUsage()
	}
	if stats.Capacity > stats.UsedSize {
		stats.Available = stats.Capacity - stats.UsedSize
	}
	return stats
}

func (s *Store) schedulePD(task worker.PDTask) {
	if err := s.pdTasks.Schedule(task); err != nil {
		s.logger.Warn("schedule pd task failed", zap.Stringer("task", task), zap.Error(err))
	}
}

func (s *Store) isLeader(r *regionpkg.Region) bool {
	local, ok := r.FindPeerByStore(s.cfg.StoreID)
	return ok && r.Leader == local.ID
}

func (s *Store) liveRegionLocked(id regionpkg.ID) (*regionpkg.Region, error) {
	r, ok := s.regions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrRegionNotFound, id)
	}
	if r.State == regionpkg.StateTombstone {
		return nil, fmt.Errorf("%w: %d", ErrRegionTombstone, id)
	}
	return r, nil
}

func (s *Store) saveLocked(regions ...regionpkg.Region) error {
	if err := s.meta.putRegions(regions...); err != nil {
		return fmt.Errorf("persist regions: %w", err)
	}
	for i := range regions {
		r := regions[i]
		s.regions[r.ID] = &r
	}
	return nil
}
