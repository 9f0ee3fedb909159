package config

import (
	"fmt"
	"strconv"
	"time"

	"nyxstore/internal/logutil"
	"nyxstore/internal/observability/tracing"
	"nyxstore/internal/raftstore"
)

// ServerConfig configures a store node.
type ServerConfig struct {
	StoreID   uint64          `yaml:"storeID"`
	Address   string          `yaml:"address"`
	DataDir   string          `yaml:"dataDir"`
	Capacity  uint64          `yaml:"capacity"`
	PD        PDClientConfig  `yaml:"pd"`
	Raftstore RaftstoreConfig `yaml:"raftstore"`
	Workers   WorkersConfig   `yaml:"workers"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Log       logutil.Config  `yaml:"log"`
}

type PDClientConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

type RaftstoreConfig struct {
	RegionHeartbeatInterval time.Duration `yaml:"regionHeartbeatInterval"`
	ValidatePeerInterval    time.Duration `yaml:"validatePeerInterval"`
	StoreHeartbeatInterval  time.Duration `yaml:"storeHeartbeatInterval"`
	MessageCapacity         int           `yaml:"messageCapacity"`
}

type WorkersConfig struct {
	PDQueueCapacity      int `yaml:"pdQueueCapacity"`
	CompactQueueCapacity int `yaml:"compactQueueCapacity"`
}

type MetricsConfig struct {
	Address        string        `yaml:"address"`
	SampleInterval time.Duration `yaml:"sampleInterval"`
}

type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sampleRatio"`
}

// PDConfig configures the placement driver server.
type PDConfig struct {
	ListenAddress string         `yaml:"listenAddress"`
	DataDir       string         `yaml:"dataDir"`
	Metrics       MetricsConfig  `yaml:"metrics"`
	Tracing       TracingConfig  `yaml:"tracing"`
	Log           logutil.Config `yaml:"log"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		StoreID:  1,
		Address:  "127.0.0.1:20160",
		DataDir:  "data/store",
		Capacity: 64 << 30,
		PD: PDClientConfig{
			Endpoint:       "127.0.0.1:2379",
			RequestTimeout: 2 * time.Second,
		},
		Raftstore: RaftstoreConfig{
			RegionHeartbeatInterval: 2 * time.Second,
			ValidatePeerInterval:    10 * time.Second,
			StoreHeartbeatInterval:  10 * time.Second,
			MessageCapacity:         4096,
		},
		Workers: WorkersConfig{
			PDQueueCapacity:      1024,
			CompactQueueCapacity: 128,
		},
		Metrics: MetricsConfig{SampleInterval: 5 * time.Second},
		Log:     logutil.Config{Level: "info", Format: "json"},
	}
}

func DefaultPDConfig() PDConfig {
	return PDConfig{
		ListenAddress: "127.0.0.1:2379",
		DataDir:       "data/pd",
		Log:           logutil.Config{Level: "info", Format: "json"},
	}
}

func (c *ServerConfig) Validate() error {
	switch {
	case c.StoreID == 0:
		return fmt.Errorf("storeID must be non-zero")
	case c.Address == "":
		return fmt.Errorf("address is required")
	case c.DataDir == "":
		return fmt.Errorf("dataDir is required")
	case c.PD.Endpoint == "":
		return fmt.Errorf("pd.endpoint is required")
	case c.PD.RequestTimeout <= 0:
		return fmt.Errorf("pd.requestTimeout must be positive")
	case c.Raftstore.RegionHeartbeatInterval <= 0,
		c.Raftstore.ValidatePeerInterval <= 0,
		c.Raftstore.StoreHeartbeatInterval <= 0:
		return fmt.Errorf("raftstore intervals must be positive")
	case c.Raftstore.MessageCapacity <= 0:
		return fmt.Errorf("raftstore.messageCapacity must be positive")
	case c.Workers.PDQueueCapacity <= 0, c.Workers.CompactQueueCapacity <= 0:
		return fmt.Errorf("worker queue capacities must be positive")
	}
	return validateTracing(c.Tracing)
}

func (c *PDConfig) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("listenAddress is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("dataDir is required")
	}
	return validateTracing(c.Tracing)
}

func validateTracing(t TracingConfig) error {
	if t.SampleRatio < 0 || t.SampleRatio > 1 {
		return fmt.Errorf("tracing.sampleRatio must be within [0, 1]")
	}
	return nil
}

// RaftstoreConfig returns the settings of the local raftstore.
func (c *ServerConfig) RaftstoreConfig() raftstore.Config {
	return raftstore.Config{
		StoreID:                 c.StoreID,
		Address:                 c.Address,
		Capacity:                c.Capacity,
		RegionHeartbeatInterval: c.Raftstore.RegionHeartbeatInterval,
		ValidatePeerInterval:    c.Raftstore.ValidatePeerInterval,
		StoreHeartbeatInterval:  c.Raftstore.StoreHeartbeatInterval,
	}
}

func (c *ServerConfig) TracingConfig() tracing.Config {
	return tracing.Config{
		Endpoint:    c.Tracing.Endpoint,
		Insecure:    c.Tracing.Insecure,
		ServiceName: "nyxstore-server",
		SampleRatio: c.Tracing.SampleRatio,
		Attributes:  map[string]string{"nyxstore.store_id": strconv.FormatUint(c.StoreID, 10)},
	}
}

func (c *PDConfig) TracingConfig() tracing.Config {
	return tracing.Config{
		Endpoint:    c.Tracing.Endpoint,
		Insecure:    c.Tracing.Insecure,
		ServiceName: "nyxstore-pd",
		SampleRatio: c.Tracing.SampleRatio,
	}
}
