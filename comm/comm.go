// Package comm manages the process-group bootstrap for distributed
// training: one process per accelerator device, identified by a global
// rank and a node-local rank.
//
// The underlying communication runtime is external; this package owns
// only the explicit lifecycle around it (Uninitialized -> Initialized,
// no teardown) and the world-info record every collective consumer
// checks before issuing operations. Init must be called exactly once per
// process; all entry points that need the group call [Group] or
// [Initialized] first rather than assuming the runtime is up.
package comm

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
)

var (
	// ErrNotInitialized is returned when the process group is required
	// but Init has not been called.
	ErrNotInitialized = errors.New("process group not initialized")

	// ErrAlreadyInitialized is returned by a second Init call. The
	// underlying runtime does not define double initialization, so it is
	// refused here instead.
	ErrAlreadyInitialized = errors.New("process group already initialized")

	// ErrInvalidWorldInfo is returned for inconsistent rank/size values.
	ErrInvalidWorldInfo = errors.New("invalid world info")
)

// Environment variable names used by torchrun-style launchers.
const (
	EnvRank       = "RANK"
	EnvWorldSize  = "WORLD_SIZE"
	EnvLocalRank  = "LOCAL_RANK"
	EnvLocalSize  = "LOCAL_WORLD_SIZE"
	EnvMasterAddr = "MASTER_ADDR"
	EnvMasterPort = "MASTER_PORT"
)

// Config carries the world info handed to the communication runtime.
type Config struct {
	Rank       int
	WorldSize  int
	LocalRank  int
	LocalSize  int
	MasterAddr string
	MasterPort int
}

// FromEnv builds a Config from the launcher environment.
// Missing LOCAL_* variables default to single-node values.
func FromEnv() (Config, error) {
	rank, err := envInt(EnvRank, 0)
	if err != nil {
		return Config{}, err
	}
	worldSize, err := envInt(EnvWorldSize, 1)
	if err != nil {
		return Config{}, err
	}
	localRank, err := envInt(EnvLocalRank, rank)
	if err != nil {
		return Config{}, err
	}
	localSize, err := envInt(EnvLocalSize, worldSize)
	if err != nil {
		return Config{}, err
	}
	port, err := envInt(EnvMasterPort, 0)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Rank:       rank,
		WorldSize:  worldSize,
		LocalRank:  localRank,
		LocalSize:  localSize,
		MasterAddr: os.Getenv(EnvMasterAddr),
		MasterPort: port,
	}, nil
}

func envInt(name string, def int) (int, error) {
	s := os.Getenv(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalidWorldInfo, name, s)
	}
	return v, nil
}

func (c Config) validate() error {
	if c.WorldSize < 1 {
		return fmt.Errorf("%w: world size %d", ErrInvalidWorldInfo, c.WorldSize)
	}
	if c.Rank < 0 || c.Rank >= c.WorldSize {
		return fmt.Errorf("%w: rank %d of %d", ErrInvalidWorldInfo, c.Rank, c.WorldSize)
	}
	if c.LocalSize < 1 || c.LocalSize > c.WorldSize {
		return fmt.Errorf("%w: local size %d of %d", ErrInvalidWorldInfo, c.LocalSize, c.WorldSize)
	}
	if c.LocalRank < 0 || c.LocalRank >= c.LocalSize {
		return fmt.Errorf("%w: local rank %d of %d", ErrInvalidWorldInfo, c.LocalRank, c.LocalSize)
	}
	return nil
}

// Group is the immutable world-info record of an initialized process group.
type Group struct {
	rank      int
	worldSize int
	localRank int
	localSize int
}

// Rank returns the global rank of this process.
func (g *Group) Rank() int { return g.rank }

// WorldSize returns the number of processes in the group.
func (g *Group) WorldSize() int { return g.worldSize }

// LocalRank returns the node-local rank of this process.
func (g *Group) LocalRank() int { return g.localRank }

// LocalSize returns the number of processes on this node.
func (g *Group) LocalSize() int { return g.localSize }

// lifecycle is the process-wide init state. There is no teardown: once a
// group exists it lives for the remainder of the process.
var lifecycle struct {
	mu    sync.Mutex
	group *Group
}

// Init initializes the process group exactly once per process.
// A second call returns ErrAlreadyInitialized regardless of config.
func Init(cfg Config) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	lifecycle.mu.Lock()
	defer lifecycle.mu.Unlock()

	if lifecycle.group != nil {
		return ErrAlreadyInitialized
	}
	lifecycle.group = &Group{
		rank:      cfg.Rank,
		worldSize: cfg.WorldSize,
		localRank: cfg.LocalRank,
		localSize: cfg.LocalSize,
	}
	return nil
}

// Initialized reports whether Init has completed.
func Initialized() bool {
	lifecycle.mu.Lock()
	defer lifecycle.mu.Unlock()
	return lifecycle.group != nil
}

// Current returns the initialized group, or ErrNotInitialized.
func Current() (*Group, error) {
	lifecycle.mu.Lock()
	defer lifecycle.mu.Unlock()
	if lifecycle.group == nil {
		return nil, ErrNotInitialized
	}
	return lifecycle.group, nil
}

// reset clears the lifecycle. Test hook only: production code has no
// teardown path.
func reset() {
	lifecycle.mu.Lock()
	defer lifecycle.mu.Unlock()
	lifecycle.group = nil
}
