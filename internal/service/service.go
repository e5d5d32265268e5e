package service

import (
	"context"
	"sync"
	"time"

	"github.com/catalystgo/logger/logger"
	"github.com/escalopa/txcoord/internal/core"
	"github.com/escalopa/txcoord/internal/lock"
	"github.com/escalopa/txcoord/internal/messenger"
	"github.com/escalopa/txcoord/internal/pipeline"
	"github.com/escalopa/txcoord/internal/rpc"
	"github.com/escalopa/txcoord/internal/storage"
	"github.com/pkg/errors"
)

type Config interface {
	GetRPCTimeout() time.Duration

	// audit

	GetAuditWaitTimeout() time.Duration
	GetAuditWaitCapacity() int

	// read sessions

	GetReadLockTimeout() time.Duration
}

// Coordinator owns the process-wide coordination state and serializes role
// changes through a single control loop.
type Coordinator struct {
	ctx    context.Context
	cancel context.CancelFunc

	locks     *lock.Manager
	messenger *messenger.Messenger
	store     *storage.RecoveryStore
	pipeline  *pipeline.Pipeline

	roleChan chan *core.RoleUpdate

	runOnce sync.Once
	wg      sync.WaitGroup
}

// New prepares the recovery store and builds a coordinator in the INIT state.
// The coordinator serves nothing until Run is called and a role is applied.
func New(
	ctx context.Context,
	config Config,
	caller rpc.Caller,
	channels rpc.Channels,
	store *storage.RecoveryStore,
) (*Coordinator, error) {
	if err := store.InitSchema(ctx); err != nil {
		return nil, errors.Wrap(err, "init recovery store")
	}

	autosave, err := store.GetAutosaveFlag(ctx)
	if err != nil {
		if storage.Classify(err) == core.DBFatal {
			return nil, errors.Wrap(err, "load autosave flag")
		}
		logger.WarnKV(ctx, "load autosave flag", "error", err)
	}

	locks := lock.NewManager(core.StateInit)
	locks.SetAutosave(autosave)

	msgr := messenger.New(caller, channels, messenger.NewAuditState(), config.GetRPCTimeout())

	env := pipeline.NewEnv(locks, msgr, store, pipeline.Options{
		AuditWaitTimeout:  config.GetAuditWaitTimeout(),
		AuditWaitCapacity: config.GetAuditWaitCapacity(),
		ReadHold:          config.GetReadLockTimeout(),
	})

	ctx, cancel := context.WithCancel(ctx)

	return &Coordinator{
		ctx:    ctx,
		cancel: cancel,

		locks:     locks,
		messenger: msgr,
		store:     store,
		pipeline:  pipeline.New(env),

		roleChan: make(chan *core.RoleUpdate),
	}, nil
}

func (c *Coordinator) Run() {
	c.runOnce.Do(func() {
		c.goFunc(c.processRoles)
		logger.InfoKV(c.ctx, "coordinator started")
	})
}

// Handle runs one client request through the operation pipeline.
func (c *Coordinator) Handle(ctx context.Context, req *core.Request) *core.Response {
	return c.pipeline.Dispatch(ctx, req)
}

func (c *Coordinator) ClusterState() core.ClusterState {
	return c.locks.ClusterState()
}

// ChangeRole hands state to the control loop and waits until it is applied.
// It returns the state the coordinator ended up in, which is ACTIVE_FAILED
// when activation could not resynchronize the participants.
func (c *Coordinator) ChangeRole(ctx context.Context, state core.ClusterState) (core.ClusterState, error) {
	update := &core.RoleUpdate{State: state, Done: make(chan struct{})}

	select {
	case c.roleChan <- update:
	case <-ctx.Done():
		return c.ClusterState(), ctx.Err()
	case <-c.ctx.Done():
		return c.ClusterState(), errors.Wrap(c.ctx.Err(), "coordinator closed")
	}

	select {
	case <-update.Done: // wait for the update to be processed
	case <-ctx.Done():
		return c.ClusterState(), ctx.Err()
	case <-c.ctx.Done():
		return c.ClusterState(), errors.Wrap(c.ctx.Err(), "coordinator closed")
	}

	return c.ClusterState(), nil
}

func (c *Coordinator) goFunc(f func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		f()
	}()
}

func (c *Coordinator) Close() error {
	c.cancel()
	c.wg.Wait()
	return nil
}
