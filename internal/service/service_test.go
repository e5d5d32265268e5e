package service

import (
	"context"
	"testing"
	"time"

	"github.com/escalopa/txcoord/internal/core"
	"github.com/escalopa/txcoord/internal/rpc"
	"github.com/escalopa/txcoord/internal/storage"
	"github.com/escalopa/txcoord/test"
	"github.com/stretchr/testify/require"
)

const (
	chLogical  = "logical:9001"
	chPhysical = "physical:9002"
	chPFC      = "pfc:9003"
)

type testConfig struct{}

func (testConfig) GetRPCTimeout() time.Duration       { return time.Second }
func (testConfig) GetAuditWaitTimeout() time.Duration { return time.Second }
func (testConfig) GetAuditWaitCapacity() int          { return 1 }
func (testConfig) GetReadLockTimeout() time.Duration  { return 0 }

func newStore(t *testing.T) *storage.RecoveryStore {
	t.Helper()

	db, closer := test.NewDB(t)
	t.Cleanup(func() { closer(t) })
	return storage.NewRecoveryStore(db)
}

func newCoordinator(t *testing.T, f *test.FakeCaller, store *storage.RecoveryStore) *Coordinator {
	t.Helper()

	channels := rpc.Channels{
		core.DaemonLogical:      chLogical,
		core.DaemonPhysical:     chPhysical,
		core.DriverPFC.Daemon(): chPFC,
	}

	c, err := New(context.Background(), testConfig{}, f, channels, store)
	require.NoError(t, err)

	c.Run()
	t.Cleanup(func() { require.NoError(t, c.Close()) })
	return c
}

func kinds(msgs []*rpc.Message) []core.Notify {
	out := make([]core.Notify, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Kind)
	}
	return out
}

func TestCoordinator_Activate(t *testing.T) {
	t.Parallel()

	f := test.NewFakeCaller()
	c := newCoordinator(t, f, newStore(t))
	ctx := context.Background()

	require.Equal(t, core.StateInit, c.ClusterState())

	// nothing is served before activation
	resp := c.Handle(ctx, &core.Request{Service: core.ServiceAcquireConfig, Session: 1})
	require.Equal(t, core.InvalidClusterState, resp.Code)

	state, err := c.ChangeRole(ctx, core.StateActive)
	require.NoError(t, err)
	require.Equal(t, core.StateActive, state)

	require.Equal(t, []string{chLogical, chPhysical, chPFC}, f.Recipients(core.NotifySetup))
	require.Equal(t, []string{chLogical, chPhysical, chPFC}, f.Recipients(core.NotifySetupComplete))
	require.Equal(t, []core.Notify{core.NotifySetup, core.NotifySetupComplete}, kinds(f.Received(chLogical)))

	resp = c.Handle(ctx, &core.Request{Service: core.ServiceAcquireConfig, Session: 1})
	require.Equal(t, core.Success, resp.Code)
	require.NotZero(t, resp.ConfigID)
}

func TestCoordinator_Recovery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.InitSchema(ctx))
	require.NoError(t, store.SetRecoveryRecord(ctx, &core.RecoveryRecord{
		Database:      core.DatabaseCandidate,
		LastOperation: core.WriteCommit,
		ConfigMode:    core.ConfigUnit,
		UnitName:      "vtn1",
	}))

	f := test.NewFakeCaller()
	c := newCoordinator(t, f, store)

	state, err := c.ChangeRole(ctx, core.StateActive)
	require.NoError(t, err)
	require.Equal(t, core.StateActive, state)

	require.Equal(t,
		[]core.Notify{core.NotifySetup, core.NotifyAuditDB, core.NotifySetupComplete},
		kinds(f.Received(chLogical)),
	)
	require.Equal(t, []string{chLogical, chPhysical}, f.Recipients(core.NotifyAuditDB))

	audit := f.Received(chPhysical)[1]
	require.Equal(t, core.ConfigUnit, audit.Mode)
	require.Equal(t, "vtn1", audit.UnitName)

	record, err := store.GetRecoveryRecord(ctx)
	require.NoError(t, err)
	require.False(t, record.Pending())
}

func TestCoordinator_ActivationFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pending bool
		handler test.Handler
		check   func(t *testing.T, f *test.FakeCaller, store *storage.RecoveryStore)
	}{
		{
			name:    "setup_refused",
			handler: test.ByKind(map[core.Notify]*rpc.Reply{core.NotifySetup: test.Fail()}),
			check: func(t *testing.T, f *test.FakeCaller, _ *storage.RecoveryStore) {
				require.Empty(t, f.Recipients(core.NotifySetupComplete))
			},
		},
		{
			name:    "audit_db_refused",
			pending: true,
			handler: test.ByKind(map[core.Notify]*rpc.Reply{core.NotifyAuditDB: test.Fail()}),
			check: func(t *testing.T, f *test.FakeCaller, store *storage.RecoveryStore) {
				require.Empty(t, f.Recipients(core.NotifySetupComplete))

				// the record survives for the next activation
				record, err := store.GetRecoveryRecord(context.Background())
				require.NoError(t, err)
				require.True(t, record.Pending())
			},
		},
		{
			name:    "setup_complete_refused",
			handler: test.ByKind(map[core.Notify]*rpc.Reply{core.NotifySetupComplete: test.Fail()}),
			check: func(t *testing.T, f *test.FakeCaller, _ *storage.RecoveryStore) {
				require.Equal(t, []string{chLogical, chPhysical, chPFC}, f.Recipients(core.NotifySetup))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			store := newStore(t)
			require.NoError(t, store.InitSchema(ctx))
			if tt.pending {
				require.NoError(t, store.SetRecoveryRecord(ctx, &core.RecoveryRecord{LastOperation: core.WriteAbortCandidate}))
			}

			f := test.NewFakeCaller().Handle(chPhysical, tt.handler)
			c := newCoordinator(t, f, store)

			state, err := c.ChangeRole(ctx, core.StateActive)
			require.NoError(t, err)
			require.Equal(t, core.StateActiveFailed, state)

			resp := c.Handle(ctx, &core.Request{Service: core.ServiceAcquireConfig, Session: 1})
			require.Equal(t, core.InvalidClusterState, resp.Code)

			tt.check(t, f, store)
		})
	}
}

func TestCoordinator_Standby(t *testing.T) {
	t.Parallel()

	f := test.NewFakeCaller()
	c := newCoordinator(t, f, newStore(t))
	ctx := context.Background()

	_, err := c.ChangeRole(ctx, core.StateActive)
	require.NoError(t, err)

	resp := c.Handle(ctx, &core.Request{Service: core.ServiceAcquireConfig, Session: 1})
	require.Equal(t, core.Success, resp.Code)

	state, err := c.ChangeRole(ctx, core.StateStandby)
	require.NoError(t, err)
	require.Equal(t, core.StateStandby, state)

	resp = c.Handle(ctx, &core.Request{Service: core.ServiceAcquireConfig, Session: 2})
	require.Equal(t, core.InvalidClusterState, resp.Code)

	resp = c.Handle(ctx, &core.Request{Service: core.ServiceGetClusterState})
	require.Equal(t, core.StateStandby, resp.ClusterState)

	// repeating the current role is a no-op
	setups := len(f.Recipients(core.NotifySetup))
	_, err = c.ChangeRole(ctx, core.StateStandby)
	require.NoError(t, err)
	require.Len(t, f.Recipients(core.NotifySetup), setups)
}

func TestCoordinator_LoadsAutosave(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.InitSchema(ctx))
	require.NoError(t, store.SetAutosaveFlag(ctx, true))

	c := newCoordinator(t, test.NewFakeCaller(), store)
	_, err := c.ChangeRole(ctx, core.StateActive)
	require.NoError(t, err)

	resp := c.Handle(ctx, &core.Request{Service: core.ServiceAutosaveGet, Session: 1})
	require.Equal(t, core.Success, resp.Code)
	require.True(t, resp.Autosave)
}

func TestCoordinator_ClosedStore(t *testing.T) {
	t.Parallel()

	db, closer := test.NewDB(t)
	closer(t)

	_, err := New(context.Background(), testConfig{}, test.NewFakeCaller(), rpc.Channels{}, storage.NewRecoveryStore(db))
	require.Error(t, err)
}

func TestCoordinator_Close(t *testing.T) {
	t.Parallel()

	c, err := New(context.Background(), testConfig{}, test.NewFakeCaller(), rpc.Channels{}, newStore(t))
	require.NoError(t, err)

	c.Run()
	require.NoError(t, c.Close())

	_, err = c.ChangeRole(context.Background(), core.StateActive)
	require.Error(t, err)
}
