package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/escalopa/txcoord/internal/core"
	"github.com/escalopa/txcoord/internal/lock"
	"github.com/escalopa/txcoord/internal/messenger"
	"github.com/escalopa/txcoord/internal/rpc"
	"github.com/escalopa/txcoord/internal/storage"
	"github.com/escalopa/txcoord/test"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

const (
	chLogical  = "logical:9001"
	chPhysical = "physical:9002"
	chPFC      = "pfc:9003"
)

type harness struct {
	p     *Pipeline
	env   *Env
	f     *test.FakeCaller
	store *storage.RecoveryStore
}

func newHarness(t *testing.T, f *test.FakeCaller) *harness {
	t.Helper()

	db, closer := test.NewDB(t)
	t.Cleanup(func() { closer(t) })

	store := storage.NewRecoveryStore(db)
	require.NoError(t, store.InitSchema(context.Background()))

	channels := rpc.Channels{
		core.DaemonLogical:      chLogical,
		core.DaemonPhysical:     chPhysical,
		core.DriverPFC.Daemon(): chPFC,
	}

	env := NewEnv(
		lock.NewManager(core.StateActive),
		messenger.New(f, channels, messenger.NewAuditState(), time.Second),
		store,
		Options{AuditWaitTimeout: 2 * time.Second, AuditWaitCapacity: 1},
	)
	return &harness{p: New(env), env: env, f: f, store: store}
}

func (h *harness) do(req *core.Request) *core.Response {
	return h.p.Dispatch(context.Background(), req)
}

func (h *harness) acquire(t *testing.T, session core.SessionID) core.ConfigID {
	t.Helper()

	resp := h.do(&core.Request{Service: core.ServiceAcquireConfig, Session: session})
	require.Equal(t, core.Success, resp.Code)
	return resp.ConfigID
}

func TestPipeline_UnknownService(t *testing.T) {
	t.Parallel()

	h := newHarness(t, test.NewFakeCaller())
	resp := h.do(&core.Request{Service: core.ServiceID(999), Session: 1})
	require.Equal(t, core.InvalidOperation, resp.Code)
}

func TestPipeline_ConfigSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, test.NewFakeCaller())

	k := h.acquire(t, 7)
	require.NotZero(t, k)
	require.Equal(t, []string{chLogical, chPhysical}, h.f.Recipients(core.NotifyConfigID))

	resp := h.do(&core.Request{Service: core.ServiceAcquireConfig, Session: 8})
	require.Equal(t, core.Busy, resp.Code)

	resp = h.do(&core.Request{Service: core.ServiceGetLastNotified, Session: 8})
	require.Equal(t, k, resp.ConfigID)

	resp = h.do(&core.Request{Service: core.ServiceGetConfigMode, Session: 7})
	require.Equal(t, core.Success, resp.Code)
	require.Equal(t, core.ConfigGlobal, resp.Mode)

	resp = h.do(&core.Request{Service: core.ServiceReleaseConfig, Session: 7, ConfigID: k})
	require.Equal(t, core.Success, resp.Code)
	require.False(t, resp.Dirty)

	resp = h.do(&core.Request{Service: core.ServiceAcquireConfig, Session: 8})
	require.Equal(t, core.Success, resp.Code)
	require.NotEqual(t, k, resp.ConfigID)
}

func TestPipeline_ConfigAcquireValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  *core.Request
		code core.ResultCode
	}{
		{
			name: "partial_global",
			req:  &core.Request{Service: core.ServiceAcquireConfigPartial, Session: 1, Mode: core.ConfigGlobal},
			code: core.InvalidParams,
		},
		{
			name: "partial_unit_without_name",
			req:  &core.Request{Service: core.ServiceAcquireConfigPartial, Session: 1, Mode: core.ConfigUnit},
			code: core.InvalidParams,
		},
		{
			name: "timed_without_timeout",
			req:  &core.Request{Service: core.ServiceAcquireConfigTimed, Session: 1},
			code: core.InvalidParams,
		},
		{
			name: "partial_unit",
			req:  &core.Request{Service: core.ServiceAcquireConfigPartial, Session: 1, Mode: core.ConfigUnit, UnitName: "vtn1"},
			code: core.Success,
		},
		{
			name: "release_without_config_id",
			req:  &core.Request{Service: core.ServiceReleaseConfig, Session: 1},
			code: core.InvalidConfigID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, test.NewFakeCaller())
			require.Equal(t, tt.code, h.do(tt.req).Code)
		})
	}
}

func TestPipeline_ConfigAcquireRevokedOnBroadcastFailure(t *testing.T) {
	t.Parallel()

	f := test.NewFakeCaller().Handle(chPhysical, test.Reply(test.Fail()))
	h := newHarness(t, f)

	resp := h.do(&core.Request{Service: core.ServiceAcquireConfig, Session: 7})
	require.Equal(t, core.Failure, resp.Code)
	require.Zero(t, resp.ConfigID)

	_, ok := h.env.Locks.ConfigOf(7)
	require.False(t, ok)
	require.Zero(t, h.env.Locks.Holder(core.ScopeName(core.ConfigGlobal, "")))
}

func TestPipeline_ConfigReleaseDirty(t *testing.T) {
	t.Parallel()

	f := test.NewFakeCaller().Handle(chPhysical, test.ByKind(map[core.Notify]*rpc.Reply{
		core.NotifyCandidateDirty: {Result: core.RemoteSuccess, Dirty: true},
	}))
	h := newHarness(t, f)

	k := h.acquire(t, 7)

	resp := h.do(&core.Request{Service: core.ServiceReleaseConfig, Session: 7, ConfigID: k})
	require.Equal(t, core.Success, resp.Code)
	require.True(t, resp.Dirty)

	resp = h.do(&core.Request{Service: core.ServiceReleaseConfig, Session: 7, ConfigID: k})
	require.Equal(t, core.NoConfigSessionExist, resp.Code)
}

func TestPipeline_TimedConfigAcquire(t *testing.T) {
	t.Parallel()

	h := newHarness(t, test.NewFakeCaller())
	k := h.acquire(t, 7)

	resp := h.do(&core.Request{Service: core.ServiceAcquireConfigTimed, Session: 8, Timeout: 20 * time.Millisecond})
	require.Equal(t, core.Busy, resp.Code)

	done := make(chan *core.Response, 1)
	go func() {
		done <- h.do(&core.Request{Service: core.ServiceAcquireConfigTimed, Session: 8, Timeout: 5 * time.Second})
	}()
	require.Eventually(t, func() bool { return h.env.ConfigQueue.Len() == 1 }, time.Second, time.Millisecond)

	resp = h.do(&core.Request{Service: core.ServiceReleaseConfig, Session: 7, ConfigID: k})
	require.Equal(t, core.Success, resp.Code)

	resp = <-done
	require.Equal(t, core.Success, resp.Code)
	require.NotEqual(t, k, resp.ConfigID)
}

func TestPipeline_TimedConfigAcquireDistinctUnits(t *testing.T) {
	t.Parallel()

	h := newHarness(t, test.NewFakeCaller())

	unit := func(service core.ServiceID, session core.SessionID, name string, timeout time.Duration) *core.Request {
		return &core.Request{Service: service, Session: session, Mode: core.ConfigUnit, UnitName: name, Timeout: timeout}
	}

	resp := h.do(unit(core.ServiceAcquireConfigPartial, 1, "a", 0))
	require.Equal(t, core.Success, resp.Code)
	ka := resp.ConfigID

	resp = h.do(unit(core.ServiceAcquireConfigPartial, 2, "b", 0))
	require.Equal(t, core.Success, resp.Code)
	kb := resp.ConfigID

	waitA := make(chan *core.Response, 1)
	go func() {
		waitA <- h.do(unit(core.ServiceAcquireConfigTimed, 3, "a", 5*time.Second))
	}()
	require.Eventually(t, func() bool { return h.env.ConfigQueue.Len() == 1 }, time.Second, time.Millisecond)

	waitB := make(chan *core.Response, 1)
	go func() {
		waitB <- h.do(unit(core.ServiceAcquireConfigTimed, 4, "b", 5*time.Second))
	}()
	require.Eventually(t, func() bool { return h.env.ConfigQueue.Len() == 2 }, time.Second, time.Millisecond)

	// freeing b serves the waiter on b even though the waiter on a came first
	resp = h.do(&core.Request{Service: core.ServiceReleaseConfig, Session: 2, ConfigID: kb})
	require.Equal(t, core.Success, resp.Code)

	select {
	case resp = <-waitB:
		require.Equal(t, core.Success, resp.Code)
		require.Equal(t, "b", resp.UnitName)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter on freed unit b was not served")
	}
	require.Empty(t, waitA)

	resp = h.do(&core.Request{Service: core.ServiceReleaseConfig, Session: 1, ConfigID: ka})
	require.Equal(t, core.Success, resp.Code)

	resp = <-waitA
	require.Equal(t, core.Success, resp.Code)
	require.Equal(t, "a", resp.UnitName)
}

func TestPipeline_ForceAcquire(t *testing.T) {
	t.Parallel()

	h := newHarness(t, test.NewFakeCaller())
	h.acquire(t, 7)

	resp := h.do(&core.Request{Service: core.ServiceAcquireConfigForce, Session: 9})
	require.Equal(t, core.Success, resp.Code)

	resp = h.do(&core.Request{Service: core.ServiceCommit, Session: 7})
	require.Equal(t, core.OperationNotAllowed, resp.Code)

	resp = h.do(&core.Request{Service: core.ServiceCommit, Session: 9})
	require.Equal(t, core.Success, resp.Code)
}

func TestPipeline_Commit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, test.NewFakeCaller())
	h.acquire(t, 7)

	resp := h.do(&core.Request{Service: core.ServiceAutosaveEnable, Session: 7})
	require.Equal(t, core.Success, resp.Code)
	require.True(t, resp.Autosave)

	resp = h.do(&core.Request{Service: core.ServiceCommit, Session: 7})
	require.Equal(t, core.Success, resp.Code)

	var kinds []core.Notify
	for _, msg := range h.f.Received(chLogical) {
		kinds = append(kinds, msg.Kind)
	}
	require.Equal(t, []core.Notify{
		core.NotifyConfigID,
		core.NotifyAutosaveEnable,
		core.NotifyCommitTxStart,
		core.NotifyCommitVote,
		core.NotifyCommitDriverResult,
		core.NotifyCommitGlobalCommit,
		core.NotifyCommitDriverResult,
		core.NotifyCommitTxEnd,
		core.NotifySaveStartup,
	}, kinds)

	record, err := h.store.GetRecoveryRecord(ctx)
	require.NoError(t, err)
	require.False(t, record.Pending())

	version, err := h.store.GetSaveVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), version)

	_, _, held := h.env.Locks.WriteHolder()
	require.False(t, held)
	require.Equal(t, core.WriteCommit, h.env.Locks.LastWriteOp())
}

func TestPipeline_CommitFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler test.Handler
		code    core.ResultCode
		pending bool
	}{
		{
			name: "vote_refused",
			handler: test.ByKind(map[core.Notify]*rpc.Reply{
				core.NotifyCommitVote: test.Fail(),
			}),
			code: core.Failure,
		},
		{
			name: "transport_error",
			handler: func(msg *rpc.Message) (*rpc.Reply, error) {
				if msg.Kind == core.NotifyCommitVote {
					return nil, errors.New("connection reset")
				}
				return test.Ok(), nil
			},
			code:    core.Fatal,
			pending: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			h := newHarness(t, test.NewFakeCaller())
			h.acquire(t, 7)
			h.f.Handle(chLogical, tt.handler)

			resp := h.do(&core.Request{Service: core.ServiceCommit, Session: 7})
			require.Equal(t, tt.code, resp.Code)

			_, _, held := h.env.Locks.WriteHolder()
			require.False(t, held)

			record, err := h.store.GetRecoveryRecord(ctx)
			require.NoError(t, err)
			require.Equal(t, tt.pending, record.Pending())
			if tt.pending {
				require.Equal(t, core.WriteCommit, record.LastOperation)
			}
		})
	}
}

func TestPipeline_CommitWithoutConfig(t *testing.T) {
	t.Parallel()

	h := newHarness(t, test.NewFakeCaller())
	resp := h.do(&core.Request{Service: core.ServiceCommit, Session: 7})
	require.Equal(t, core.NotAcquired, resp.Code)
	require.Empty(t, h.f.Sent())
}

func TestPipeline_AbortCandidate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, test.NewFakeCaller())
	h.acquire(t, 7)

	resp := h.do(&core.Request{Service: core.ServiceAbortCandidate, Session: 7})
	require.Equal(t, core.Success, resp.Code)
	require.Equal(t, []string{chLogical, chPhysical}, h.f.Recipients(core.NotifyAbortCandidate))

	version, err := h.store.GetAbortVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), version)
}

func TestPipeline_StartupDB(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, test.NewFakeCaller())
	h.acquire(t, 7)

	require.Equal(t, core.Success, h.do(&core.Request{Service: core.ServiceSaveStartup, Session: 7}).Code)
	require.Equal(t, core.Success, h.do(&core.Request{Service: core.ServiceClearStartup, Session: 7}).Code)

	version, err := h.store.GetSaveVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(1), version)
	require.Equal(t, core.WriteClearStartup, h.env.Locks.LastWriteOp())
}

func TestPipeline_Autosave(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, test.NewFakeCaller())

	require.Equal(t, core.Failure, h.do(&core.Request{Service: core.ServiceAutosaveDisable, Session: 1}).Code)
	require.Equal(t, core.Success, h.do(&core.Request{Service: core.ServiceAutosaveEnable, Session: 1}).Code)
	require.Equal(t, core.Busy, h.do(&core.Request{Service: core.ServiceAutosaveEnable, Session: 1}).Code)

	enabled, err := h.store.GetAutosaveFlag(ctx)
	require.NoError(t, err)
	require.True(t, enabled)

	// a refused broadcast restores the flag
	h.f.Handle(chLogical, test.Reply(test.Fail()))
	resp := h.do(&core.Request{Service: core.ServiceAutosaveDisable, Session: 1})
	require.Equal(t, core.Failure, resp.Code)
	require.True(t, resp.Autosave)

	resp = h.do(&core.Request{Service: core.ServiceAutosaveGet, Session: 1})
	require.True(t, resp.Autosave)
}

func TestPipeline_ReadSession(t *testing.T) {
	t.Parallel()

	h := newHarness(t, test.NewFakeCaller())

	require.Equal(t, core.Success, h.do(&core.Request{Service: core.ServiceAcquireRead, Session: 3}).Code)
	require.Equal(t, core.AlreadyAcquired, h.do(&core.Request{Service: core.ServiceAcquireRead, Session: 3}).Code)
	require.Equal(t, core.Success, h.do(&core.Request{Service: core.ServiceReleaseRead, Session: 3}).Code)
	require.Equal(t, core.NotAcquired, h.do(&core.Request{Service: core.ServiceReleaseRead, Session: 3}).Code)

	resp := h.do(&core.Request{Service: core.ServiceAcquireRead, Session: 4, Timeout: 20 * time.Millisecond})
	require.Equal(t, core.Success, resp.Code)
	require.Eventually(t, func() bool { return !h.env.Locks.IsReader(4) }, time.Second, 5*time.Millisecond)
}

func TestPipeline_ClusterStateGate(t *testing.T) {
	t.Parallel()

	h := newHarness(t, test.NewFakeCaller())
	h.env.Locks.SetClusterState(core.StateStandby)

	require.Equal(t, core.InvalidClusterState, h.do(&core.Request{Service: core.ServiceAcquireConfig, Session: 7}).Code)

	resp := h.do(&core.Request{Service: core.ServiceGetClusterState})
	require.Equal(t, core.Success, resp.Code)
	require.Equal(t, core.StateStandby, resp.ClusterState)
}
