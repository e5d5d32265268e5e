package service

import (
	"context"

	"github.com/catalystgo/logger/logger"
	"github.com/escalopa/txcoord/internal/core"
	"github.com/escalopa/txcoord/internal/messenger"
	"github.com/escalopa/txcoord/internal/rpc"
	"github.com/escalopa/txcoord/internal/storage"
)

func (c *Coordinator) processRoles() {
	for {
		select {
		case update := <-c.roleChan:
			c.applyRole(c.ctx, update.State)
			close(update.Done)
		case <-c.ctx.Done():
			logger.WarnKV(c.ctx, "role loop shutdown signal received")
			return
		}
	}
}

// applyRole fences new acquisitions, waits out the current writer and moves
// to state. Entering ACTIVE resynchronizes the participants first.
func (c *Coordinator) applyRole(ctx context.Context, state core.ClusterState) {
	prev := c.locks.ClusterState()
	if prev == state {
		return
	}

	if code := c.locks.BeginRoleTransition(ctx); code != core.Success {
		logger.ErrorKV(ctx, "begin role transition", "from", prev, "to", state, "code", code)
		return
	}

	if state == core.StateActive {
		if res := c.activate(ctx); res != messenger.Success {
			logger.ErrorKV(ctx, "activation failed", "from", prev, "result", res)
			state = core.StateActiveFailed
		}
	}

	c.locks.EndRoleTransition(state)
	logger.WarnKV(ctx, "cluster state changed", "from", prev, "to", state)
}

func (c *Coordinator) activate(ctx context.Context) messenger.Result {
	if res := c.messenger.Broadcast(ctx, &rpc.Message{Kind: core.NotifySetup}); res != messenger.Success {
		return res
	}

	if res := c.recover(ctx); res != messenger.Success {
		return res
	}

	return c.messenger.Broadcast(ctx, &rpc.Message{Kind: core.NotifySetupComplete})
}

// recover replays an interrupted write. Participants are asked to audit
// their databases against the candidate before the record is cleared.
func (c *Coordinator) recover(ctx context.Context) messenger.Result {
	record, err := c.store.GetRecoveryRecord(ctx)
	if err != nil {
		logger.ErrorKV(ctx, "get recovery record", "error", err)
		if storage.Classify(err) == core.DBFatal {
			return messenger.Fatal
		}
		return messenger.Success
	}

	if !record.Pending() {
		return messenger.Success
	}

	logger.WarnKV(ctx, "recovering interrupted operation",
		"operation", record.LastOperation,
		"database", record.Database,
		"config_mode", record.ConfigMode,
	)

	msg := &rpc.Message{
		Kind:     core.NotifyAuditDB,
		Mode:     record.ConfigMode,
		UnitName: record.UnitName,
	}
	if res := c.messenger.Broadcast(ctx, msg); res != messenger.Success {
		return res
	}

	if err := c.store.SetRecoveryRecord(ctx, &core.RecoveryRecord{}); err != nil {
		logger.ErrorKV(ctx, "clear recovery record", "error", err)
	}
	return messenger.Success
}
