package pipeline

import (
	"context"
	"time"

	"github.com/catalystgo/logger/logger"
	"github.com/escalopa/txcoord/internal/core"
	"github.com/escalopa/txcoord/internal/lock"
	"github.com/escalopa/txcoord/internal/messenger"
	"github.com/escalopa/txcoord/internal/storage"
)

type Options struct {
	AuditWaitTimeout  time.Duration
	AuditWaitCapacity int

	// ReadHold is the hold time of read sessions that do not ask for one.
	ReadHold time.Duration
}

// Env is the set of process-wide services shared by every operation.
type Env struct {
	Locks     *lock.Manager
	Messenger *messenger.Messenger
	Store     *storage.RecoveryStore

	ConfigQueue    *RequestQueue
	CandidateQueue *RequestQueue
	Audits         *AuditLists
	Reads          *ReadSessions
	Notified       *Notified

	readHold time.Duration
}

func NewEnv(locks *lock.Manager, msgr *messenger.Messenger, store *storage.RecoveryStore, opts Options) *Env {
	return &Env{
		Locks:          locks,
		Messenger:      msgr,
		Store:          store,
		ConfigQueue:    NewKeyedRequestQueue("config", lock.ScopesOverlap),
		CandidateQueue: NewRequestQueue("candidate"),
		Audits:         NewAuditLists(opts.AuditWaitCapacity, opts.AuditWaitTimeout),
		Reads:          NewReadSessions(),
		Notified:       &Notified{},
		readHold:       opts.ReadHold,
	}
}

// releaseWrite frees the write resource and wakes whoever queued for it.
func (e *Env) releaseWrite(session core.SessionID, op core.WriteOp) core.ResultCode {
	code := e.Locks.ReleaseWrite(session, op)
	if code == core.Success {
		e.CandidateQueue.Release()
		e.Audits.release()
	}
	return code
}

// releaseConfig is called whenever a config slot was freed. Every waiter
// not lined up behind an overlapping scope retries.
func (e *Env) releaseConfig() {
	e.ConfigQueue.Release()
}

// record stores the recovery record. Failures are logged and never block
// the triggering operation.
func (e *Env) record(ctx context.Context, rec *core.RecoveryRecord) {
	if err := e.Store.SetRecoveryRecord(ctx, rec); err != nil {
		logger.ErrorKV(ctx, "set recovery record", "error", err, "result", storage.Classify(err))
	}
}

// bumpVersion increments a stored version counter, logging failures.
func (e *Env) bumpVersion(ctx context.Context, get func(context.Context) (uint64, error), set func(context.Context, uint64) error, name string) {
	v, err := get(ctx)
	if err != nil && storage.Classify(err) == core.DBFatal {
		logger.ErrorKV(ctx, "get version", "error", err, "version", name)
		return
	}
	if err := set(ctx, v+1); err != nil {
		logger.ErrorKV(ctx, "set version", "error", err, "version", name)
	}
}
