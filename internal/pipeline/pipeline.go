package pipeline

import (
	"context"
	"time"

	"github.com/catalystgo/logger/logger"
	"github.com/escalopa/txcoord/internal/core"
	"github.com/escalopa/txcoord/internal/metrics"
	"github.com/google/uuid"
)

// Stage is a step of the operation state machine.
type Stage uint8

const (
	StageValidate Stage = iota
	StageExclusion
	StageMessageList
	StageExecute
	StageRelease
	StageResponse
)

func (s Stage) String() string {
	switch s {
	case StageValidate:
		return "validate"
	case StageExclusion:
		return "exclusion"
	case StageMessageList:
		return "message_list"
	case StageExecute:
		return "execute"
	case StageRelease:
		return "release"
	default:
		return "response"
	}
}

// Operation is one client request moving through the pipeline.
type Operation interface {
	Validate(ctx context.Context) core.ResultCode
	GetExclusion(ctx context.Context) core.ResultCode
	CreateMessageList(ctx context.Context) core.ResultCode
	Execute(ctx context.Context) core.ResultCode
	ReleaseExclusion(ctx context.Context) core.ResultCode
	SendResponse(ctx context.Context, code core.ResultCode) *core.Response

	// Revoke undoes whatever the operation holds after failing at stage.
	Revoke(ctx context.Context, stage Stage, code core.ResultCode)
}

type constructor func(env *Env, req *core.Request) Operation

var dispatchTable = map[core.ServiceID]constructor{
	core.ServiceAcquireConfig:        newConfigAcquire,
	core.ServiceAcquireConfigTimed:   newConfigAcquire,
	core.ServiceAcquireConfigPartial: newConfigAcquire,
	core.ServiceAcquireConfigForce:   newConfigForce,
	core.ServiceReleaseConfig:        newConfigRelease,
	core.ServiceAcquireRead:          newReadAcquire,
	core.ServiceReleaseRead:          newReadRelease,
	core.ServiceAutosaveEnable:       newAutosave,
	core.ServiceAutosaveDisable:      newAutosave,
	core.ServiceAutosaveGet:          newQuery,
	core.ServiceCommit:               newCandidate,
	core.ServiceCommitTimed:          newCandidate,
	core.ServiceAbortCandidate:       newCandidate,
	core.ServiceAbortCandidateTimed:  newCandidate,
	core.ServiceSaveStartup:          newStartupDB,
	core.ServiceClearStartup:         newStartupDB,
	core.ServiceAuditUser:            newAudit,
	core.ServiceAuditDriver:          newAudit,
	core.ServiceGetConfigMode:        newQuery,
	core.ServiceGetClusterState:      newQuery,
	core.ServiceGetAuditStatus:       newQuery,
	core.ServiceGetLastNotified:      newQuery,
}

// Pipeline dispatches client requests to their operation.
type Pipeline struct {
	env *Env
}

func New(env *Env) *Pipeline {
	return &Pipeline{env: env}
}

func (p *Pipeline) Env() *Env {
	return p.env
}

// Dispatch runs req to completion and returns its single terminal response.
func (p *Pipeline) Dispatch(ctx context.Context, req *core.Request) *core.Response {
	start := time.Now()

	ctor, ok := dispatchTable[req.Service]
	if !ok {
		logger.WarnKV(ctx, "unknown service", "service", req.Service)
		return &core.Response{Service: req.Service, Code: core.InvalidOperation}
	}

	op := ctor(p.env, req)
	code := run(ctx, op, uuid.NewString(), req)
	resp := op.SendResponse(ctx, code)

	metrics.Operations.WithLabelValues(req.Service.String(), resp.Code.String()).Inc()
	metrics.OperationDuration.WithLabelValues(req.Service.String()).Observe(time.Since(start).Seconds())
	return resp
}

// run drives op through its stages. A failing stage is revoked and the
// remaining stages are skipped.
func run(ctx context.Context, op Operation, opID string, req *core.Request) core.ResultCode {
	stages := []struct {
		stage Stage
		fn    func(context.Context) core.ResultCode
	}{
		{StageValidate, op.Validate},
		{StageExclusion, op.GetExclusion},
		{StageMessageList, op.CreateMessageList},
		{StageExecute, op.Execute},
	}

	for _, s := range stages {
		if code := s.fn(ctx); code != core.Success {
			logger.WarnKV(ctx, "operation failed",
				"op_id", opID,
				"service", req.Service,
				"session_id", req.Session,
				"stage", s.stage,
				"code", code,
			)
			op.Revoke(ctx, s.stage, code)
			return code
		}
	}

	if code := op.ReleaseExclusion(ctx); code != core.Success {
		logger.ErrorKV(ctx, "release exclusion", "op_id", opID, "service", req.Service, "code", code)
		return code
	}
	return core.Success
}

// base carries the request and the response under construction. Operations
// embed it and override the stages they need.
type base struct {
	env  *Env
	req  *core.Request
	resp core.Response
}

func newBase(env *Env, req *core.Request) base {
	return base{env: env, req: req}
}

func (b *base) Validate(context.Context) core.ResultCode {
	return core.Success
}

func (b *base) GetExclusion(context.Context) core.ResultCode {
	return core.Success
}

func (b *base) CreateMessageList(context.Context) core.ResultCode {
	return core.Success
}

func (b *base) Execute(context.Context) core.ResultCode {
	return core.Success
}

func (b *base) ReleaseExclusion(context.Context) core.ResultCode {
	return core.Success
}

func (b *base) Revoke(context.Context, Stage, core.ResultCode) {}

func (b *base) SendResponse(_ context.Context, code core.ResultCode) *core.Response {
	b.resp.Service = b.req.Service
	b.resp.Code = code
	return &b.resp
}

// activeOnly fails with InvalidClusterState outside the active role.
func (b *base) activeOnly() core.ResultCode {
	if !b.env.Locks.Active() {
		return core.InvalidClusterState
	}
	return core.Success
}
