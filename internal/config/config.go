package config

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/catalystgo/logger/logger"
	"github.com/escalopa/txcoord/internal/core"
	"github.com/escalopa/txcoord/internal/rpc"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
)

type envCfg struct {
	env string // env key
	def string // default value
}

func (e *envCfg) value() string {
	value := os.Getenv(e.env)
	if value == "" {
		return e.def
	}
	return value
}

var (
	logLevelEnv = "LOG_LEVEL" // log level env key (default: "WARN")

	channelsEnv = "TC_CHANNELS"

	// server
	listenAddr  = envCfg{env: "TC_LISTEN_ADDR", def: ":9100"}
	metricsAddr = envCfg{env: "TC_METRICS_ADDR", def: ":9101"}

	// coordinator
	initialRole       = envCfg{env: "TC_INITIAL_ROLE", def: "active"}
	rpcTimeout        = envCfg{env: "TC_RPC_TIMEOUT", def: "30000"}
	auditWaitTimeout  = envCfg{env: "TC_AUDIT_WAIT_TIMEOUT", def: "60000"}
	auditWaitCapacity = envCfg{env: "TC_AUDIT_WAIT_CAPACITY", def: "1"}
	readLockTimeout   = envCfg{env: "TC_READ_LOCK_TIMEOUT", def: "0"}

	// db
	badgerPath = envCfg{env: "TC_DB_PATH", def: "/data/tc"}
)

type (
	ServerConfig struct {
		ListenAddr  string
		MetricsAddr string
	}

	CoordinatorConfig struct {
		InitialRole core.ClusterState
		Channels    rpc.Channels

		RPCTimeout        int64
		AuditWaitTimeout  int64
		AuditWaitCapacity int
		ReadLockTimeout   int64
	}

	BadgerConfig struct {
		Path string // Path to the recovery store
	}

	AppConfig struct {
		Server      ServerConfig
		Coordinator CoordinatorConfig
		Badger      BadgerConfig
	}
)

func (ac *AppConfig) GetRPCTimeout() time.Duration {
	return time.Duration(ac.Coordinator.RPCTimeout) * time.Millisecond
}

func (ac *AppConfig) GetAuditWaitTimeout() time.Duration {
	return time.Duration(ac.Coordinator.AuditWaitTimeout) * time.Millisecond
}

func (ac *AppConfig) GetAuditWaitCapacity() int {
	return ac.Coordinator.AuditWaitCapacity
}

func (ac *AppConfig) GetReadLockTimeout() time.Duration {
	return time.Duration(ac.Coordinator.ReadLockTimeout) * time.Millisecond
}

// LoadEnvFile loads variables from path into the environment without
// overriding ones already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return errors.Wrapf(err, "load env file %s", path)
	}
	return nil
}

func NewAppConfig(ctx context.Context) (*AppConfig, error) {
	// Parse channels
	rawChannels := os.Getenv(channelsEnv)
	if rawChannels == "" {
		return nil, errors.Errorf("missing %s", channelsEnv)
	}

	channels, err := parseChannels(ctx, strings.Split(rawChannels, ","))
	if err != nil {
		return nil, errors.Errorf("parse channels: %v", err)
	}

	role, err := core.ParseClusterState(initialRole.value())
	if err != nil {
		return nil, errors.Errorf("parse %s: %v", initialRole.env, err)
	}

	// Parse Time Periods
	rpcTimeoutMS, err := parseTimePeriod(rpcTimeout)
	if err != nil {
		return nil, err
	}

	auditWaitTimeoutMS, err := parseTimePeriod(auditWaitTimeout)
	if err != nil {
		return nil, err
	}

	readLockTimeoutMS, err := parseTimePeriod(readLockTimeout)
	if err != nil {
		return nil, err
	}

	capacity, err := strconv.Atoi(auditWaitCapacity.value())
	if err != nil || capacity < 0 {
		return nil, errors.Errorf("parse %s: invalid capacity %q", auditWaitCapacity.env, auditWaitCapacity.value())
	}

	appCfg := &AppConfig{
		Server: ServerConfig{
			ListenAddr:  listenAddr.value(),
			MetricsAddr: metricsAddr.value(),
		},
		Coordinator: CoordinatorConfig{
			InitialRole: role,
			Channels:    channels,

			RPCTimeout:        rpcTimeoutMS,
			AuditWaitTimeout:  auditWaitTimeoutMS,
			AuditWaitCapacity: capacity,
			ReadLockTimeout:   readLockTimeoutMS,
		},
		Badger: BadgerConfig{
			Path: badgerPath.value(),
		},
	}

	logger.InfoKV(ctx, "config dump", "config", appCfg)

	return appCfg, nil
}

func parseTimePeriod(cfg envCfg) (int64, error) {
	timeMS, err := strconv.ParseInt(cfg.value(), 10, 64)
	if err != nil {
		return 0, errors.Errorf("parse %s: %v", cfg.env, err)
	}
	if timeMS < 0 {
		return 0, errors.Errorf("parse %s: negative period %d", cfg.env, timeMS)
	}
	return timeMS, nil
}

func LogLevel() zapcore.Level {
	lvl, err := zapcore.ParseLevel(os.Getenv(logLevelEnv))
	if err == nil {
		return lvl
	}
	return zapcore.WarnLevel // default
}
