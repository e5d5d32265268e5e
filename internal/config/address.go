package config

import (
	"context"
	"strings"

	"github.com/escalopa/txcoord/internal/core"
	"github.com/escalopa/txcoord/internal/rpc"
	"github.com/pkg/errors"
)

// parseChannels reads "daemon@address" entries. The topology services are
// mandatory, drivers are optional.
func parseChannels(_ context.Context, list []string) (rpc.Channels, error) {
	channels := make(rpc.Channels, len(list))

	for i, entry := range list {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			return nil, errors.Errorf("empty channel at TC_CHANNELS[%d]", i)
		}

		// Parse daemon name and address
		name, address, ok := strings.Cut(entry, "@")
		if !ok {
			return nil, errors.Errorf("parse channel at TC_CHANNELS[%d](%s): missing '@'", i, entry)
		}

		daemon, err := core.ParseDaemon(name)
		if err != nil {
			return nil, errors.Errorf("parse channel at TC_CHANNELS[%d](%s): %v", i, entry, err)
		}

		// Check for duplicate daemon
		if _, ok := channels[daemon]; ok {
			return nil, errors.Errorf("duplicate daemon at TC_CHANNELS[%d](%s)", i, entry)
		}

		// Validate address
		if address == "" {
			return nil, errors.Errorf("empty channel address at TC_CHANNELS[%d](%s)", i, entry)
		}

		channels[daemon] = address
	}

	for _, d := range []core.Daemon{core.DaemonLogical, core.DaemonPhysical} {
		if channels.ChannelFor(d) == "" {
			return nil, errors.Errorf("missing %s channel in TC_CHANNELS", d)
		}
	}

	return channels, nil
}
