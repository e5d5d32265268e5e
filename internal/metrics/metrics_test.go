package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestRegister_Idempotent(t *testing.T) {
	reg := prometheus.NewRegistry()

	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestSetClusterState(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))

	SetClusterState("", "standby")
	SetClusterState("standby", "active")

	families, err := reg.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, family := range families {
		if family.GetName() != "txcoord_cluster_state" {
			continue
		}
		for _, m := range family.GetMetric() {
			for _, label := range m.GetLabel() {
				values[label.GetValue()] = m.GetGauge().GetValue()
			}
		}
	}

	require.Equal(t, float64(0), values["standby"])
	require.Equal(t, float64(1), values["active"])
}
