package database

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func describe(c prometheus.Collector) []string {
	ch := make(chan *prometheus.Desc, 32)
	c.Describe(ch)
	close(ch)

	var out []string
	for d := range ch {
		out = append(out, d.String())
	}
	return out
}

func TestPoolStatsCollector_Describe(t *testing.T) {
	c := NewPoolStatsCollector(nil, "cartorder")

	descs := describe(c)
	require.Len(t, descs, 8)

	for _, name := range []string{
		"db_pool_acquired_connections",
		"db_pool_idle_connections",
		"db_pool_total_connections",
		"db_pool_max_connections",
		"db_pool_acquire_count_total",
		"db_pool_acquire_duration_seconds_total",
		"db_pool_empty_acquire_count_total",
		"db_pool_canceled_acquire_count_total",
	} {
		found := false
		for _, d := range descs {
			if strings.Contains(d, `"`+name+`"`) {
				found = true
				break
			}
		}
		assert.True(t, found, "missing descriptor %s", name)
	}
}

func TestPoolStatsCollector_LabelsByService(t *testing.T) {
	for _, d := range describe(NewPoolStatsCollector(nil, "cartorder")) {
		assert.Contains(t, d, "service")
	}
}

func TestPoolStatsCollector_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()

	require.NoError(t, reg.Register(NewPoolStatsCollector(nil, "cartorder")))

	err := reg.Register(NewPoolStatsCollector(nil, "cartorder"))
	var already prometheus.AlreadyRegisteredError
	assert.ErrorAs(t, err, &already)
}
