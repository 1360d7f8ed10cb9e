package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoad_FlowEngineConfig(t *testing.T) {
	// Setup environment variables
	os.Setenv("FLOW_ACTION_CACHE_TTL_SECONDS", "120")
	os.Setenv("SCHEDULE_LEAD_TIME_MINUTES", "30")
	os.Setenv("NIGHT_AS_DISTINCT_PERIOD", "false")
	defer func() {
		os.Unsetenv("FLOW_ACTION_CACHE_TTL_SECONDS")
		os.Unsetenv("SCHEDULE_LEAD_TIME_MINUTES")
		os.Unsetenv("NIGHT_AS_DISTINCT_PERIOD")
	}()

	// Load config
	cfg, err := Load()
	assert.NoError(t, err)

	// Verify flow engine config
	assert.Equal(t, 120, cfg.FlowEngine.ActionCacheTTLSeconds)
	assert.Equal(t, 30, cfg.FlowEngine.ScheduleLeadTimeMinutes)
	assert.False(t, cfg.FlowEngine.NightAsDistinctPeriod)
}

func TestLoad_Defaults(t *testing.T) {
	// Ensure env vars are cleared
	os.Unsetenv("FLOW_ACTION_CACHE_TTL_SECONDS")
	os.Unsetenv("SCHEDULE_LEAD_TIME_MINUTES")
	os.Unsetenv("NIGHT_AS_DISTINCT_PERIOD")
	os.Unsetenv("DEFAULT_SCHEDULE_LIMIT")

	cfg, err := Load()
	assert.NoError(t, err)

	// Verify defaults
	assert.Equal(t, 300, cfg.FlowEngine.ActionCacheTTLSeconds)
	assert.Equal(t, 60, cfg.FlowEngine.ScheduleLeadTimeMinutes)
	assert.True(t, cfg.FlowEngine.NightAsDistinctPeriod)
	assert.Equal(t, 10, cfg.FlowEngine.DefaultScheduleLimit)
}
