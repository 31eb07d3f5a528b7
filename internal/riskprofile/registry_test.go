package riskprofile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProfile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "risk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func fallbackProfile() Profile {
	return Profile{
		TargetProfitUSD:        2.0,
		TakeProfitPercent:      0.6,
		StopLossPercent:        0.4,
		CatastrophicStopUSD:    -3.0,
		ExitOffsetPercent:      0.002,
		StopLimitOffsetPercent: 0.1,
	}
}

func TestNewRegistryLoadsProfile(t *testing.T) {
	path := writeProfile(t, `
target_profit_usd: 1.5
stop_loss_percent: 0.5
catastrophic_stop_usd: -4
`)
	reg, err := NewRegistry(path, fallbackProfile())
	require.NoError(t, err)

	snap := reg.Snapshot()
	assert.EqualValues(t, 1, snap.Version)
	assert.InDelta(t, 1.5, snap.Profile.TargetProfitUSD, 1e-9)
	assert.InDelta(t, 0.5, snap.Profile.StopLossPercent, 1e-9)
	assert.InDelta(t, -4.0, snap.Profile.CatastrophicStopUSD, 1e-9)
	// Unset knobs come from the fallback.
	assert.InDelta(t, 0.002, snap.Profile.ExitOffsetPercent, 1e-9)
	assert.InDelta(t, 0.6, snap.Profile.TakeProfitPercent, 1e-9)
	assert.InDelta(t, 0.1, snap.Profile.StopLimitOffsetPercent, 1e-9)

	params := reg.Params()
	assert.InDelta(t, 1.5, params.TargetProfitUSD, 1e-9)
	assert.InDelta(t, -4.0, params.CatastrophicStopUSD, 1e-9)
}

func TestNewRegistryRejectsPositiveCatastrophicStop(t *testing.T) {
	path := writeProfile(t, "catastrophic_stop_usd: 3\n")
	_, err := NewRegistry(path, fallbackProfile())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
}

func TestNewRegistryRejectsUnknownKeys(t *testing.T) {
	path := writeProfile(t, "catastrophic_stop: -3\n")
	_, err := NewRegistry(path, fallbackProfile())
	assert.Error(t, err)
}

func TestNewRegistryRejectsNegativeTarget(t *testing.T) {
	path := writeProfile(t, "target_profit_usd: -1\n")
	_, err := NewRegistry(path, fallbackProfile())
	assert.Error(t, err)
}

func TestNewRegistryRequiresPath(t *testing.T) {
	_, err := NewRegistry("", fallbackProfile())
	assert.Error(t, err)

	_, err = NewRegistry(filepath.Join(t.TempDir(), "absent.yaml"), fallbackProfile())
	assert.Error(t, err)
}

func TestReloadKeepsPreviousOnBadUpdate(t *testing.T) {
	path := writeProfile(t, "target_profit_usd: 2\n")
	reg, err := NewRegistry(path, fallbackProfile())
	require.NoError(t, err)

	// Simulate the watcher seeing a broken rewrite.
	require.NoError(t, os.WriteFile(path, []byte("target_profit_usd: -5\n"), 0o644))
	err = reg.reload(fallbackProfile())
	require.Error(t, err)

	snap := reg.Snapshot()
	assert.EqualValues(t, 1, snap.Version)
	assert.InDelta(t, 2.0, snap.Profile.TargetProfitUSD, 1e-9)
}

func TestReloadBumpsVersion(t *testing.T) {
	path := writeProfile(t, "target_profit_usd: 2\n")
	reg, err := NewRegistry(path, fallbackProfile())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("target_profit_usd: 3\n"), 0o644))
	require.NoError(t, reg.reload(fallbackProfile()))

	snap := reg.Snapshot()
	assert.EqualValues(t, 2, snap.Version)
	assert.InDelta(t, 3.0, snap.Profile.TargetProfitUSD, 1e-9)
}

func TestProfileParamsMapping(t *testing.T) {
	p := fallbackProfile()
	params := p.Params()
	assert.InDelta(t, p.TargetProfitUSD, params.TargetProfitUSD, 1e-9)
	assert.InDelta(t, p.TakeProfitPercent, params.TakeProfitPercent, 1e-9)
	assert.InDelta(t, p.StopLossPercent, params.StopLossPercent, 1e-9)
	assert.InDelta(t, p.CatastrophicStopUSD, params.CatastrophicStopUSD, 1e-9)
	assert.InDelta(t, p.ExitOffsetPercent, params.ExitOffsetPercent, 1e-9)
	assert.InDelta(t, p.StopLimitOffsetPercent, params.StopLimitOffsetPercent, 1e-9)
}
