package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stakeledger/native/accrual"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadTOMLAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "accrual.toml", `
[Accrual]
StakeAsset = "NHB"
PenaltyRecipient = "treasury"

[[Accrual.Assets]]
Denom = "ZNHB"

[[Accrual.Tiers]]
Duration = "720h"
MultiplierBps = 15000
PenaltyBps = 2000

[Auth]
HMACSecret = "secret"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8087", cfg.ListenAddress)
	require.Equal(t, 8*24*time.Hour, cfg.Accrual.DistributionPeriod.Duration)
	require.Equal(t, "flat", cfg.Accrual.PenaltyMode)
	require.Equal(t, time.Minute, cfg.Quota.Window.Duration)

	tiers := cfg.Accrual.EngineTiers()
	require.Len(t, tiers, 1)
	require.Equal(t, uint64(30*24*60*60), tiers[0].Duration)

	params, err := cfg.Accrual.EngineParams().Validate()
	require.NoError(t, err)
	require.Equal(t, accrual.DefaultDistributionPeriod, params.DistributionPeriod)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "accrual.yaml", `
listen: ":9000"
accrual:
  stake_asset: NHB
  distribution_period: 48h
  penalty_mode: linear
  assets:
    - denom: NHB
    - denom: ZNHB
      weighted: true
  tiers:
    - multiplier_bps: 10000
    - duration: 2160h
      multiplier_bps: 20000
      penalty_bps: 2500
  essence:
    horizon: 8760h
    seconds_per_unit: 86400
auth:
  hmac_secret: secret
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddress)

	params := cfg.Accrual.EngineParams()
	require.Equal(t, uint64(48*60*60), params.DistributionPeriod)
	require.Equal(t, accrual.PenaltyLinear, params.PenaltyMode)
	require.Equal(t, uint64(365*24*60*60), params.Essence.Horizon)
	require.Len(t, params.Assets, 2)
	require.True(t, params.Assets[1].Weighted)
	require.Len(t, cfg.Accrual.EngineTiers(), 2)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]struct {
		name string
		body string
		want string
	}{
		"unknown toml field": {
			name: "c.toml",
			body: "Bogus = 1\n[Auth]\nHMACSecret = \"s\"\n",
			want: "unknown config fields",
		},
		"unknown yaml field": {
			name: "c.yaml",
			body: "bogus: 1\n",
			want: "decode config yaml",
		},
		"missing secret": {
			name: "c.toml",
			body: "[Accrual]\nStakeAsset = \"NHB\"\n[[Accrual.Assets]]\nDenom = \"NHB\"\n",
			want: "hmac secret",
		},
		"recipient required": {
			name: "c.toml",
			body: "[Accrual]\nStakeAsset = \"NHB\"\n[[Accrual.Assets]]\nDenom = \"ZNHB\"\n[Auth]\nHMACSecret = \"s\"\n",
			want: "penalty recipient required",
		},
		"duplicate tier": {
			name: "c.yaml",
			body: "accrual:\n  stake_asset: NHB\n  assets: [{denom: NHB}]\n  tiers: [{duration: 24h, multiplier_bps: 10000}, {duration: 24h, multiplier_bps: 12000}]\nauth:\n  hmac_secret: s\n",
			want: "configured twice",
		},
		"bad duration": {
			name: "c.yaml",
			body: "accrual:\n  distribution_period: soon\n",
			want: "parse duration",
		},
		"unsupported format": {
			name: "c.ini",
			body: "",
			want: "unsupported config format",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.name, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
