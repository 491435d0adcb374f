package accruald

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stakeledger/config"
	"stakeledger/native/accrual"
	nativecommon "stakeledger/native/common"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	feed := filepath.Join(dir, "rates.toml")
	require.NoError(t, os.WriteFile(feed, []byte("[[rates]]\nfrom = \"USDC\"\nto = \"ZNHB\"\nnum = \"2\"\nden = \"1\"\n"), 0o600))
	return config.Config{
		DataDir:    filepath.Join(dir, "state"),
		OutboxPath: filepath.Join(dir, "outbox", "outbox.sqlite"),
		OracleFeed: feed,
		Accrual: config.AccrualConfig{
			StakeAsset:       "NHB",
			PenaltyRecipient: "treasury",
			Assets:           []config.AssetConfig{{Denom: "NHB"}, {Denom: "ZNHB"}},
			Tiers: []config.TierConfig{
				{MultiplierBps: 10_000},
				{Duration: config.Duration{Duration: 30 * 24 * time.Hour}, MultiplierBps: 15_000, PenaltyBps: 2_000},
			},
			Essence: config.EssenceConfig{SecondsPerUnit: 1},
		},
		Auth: config.AuthConfig{HMACSecret: "s", Admins: []string{"admin"}},
	}
}

func TestOpenPersistsAcrossRestart(t *testing.T) {
	cfg := testConfig(t)

	node, err := Open(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, node.Rates)
	tiers, err := node.Engine.Tiers()
	require.NoError(t, err)
	require.Len(t, tiers, 2)

	_, err = node.Engine.Stake("alice", accrual.FlexibleTier, big.NewInt(500), 100)
	require.NoError(t, err)
	converted, err := node.Engine.RecognizeConverted(node.Rates, "USDC", big.NewInt(10), "ZNHB", 100)
	require.NoError(t, err)
	require.Equal(t, int64(20), converted.Int64())
	require.NoError(t, node.Engine.SetTier("admin", accrual.Tier{Duration: 60 * 24 * 60 * 60, MultiplierBps: 17_500}))
	require.NoError(t, node.State.Commit())
	node.Close()

	reopened, err := Open(cfg, nil)
	require.NoError(t, err)
	defer reopened.Close()
	positions, err := reopened.Engine.OwnerPositions("alice")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	require.Equal(t, int64(500), positions[0].Principal.Int64())
	tiers, err = reopened.Engine.Tiers()
	require.NoError(t, err)
	require.Len(t, tiers, 3, "bootstrap must not overwrite an edited schedule")
	unvested, err := reopened.Engine.Unvested("ZNHB", 100)
	require.NoError(t, err)
	require.Equal(t, int64(20), unvested.Int64())
}

func TestPausedModuleRejectsStake(t *testing.T) {
	cfg := testConfig(t)
	cfg.PausedModules = []string{"accrual"}
	node, err := Open(cfg, nil)
	require.NoError(t, err)
	defer node.Close()
	_, err = node.Engine.Stake("alice", accrual.FlexibleTier, big.NewInt(1), 1)
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)
}

func TestQuotaConversion(t *testing.T) {
	q := quota(config.QuotaConfig{MaxRequestsPerWindow: 3, Window: config.Duration{Duration: 90 * time.Second}})
	require.Equal(t, uint32(90), q.WindowSeconds)
	require.Equal(t, uint32(3), q.MaxRequestsPerWindow)
}
