package accrual

import (
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"stakeledger/core/events"
	nativecommon "stakeledger/native/common"
	"stakeledger/native/essence"
)

const (
	day         uint64 = 24 * 60 * 60
	period             = 8 * day
	tier30             = 30 * day
	tier90             = 90 * day
	stakeDenom         = "NHB"
	rewardDenom        = "ZNHB"
)

func testParams() Params {
	return Params{
		StakeAsset:         stakeDenom,
		DistributionPeriod: period,
		Assets:             []AssetConfig{{Denom: stakeDenom}, {Denom: rewardDenom}},
		PenaltyRecipient:   "treasury",
		Essence:            essence.Params{Horizon: 365 * day, SecondsPerUnit: 1},
	}
}

func testTiers() []Tier {
	return []Tier{
		{Duration: FlexibleTier, MultiplierBps: 10_000},
		{Duration: tier30, MultiplierBps: 15_000, PenaltyBps: 2_000},
		{Duration: tier90, MultiplierBps: 20_000, PenaltyBps: 2_000},
	}
}

func newTestEngine(t *testing.T, params Params) (*Engine, *mockEngineState, *events.Buffer) {
	t.Helper()
	engine, err := NewEngine(params)
	require.NoError(t, err)
	state := newMockEngineState()
	engine.SetState(state)
	engine.SetAuthorizer(staticAuthorizer{"admin": true})
	sink := &events.Buffer{}
	engine.SetEmitter(sink)
	require.NoError(t, engine.Bootstrap(testTiers()))
	return engine, state, sink
}

func amountOf(list []AssetAmount, asset string) *big.Int {
	for _, a := range list {
		if a.Asset == asset {
			return a.Amount
		}
	}
	return big.NewInt(0)
}

func flexKey(owner string) PositionKey {
	return PositionKey{Owner: owner, Tier: FlexibleTier}
}

func TestRewardSplitProportionalToPrincipal(t *testing.T) {
	engine, _, _ := newTestEngine(t, testParams())

	_, err := engine.Stake("alice", FlexibleTier, big.NewInt(1000), 0)
	require.NoError(t, err)
	_, err = engine.Stake("bob", FlexibleTier, big.NewInt(9000), 0)
	require.NoError(t, err)
	require.NoError(t, engine.Recognize(rewardDenom, big.NewInt(1000), 0))

	idx, err := engine.ProjectIndex(rewardDenom, period)
	require.NoError(t, err)
	expectedWeight := new(big.Int).Quo(Precision(), big.NewInt(10))
	require.Equal(t, 0, idx.Weight.Cmp(expectedWeight), "weight %s", idx.Weight)

	alice, err := engine.Claim("alice", period)
	require.NoError(t, err)
	bob, err := engine.Claim("bob", period)
	require.NoError(t, err)
	require.Equal(t, int64(100), amountOf(alice.Rewards, rewardDenom).Int64())
	require.Equal(t, int64(900), amountOf(bob.Rewards, rewardDenom).Int64())
	require.Len(t, alice.Transfers, 1)
	require.Equal(t, TransferReasonReward, alice.Transfers[0].Reason)
	require.Equal(t, "alice", alice.Transfers[0].Recipient)
}

func TestRewardsVestOverDistributionPeriod(t *testing.T) {
	engine, _, _ := newTestEngine(t, testParams())

	_, err := engine.Stake("alice", FlexibleTier, big.NewInt(1000), 0)
	require.NoError(t, err)
	require.NoError(t, engine.Recognize(rewardDenom, big.NewInt(900), 0))

	pending, err := engine.PendingRewards(flexKey("alice"), 4*day)
	require.NoError(t, err)
	require.Equal(t, int64(450), amountOf(pending, rewardDenom).Int64())

	unvested, err := engine.Unvested(rewardDenom, 4*day)
	require.NoError(t, err)
	require.Equal(t, int64(450), unvested.Int64())

	claimed, err := engine.ClaimPosition(flexKey("alice"), 4*day)
	require.NoError(t, err)
	require.Equal(t, int64(450), amountOf(claimed.Rewards, rewardDenom).Int64())

	claimed, err = engine.ClaimPosition(flexKey("alice"), 20*day)
	require.NoError(t, err)
	require.Equal(t, int64(450), amountOf(claimed.Rewards, rewardDenom).Int64())

	unvested, err = engine.Unvested(rewardDenom, 20*day)
	require.NoError(t, err)
	require.Zero(t, unvested.Sign())
}

func TestZeroPrincipalRewardsAreDeferred(t *testing.T) {
	engine, _, _ := newTestEngine(t, testParams())

	require.NoError(t, engine.Recognize(rewardDenom, big.NewInt(1000), 0))
	_, err := engine.Stake("alice", FlexibleTier, big.NewInt(100), 4*day)
	require.NoError(t, err)

	idx, err := engine.Index(rewardDenom)
	require.NoError(t, err)
	require.Zero(t, idx.Weight.Sign())
	require.Equal(t, uint64(0), idx.LastUpdate)

	claimed, err := engine.Claim("alice", period)
	require.NoError(t, err)
	require.Equal(t, int64(1000), amountOf(claimed.Rewards, rewardDenom).Int64())

	idx, err = engine.Index(rewardDenom)
	require.NoError(t, err)
	require.Equal(t, int64(1000), idx.Distributed.Int64())
}

func TestConservationAcrossManyOperations(t *testing.T) {
	engine, _, _ := newTestEngine(t, testParams())
	recognized := big.NewInt(0)
	paid := big.NewInt(0)
	collect := func(rewards []AssetAmount) {
		paid.Add(paid, amountOf(rewards, rewardDenom))
	}
	recognize := func(amount int64, now uint64) {
		require.NoError(t, engine.Recognize(rewardDenom, big.NewInt(amount), now))
		recognized.Add(recognized, big.NewInt(amount))
	}

	_, err := engine.Stake("alice", FlexibleTier, big.NewInt(1000), 0)
	require.NoError(t, err)
	recognize(10_007, 10)
	_, err = engine.Stake("bob", tier30, big.NewInt(2_000), day)
	require.NoError(t, err)
	recognize(3_331, 2*day)
	_, err = engine.Stake("carol", FlexibleTier, big.NewInt(3_333), 3*day)
	require.NoError(t, err)
	res, err := engine.Unstake("alice", FlexibleTier, 0, big.NewInt(400), 5*day)
	require.NoError(t, err)
	collect(res.Rewards)
	recognize(777, 6*day)

	weights := []*big.Int{}
	for _, ts := range []uint64{7 * day, 12 * day, 40 * day} {
		idx, err := engine.ProjectIndex(rewardDenom, ts)
		require.NoError(t, err)
		weights = append(weights, idx.Weight)
	}
	for i := 1; i < len(weights); i++ {
		require.True(t, weights[i].Cmp(weights[i-1]) >= 0, "weight decreased")
	}

	for _, owner := range []string{"alice", "bob", "carol"} {
		claimed, err := engine.Claim(owner, 40*day)
		require.NoError(t, err)
		collect(claimed.Rewards)
	}

	require.True(t, paid.Cmp(recognized) <= 0, "paid %s exceeds recognized %s", paid, recognized)
	dust := new(big.Int).Sub(recognized, paid)
	require.True(t, dust.Cmp(big.NewInt(10)) <= 0, "dust %s too large", dust)
}

func TestAggregatesMatchPositions(t *testing.T) {
	engine, _, _ := newTestEngine(t, testParams())

	_, err := engine.Stake("alice", tier30, big.NewInt(1_001), 0)
	require.NoError(t, err)
	_, err = engine.Stake("bob", tier30, big.NewInt(333), 5)
	require.NoError(t, err)
	_, err = engine.Stake("alice", FlexibleTier, big.NewInt(77), 6)
	require.NoError(t, err)
	_, err = engine.Unstake("bob", tier30, 5, big.NewInt(111), tier30+5)
	require.NoError(t, err)
	_, err = engine.Restake("alice", tier30, 0, tier90, big.NewInt(501), tier30+10)
	require.NoError(t, err)

	for _, duration := range []uint64{FlexibleTier, tier30, tier90} {
		agg, err := engine.TierTotals(duration)
		require.NoError(t, err)
		principal := big.NewInt(0)
		weighted := big.NewInt(0)
		for _, owner := range []string{"alice", "bob"} {
			positions, err := engine.OwnerPositions(owner)
			require.NoError(t, err)
			for _, pos := range positions {
				if pos.Key.Tier == duration {
					principal.Add(principal, pos.Principal)
					weighted.Add(weighted, pos.Weighted)
				}
			}
		}
		require.Equal(t, 0, agg.TotalPrincipal.Cmp(principal), "tier %d principal", duration)
		require.Equal(t, 0, agg.TotalWeighted.Cmp(weighted), "tier %d weighted", duration)
	}
	totals, err := engine.Totals()
	require.NoError(t, err)
	require.Equal(t, int64(1_001+333+77-111), totals.Principal.Int64())
}

func TestUnstakePenaltyFlatAndMatured(t *testing.T) {
	engine, _, sink := newTestEngine(t, testParams())

	_, err := engine.Stake("alice", tier30, big.NewInt(1000), 0)
	require.NoError(t, err)
	_, err = engine.Stake("bob", tier30, big.NewInt(1000), 0)
	require.NoError(t, err)
	sink.Drain()

	early, err := engine.Unstake("alice", tier30, 0, big.NewInt(1000), tier30/2)
	require.NoError(t, err)
	require.Equal(t, int64(200), early.Penalty.Int64())
	require.Equal(t, int64(800), early.Net.Int64())
	require.True(t, early.Deleted)
	require.Len(t, early.Transfers, 2)
	require.Equal(t, Transfer{Recipient: "alice", Asset: stakeDenom, Amount: big.NewInt(800), Reason: TransferReasonPrincipal}, early.Transfers[0])
	require.Equal(t, Transfer{Recipient: "treasury", Asset: stakeDenom, Amount: big.NewInt(200), Reason: TransferReasonPenalty}, early.Transfers[1])

	late, err := engine.Unstake("bob", tier30, 0, big.NewInt(1000), tier30)
	require.NoError(t, err)
	require.Zero(t, late.Penalty.Sign())
	require.Equal(t, int64(1000), late.Net.Int64())

	emitted := sink.Drain()
	require.Len(t, emitted, 2)
	require.Equal(t, events.TypeStakeWithdrawn, emitted[0].EventType())
	require.Equal(t, "200", emitted[0].Event().Attributes["penalty"])
}

func TestUnstakeLinearPenalty(t *testing.T) {
	params := testParams()
	params.PenaltyMode = PenaltyLinear
	engine, _, _ := newTestEngine(t, params)

	_, err := engine.Stake("alice", tier30, big.NewInt(1000), 0)
	require.NoError(t, err)
	res, err := engine.Unstake("alice", tier30, 0, big.NewInt(1000), tier30/2)
	require.NoError(t, err)
	require.Equal(t, int64(100), res.Penalty.Int64())
}

func TestPenaltyRecycledWithoutRecipient(t *testing.T) {
	params := testParams()
	params.PenaltyRecipient = ""
	engine, _, _ := newTestEngine(t, params)

	_, err := engine.Stake("alice", tier30, big.NewInt(1000), 0)
	require.NoError(t, err)
	_, err = engine.Stake("bob", FlexibleTier, big.NewInt(1000), 0)
	require.NoError(t, err)

	res, err := engine.Unstake("alice", tier30, 0, big.NewInt(1000), day)
	require.NoError(t, err)
	require.Equal(t, int64(200), res.Penalty.Int64())
	for _, tr := range res.Transfers {
		require.NotEqual(t, TransferReasonPenalty, tr.Reason)
	}

	unvested, err := engine.Unvested(stakeDenom, day)
	require.NoError(t, err)
	require.Equal(t, int64(200), unvested.Int64())

	claimed, err := engine.Claim("bob", day+period)
	require.NoError(t, err)
	require.Equal(t, int64(200), amountOf(claimed.Rewards, stakeDenom).Int64())
}

func TestDelistedTierUnstakesWithoutPenalty(t *testing.T) {
	engine, _, _ := newTestEngine(t, testParams())

	_, err := engine.Stake("alice", tier30, big.NewInt(1000), 0)
	require.NoError(t, err)
	require.ErrorIs(t, engine.RemoveTier("mallory", tier30), ErrUnauthorized)
	require.NoError(t, engine.RemoveTier("admin", tier30))

	_, err = engine.Stake("bob", tier30, big.NewInt(10), day)
	require.ErrorIs(t, err, ErrTierNotFound)

	agg, err := engine.TierTotals(tier30)
	require.NoError(t, err)
	require.Equal(t, int64(1000), agg.TotalPrincipal.Int64())

	res, err := engine.Unstake("alice", tier30, 0, big.NewInt(1000), 2*day)
	require.NoError(t, err)
	require.Zero(t, res.Penalty.Sign())
	require.Equal(t, int64(1000), res.Net.Int64())
}

func TestUnstakeErrors(t *testing.T) {
	engine, _, _ := newTestEngine(t, testParams())

	_, err := engine.Unstake("alice", FlexibleTier, 0, big.NewInt(1), 0)
	require.ErrorIs(t, err, ErrPositionNotFound)

	_, err = engine.Stake("alice", FlexibleTier, big.NewInt(10), 0)
	require.NoError(t, err)
	_, err = engine.Unstake("alice", FlexibleTier, 0, big.NewInt(11), 1)
	require.ErrorIs(t, err, ErrInsufficientBalance)
	_, err = engine.Unstake("alice", FlexibleTier, 0, big.NewInt(0), 1)
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = engine.Stake(" ", FlexibleTier, big.NewInt(10), 0)
	require.ErrorIs(t, err, ErrInvalidOwner)
	_, err = engine.Stake("alice", 7, big.NewInt(10), 0)
	require.ErrorIs(t, err, ErrTierNotFound)
	require.ErrorIs(t, engine.Recognize("DOGE", big.NewInt(1), 0), ErrUnknownAsset)
}

func TestRestakeRules(t *testing.T) {
	engine, state, _ := newTestEngine(t, testParams())

	_, err := engine.Stake("alice", tier90, big.NewInt(1000), 0)
	require.NoError(t, err)

	before := state.data.clone()
	_, err = engine.Restake("alice", tier90, 0, tier30, big.NewInt(500), 10*day)
	require.ErrorIs(t, err, ErrLockShortening)
	require.Equal(t, before.totals, state.data.totals)

	res, err := engine.Restake("alice", tier90, 0, tier90, big.NewInt(400), 10*day)
	require.NoError(t, err)
	require.Equal(t, PositionKey{Owner: "alice", Tier: tier90, LockInstant: 10 * day}, res.To.Key)
	require.Equal(t, int64(600), res.From.Principal.Int64())

	res, err = engine.Restake("alice", tier90, 0, FlexibleTier, big.NewInt(600), tier90)
	require.NoError(t, err)
	require.Equal(t, flexKey("alice"), res.To.Key)

	_, err = engine.Position(PositionKey{Owner: "alice", Tier: tier90, LockInstant: 0})
	require.ErrorIs(t, err, ErrPositionNotFound)

	agg, err := engine.TierTotals(tier90)
	require.NoError(t, err)
	require.Equal(t, int64(400), agg.TotalPrincipal.Int64())
	agg, err = engine.TierTotals(FlexibleTier)
	require.NoError(t, err)
	require.Equal(t, int64(600), agg.TotalPrincipal.Int64())
}

func TestRestakeRevertsOnFailure(t *testing.T) {
	engine, state, sink := newTestEngine(t, testParams())

	_, err := engine.Stake("alice", FlexibleTier, big.NewInt(1000), 0)
	require.NoError(t, err)
	require.NoError(t, engine.Recognize(rewardDenom, big.NewInt(800), 0))
	sink.Drain()

	before := state.data.clone()
	state.failPutPosition = errInjected
	_, err = engine.Restake("alice", FlexibleTier, 0, tier30, big.NewInt(500), day)
	require.True(t, errors.Is(err, errInjected))
	state.failPutPosition = nil

	require.Equal(t, before.totals, state.data.totals)
	require.Equal(t, before.aggregates, state.data.aggregates)
	require.Equal(t, before.indexes, state.data.indexes)
	require.Equal(t, before.checkpoints, state.data.checkpoints)
	require.Empty(t, sink.Drain())
}

func TestClaimIsIdempotentAtSameInstant(t *testing.T) {
	engine, _, _ := newTestEngine(t, testParams())

	_, err := engine.Stake("alice", FlexibleTier, big.NewInt(1000), 0)
	require.NoError(t, err)
	require.NoError(t, engine.Recognize(rewardDenom, big.NewInt(1000), 0))

	pending, err := engine.PendingRewards(flexKey("alice"), 3*day)
	require.NoError(t, err)
	first, err := engine.Claim("alice", 3*day)
	require.NoError(t, err)
	require.Equal(t, 0, amountOf(pending, rewardDenom).Cmp(amountOf(first.Rewards, rewardDenom)))

	second, err := engine.Claim("alice", 3*day)
	require.NoError(t, err)
	require.Empty(t, second.Rewards)
	require.Empty(t, second.Transfers)
}

func TestClaimWithoutPositionsIsNotFound(t *testing.T) {
	engine, _, sink := newTestEngine(t, testParams())

	_, err := engine.Claim("nobody", day)
	require.ErrorIs(t, err, ErrPositionNotFound)

	_, err = engine.Stake("alice", FlexibleTier, big.NewInt(50), 0)
	require.NoError(t, err)
	_, err = engine.Unstake("alice", FlexibleTier, 0, big.NewInt(50), day)
	require.NoError(t, err)
	sink.Drain()

	_, err = engine.Claim("alice", 2*day)
	require.ErrorIs(t, err, ErrPositionNotFound)
	require.Empty(t, sink.Drain())
}

func TestWeightedAssetUsesMultiplier(t *testing.T) {
	params := testParams()
	params.Assets = []AssetConfig{{Denom: stakeDenom}, {Denom: rewardDenom, Weighted: true}}
	engine, _, _ := newTestEngine(t, params)

	_, err := engine.Stake("alice", FlexibleTier, big.NewInt(1000), 0)
	require.NoError(t, err)
	_, err = engine.Stake("bob", tier30, big.NewInt(1000), 0)
	require.NoError(t, err)
	require.NoError(t, engine.Recognize(rewardDenom, big.NewInt(2500), 0))

	alice, err := engine.Claim("alice", period)
	require.NoError(t, err)
	bob, err := engine.Claim("bob", period)
	require.NoError(t, err)
	require.Equal(t, int64(1000), amountOf(alice.Rewards, rewardDenom).Int64())
	require.Equal(t, int64(1500), amountOf(bob.Rewards, rewardDenom).Int64())
}

func TestTierEditKeepsPositionMultiplier(t *testing.T) {
	engine, _, _ := newTestEngine(t, testParams())

	_, err := engine.Stake("alice", tier30, big.NewInt(1000), 0)
	require.NoError(t, err)
	require.NoError(t, engine.SetTier("admin", Tier{Duration: tier30, MultiplierBps: 30_000, PenaltyBps: 1_000}))
	require.ErrorIs(t, engine.SetTier("admin", Tier{Duration: FlexibleTier, MultiplierBps: 10_000, PenaltyBps: 5}), ErrInvalidTier)

	pos, err := engine.Position(PositionKey{Owner: "alice", Tier: tier30})
	require.NoError(t, err)
	require.Equal(t, uint64(15_000), pos.MultiplierBps)

	res, err := engine.Unstake("alice", tier30, 0, big.NewInt(500), day)
	require.NoError(t, err)
	require.Equal(t, int64(50), res.Penalty.Int64())

	agg, err := engine.TierTotals(tier30)
	require.NoError(t, err)
	require.Equal(t, int64(750), agg.TotalWeighted.Int64())
}

func TestEssenceFollowsPositions(t *testing.T) {
	engine, _, _ := newTestEngine(t, testParams())

	_, err := engine.Stake("alice", FlexibleTier, big.NewInt(1000), 0)
	require.NoError(t, err)
	_, err = engine.Stake("bob", tier30, big.NewInt(10), 0)
	require.NoError(t, err)

	value, err := engine.Essence("alice", 100)
	require.NoError(t, err)
	require.Equal(t, int64(100_000), value.Int64())

	bobValue, err := engine.Essence("bob", 100)
	require.NoError(t, err)
	require.Equal(t, int64(10*tier30), bobValue.Int64())

	_, err = engine.Unstake("alice", FlexibleTier, 0, big.NewInt(400), 100)
	require.NoError(t, err)

	value, err = engine.Essence("alice", 200)
	require.NoError(t, err)
	require.Equal(t, int64(120_000), value.Int64())

	past, err := engine.Essence("alice", 50)
	require.NoError(t, err)
	require.Equal(t, int64(50_000), past.Int64())

	total, err := engine.TotalEssence(200)
	require.NoError(t, err)
	require.Equal(t, int64(120_000+10*tier30), total.Int64())

	_, err = engine.Unstake("bob", tier30, 0, big.NewInt(10), tier30)
	require.NoError(t, err)
	bobValue, err = engine.Essence("bob", tier30+1)
	require.NoError(t, err)
	require.Zero(t, bobValue.Sign())
}

func TestRecognizeRejectsClockRegression(t *testing.T) {
	engine, _, _ := newTestEngine(t, testParams())

	_, err := engine.Stake("alice", FlexibleTier, big.NewInt(10), 100)
	require.NoError(t, err)
	_, err = engine.Stake("bob", FlexibleTier, big.NewInt(10), 200)
	require.NoError(t, err)
	require.ErrorIs(t, engine.Recognize(rewardDenom, big.NewInt(5), 150), ErrClockRegression)
	_, err = engine.Claim("alice", 150)
	require.ErrorIs(t, err, ErrClockRegression)
}

func TestPausedEngineRejectsOperations(t *testing.T) {
	engine, _, _ := newTestEngine(t, testParams())
	engine.SetPauses(pauseAll{})

	_, err := engine.Stake("alice", FlexibleTier, big.NewInt(10), 0)
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)
	require.ErrorIs(t, engine.Recognize(rewardDenom, big.NewInt(1), 0), nativecommon.ErrModulePaused)

	totals, err := engine.Totals()
	require.NoError(t, err)
	require.Zero(t, totals.Principal.Sign())
}

func TestRecognizeConverted(t *testing.T) {
	engine, _, sink := newTestEngine(t, testParams())

	converted, err := engine.RecognizeConverted(fixedRatio{num: big.NewInt(3), den: big.NewInt(2)}, "USDC", big.NewInt(101), rewardDenom, 0)
	require.NoError(t, err)
	require.Equal(t, int64(151), converted.Int64())

	emitted := sink.Drain()
	require.Len(t, emitted, 1)
	require.Equal(t, "USDC", emitted[0].Event().Attributes["source"])

	_, err = engine.RecognizeConverted(fixedRatio{num: big.NewInt(1), den: big.NewInt(1000)}, "USDC", big.NewInt(1), rewardDenom, 0)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

type fixedRatio struct {
	num, den *big.Int
}

func (f fixedRatio) Ratio(string, string) (*big.Int, *big.Int, error) {
	return f.num, f.den, nil
}
