package essence

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

var testParams = Params{Horizon: 1_000, SecondsPerUnit: 1}

func mustAdd(t *testing.T, a, b State) State {
	t.Helper()
	out, err := a.Add(b)
	require.NoError(t, err)
	return out
}

func TestCaptureIsAdditiveBeforeSaturation(t *testing.T) {
	x := FromStake(big.NewInt(300), 10)
	y := FromStake(big.NewInt(700), 250)
	sum := mustAdd(t, x, y)

	for _, at := range []uint64{250, 400, 900} {
		separate := new(big.Int).Add(x.CaptureRaw(at, testParams), y.CaptureRaw(at, testParams))
		require.Equal(t, 0, separate.Cmp(sum.CaptureRaw(at, testParams)), "at %d", at)
	}
}

func TestCaptureIsAdditiveWhenSaturated(t *testing.T) {
	x := FromStake(big.NewInt(300), 0)
	y := FromStake(big.NewInt(700), 50)
	sum := mustAdd(t, x, y)

	at := uint64(5_000)
	separate := new(big.Int).Add(x.CaptureRaw(at, testParams), y.CaptureRaw(at, testParams))
	require.Equal(t, 0, separate.Cmp(sum.CaptureRaw(at, testParams)))
	require.Equal(t, int64(1_000*1_000), sum.CaptureRaw(at, testParams).Int64())
}

func TestCaptureBeforeStakeIsZero(t *testing.T) {
	s := FromStake(big.NewInt(10), 100)
	require.Zero(t, s.CaptureRaw(50, testParams).Sign())
	require.Equal(t, int64(10*20), s.CaptureRaw(120, testParams).Int64())
}

func TestCaptureUnitsAndLocking(t *testing.T) {
	params := Params{Horizon: 0, SecondsPerUnit: 10}
	s := mustAdd(t, FromStake(big.NewInt(3), 0), FromLock(big.NewInt(5), 40, params))
	require.Equal(t, int64(20), s.Locking.Int64())
	// 3*35 = 105 unit-seconds -> 10 units, plus 20 locked.
	require.Equal(t, int64(30), s.Capture(35, params).Int64())
}

func TestFromLockCapsAtHorizon(t *testing.T) {
	s := FromLock(big.NewInt(2), 5_000, testParams)
	require.Equal(t, int64(2_000), s.Locking.Int64())
	require.Equal(t, int64(2_000), s.Capture(0, testParams).Int64())
}

func TestSubRejectsNegative(t *testing.T) {
	_, err := FromStake(big.NewInt(1), 0).Sub(FromStake(big.NewInt(2), 0))
	require.ErrorIs(t, err, ErrUnderflow)
}

func TestAddRejectsOverflow(t *testing.T) {
	limit := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	_, err := State{A: limit, B: big.NewInt(0), Locking: big.NewInt(0)}.Add(FromStake(big.NewInt(1), 0))
	require.ErrorIs(t, err, ErrOverflow)
}

func TestScaleCommutesWithCapture(t *testing.T) {
	s := FromStake(big.NewInt(1_000), 100)
	half := s.Scale(big.NewInt(1), big.NewInt(2))
	require.Equal(t, int64(500), half.A.Int64())
	require.Equal(t, int64(50_000), half.B.Int64())
	require.Equal(t, int64(500*200), half.CaptureRaw(300, testParams).Int64())
	require.True(t, s.Scale(big.NewInt(0), big.NewInt(3)).IsZero())
}

func TestScaleIsComponentWise(t *testing.T) {
	s := mustAdd(t, FromStake(big.NewInt(3), 10), FromLock(big.NewInt(9), 1, testParams))
	half := s.Scale(big.NewInt(1), big.NewInt(2))
	require.Equal(t, int64(1), half.A.Int64())
	require.Equal(t, int64(15), half.B.Int64())
	require.Equal(t, int64(4), half.Locking.Int64())

	tripled := s.Scale(big.NewInt(3), big.NewInt(1))
	require.Equal(t, int64(9), tripled.A.Int64())
	require.Equal(t, int64(90), tripled.B.Int64())
	for _, ts := range []uint64{10, 50, 400} {
		want := new(big.Int).Mul(s.Capture(ts, testParams), big.NewInt(3))
		require.Equal(t, 0, tripled.Capture(ts, testParams).Cmp(want), "capture at %d", ts)
	}
}

func TestAllocateSumsExactly(t *testing.T) {
	s := mustAdd(t, FromStake(big.NewInt(1_001), 7), FromLock(big.NewInt(13), 100, testParams))
	parts, err := Allocate(s, []uint64{1, 2, 4})
	require.NoError(t, err)
	require.Len(t, parts, 3)

	total := Zero()
	for _, part := range parts {
		total = mustAdd(t, total, part)
	}
	require.Equal(t, 0, total.A.Cmp(s.A))
	require.Equal(t, 0, total.B.Cmp(s.B))
	require.Equal(t, 0, total.Locking.Cmp(s.Locking))

	_, err = Allocate(s, []uint64{0, 0})
	require.ErrorIs(t, err, ErrNoWeights)
}
