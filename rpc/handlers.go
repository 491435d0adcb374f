package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strings"

	"stakeledger/core/outbox"
	"stakeledger/native/accrual"
	"stakeledger/rpc/middleware"
)

type amountView struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type transferView struct {
	Recipient string `json:"recipient"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	Reason    string `json:"reason"`
}

type positionView struct {
	Owner         string       `json:"owner"`
	Tier          uint64       `json:"tier"`
	LockInstant   uint64       `json:"lockInstant"`
	Principal     string       `json:"principal"`
	Weighted      string       `json:"weighted"`
	MultiplierBps uint64       `json:"multiplierBps"`
	Accrued       []amountView `json:"accrued,omitempty"`
}

type tierView struct {
	Duration      uint64 `json:"duration"`
	MultiplierBps uint64 `json:"multiplierBps"`
	PenaltyBps    uint64 `json:"penaltyBps"`
}

type indexView struct {
	Asset       string `json:"asset"`
	Weight      string `json:"weight"`
	Remainder   string `json:"remainder"`
	Distributed string `json:"distributed"`
	LastUpdate  uint64 `json:"lastUpdate"`
}

type stakeParams struct {
	Tier   uint64 `json:"tier"`
	Amount string `json:"amount"`
}

type unstakeParams struct {
	Tier        uint64 `json:"tier"`
	LockInstant uint64 `json:"lockInstant"`
	Amount      string `json:"amount"`
}

type restakeParams struct {
	FromTier    uint64 `json:"fromTier"`
	LockInstant uint64 `json:"lockInstant"`
	ToTier      uint64 `json:"toTier"`
	Amount      string `json:"amount"`
}

type positionParams struct {
	Owner       string `json:"owner,omitempty"`
	Tier        uint64 `json:"tier"`
	LockInstant uint64 `json:"lockInstant"`
}

type ownerParams struct {
	Owner string  `json:"owner,omitempty"`
	At    *uint64 `json:"at,omitempty"`
}

type recognizeParams struct {
	Asset  string `json:"asset"`
	From   string `json:"from,omitempty"`
	Amount string `json:"amount"`
}

type tierParams struct {
	Duration      uint64 `json:"duration"`
	MultiplierBps uint64 `json:"multiplierBps"`
	PenaltyBps    uint64 `json:"penaltyBps"`
}

type assetParams struct {
	Asset     string `json:"asset"`
	Projected bool   `json:"projected,omitempty"`
}

type outboxListParams struct {
	Recipient   string `json:"recipient,omitempty"`
	PendingOnly bool   `json:"pendingOnly,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

type outboxDispatchParams struct {
	ID string `json:"id"`
}

type stakeResult struct {
	Position positionView `json:"position"`
}

type unstakeResult struct {
	Position  *positionView  `json:"position,omitempty"`
	Closed    bool           `json:"closed"`
	Withdrawn string         `json:"withdrawn"`
	Penalty   string         `json:"penalty"`
	Net       string         `json:"net"`
	Rewards   []amountView   `json:"rewards,omitempty"`
	Transfers []transferView `json:"transfers"`
}

type restakeResult struct {
	From      *positionView  `json:"from,omitempty"`
	To        positionView   `json:"to"`
	Moved     string         `json:"moved"`
	Transfers []transferView `json:"transfers"`
}

type claimResult struct {
	Positions int            `json:"positions"`
	Rewards   []amountView   `json:"rewards"`
	Transfers []transferView `json:"transfers"`
}

func decodeParams(raw json.RawMessage, out interface{}) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	// Accept both a bare object and the positional [{...}] form.
	if trimmed[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return invalidParams("invalid parameter list")
		}
		if len(list) == 0 {
			return nil
		}
		if len(list) != 1 {
			return invalidParams("exactly one parameter object expected")
		}
		trimmed = list[0]
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return invalidParams(fmt.Sprintf("invalid parameter object: %v", err))
	}
	return nil
}

func parseAmount(amount string) (*big.Int, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return nil, invalidParams("amount is required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, invalidParams("invalid amount")
	}
	if value.Sign() <= 0 {
		return nil, accrual.ErrInvalidAmount
	}
	return value, nil
}

func quotaAmount(v *big.Int) uint64 {
	if v == nil || v.Sign() <= 0 {
		return 0
	}
	if !v.IsUint64() {
		return math.MaxUint64
	}
	return v.Uint64()
}

func formatBig(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func amountViews(in []accrual.AssetAmount) []amountView {
	out := make([]amountView, 0, len(in))
	for _, a := range in {
		out = append(out, amountView{Asset: a.Asset, Amount: formatBig(a.Amount)})
	}
	return out
}

func transferViews(in []accrual.Transfer) []transferView {
	out := make([]transferView, 0, len(in))
	for _, tr := range in {
		out = append(out, transferView{Recipient: tr.Recipient, Asset: tr.Asset, Amount: formatBig(tr.Amount), Reason: tr.Reason})
	}
	return out
}

func newPositionView(pos *accrual.Position) positionView {
	return positionView{
		Owner:         pos.Key.Owner,
		Tier:          pos.Key.Tier,
		LockInstant:   pos.Key.LockInstant,
		Principal:     formatBig(pos.Principal),
		Weighted:      formatBig(pos.Weighted),
		MultiplierBps: pos.MultiplierBps,
		Accrued:       amountViews(pos.Accrued),
	}
}

func newIndexView(idx *accrual.GlobalIndex) indexView {
	return indexView{
		Asset:       idx.Asset,
		Weight:      formatBig(idx.Weight),
		Remainder:   formatBig(idx.Remainder),
		Distributed: formatBig(idx.Distributed),
		LastUpdate:  idx.LastUpdate,
	}
}

func ownerOrCaller(owner string, caller middleware.Claims) string {
	if trimmed := strings.TrimSpace(owner); trimmed != "" {
		return trimmed
	}
	return caller.Subject
}

// read runs a query under the server lock; the state overlay is not safe for
// concurrent use.
func (s *Server) read(fn func(now uint64) (interface{}, error)) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(unixSeconds(s.clock()))
}

func (s *Server) stake(ctx context.Context, caller middleware.Claims, raw json.RawMessage) (interface{}, error) {
	var params stakeParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.chargeQuota(caller.Subject, quotaAmount(amount)); err != nil {
		return nil, err
	}
	var res *accrual.StakeResult
	err = s.execute(ctx, "stake", func(now uint64) ([]accrual.Transfer, error) {
		var opErr error
		res, opErr = s.engine.Stake(caller.Subject, params.Tier, amount, now)
		return nil, opErr
	})
	if err != nil {
		return nil, err
	}
	s.refreshGauges(params.Tier)
	return stakeResult{Position: newPositionView(res.Position)}, nil
}

func (s *Server) unstake(ctx context.Context, caller middleware.Claims, raw json.RawMessage) (interface{}, error) {
	var params unstakeParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.chargeQuota(caller.Subject, quotaAmount(amount)); err != nil {
		return nil, err
	}
	var res *accrual.UnstakeResult
	err = s.execute(ctx, "unstake", func(now uint64) ([]accrual.Transfer, error) {
		var opErr error
		res, opErr = s.engine.Unstake(caller.Subject, params.Tier, params.LockInstant, amount, now)
		if opErr != nil {
			return nil, opErr
		}
		return res.Transfers, nil
	})
	if err != nil {
		return nil, err
	}
	if res.Penalty != nil && res.Penalty.Sign() > 0 && s.engine.Params().PenaltyRecipient == "" {
		s.metrics.ObservePenalty("", res.Penalty)
	}
	s.refreshGauges(params.Tier)
	out := unstakeResult{
		Closed:    res.Deleted,
		Withdrawn: formatBig(res.Withdrawn),
		Penalty:   formatBig(res.Penalty),
		Net:       formatBig(res.Net),
		Rewards:   amountViews(res.Rewards),
		Transfers: transferViews(res.Transfers),
	}
	if !res.Deleted && res.Position != nil {
		view := newPositionView(res.Position)
		out.Position = &view
	}
	return out, nil
}

func (s *Server) restake(ctx context.Context, caller middleware.Claims, raw json.RawMessage) (interface{}, error) {
	var params restakeParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return nil, err
	}
	if err := s.chargeQuota(caller.Subject, quotaAmount(amount)); err != nil {
		return nil, err
	}
	var res *accrual.RestakeResult
	err = s.execute(ctx, "restake", func(now uint64) ([]accrual.Transfer, error) {
		var opErr error
		res, opErr = s.engine.Restake(caller.Subject, params.FromTier, params.LockInstant, params.ToTier, amount, now)
		if opErr != nil {
			return nil, opErr
		}
		return res.Transfers, nil
	})
	if err != nil {
		return nil, err
	}
	s.refreshGauges(params.FromTier, params.ToTier)
	out := restakeResult{
		To:        newPositionView(res.To),
		Moved:     formatBig(res.Moved),
		Transfers: transferViews(res.Transfers),
	}
	if res.From != nil {
		view := newPositionView(res.From)
		out.From = &view
	}
	return out, nil
}

func (s *Server) claim(ctx context.Context, caller middleware.Claims, raw json.RawMessage) (interface{}, error) {
	if err := decodeParams(raw, &struct{}{}); err != nil {
		return nil, err
	}
	if err := s.chargeQuota(caller.Subject, 0); err != nil {
		return nil, err
	}
	var res *accrual.ClaimResult
	err := s.execute(ctx, "claim", func(now uint64) ([]accrual.Transfer, error) {
		var opErr error
		res, opErr = s.engine.Claim(caller.Subject, now)
		if opErr != nil {
			return nil, opErr
		}
		return res.Transfers, nil
	})
	if err != nil {
		return nil, err
	}
	return newClaimResult(res), nil
}

func (s *Server) claimPosition(ctx context.Context, caller middleware.Claims, raw json.RawMessage) (interface{}, error) {
	var params positionParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if params.Owner != "" && strings.TrimSpace(params.Owner) != caller.Subject {
		return nil, fmt.Errorf("claim for %s: %w", params.Owner, accrual.ErrUnauthorized)
	}
	if err := s.chargeQuota(caller.Subject, 0); err != nil {
		return nil, err
	}
	key := accrual.PositionKey{Owner: caller.Subject, Tier: params.Tier, LockInstant: params.LockInstant}
	var res *accrual.ClaimResult
	err := s.execute(ctx, "claim_position", func(now uint64) ([]accrual.Transfer, error) {
		var opErr error
		res, opErr = s.engine.ClaimPosition(key, now)
		if opErr != nil {
			return nil, opErr
		}
		return res.Transfers, nil
	})
	if err != nil {
		return nil, err
	}
	return newClaimResult(res), nil
}

func newClaimResult(res *accrual.ClaimResult) claimResult {
	return claimResult{
		Positions: len(res.Positions),
		Rewards:   amountViews(res.Rewards),
		Transfers: transferViews(res.Transfers),
	}
}

func (s *Server) recognize(ctx context.Context, _ middleware.Claims, raw json.RawMessage) (interface{}, error) {
	var params recognizeParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return nil, err
	}
	err = s.execute(ctx, "recognize", func(now uint64) ([]accrual.Transfer, error) {
		return nil, s.engine.Recognize(params.Asset, amount, now)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveRecognized(params.Asset, amount)
	return amountView{Asset: strings.TrimSpace(params.Asset), Amount: amount.String()}, nil
}

func (s *Server) recognizeConverted(ctx context.Context, _ middleware.Claims, raw json.RawMessage) (interface{}, error) {
	var params recognizeParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if s.rates == nil {
		return nil, invalidParams("conversion rates not configured")
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		return nil, err
	}
	var converted *big.Int
	err = s.execute(ctx, "recognize_converted", func(now uint64) ([]accrual.Transfer, error) {
		var opErr error
		converted, opErr = s.engine.RecognizeConverted(s.rates, params.From, amount, params.Asset, now)
		return nil, opErr
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObserveRecognized(params.Asset, converted)
	return amountView{Asset: strings.TrimSpace(params.Asset), Amount: converted.String()}, nil
}

func (s *Server) setTier(ctx context.Context, caller middleware.Claims, raw json.RawMessage) (interface{}, error) {
	var params tierParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	tier := accrual.Tier{Duration: params.Duration, MultiplierBps: params.MultiplierBps, PenaltyBps: params.PenaltyBps}
	err := s.execute(ctx, "set_tier", func(uint64) ([]accrual.Transfer, error) {
		return nil, s.engine.SetTier(caller.Subject, tier)
	})
	if err != nil {
		return nil, err
	}
	return tierView(params), nil
}

func (s *Server) removeTier(ctx context.Context, caller middleware.Claims, raw json.RawMessage) (interface{}, error) {
	var params tierParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	err := s.execute(ctx, "remove_tier", func(uint64) ([]accrual.Transfer, error) {
		return nil, s.engine.RemoveTier(caller.Subject, params.Duration)
	})
	if err != nil {
		return nil, err
	}
	return map[string]uint64{"duration": params.Duration}, nil
}

func (s *Server) position(_ context.Context, caller middleware.Claims, raw json.RawMessage) (interface{}, error) {
	var params positionParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	key := accrual.PositionKey{Owner: ownerOrCaller(params.Owner, caller), Tier: params.Tier, LockInstant: params.LockInstant}
	return s.read(func(uint64) (interface{}, error) {
		pos, err := s.engine.Position(key)
		if err != nil {
			return nil, err
		}
		return newPositionView(pos), nil
	})
}

func (s *Server) positions(_ context.Context, caller middleware.Claims, raw json.RawMessage) (interface{}, error) {
	var params ownerParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	owner := ownerOrCaller(params.Owner, caller)
	return s.read(func(uint64) (interface{}, error) {
		list, err := s.engine.OwnerPositions(owner)
		if err != nil {
			return nil, err
		}
		out := make([]positionView, 0, len(list))
		for _, pos := range list {
			out = append(out, newPositionView(pos))
		}
		return out, nil
	})
}

func (s *Server) pendingRewards(_ context.Context, caller middleware.Claims, raw json.RawMessage) (interface{}, error) {
	var params positionParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	key := accrual.PositionKey{Owner: ownerOrCaller(params.Owner, caller), Tier: params.Tier, LockInstant: params.LockInstant}
	return s.read(func(now uint64) (interface{}, error) {
		pending, err := s.engine.PendingRewards(key, now)
		if err != nil {
			return nil, err
		}
		return amountViews(pending), nil
	})
}

func (s *Server) index(_ context.Context, _ middleware.Claims, raw json.RawMessage) (interface{}, error) {
	var params assetParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	return s.read(func(now uint64) (interface{}, error) {
		var (
			idx *accrual.GlobalIndex
			err error
		)
		if params.Projected {
			idx, err = s.engine.ProjectIndex(params.Asset, now)
		} else {
			idx, err = s.engine.Index(params.Asset)
		}
		if err != nil {
			return nil, err
		}
		return newIndexView(idx), nil
	})
}

func (s *Server) tiers(_ context.Context, _ middleware.Claims, raw json.RawMessage) (interface{}, error) {
	if err := decodeParams(raw, &struct{}{}); err != nil {
		return nil, err
	}
	return s.read(func(uint64) (interface{}, error) {
		list, err := s.engine.Tiers()
		if err != nil {
			return nil, err
		}
		out := make([]tierView, 0, len(list))
		for _, t := range list {
			out = append(out, tierView(t))
		}
		return out, nil
	})
}

func (s *Server) tierTotals(_ context.Context, _ middleware.Claims, raw json.RawMessage) (interface{}, error) {
	var params tierParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	return s.read(func(uint64) (interface{}, error) {
		agg, err := s.engine.TierTotals(params.Duration)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"duration":  agg.Duration,
			"principal": formatBig(agg.TotalPrincipal),
			"weighted":  formatBig(agg.TotalWeighted),
		}, nil
	})
}

func (s *Server) totals(_ context.Context, _ middleware.Claims, raw json.RawMessage) (interface{}, error) {
	if err := decodeParams(raw, &struct{}{}); err != nil {
		return nil, err
	}
	return s.read(func(uint64) (interface{}, error) {
		totals, err := s.engine.Totals()
		if err != nil {
			return nil, err
		}
		return map[string]string{
			"principal": formatBig(totals.Principal),
			"weighted":  formatBig(totals.Weighted),
		}, nil
	})
}

func (s *Server) essence(_ context.Context, caller middleware.Claims, raw json.RawMessage) (interface{}, error) {
	var params ownerParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	owner := ownerOrCaller(params.Owner, caller)
	return s.read(func(now uint64) (interface{}, error) {
		at := now
		if params.At != nil {
			at = *params.At
		}
		value, err := s.engine.Essence(owner, at)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"owner": owner, "at": at, "essence": formatBig(value)}, nil
	})
}

func (s *Server) totalEssence(_ context.Context, _ middleware.Claims, raw json.RawMessage) (interface{}, error) {
	var params ownerParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	return s.read(func(now uint64) (interface{}, error) {
		at := now
		if params.At != nil {
			at = *params.At
		}
		value, err := s.engine.TotalEssence(at)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"at": at, "essence": formatBig(value)}, nil
	})
}

func (s *Server) unvested(_ context.Context, _ middleware.Claims, raw json.RawMessage) (interface{}, error) {
	var params assetParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	return s.read(func(now uint64) (interface{}, error) {
		value, err := s.engine.Unvested(params.Asset, now)
		if err != nil {
			return nil, err
		}
		return amountView{Asset: strings.TrimSpace(params.Asset), Amount: formatBig(value)}, nil
	})
}

func (s *Server) outboxList(ctx context.Context, _ middleware.Claims, raw json.RawMessage) (interface{}, error) {
	var params outboxListParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if s.outbox == nil {
		return nil, errOutboxDisabled
	}
	list, err := s.outbox.List(ctx, outbox.Filter{Recipient: params.Recipient, PendingOnly: params.PendingOnly, Limit: params.Limit})
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []outbox.Instruction{}
	}
	return list, nil
}

func (s *Server) outboxMarkDispatched(ctx context.Context, _ middleware.Claims, raw json.RawMessage) (interface{}, error) {
	var params outboxDispatchParams
	if err := decodeParams(raw, &params); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.ID) == "" {
		return nil, invalidParams("id required")
	}
	if s.outbox == nil {
		return nil, errOutboxDisabled
	}
	if err := s.outbox.MarkDispatched(ctx, params.ID, s.clock()); err != nil {
		return nil, err
	}
	return map[string]string{"id": params.ID, "status": "dispatched"}, nil
}

// refreshGauges publishes index weights and the principal of touched tiers.
func (s *Server) refreshGauges(tiers ...uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, asset := range s.engine.Params().Assets {
		if idx, err := s.engine.Index(asset.Denom); err == nil {
			s.metrics.SetWeight(asset.Denom, idx.Weight)
		}
	}
	for _, tier := range tiers {
		if agg, err := s.engine.TierTotals(tier); err == nil {
			s.metrics.SetPrincipal(fmt.Sprintf("%d", tier), agg.TotalPrincipal)
		}
	}
}
