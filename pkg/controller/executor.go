package controller

import (
	"context"
	"log/slog"

	"github.com/jwpriem/ev-easee/pkg/charger"
	"github.com/jwpriem/ev-easee/pkg/log"
	"github.com/jwpriem/ev-easee/pkg/types"
)

// Execute evaluates the policy against the current price and charger state,
// issues the decided vendor command (one attempt, no retry) and returns the
// outcome. Errors never propagate: every failure is folded into the result
// so one broken charger cannot take down the rest of an apply-cycle.
func Execute(
	ctx context.Context,
	client charger.Client,
	ch types.Charger,
	policy types.ChargingPolicy,
	current types.PricePoint,
	state types.ChargerState,
) types.DecisionResult {
	dec := Evaluate(current, policy, state)

	res := types.DecisionResult{
		PolicyID:     policy.ID,
		ChargerName:  ch.Name,
		ChargerID:    ch.ID,
		CurrentPrice: current.Total,
		MaxPrice:     policy.MaxPrice,
		ShouldCharge: dec.ShouldCharge,
		Action:       dec.Action,
		Message:      dec.Reason,
	}

	log.Ctx(ctx).DebugContext(ctx, "evaluated charging policy",
		slog.String("policyID", policy.ID),
		slog.String("chargerID", ch.ID),
		slog.String("mode", state.OperatingMode.String()),
		slog.Float64("currentPrice", current.Total),
		slog.Float64("maxPrice", policy.MaxPrice),
		slog.String("command", string(dec.Command)),
	)

	var err error
	switch dec.Command {
	case CommandStart:
		err = client.Start(ctx, ch.VendorChargerID)
	case CommandResume:
		err = client.Resume(ctx, ch.VendorChargerID)
	case CommandPause:
		err = client.Pause(ctx, ch.VendorChargerID)
	case CommandNone:
		res.Outcome = types.OutcomeSkipped
		return res
	}

	if err != nil {
		if dec.FailureIsSkip {
			log.Ctx(ctx).DebugContext(ctx, "resume not possible, skipping",
				slog.String("chargerID", ch.ID),
				slog.Any("error", err),
			)
			res.Outcome = types.OutcomeSkipped
			res.Message = "charger not ready, will retry next cycle"
			return res
		}
		log.Ctx(ctx).WarnContext(ctx, "charger command failed",
			slog.String("chargerID", ch.ID),
			slog.String("command", string(dec.Command)),
			slog.Any("error", err),
		)
		res.Outcome = types.OutcomeError
		res.Message = err.Error()
		return res
	}

	res.Outcome = types.OutcomeSuccess
	return res
}
