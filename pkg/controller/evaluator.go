package controller

import (
	"fmt"

	"github.com/jwpriem/ev-easee/pkg/types"
)

// Command is the vendor command the executor should issue for a decision.
// It is distinct from the user-facing action: a start action is carried out
// by a resume command when the charger is not waiting for a new session.
type Command string

const (
	CommandStart  Command = "start"
	CommandResume Command = "resume"
	CommandPause  Command = "pause"
	CommandNone   Command = "none"
)

// Decision is the evaluator's verdict for one policy. It names the vendor
// command to issue and how a failure of that command should be classified.
type Decision struct {
	ShouldCharge bool
	Action       types.ChargeAction
	Command      Command
	// FailureIsSkip marks commands whose failure is an expected steady
	// state rather than a fault. Resuming with no car plugged in is the
	// main case.
	FailureIsSkip bool
	Reason        string
}

// Evaluate decides what to do for a policy given the current price and the
// charger's live state. It is pure: no clock, no I/O.
//
// Charging is wanted whenever the current total price is at or below the
// policy's maximum, inclusive. A price exactly at the threshold charges.
func Evaluate(current types.PricePoint, policy types.ChargingPolicy, state types.ChargerState) Decision {
	shouldCharge := current.Total <= policy.MaxPrice

	if shouldCharge {
		switch state.OperatingMode {
		case types.OperatingModeCharging:
			return Decision{
				ShouldCharge: true,
				Action:       types.ActionNone,
				Command:      CommandNone,
				Reason:       "already charging",
			}
		case types.OperatingModeAwaitingStart, types.OperatingModeReadyToCharge:
			return Decision{
				ShouldCharge: true,
				Action:       types.ActionStart,
				Command:      CommandStart,
				Reason: fmt.Sprintf("price %.4f at or below max %.4f, starting charge",
					current.Total, policy.MaxPrice),
			}
		default:
			// Disconnected, Completed, Error or an unknown mode. A resume is
			// worth a try (the charger may have been paused by us) but there
			// is often no session to resume, so a failure here is not a
			// fault.
			return Decision{
				ShouldCharge:  true,
				Action:        types.ActionStart,
				Command:       CommandResume,
				FailureIsSkip: true,
				Reason: fmt.Sprintf("price %.4f at or below max %.4f, attempting resume from %s",
					current.Total, policy.MaxPrice, state.OperatingMode),
			}
		}
	}

	if state.OperatingMode == types.OperatingModeCharging {
		return Decision{
			Action:  types.ActionPause,
			Command: CommandPause,
			Reason: fmt.Sprintf("price %.4f above max %.4f, pausing charge",
				current.Total, policy.MaxPrice),
		}
	}
	return Decision{
		Action:  types.ActionNone,
		Command: CommandNone,
		Reason:  "no action needed",
	}
}
