package workflow

import (
	"context"
	"errors"

	"github.com/lucasnoah/issuefactory/internal/pipeline"
)

// Phase is one step of a run.
type Phase string

const (
	PhaseIngest   Phase = "ingest"
	PhaseCheckout Phase = "checkout"
	PhaseProbe    Phase = "probe"
	PhasePlan     Phase = "plan"
	PhaseGenerate Phase = "generate"
	PhaseGate     Phase = "gate"
	PhaseFinalize Phase = "finalize"
	PhaseDone     Phase = "done"
)

// transitions is the success path. Any phase error ends the run.
var transitions = map[Phase]Phase{
	PhaseIngest:   PhaseCheckout,
	PhaseCheckout: PhaseProbe,
	PhaseProbe:    PhasePlan,
	PhasePlan:     PhaseGenerate,
	PhaseGenerate: PhaseGate,
	PhaseGate:     PhaseFinalize,
	PhaseFinalize: PhaseDone,
}

// failures is the outcome of a phase error that carries no typed error.
var failures = map[Phase]pipeline.Outcome{
	PhaseIngest:   pipeline.OutcomeIngestionFailed,
	PhaseCheckout: pipeline.OutcomeCheckoutFailed,
	PhaseProbe:    pipeline.OutcomeCheckoutFailed,
	PhasePlan:     pipeline.OutcomePlanningFailed,
	PhaseGenerate: pipeline.OutcomeGenerationFailed,
	PhaseGate:     pipeline.OutcomeQualityFailed,
	PhaseFinalize: pipeline.OutcomePublishFailed,
}

// Phases returns the phases of a successful run in order.
func Phases() []Phase {
	var out []Phase
	for p := PhaseIngest; p != PhaseDone; p = transitions[p] {
		out = append(out, p)
	}
	return out
}

// OutcomeFor maps a phase error to its terminal outcome. Typed errors win
// over the phase that returned them, so a generation failure during the
// gate loop is still GENERATION_FAILED.
func OutcomeFor(phase Phase, err error) pipeline.Outcome {
	if err == nil {
		return pipeline.OutcomeSuccess
	}
	if errors.Is(err, context.Canceled) {
		return pipeline.OutcomeCancelled
	}

	var (
		ingestErr   *pipeline.IngestionError
		checkoutErr *pipeline.CheckoutError
		planErr     *pipeline.PlanningError
		genErr      *pipeline.GenerationError
		gateErr     *pipeline.QualityGateExhausted
		publishErr  *pipeline.PublishError
	)
	switch {
	case errors.As(err, &ingestErr):
		return pipeline.OutcomeIngestionFailed
	case errors.As(err, &checkoutErr):
		return pipeline.OutcomeCheckoutFailed
	case errors.As(err, &planErr):
		return pipeline.OutcomePlanningFailed
	case errors.As(err, &genErr):
		return pipeline.OutcomeGenerationFailed
	case errors.As(err, &gateErr):
		return pipeline.OutcomeQualityFailed
	case errors.As(err, &publishErr):
		return pipeline.OutcomePublishFailed
	}
	if o, ok := failures[phase]; ok {
		return o
	}
	return pipeline.OutcomeCancelled
}
