package models

import "time"

// RollReason identifies which trigger fired for a roll.
type RollReason string

const (
	RollReasonDTE            RollReason = "DTE_THRESHOLD"
	RollReasonCadence        RollReason = "TIME_CADENCE"
	RollReasonDeltaDrift     RollReason = "DELTA_DRIFT"
	RollReasonExtrinsicDecay RollReason = "EXTRINSIC_DECAY"
	RollReasonSkewDeviation  RollReason = "SKEW_DEVIATION"
	RollReasonSpreadValue    RollReason = "SPREAD_VALUE_DECAY"
	RollReasonLongLegDrift   RollReason = "LONG_LEG_DRIFT"
	RollReasonShortLegDrift  RollReason = "SHORT_LEG_DRIFT"
)

// RollTriggerRecord is emitted whenever a roll trigger fires, whether or
// not the subsequent roll succeeds.
type RollTriggerRecord struct {
	ID         string
	PositionID string
	Underlying string
	Template   HedgeTemplate
	Reason     RollReason
	Detail     string
	FiredAt    time.Time
}

// AssignmentBand classifies short-leg assignment risk by current delta.
type AssignmentBand string

const (
	AssignmentNone     AssignmentBand = "NONE"
	AssignmentWarning  AssignmentBand = "WARNING"
	AssignmentHigh     AssignmentBand = "HIGH"
	AssignmentCritical AssignmentBand = "CRITICAL"
)

// AssignmentAction is the remediation chosen for an assignment detection.
type AssignmentAction string

const (
	ActionExerciseLong AssignmentAction = "EXERCISE_LONG_LEG"
	ActionCloseBoth    AssignmentAction = "CLOSE_BOTH_LEGS"
	ActionRollSpread   AssignmentAction = "ROLL_SPREAD"
	ActionNone         AssignmentAction = "NONE"
)

// AssignmentRecord is emitted for every warning-or-above observation of a
// spread's short leg, even when no remediation is attempted.
type AssignmentRecord struct {
	ID           string
	PositionID   string
	Underlying   string
	ShortDelta   float64
	Band         AssignmentBand
	PreviousBand AssignmentBand
	Action       AssignmentAction
	Resolved     bool
	Detail       string
	DetectedAt   time.Time
}

// UnwindSeverity maps an emergency trigger to an unwind procedure.
type UnwindSeverity string

const (
	// SeverityOperational is operational degradation: controlled full
	// unwind, serialized fills.
	SeverityOperational UnwindSeverity = "OPERATIONAL"
	// SeverityDislocation is a market dislocation: rapid parallel
	// unwind, slippage accepted.
	SeverityDislocation UnwindSeverity = "DISLOCATION"
	// SeverityAccountRisk is an account-risk event: broker-assisted
	// unwind, state recorded after the fact.
	SeverityAccountRisk UnwindSeverity = "ACCOUNT_RISK"
)

// UnwindRecord captures one unwind initiation and its outcome.
type UnwindRecord struct {
	ID            string
	Severity      UnwindSeverity
	Reason        string
	InitiatedAt   time.Time
	CompletedAt   time.Time
	PositionsSeen int
	Closed        int
	Failed        int
}

// ReconciliationDiscrepancy is a mismatch between broker-reported and
// locally recorded positions after an unwind. Never auto-resolved.
type ReconciliationDiscrepancy struct {
	ID         string
	UnwindID   string
	PositionID string
	Expected   string
	Reported   string
	FoundAt    time.Time
}
