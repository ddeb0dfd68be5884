package domain

// Step identifies a forward saga step
type Step string

const (
	StepStockReserve           Step = "STOCK_RESERVE"
	StepPaymentVerify          Step = "PAYMENT_VERIFY"
	StepRouteCalculate         Step = "ROUTE_CALCULATE"
	StepHubDeliveryCreate      Step = "HUB_DELIVERY_CREATE"
	StepLastMileDeliveryCreate Step = "LAST_MILE_DELIVERY_CREATE"
	StepNotificationSend       Step = "NOTIFICATION_SEND"
	StepTrackingStart          Step = "TRACKING_START"
)

// CompensationStep identifies the action that undoes a forward step
type CompensationStep string

const (
	CompensationStockRestore           CompensationStep = "STOCK_RESTORE"
	CompensationPaymentCancel          CompensationStep = "PAYMENT_CANCEL"
	CompensationHubDeliveryCancel      CompensationStep = "HUB_DELIVERY_CANCEL"
	CompensationLastMileDeliveryCancel CompensationStep = "LAST_MILE_DELIVERY_CANCEL"
)

// StepDefinition is one row of the step registry: ordering, flags and the
// forward-to-compensation mapping for a single step. The registry is a plain
// immutable lookup table consulted by both the orchestrator and the
// compensator; step identifiers carry no behavior of their own.
type StepDefinition struct {
	Mandatory         bool
	BestEffort        bool
	NeedsCompensation bool
	Compensation      CompensationStep // empty when the step has nothing to undo
	Next              Step             // empty when the step is terminal
}

// FirstStep is where every saga run begins
const FirstStep = StepStockReserve

var stepRegistry = map[Step]StepDefinition{
	StepStockReserve: {
		Mandatory:         true,
		NeedsCompensation: true,
		Compensation:      CompensationStockRestore,
		Next:              StepPaymentVerify,
	},
	StepPaymentVerify: {
		Mandatory:         true,
		NeedsCompensation: true,
		Compensation:      CompensationPaymentCancel,
		Next:              StepRouteCalculate,
	},
	StepRouteCalculate: {
		// Conditional: always runs, but yields a no-hub-leg plan for
		// same-hub orders.
		Next: StepHubDeliveryCreate,
	},
	StepHubDeliveryCreate: {
		// Conditional: skipped entirely when origin and destination hub
		// are the same.
		NeedsCompensation: true,
		Compensation:      CompensationHubDeliveryCancel,
		Next:              StepLastMileDeliveryCreate,
	},
	StepLastMileDeliveryCreate: {
		Mandatory:         true,
		NeedsCompensation: true,
		Compensation:      CompensationLastMileDeliveryCancel,
		Next:              StepNotificationSend,
	},
	StepNotificationSend: {
		BestEffort: true,
		Next:       StepTrackingStart,
	},
	StepTrackingStart: {
		BestEffort: true,
	},
}

// StepDef looks up the registry row for a step
func StepDef(step Step) (StepDefinition, bool) {
	def, ok := stepRegistry[step]
	return def, ok
}

// KnownStep reports whether the identifier names a registered forward step
func KnownStep(step Step) bool {
	_, ok := stepRegistry[step]
	return ok
}
