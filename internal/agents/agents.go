// ABOUTME: Fixed agent catalogue for the quoting pipeline.
// ABOUTME: IDs, display labels and pipeline order; unknown ids never crash.

package agents

// ID identifies one stage of the backend agent pipeline. The catalogue is
// fixed client-side; the backend may emit identifiers outside it.
type ID string

// The known pipeline stages, in pipeline order.
const (
	Orchestrator      ID = "orchestrator"
	Intake            ID = "intake"
	Coverage          ID = "coverage"
	DriverIdentity    ID = "driver_identity"
	DriverEligibility ID = "driver_eligibility"
	Telematics        ID = "telematics"
	RiskAssessment    ID = "risk_assessment"
	Pricing           ID = "pricing"
	Payment           ID = "payment"
	Document          ID = "document"
)

// Pipeline is the fixed catalogue in display order.
var Pipeline = []ID{
	Orchestrator,
	Intake,
	Coverage,
	DriverIdentity,
	DriverEligibility,
	Telematics,
	RiskAssessment,
	Pricing,
	Payment,
	Document,
}

var labels = map[ID]string{
	Orchestrator:      "Assistant",
	Intake:            "Vehicle Intake",
	Coverage:          "Coverage",
	DriverIdentity:    "Driver Identity",
	DriverEligibility: "Eligibility",
	Telematics:        "Smart Driver",
	RiskAssessment:    "Risk Assessment",
	Pricing:           "Pricing",
	Payment:           "Payment",
	Document:          "Documents",
}

// Known reports whether id belongs to the fixed catalogue.
func Known(id ID) bool {
	_, ok := labels[id]
	return ok
}

// Label returns the display label for id, or a generic label for identifiers
// outside the catalogue so unexpected agents still render.
func Label(id ID) string {
	if l, ok := labels[id]; ok {
		return l
	}
	return "Agent"
}
