// ABOUTME: Card-type registry: one renderer per known card type.
// ABOUTME: Dispatch preserves order and silently drops unknown types.

package cards

import (
	"fmt"
	"sort"

	"github.com/jiffylabs/quotechat/internal/backend"
)

// Known card types. The catalogue is fixed; exactly one renderer is
// registered per type.
const (
	TypeCoverageComparison = "coverage_comparison"
	TypePlanComparison     = "plan_comparison"
	TypeQuoteSummary       = "quote_summary"
	TypePolicyDocument     = "policy_document"
	TypeVehicleSummary     = "vehicle_summary"
	TypeVehicleFetch       = "lta_fetch"
	TypeVINFetch           = "vin_fetch"
	TypeIdentityFetch      = "singpass_fetch"
	TypeRiskFetch          = "risk_fetch"
	TypeAddons             = "addons"
)

// KnownTypes lists the fixed card catalogue.
var KnownTypes = []string{
	TypeCoverageComparison,
	TypePlanComparison,
	TypeQuoteSummary,
	TypePolicyDocument,
	TypeVehicleSummary,
	TypeVehicleFetch,
	TypeVINFetch,
	TypeIdentityFetch,
	TypeRiskFetch,
	TypeAddons,
}

// RenderFunc renders one card's payload to terminal text. It receives only
// that card's data, never sibling cards or session state.
type RenderFunc func(data map[string]any) string

// Registry maps card types to renderers. It is stateless and side-effect
// free after construction; Dispatch is idempotent.
type Registry struct {
	renderers map[string]RenderFunc
}

// NewRegistry builds the registry with the builtin renderer per known type
// and verifies completeness against the catalogue.
func NewRegistry() (*Registry, error) {
	r := &Registry{renderers: map[string]RenderFunc{
		TypeCoverageComparison: renderPlanComparison,
		TypePlanComparison:     renderPlanComparison,
		TypeQuoteSummary:       renderQuoteSummary,
		TypePolicyDocument:     renderPolicyDocument,
		TypeVehicleSummary:     renderVehicleSummary,
		TypeVehicleFetch:       renderDataFetch("Vehicle Details"),
		TypeVINFetch:           renderDataFetch("Vehicle Details (VIN)"),
		TypeIdentityFetch:      renderDataFetch("Identity Record"),
		TypeRiskFetch:          renderDataFetch("Risk Profile"),
		TypeAddons:             renderAddons,
	}}
	if err := r.verify(); err != nil {
		return nil, err
	}
	return r, nil
}

// verify checks the registry covers the known catalogue exactly once each.
func (r *Registry) verify() error {
	for _, t := range KnownTypes {
		if r.renderers[t] == nil {
			return fmt.Errorf("no renderer registered for card type %q", t)
		}
	}
	for t := range r.renderers {
		if !isKnownType(t) {
			return fmt.Errorf("renderer registered for unknown card type %q", t)
		}
	}
	return nil
}

func isKnownType(t string) bool {
	for _, k := range KnownTypes {
		if k == t {
			return true
		}
	}
	return false
}

// Dispatch renders a card sequence in order. Cards of unknown type are
// omitted from the result, not replaced by placeholders.
func (r *Registry) Dispatch(cardList []backend.Card) []string {
	out := make([]string, 0, len(cardList))
	for _, card := range cardList {
		render, ok := r.renderers[card.Type]
		if !ok {
			continue
		}
		out = append(out, render(card.Data))
	}
	return out
}

// sortedKeys returns map keys in stable order, used by renderers that show
// arbitrary key/value payloads.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
