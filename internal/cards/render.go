// ABOUTME: Builtin terminal renderers for the known card types.
// ABOUTME: Pure data-to-string functions styled with lipgloss.

package cards

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const cardWidth = 52

var (
	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("208")).
			Padding(0, 1).
			Width(cardWidth)

	cardTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("208"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	recommendedStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("42"))

	totalStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214"))
)

func str(data map[string]any, key string) string {
	switch v := data[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%g", v)
	case bool:
		if v {
			return "Yes"
		}
		return "No"
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func mapList(data map[string]any, key string) []map[string]any {
	raw, _ := data[key].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, entry := range raw {
		if m, ok := entry.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func strList(data map[string]any, key string) []string {
	raw, _ := data[key].([]any)
	out := make([]string, 0, len(raw))
	for _, entry := range raw {
		if s, ok := entry.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func kvLine(label, value string) string {
	return labelStyle.Render(label+": ") + valueStyle.Render(value)
}

// renderPlanComparison handles both coverage_comparison and plan_comparison:
// the payloads share the plans list shape.
func renderPlanComparison(data map[string]any) string {
	var b strings.Builder
	b.WriteString(cardTitleStyle.Render("Compare Plans"))
	for _, plan := range mapList(data, "plans") {
		b.WriteString("\n\n")
		name := str(plan, "name")
		if rec, _ := plan["recommended"].(bool); rec {
			name += "  " + recommendedStyle.Render("★ Recommended")
		}
		b.WriteString(valueStyle.Bold(true).Render(name))
		if price := str(plan, "price"); price != "" {
			b.WriteString("\n" + labelStyle.Render(price))
		}
		for _, feature := range strList(plan, "features") {
			b.WriteString("\n  • " + feature)
		}
	}
	return cardStyle.Render(b.String())
}

func renderQuoteSummary(data map[string]any) string {
	var b strings.Builder
	b.WriteString(cardTitleStyle.Render("Your Quote"))
	b.WriteString("\n" + kvLine("Plan", str(data, "plan_name")))
	b.WriteString("\n" + kvLine("Coverage", str(data, "coverage_type")))
	if vehicle := str(data, "vehicle"); vehicle != "" {
		b.WriteString("\n" + kvLine("Vehicle", vehicle))
	}
	if breakdown := mapList(data, "breakdown"); len(breakdown) > 0 {
		b.WriteString("\n")
		for _, line := range breakdown {
			b.WriteString("\n" + kvLine(str(line, "item"), str(line, "amount")))
		}
	}
	b.WriteString("\n\n" + totalStyle.Render(str(data, "premium")))
	return cardStyle.Render(b.String())
}

func renderPolicyDocument(data map[string]any) string {
	var b strings.Builder
	b.WriteString(cardTitleStyle.Render("Policy Document"))
	b.WriteString("\n" + kvLine("Policy No.", str(data, "policy_number")))
	b.WriteString("\n" + kvLine("Coverage", str(data, "coverage")))
	b.WriteString("\n" + kvLine("Plan", str(data, "plan")))
	b.WriteString("\n" + kvLine("Premium", str(data, "premium")))
	if start := str(data, "start_date"); start != "" {
		b.WriteString("\n" + kvLine("Period", start+" – "+str(data, "end_date")))
	}
	if holder := str(data, "driver_name"); holder != "" {
		b.WriteString("\n" + kvLine("Policyholder", holder))
	}
	if ref := str(data, "payment_reference"); ref != "" {
		b.WriteString("\n" + kvLine("Payment Ref", ref))
	}
	b.WriteString("\n\n" + labelStyle.Render("Use /doc to download the PDF."))
	return cardStyle.Render(b.String())
}

func renderVehicleSummary(data map[string]any) string {
	inner, _ := data["data"].(map[string]any)
	if inner == nil {
		inner = data
	}
	var b strings.Builder
	b.WriteString(cardTitleStyle.Render("Vehicle Summary"))
	b.WriteString("\n" + kvLine("Type", str(inner, "type")))
	b.WriteString("\n" + kvLine("Make", str(inner, "make")))
	b.WriteString("\n" + kvLine("Model", str(inner, "model")))
	b.WriteString("\n" + kvLine("Engine", str(inner, "engine")))
	if op := str(inner, "off_peak"); op != "" {
		b.WriteString("\n" + kvLine("Off-peak", op))
	}
	return cardStyle.Render(b.String())
}

// renderDataFetch renders the retrieved-record cards (vehicle, identity,
// risk). The payload is an opaque key/value map under "data"; keys are shown
// in stable order so dispatch stays deterministic.
func renderDataFetch(title string) RenderFunc {
	return func(data map[string]any) string {
		inner, _ := data["data"].(map[string]any)
		if inner == nil {
			inner = data
		}
		var b strings.Builder
		b.WriteString(cardTitleStyle.Render(title))
		for _, key := range sortedKeys(inner) {
			b.WriteString("\n" + kvLine(prettifyKey(key), str(inner, key)))
		}
		b.WriteString("\n\n" + recommendedStyle.Render("✓ All data retrieved"))
		return cardStyle.Render(b.String())
	}
}

func prettifyKey(key string) string {
	parts := strings.Split(key, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}

// Addon is one toggleable coverage add-on from an addons card.
type Addon struct {
	ID          string
	Title       string
	Description string
	Price       float64
	Selected    bool
}

// AddonsFromData extracts the add-on list from an addons card payload. The
// UI uses this to drive toggle interactions; toggles notify the engine's
// state-patch path, never the history.
func AddonsFromData(data map[string]any) []Addon {
	entries := mapList(data, "addons")
	out := make([]Addon, 0, len(entries))
	for _, entry := range entries {
		addon := Addon{
			ID:          str(entry, "id"),
			Title:       str(entry, "title"),
			Description: str(entry, "description"),
		}
		if price, ok := entry["price"].(float64); ok {
			addon.Price = price
		}
		if sel, ok := entry["selected"].(bool); ok {
			addon.Selected = sel
		}
		out = append(out, addon)
	}
	return out
}

func renderAddons(data map[string]any) string {
	var b strings.Builder
	b.WriteString(cardTitleStyle.Render("Coverage Add-ons"))
	base := 0.0
	if v, ok := data["current_premium"].(float64); ok {
		base = v
	}
	total := 0.0
	for i, addon := range AddonsFromData(data) {
		marker := "[ ]"
		if addon.Selected {
			marker = recommendedStyle.Render("[x]")
			total += addon.Price
		}
		b.WriteString(fmt.Sprintf("\n%s %d. %s  %s",
			marker, i+1,
			valueStyle.Render(addon.Title),
			totalStyle.Render(fmt.Sprintf("+$%.0f/yr", addon.Price))))
		if addon.Description != "" {
			b.WriteString("\n    " + labelStyle.Render(addon.Description))
		}
	}
	b.WriteString("\n\n" + kvLine("Base Premium", fmt.Sprintf("$%.2f", base)))
	if total > 0 {
		b.WriteString("\n" + kvLine("Add-ons Total", fmt.Sprintf("+$%.2f", total)))
	}
	b.WriteString("\n" + totalStyle.Render(fmt.Sprintf("New Premium $%.2f/yr", base+total)))
	return cardStyle.Render(b.String())
}
