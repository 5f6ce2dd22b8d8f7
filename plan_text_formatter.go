package secretary

import (
	"fmt"
	"strings"
)

// formatAsText formats the plan as an ASCII tree.
func formatAsText(plan *PlanNode) string {
	var sb strings.Builder
	mode, _ := plan.Metadata["mode"].(string)
	fmt.Fprintf(&sb, "Extraction Plan mode=%s models=%v (estimated costs)\n", mode, modelsInPlan(plan))
	formatNodeAsText(plan, "", true, &sb)
	if total := plan.TotalCost(); total > 0 {
		fmt.Fprintf(&sb, "Total: $%.6f\n", total)
	}
	return sb.String()
}

func formatNodeAsText(node *PlanNode, prefix string, isLast bool, sb *strings.Builder) {
	connector := "├─ "
	if isLast {
		connector = "└─ "
	}
	if prefix == "" {
		connector = ""
	}
	fmt.Fprintf(sb, "%s%s%s\n", prefix, connector, formatNodeInfo(node))

	childPrefix := prefix
	switch {
	case prefix == "":
		childPrefix = "  "
	case isLast:
		childPrefix += "   "
	default:
		childPrefix += "│  "
	}
	for i, child := range node.Children {
		formatNodeAsText(child, childPrefix, i == len(node.Children)-1, sb)
	}
}

func formatNodeInfo(node *PlanNode) string {
	parts := []string{string(node.Type)}
	if node.PromptName != "" {
		parts = append(parts, fmt.Sprintf("%q", node.PromptName))
	}

	var details []string
	if node.Model != "" {
		details = append(details, "model="+node.Model)
	}
	details = append(details, fmt.Sprintf("cost=%.1f", node.EstCost))
	switch {
	case node.OutputTokens > 0:
		details = append(details, fmt.Sprintf("tokens(in=%d,out=%d)", node.InputTokens, node.OutputTokens))
	case node.InputTokens > 0:
		details = append(details, fmt.Sprintf("tokens(in=%d)", node.InputTokens))
	}
	switch len(node.Fields) {
	case 0:
	case 1:
		details = append(details, "field="+node.Fields[0])
	default:
		details = append(details, fmt.Sprintf("fields=%v", node.Fields))
	}
	if node.ActCost != nil {
		details = append(details, fmt.Sprintf("$%.6f", *node.ActCost))
	}
	return strings.Join(parts, " ") + " (" + strings.Join(details, ", ") + ")"
}
