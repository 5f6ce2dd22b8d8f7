package secretary

import (
	"fmt"
	"strings"
)

var dotEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// formatAsGraphviz formats the plan as Graphviz DOT.
func formatAsGraphviz(plan *PlanNode) string {
	var sb strings.Builder
	sb.WriteString("digraph ExtractionPlan {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n")

	ids := make(map[*PlanNode]string)
	counter := 0
	writeDotNodes(plan, &counter, ids, &sb)
	writeDotEdges(plan, ids, &sb)

	sb.WriteString("}\n")
	return sb.String()
}

func writeDotNodes(node *PlanNode, counter *int, ids map[*PlanNode]string, sb *strings.Builder) {
	id := fmt.Sprintf("node%d", *counter)
	*counter++
	ids[node] = id
	fmt.Fprintf(sb, "  %s [label=\"%s\"];\n", id, dotLabel(node))
	for _, child := range node.Children {
		writeDotNodes(child, counter, ids, sb)
	}
}

func writeDotEdges(node *PlanNode, ids map[*PlanNode]string, sb *strings.Builder) {
	for _, child := range node.Children {
		fmt.Fprintf(sb, "  %s -> %s;\n", ids[node], ids[child])
		writeDotEdges(child, ids, sb)
	}
}

func dotLabel(node *PlanNode) string {
	parts := []string{string(node.Type)}
	if node.PromptName != "" {
		parts[0] += ": " + dotEscaper.Replace(node.PromptName)
	}
	if node.Model != "" {
		parts = append(parts, "model: "+dotEscaper.Replace(node.Model))
	}
	parts = append(parts, fmt.Sprintf("cost=%.1f", node.EstCost))
	switch n := len(node.Fields); {
	case n > 0 && n <= 2:
		escaped := make([]string, n)
		for i, f := range node.Fields {
			escaped[i] = dotEscaper.Replace(f)
		}
		parts = append(parts, "fields: "+strings.Join(escaped, ", "))
	case n > 2:
		parts = append(parts, fmt.Sprintf("fields: %d", n))
	}
	return strings.Join(parts, `\n`)
}
