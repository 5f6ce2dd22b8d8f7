package secretary

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"strings"
)

// ExecutionStats describes the provider traffic an extraction would cause.
type ExecutionStats struct {
	Mode              string          `json:"mode"`
	PromptCalls       int             `json:"promptCalls"`       // Total number of prompt calls
	ModelCalls        map[string]int  `json:"modelCalls"`        // Number of calls per model
	FieldsExtracted   int             `json:"fieldsExtracted"`   // Reconciliation units covered
	CallDetails       []CallExecution `json:"callDetails"`       // One entry per provider call
	TotalInputTokens  int             `json:"totalInputTokens"`  // Estimated
	TotalOutputTokens int             `json:"totalOutputTokens"` // Estimated
}

// CallExecution is one planned provider call.
type CallExecution struct {
	PromptName   string   `json:"promptName"`
	Model        string   `json:"model"`
	Fields       []string `json:"fields"`
	InputTokens  int      `json:"inputTokens"`
	OutputTokens int      `json:"outputTokens"`
}

// PlanNodeType defines the type of operation a node represents.
type PlanNodeType string

const (
	SchemaAnalysisType PlanNodeType = "SchemaAnalysis"
	PromptCallType     PlanNodeType = "PromptCall"
	MergeFragmentsType PlanNodeType = "MergeFragments"
	ParseObjectType    PlanNodeType = "ParseObject"
	ExtractPayloadType PlanNodeType = "ExtractPayload"
)

// PlanNode represents a node in the execution plan.
// Children and Metadata are exported for extensibility but should not be
// modified after plan generation.
type PlanNode struct {
	Type         PlanNodeType   `json:"type"`
	PromptName   string         `json:"promptName,omitempty"`
	Model        string         `json:"model,omitempty"`
	Fields       []string       `json:"fields,omitempty"`
	InputTokens  int            `json:"inputTokens,omitempty"`
	OutputTokens int            `json:"outputTokens,omitempty"`
	EstCost      float64        `json:"estCost"`           // abstract cost units, children included
	ActCost      *float64       `json:"actCost,omitempty"` // USD when pricing is known
	Children     []*PlanNode    `json:"children,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	// Populated for root nodes
	ExpectedModels     []string       `json:"expectedModels,omitempty"`
	ExpectedCallCounts map[string]int `json:"expectedCallCounts,omitempty"`
}

// ModelPrice represents the pricing for a specific model.
type ModelPrice struct {
	PromptTokCost     float64 // per 1000 input tokens
	CompletionTokCost float64 // per 1000 output tokens
}

// FormatType represents different output formats for the execution plan.
type FormatType string

const (
	FormatText     FormatType = "text"
	FormatJSON     FormatType = "json"
	FormatGraphviz FormatType = "dot"
)

// ParseFormat accepts the names of the FormatType constants.
func ParseFormat(s string) (FormatType, error) {
	switch f := FormatType(strings.ToLower(s)); f {
	case FormatText, FormatJSON, FormatGraphviz:
		return f, nil
	case "":
		return FormatText, nil
	case "graphviz":
		return FormatGraphviz, nil
	}
	return "", fmt.Errorf("unsupported format: %s", s)
}

// defaultPlanModel is reported when the caller named no model.
const defaultPlanModel = "gpt-4o-mini"

// forceReasoningFactor scales the expected output of force mode, where the
// model reasons in free text before the JSON object.
const forceReasoningFactor = 4

// PlanBuilder constructs execution plans from compiled prompts. It never
// calls a provider. Not safe for concurrent use.
type PlanBuilder struct {
	task     *Task
	mode     Mode
	model    string
	document string
	counter  TokenCounter
	compiler *Compiler
}

// NewPlanBuilder plans extractions of task.
func NewPlanBuilder(task *Task) *PlanBuilder {
	return &PlanBuilder{task: task, model: defaultPlanModel}
}

func (pb *PlanBuilder) WithMode(m Mode) *PlanBuilder {
	pb.mode = m
	return pb
}

func (pb *PlanBuilder) WithModel(model string) *PlanBuilder {
	if model != "" {
		pb.model = model
	}
	return pb
}

// WithSampleDocument sets the input used for token estimates.
func (pb *PlanBuilder) WithSampleDocument(doc string) *PlanBuilder {
	pb.document = doc
	return pb
}

// WithTokenCounter replaces the tiktoken counter.
func (pb *PlanBuilder) WithTokenCounter(c TokenCounter) *PlanBuilder {
	pb.counter = c
	return pb
}

func (pb *PlanBuilder) WithCompiler(c *Compiler) *PlanBuilder {
	pb.compiler = c
	return pb
}

func (pb *PlanBuilder) tokens() TokenCounter {
	if pb.counter == nil {
		pb.counter = NewTiktokenCounter(pb.model)
	}
	return pb.counter
}

// Stats compiles every prompt the mode would send and estimates its tokens.
func (pb *PlanBuilder) Stats() (*ExecutionStats, error) {
	if err := pb.task.ready(); err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	s := pb.task.schema
	c := pb.task.compilerOr(pb.compiler)
	input, err := c.RenderInput(pb.task.History(), pb.document)
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}
	tc := pb.tokens()
	inputTokens := tc.CountTokens(input)

	stats := &ExecutionStats{
		Mode:            pb.mode.String(),
		ModelCalls:      map[string]int{},
		FieldsExtracted: len(s.units),
	}
	add := func(call CallExecution) {
		stats.CallDetails = append(stats.CallDetails, call)
		stats.PromptCalls++
		stats.ModelCalls[call.Model]++
		stats.TotalInputTokens += call.InputTokens
		stats.TotalOutputTokens += call.OutputTokens
	}

	switch pb.mode {
	case ModeFields:
		prompts, err := c.CompileFields(s, pb.task.instructions)
		if err != nil {
			return nil, fmt.Errorf("plan: %w", err)
		}
		for _, fp := range prompts {
			var example strings.Builder
			example.WriteString("<result>")
			example.WriteString(exampleOf(fp.Type))
			example.WriteString("</result>")
			add(CallExecution{
				PromptName:   fp.Path,
				Model:        pb.model,
				Fields:       []string{fp.Path},
				InputTokens:  tc.CountTokens(fp.Prompt) + inputTokens,
				OutputTokens: tc.CountTokens(example.String()),
			})
		}
	case ModeSingle, ModeForce:
		compile, out := c.Compile, 1
		if pb.mode == ModeForce {
			compile, out = c.CompileForce, forceReasoningFactor
		}
		prompt, err := compile(s, pb.task.instructions)
		if err != nil {
			return nil, fmt.Errorf("plan: %w", err)
		}
		structure, err := ExampleJSON(s)
		if err != nil {
			return nil, fmt.Errorf("plan: %w", err)
		}
		add(CallExecution{
			PromptName:   s.Name(),
			Model:        pb.model,
			Fields:       s.Paths(),
			InputTokens:  tc.CountTokens(prompt) + inputTokens,
			OutputTokens: tc.CountTokens(structure) * out,
		})
	default:
		return nil, fmt.Errorf("plan: unknown mode %s", pb.mode)
	}
	return stats, nil
}

func exampleOf(t TypeTag) string {
	var buf bytes.Buffer
	writeExample(&buf, t)
	return buf.String()
}

// Explain builds the plan with abstract cost estimates.
func (pb *PlanBuilder) Explain() (*PlanNode, error) {
	return pb.build(nil)
}

// ExplainWithCosts also prices every prompt call in USD.
func (pb *PlanBuilder) ExplainWithCosts(pricing map[string]ModelPrice) (*PlanNode, error) {
	if pricing == nil {
		return nil, fmt.Errorf("pricing information is required for cost calculations")
	}
	return pb.build(pricing)
}

// ExplainPretty returns the formatted plan.
func (pb *PlanBuilder) ExplainPretty(format FormatType) (string, error) {
	plan, err := pb.Explain()
	if err != nil {
		return "", err
	}
	return FormatPlan(plan, format)
}

// ExplainPrettyWithCosts returns the formatted plan with USD costs.
func (pb *PlanBuilder) ExplainPrettyWithCosts(format FormatType, pricing map[string]ModelPrice) (string, error) {
	plan, err := pb.ExplainWithCosts(pricing)
	if err != nil {
		return "", err
	}
	return FormatPlan(plan, format)
}

func (pb *PlanBuilder) build(pricing map[string]ModelPrice) (*PlanNode, error) {
	stats, err := pb.Stats()
	if err != nil {
		return nil, err
	}
	s := pb.task.schema
	root := &PlanNode{
		Type:        SchemaAnalysisType,
		PromptName:  s.Name(),
		Fields:      s.Paths(),
		InputTokens: len(s.units) * 5,
		Metadata:    map[string]any{"mode": stats.Mode},
	}
	for _, call := range stats.CallDetails {
		root.Children = append(root.Children, &PlanNode{
			Type:         PromptCallType,
			PromptName:   call.PromptName,
			Model:        call.Model,
			Fields:       call.Fields,
			InputTokens:  call.InputTokens,
			OutputTokens: call.OutputTokens,
		})
	}

	final := &PlanNode{Type: ParseObjectType, Fields: s.Paths()}
	switch pb.mode {
	case ModeFields:
		final.Type = MergeFragmentsType
	case ModeForce:
		final = &PlanNode{
			Type:     ExtractPayloadType,
			Fields:   s.Paths(),
			Children: []*PlanNode{final},
		}
	}
	root.Children = append(root.Children, final)

	calculateCosts(root, pricing)
	root.ExpectedModels = sortedKeys(stats.ModelCalls)
	root.ExpectedCallCounts = stats.ModelCalls
	return root, nil
}

// calculateCosts fills EstCost bottom-up and ActCost where priced.
func calculateCosts(node *PlanNode, pricing map[string]ModelPrice) {
	childrenCost := 0.0
	for _, child := range node.Children {
		calculateCosts(child, pricing)
		childrenCost += child.EstCost
	}
	node.EstCost = nodeCost(node) + childrenCost
	if pricing == nil {
		return
	}
	if c := actualCost(node, pricing); c > 0 {
		node.ActCost = &c
	}
}

func nodeCost(node *PlanNode) float64 {
	switch node.Type {
	case SchemaAnalysisType:
		return 1.0 + float64(len(node.Fields))*0.5
	case PromptCallType:
		return 3.0 + float64(node.InputTokens)*0.01
	case MergeFragmentsType, ParseObjectType:
		return 0.5 + float64(len(node.Fields))*0.1
	case ExtractPayloadType:
		return 1.5
	default:
		return 1.0
	}
}

func actualCost(node *PlanNode, pricing map[string]ModelPrice) float64 {
	if node.Type != PromptCallType || node.Model == "" {
		return 0
	}
	price, ok := pricing[node.Model]
	if !ok {
		return 0
	}
	return float64(node.InputTokens)*price.PromptTokCost/1000.0 +
		float64(node.OutputTokens)*price.CompletionTokCost/1000.0
}

// TotalCost sums ActCost over the prompt calls of a priced plan.
func (n *PlanNode) TotalCost() float64 {
	total := 0.0
	if n.Type == PromptCallType && n.ActCost != nil {
		total += *n.ActCost
	}
	for _, c := range n.Children {
		total += c.TotalCost()
	}
	return total
}

// FormatPlan formats a plan according to the specified format.
func FormatPlan(plan *PlanNode, format FormatType) (string, error) {
	switch format {
	case FormatText:
		return formatAsText(plan), nil
	case FormatJSON:
		return formatAsJSON(plan)
	case FormatGraphviz:
		return formatAsGraphviz(plan), nil
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// DryRun reports the calls mode would make for input without contacting the
// provider.
func (x *Extractor[T]) DryRun(ctx context.Context, mode Mode, task *Task, input string, optFns ...func(*Options)) (*ExecutionStats, error) {
	pb, err := x.planBuilder(ctx, mode, task, input, optFns)
	if err != nil {
		return nil, err
	}
	stats, err := pb.Stats()
	if err != nil {
		return nil, err
	}
	x.log.Debug("Dry run completed",
		"mode", stats.Mode,
		"prompt_calls", stats.PromptCalls,
		"input_tokens", stats.TotalInputTokens,
		"output_tokens", stats.TotalOutputTokens)
	return stats, nil
}

// Explain returns the execution plan of mode for input. Pricing is optional.
func (x *Extractor[T]) Explain(ctx context.Context, mode Mode, task *Task, input string, pricing map[string]ModelPrice, optFns ...func(*Options)) (*PlanNode, error) {
	pb, err := x.planBuilder(ctx, mode, task, input, optFns)
	if err != nil {
		return nil, err
	}
	if pricing != nil {
		return pb.ExplainWithCosts(pricing)
	}
	return pb.Explain()
}

func (x *Extractor[T]) planBuilder(ctx context.Context, mode Mode, task *Task, input string, optFns []func(*Options)) (*PlanBuilder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap, opts, err := x.prepare("plan", task, input, optFns)
	if err != nil {
		return nil, err
	}
	pb := NewPlanBuilder(task).
		WithMode(mode).
		WithModel(opts.Model).
		WithSampleDocument(input).
		WithCompiler(snap.compiler)
	if opts.Tokens != nil {
		pb.WithTokenCounter(opts.Tokens)
	}
	return pb, nil
}

// DefaultModelPricing returns input/output token costs (USD per 1K tokens).
func DefaultModelPricing() map[string]ModelPrice {
	return map[string]ModelPrice{
		// OpenAI
		"gpt-4o":        {PromptTokCost: 0.0050, CompletionTokCost: 0.0200},
		"gpt-4o-mini":   {PromptTokCost: 0.0006, CompletionTokCost: 0.0024},
		"gpt-4.1":       {PromptTokCost: 0.0020, CompletionTokCost: 0.0080},
		"gpt-4.1-mini":  {PromptTokCost: 0.0004, CompletionTokCost: 0.0016},
		"gpt-4.1-nano":  {PromptTokCost: 0.0001, CompletionTokCost: 0.0004},
		"gpt-3.5-turbo": {PromptTokCost: 0.0005, CompletionTokCost: 0.0015},
		"o3-mini":       {PromptTokCost: 0.0011, CompletionTokCost: 0.0044},

		// Google Gemini
		"gemini-2.5-pro":   {PromptTokCost: 0.00125, CompletionTokCost: 0.0100},
		"gemini-2.5-flash": {PromptTokCost: 0.00030, CompletionTokCost: 0.0025},
		"gemini-2.0-flash": {PromptTokCost: 0.00015, CompletionTokCost: 0.0006},

		// DeepSeek reasoning models, usually run in force mode
		"deepseek-reasoner": {PromptTokCost: 0.00055, CompletionTokCost: 0.00219},
	}
}

// modelsInPlan lists models of every prompt call below n, sorted and unique.
func modelsInPlan(n *PlanNode) []string {
	var models []string
	var walk func(*PlanNode)
	walk = func(n *PlanNode) {
		if n.Type == PromptCallType && n.Model != "" && !slices.Contains(models, n.Model) {
			models = append(models, n.Model)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(n)
	slices.Sort(models)
	return models
}
