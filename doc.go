// Package secretary turns free-form text into typed Go values by asking an
// LLM for JSON shaped like a declared schema and reconciling whatever comes
// back.
//
// # Problem Statement
//
// Models asked for JSON rarely return exactly what was asked for. They wrap
// it in code fences, reason aloud before answering, send "42" where 42 was
// wanted, or get one field wrong out of twenty. Parsing that by hand for every
// struct is brittle. secretary provides:
//
//   - Schema derivation: a Go struct with `task` tags describes the output
//   - Prompt compilation: deterministic prompts rendered from Twig templates
//   - Reconciliation: per-field coercion, JSON repair and partial results
//   - Three generation modes: single-shot, distributed and force
//
// # Basic Usage
//
//	type Person struct {
//	    Name string `json:"name" task:"instruction=Full name of the person"`
//	    Age  int    `json:"age" task:"Age in years"`
//	}
//
//	task, err := secretary.NewTask[Person]("Use null when unsure")
//	p := secretary.NewOpenAIProvider(os.Getenv("OPENAI_API_KEY"), "gpt-4o-mini")
//	person, err := secretary.New[Person](p).Generate(ctx, task, "Jane Doe turned 29 last week.")
//
// # Generation Modes
//
// Generate sends one whole-schema prompt and parses the reply as a JSON
// object. GenerateFields sends one prompt per field concurrently; a field whose
// call fails is reported without affecting the others. ForceGenerate is for
// reasoning models without a JSON response format: the model may think out
// loud and the last JSON object in its answer is used.
//
// Each mode has an async variant returning a *Future:
//
//	f := x.GenerateFieldsAsync(ctx, task, input, secretary.WithConcurrency(4))
//	person, err := f.Await(ctx)
//
// # Partial Results
//
// When some fields cannot be reconciled the error is a
// *FieldDeserializationError. Its failed and successful field sets partition
// the schema, and DecodePartial builds a value from the fields that worked:
//
//	var fe *secretary.FieldDeserializationError
//	if errors.As(err, &fe) {
//	    partial, _ := secretary.DecodePartial[Person](fe)
//	    log.Printf("failed: %v", fe.FailedFields())
//	}
//
// # Conversation History
//
// Task.Push appends messages. Providers implementing ChatProvider receive
// them as separate turns; others get them folded into the input text.
//
// A ContextualTask instead lets the model collect the fields from the user
// over several turns. Converse sends one user message and reports what is
// still missing:
//
//	task, _ := secretary.NewContextualTask[Trip]()
//	turn, err := x.Converse(ctx, task, "A week in Lisbon")
//	if !turn.Complete() {
//	    fmt.Println(turn.Question())
//	}
//
// # Execution Plans
//
// DryRun and Explain compile the prompts of a mode and estimate tokens and
// cost without calling the provider:
//
//	plan, _ := x.Explain(ctx, secretary.ModeFields, task, input, secretary.DefaultModelPricing())
//	out, _ := secretary.FormatPlan(plan, secretary.FormatText)
//
// # Providers
//
// OpenAIProvider covers OpenAI and compatible servers, NewAzureProvider
// targets Azure OpenAI deployments and GeminiProvider uses the Google GenAI
// SDK. CachedProvider and Metrics.Instrument wrap any provider.
package secretary
