package signal

// LLMModel and LLMProvider name the one documented Signal Engine
// provider/model pair.
const (
	LLMModel    = "gemini-2.5-flash"
	LLMProvider = "google"
)

// systemPromptTemplate seeds the step-1 system instruction with the
// trace's compressed structure. {{fullTraceData}} is substituted with
// traceStructureString's output.
const systemPromptTemplate = `You are evaluating a single trace from an LLM application to determine whether it matches a condition a developer has described.

You will be given a compressed view of the trace: a skeleton listing every span by name, short id, parent id, and type, followed by detailed input/output for every LLM and tool span.

If the detail shown is insufficient to decide, call get_full_span_info with the 1-based positions (as integers) in the skeleton listing of the spans you need more detail on. You may call it at most a few times across the whole evaluation.

When you have enough information, call submit_identification exactly once with your conclusion. Set identified to true only if the condition is clearly present in this trace. When identified is true and the condition refers to a specific span, you may reference it inline as [span:N], N being its 1-based position in the skeleton listing.

Trace:
{{fullTraceData}}`

// identificationPromptTemplate carries the developer's own condition
// description into the user turn.
const identificationPromptTemplate = `Condition to evaluate: {{developer_prompt}}`
