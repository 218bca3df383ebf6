package mode

// Outcome is what happened while trying to produce template text for one model.
type Outcome int

const (
	// NoMessages means message parsing failed for the whole run.
	NoMessages Outcome = iota
	// NoTemplate means the model has no chat template.
	NoTemplate
	// RenderFailed means the template exists but could not be rendered.
	RenderFailed
	// Rendered means the template rendered successfully.
	Rendered
)

// Warning identifies which warning, if any, the caller should print.
type Warning int

const (
	WarnNone Warning = iota
	// WarnNoTemplateFallback: "<model> has no chat template, falling back to raw".
	WarnNoTemplateFallback
	// WarnNoTemplate: "<model> has no chat template".
	WarnNoTemplate
	// WarnRenderFailed: "<model> template failed to render: <err>".
	WarnRenderFailed
)

// Plan is the set of rows a model contributes.
type Plan struct {
	Raw      bool
	Template bool
	Warn     Warning
}

type key struct {
	mode    Mode
	outcome Outcome
}

var table = map[key]Plan{
	{Template, NoMessages}:   {Raw: true},
	{Template, NoTemplate}:   {Raw: true, Warn: WarnNoTemplateFallback},
	{Template, RenderFailed}: {Raw: true, Warn: WarnRenderFailed},
	{Template, Rendered}:     {Template: true},

	{Either, NoMessages}:   {Raw: true},
	{Either, NoTemplate}:   {Raw: true},
	{Either, RenderFailed}: {Raw: true},
	{Either, Rendered}:     {Template: true},

	{Both, NoMessages}:   {Raw: true},
	{Both, NoTemplate}:   {Raw: true, Warn: WarnNoTemplate},
	{Both, RenderFailed}: {Raw: true, Warn: WarnRenderFailed},
	{Both, Rendered}:     {Raw: true, Template: true},

	{BothAuto, NoMessages}:   {Raw: true},
	{BothAuto, NoTemplate}:   {Raw: true},
	{BothAuto, RenderFailed}: {Raw: true},
	{BothAuto, Rendered}:     {Raw: true, Template: true},
}

// Decide maps a mode and a template outcome to the rows to emit.
// Raw mode always emits a single raw row regardless of outcome.
func Decide(m Mode, outcome Outcome) Plan {
	if m == Raw {
		return Plan{Raw: true}
	}
	if plan, ok := table[key{m, outcome}]; ok {
		return plan
	}
	return Plan{Raw: true}
}

// Effective returns the mode actually used for a run. A message parse
// failure downgrades every template-using mode to Raw.
func Effective(m Mode, messagesAvailable bool) Mode {
	if m.NeedsMessages() && !messagesAvailable {
		return Raw
	}
	return m
}
