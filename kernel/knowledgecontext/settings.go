package knowledgecontext

// KnowledgeReferenceSettings controls variable-name resolution shared by
// every other settings object (§6).
type KnowledgeReferenceSettings struct {
	ExpandVariables bool
	NeverExit       bool
}

// KnowledgeUpdateSettings governs how a single Set/ApplyRemote call
// behaves, per §4.2's enumerated update settings.
type KnowledgeUpdateSettings struct {
	KnowledgeReferenceSettings

	TreatGlobalsAsLocals bool // suppress dissemination
	TreatLocalsAsGlobals bool // disseminate locals (debug-only)
	SignalChanges        bool // always notify waiters (default true)
	AlwaysOverwrite      bool // skip quality/clock checks
	TrackLocalChanges    bool // append to local_modifications for checkpoint
	ClockIncrement       int64
	StreamChanges        bool // mirror to an attached stream sink

	// Quality is the write_quality stamped on the outgoing update; 0 if unset.
	Quality uint32
}

// DefaultUpdateSettings mirrors the base spec's stated defaults:
// signal_changes=true, clock_increment=1, everything else off.
func DefaultUpdateSettings() KnowledgeUpdateSettings {
	return KnowledgeUpdateSettings{
		SignalChanges:  true,
		ClockIncrement: 1,
	}
}

// EvalSettings extends update settings with expression-evaluation-only
// knobs (§6). The karl Interpreter reads PrePrintStatement and
// PostPrintStatement; neither the Context nor the Interpreter reads
// DelaySendingModifieds or SendList, which are carried for the caller /
// filter-chain layer to consult.
type EvalSettings struct {
	KnowledgeUpdateSettings

	DelaySendingModifieds bool
	PrePrintStatement     string
	PostPrintStatement    string
	SendList              map[string]struct{}
}

// DefaultEvalSettings extends DefaultUpdateSettings.
func DefaultEvalSettings() EvalSettings {
	return EvalSettings{KnowledgeUpdateSettings: DefaultUpdateSettings()}
}

// WaitSettings extends EvalSettings with polling/timeout knobs for
// karl.Interpreter.Wait (§4.5/§5).
type WaitSettings struct {
	EvalSettings

	PollFrequencySeconds float64
	MaxWaitSeconds       float64
}

// DefaultWaitSettings polls every 100ms with no deadline (MaxWaitSeconds
// <= 0 means "wait forever").
func DefaultWaitSettings() WaitSettings {
	return WaitSettings{EvalSettings: DefaultEvalSettings(), PollFrequencySeconds: 0.1}
}
