package site

// Static is a fully configurable Capability, used in tests and for
// one-off sites whose selectors are supplied via configuration rather
// than code.
type Static struct {
	Service          string
	Entry            string
	Input            string
	ModeToggle       string
	NewThread        string
	CompletionSignal string
	Extract          string
}

func (s Static) ServiceType() string            { return s.Service }
func (s Static) EntryURL() string               { return s.Entry }
func (s Static) LocateInput() string            { return s.Input }
func (s Static) LocateModeToggle() string       { return s.ModeToggle }
func (s Static) LocateNewThread() string        { return s.NewThread }
func (s Static) LocateCompletionSignal() string { return s.CompletionSignal }
func (s Static) ExtractResult() string          { return s.Extract }
