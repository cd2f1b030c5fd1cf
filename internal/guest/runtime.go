package guest

// RuntimeContext is the read-only mapping injected into the guest before
// sandbox execution (spec §3 "Runtime context (per suite)").
type RuntimeContext struct {
	Bail         bool
	Filter       []string
	TimeoutMs    int64
	Randomize    bool
	Seed         int64
	SuiteID      string
	RunnerID     string
	RelativePath string
}
