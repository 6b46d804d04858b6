package streamer

import "time"

// Defaults for every tunable of the streaming core. The source constants
// (retry ceiling, expansion cap, cooldown) are deliberately configuration,
// not hard coded policy.
const (
	DefaultPointBudget      = 1_000_000
	DefaultConcurrency      = 4
	DefaultRetryLimit       = 3
	DefaultRetryCooldown    = 5 * time.Second
	DefaultExpandCapPerPass = 10
	DefaultDebounceWindow   = 100 * time.Millisecond
	// Depth tie-break applied to the selection priority. Small enough to
	// never override gross distance ordering.
	DefaultDepthEpsilon = 1e-4
)

// Contains the options needed by the streaming core
type StreamerOptions struct {
	Input            string        // Input ept.json / COPC file path or URL
	PointBudget      int64         // Ceiling on total points resident in the buffers
	Concurrency      int           // Max node decodes in flight
	RetryLimit       int           // Failed attempts before a node is dropped for good
	RetryCooldown    time.Duration // Wait before a failed node is selectable again
	ExpandCapPerPass int           // Max EPT sub catalogs expanded per selection pass
	DebounceWindow   time.Duration // Coalescing window for consumer updates
	DepthEpsilon     float64       // Priority bonus per octree depth level
	EightBitColors   bool          // if true assume the source uses 8bit color depth

	Command string
}

func NewDefaultStreamerOptions() *StreamerOptions {
	return &StreamerOptions{
		PointBudget:      DefaultPointBudget,
		Concurrency:      DefaultConcurrency,
		RetryLimit:       DefaultRetryLimit,
		RetryCooldown:    DefaultRetryCooldown,
		ExpandCapPerPass: DefaultExpandCapPerPass,
		DebounceWindow:   DefaultDebounceWindow,
		DepthEpsilon:     DefaultDepthEpsilon,
	}
}

func (opt *StreamerOptions) Copy() *StreamerOptions {
	newOpt := &StreamerOptions{
		Input:            opt.Input,
		PointBudget:      opt.PointBudget,
		Concurrency:      opt.Concurrency,
		RetryLimit:       opt.RetryLimit,
		RetryCooldown:    opt.RetryCooldown,
		ExpandCapPerPass: opt.ExpandCapPerPass,
		DebounceWindow:   opt.DebounceWindow,
		DepthEpsilon:     opt.DepthEpsilon,
		EightBitColors:   opt.EightBitColors,
		Command:          opt.Command,
	}
	return newOpt
}
