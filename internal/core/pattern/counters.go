package pattern

// Counters tracks the lifecycle trigger events. All values are
// non-negative and monotonically increasing except across explicit resets.
type Counters struct {
	Feedbacks     int64 `json:"feedbacks" yaml:"feedbacks"`
	Submissions   int64 `json:"submissions" yaml:"submissions"`
	Registrations int64 `json:"registrations" yaml:"registrations"`
	Heals         int64 `json:"heals" yaml:"heals"`
	Rejections    int64 `json:"rejections" yaml:"rejections"`
	Cycles        int64 `json:"cycles" yaml:"cycles"`
}

// DebugPattern is error→fix memory: a remembered fix for a class of error.
// It obeys the same store invariants as Pattern but carries its own fields.
type DebugPattern struct {
	ID            string   `json:"id" yaml:"id"`
	ErrorClass    string   `json:"error_class" yaml:"error_class"`
	ErrorCategory string   `json:"error_category" yaml:"error_category"`
	FixCode       string   `json:"fix_code" yaml:"fix_code"`
	Language      Language `json:"language" yaml:"language"`
	TimesApplied  int      `json:"times_applied" yaml:"times_applied"`
	TimesResolved int      `json:"times_resolved" yaml:"times_resolved"`
	Confidence    float64  `json:"confidence" yaml:"confidence"`
}

// ResolveRate returns resolutions over applications, 0 when never applied.
func (d *DebugPattern) ResolveRate() float64 {
	if d.TimesApplied == 0 {
		return 0
	}
	return float64(d.TimesResolved) / float64(d.TimesApplied)
}
