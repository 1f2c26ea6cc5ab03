package schema

// GuardSeverity ranks how serious a failing guard is. Critical and Error
// failures block execution; Warning failures are diagnostic only.
type GuardSeverity string

const (
	SeverityCritical GuardSeverity = "critical"
	SeverityErr      GuardSeverity = "error"
	SeverityWarn     GuardSeverity = "warning"
)

// Rank returns the severity ordering: Critical > Error > Warning.
func (s GuardSeverity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityErr:
		return 2
	case SeverityWarn:
		return 1
	default:
		return 0
	}
}

// Blocking reports whether a failure at this severity blocks execution.
func (s GuardSeverity) Blocking() bool {
	return s == SeverityCritical || s == SeverityErr
}

// GuardPhase distinguishes pre-execution from post-execution guards.
// A guard that should run in both phases needs two definitions.
type GuardPhase string

const (
	PhasePre  GuardPhase = "pre"
	PhasePost GuardPhase = "post"
)

// GuardDefinition describes a single policy check attached globally or to a
// specific block. The Type tag is resolved to a registered check at
// evaluation time.
type GuardDefinition struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Config   map[string]any `json:"config,omitempty"`
	Severity GuardSeverity  `json:"severity"`
	Category string         `json:"category,omitempty"`

	// FailureBlock overrides the normal failure routing when this guard
	// fails and blocks execution.
	FailureBlock string `json:"failure_block,omitempty"`

	Phase GuardPhase `json:"phase"`
}

// GuardResult is the outcome of evaluating one guard.
type GuardResult struct {
	GuardID      string        `json:"guard_id"`
	Type         string        `json:"type"`
	Severity     GuardSeverity `json:"severity"`
	Passed       bool          `json:"passed"`
	Message      string        `json:"message,omitempty"`
	FailureBlock string        `json:"failure_block,omitempty"`
}

// GuardSummary aggregates one evaluation pass over an ordered guard list.
// MostSevereFailure is the first failing guard at the highest severity level
// present among the failures.
type GuardSummary struct {
	Total      int                   `json:"total"`
	Passed     int                   `json:"passed"`
	Failed     int                   `json:"failed"`
	BySeverity map[GuardSeverity]int `json:"by_severity,omitempty"`

	Results           []GuardResult `json:"results,omitempty"`
	MostSevereFailure *GuardResult  `json:"most_severe_failure,omitempty"`
}

// Add folds one result into the summary, keeping MostSevereFailure pinned
// to the first failure seen at the highest severity.
func (s *GuardSummary) Add(r GuardResult) {
	s.Total++
	s.Results = append(s.Results, r)
	if r.Passed {
		s.Passed++
		return
	}
	s.Failed++
	if s.BySeverity == nil {
		s.BySeverity = make(map[GuardSeverity]int)
	}
	s.BySeverity[r.Severity]++
	if s.MostSevereFailure == nil || r.Severity.Rank() > s.MostSevereFailure.Severity.Rank() {
		failure := r
		s.MostSevereFailure = &failure
	}
}

// AllPassed reports whether no guard failed.
func (s *GuardSummary) AllPassed() bool {
	return s.Failed == 0
}

// ShouldBlockExecution reports whether any Critical or Error severity guard
// failed. Warning failures never block.
func (s *GuardSummary) ShouldBlockExecution() bool {
	return s.MostSevereFailure != nil && s.MostSevereFailure.Severity.Blocking()
}
