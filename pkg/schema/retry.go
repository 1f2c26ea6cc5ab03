package schema

// BackoffStrategy names the delay computation applied between retry attempts.
type BackoffStrategy string

const (
	BackoffImmediate   BackoffStrategy = "immediate"
	BackoffFixed       BackoffStrategy = "fixed"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryPolicy configures failure-retry behavior. The zero value means no
// retries. MaxDelay caps the computed delay; Multiplier applies to the
// exponential strategy only (default 2 when unset).
type RetryPolicy struct {
	MaxRetries   int             `json:"max_retries"`
	InitialDelay Duration        `json:"initial_delay,omitempty"`
	MaxDelay     Duration        `json:"max_delay,omitempty"`
	Strategy     BackoffStrategy `json:"strategy,omitempty"`
	Multiplier   float64         `json:"multiplier,omitempty"`
}
