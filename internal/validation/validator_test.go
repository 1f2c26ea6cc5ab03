package validation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/blockflow/pkg/schema"
)

// validDef returns a minimal three-block workflow that passes validation.
func validDef() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		ID:         "wf-1",
		Name:       "orders",
		StartBlock: "fetch",
		Blocks: map[string]schema.BlockDefinition{
			"fetch": {
				Name:          "fetch",
				Type:          "http.request",
				Provider:      "core",
				NextOnSuccess: "transform",
				NextOnFailure: "report",
			},
			"transform": {
				Name:     "transform",
				Type:     "transform.jq",
				Provider: "core",
			},
			"report": {
				Name:     "report",
				Type:     "log",
				Provider: "core",
			},
		},
		Config: schema.ExecutionConfig{
			Timeout:             schema.Duration(time.Minute),
			MaxConcurrentBlocks: 2,
		},
	}
}

func issuePaths(issues []schema.ValidationIssue) []string {
	paths := make([]string, len(issues))
	for i, iss := range issues {
		paths[i] = iss.Path
	}
	return paths
}

// --- Happy path ---

func TestValidate_ValidDefinition(t *testing.T) {
	result := Validate(validDef())
	assert.True(t, result.Valid())
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestValidate_NilDefinition(t *testing.T) {
	result := Validate(nil)
	assert.False(t, result.Valid())
}

// --- Identity fields ---

func TestValidate_MissingIdentityFields(t *testing.T) {
	def := validDef()
	def.ID = ""
	def.Name = ""
	def.StartBlock = ""

	result := Validate(def)
	require.False(t, result.Valid())
	paths := issuePaths(result.Errors)
	assert.Contains(t, paths, "id")
	assert.Contains(t, paths, "name")
	assert.Contains(t, paths, "start_block")
}

func TestValidate_StartBlockNotDefined(t *testing.T) {
	def := validDef()
	def.StartBlock = "ghost"

	result := Validate(def)
	require.False(t, result.Valid())
	assert.Contains(t, issuePaths(result.Errors), "start_block")
}

// --- Referential integrity ---

func TestValidate_DanglingTransitions(t *testing.T) {
	def := validDef()
	b := def.Blocks["transform"]
	b.NextOnSuccess = "nowhere"
	b.NextOnFailure = "elsewhere"
	def.Blocks["transform"] = b

	result := Validate(def)
	require.False(t, result.Valid())
	paths := issuePaths(result.Errors)
	assert.Contains(t, paths, "blocks[transform].next_on_success")
	assert.Contains(t, paths, "blocks[transform].next_on_failure")
}

func TestValidate_BlockMissingType(t *testing.T) {
	def := validDef()
	b := def.Blocks["report"]
	b.Type = ""
	def.Blocks["report"] = b

	result := Validate(def)
	require.False(t, result.Valid())
	assert.Contains(t, issuePaths(result.Errors), "blocks[report].type")
}

func TestValidate_MissingProviderIsWarning(t *testing.T) {
	def := validDef()
	b := def.Blocks["report"]
	b.Provider = ""
	def.Blocks["report"] = b

	result := Validate(def)
	assert.True(t, result.Valid(), "provider is a hint, not a requirement")
	assert.Contains(t, issuePaths(result.Warnings), "blocks[report].provider")
}

// --- Guards ---

func TestValidate_GuardWithoutType(t *testing.T) {
	def := validDef()
	def.GlobalGuards = []schema.GuardDefinition{{ID: "g1"}}

	result := Validate(def)
	require.False(t, result.Valid())
	assert.Contains(t, issuePaths(result.Errors), "global_guards[0].type")
}

func TestValidate_GuardsForUnknownBlock(t *testing.T) {
	def := validDef()
	def.BlockGuards = map[string][]schema.GuardDefinition{
		"ghost": {{Type: "cel"}},
	}

	result := Validate(def)
	require.False(t, result.Valid())
	assert.Contains(t, issuePaths(result.Errors), "block_guards[ghost]")
}

// --- Execution config ---

func TestValidate_ConfigSanity(t *testing.T) {
	def := validDef()
	def.Config.Timeout = 0
	def.Config.MaxConcurrentBlocks = 0
	def.Config.Retry.MaxRetries = -1

	result := Validate(def)
	require.False(t, result.Valid())
	paths := issuePaths(result.Errors)
	assert.Contains(t, paths, "config.timeout")
	assert.Contains(t, paths, "config.max_concurrent_blocks")
	assert.Contains(t, paths, "config.retry.max_retries")
}

func TestValidate_MaxDelayBelowInitialDelayWarns(t *testing.T) {
	def := validDef()
	def.Config.Retry.InitialDelay = schema.Duration(10 * time.Second)
	def.Config.Retry.MaxDelay = schema.Duration(time.Second)

	result := Validate(def)
	assert.True(t, result.Valid())
	assert.Contains(t, issuePaths(result.Warnings), "config.retry.max_delay")
}

// --- Ordering gate ---

// Cycle detection must not run while the graph has dangling references;
// only structural errors should be reported.
func TestValidate_CyclesSkippedOnBrokenStructure(t *testing.T) {
	def := validDef()
	b := def.Blocks["transform"]
	b.NextOnSuccess = "fetch" // would be a cycle
	def.Blocks["transform"] = b
	def.ID = "" // structural error

	result := Validate(def)
	require.False(t, result.Valid())
	for _, iss := range result.Errors {
		assert.NotEqual(t, schema.ErrCodeCycleDetected, iss.Code)
	}
}
