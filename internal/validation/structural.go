package validation

import (
	"fmt"
	"sort"

	"github.com/rendis/blockflow/pkg/schema"
)

// validateStructure performs the non-graph checks: identity fields, block
// referential integrity, guard integrity, and execution config sanity.
func validateStructure(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	if def.ID == "" {
		result.AddError("id", schema.ErrCodeValidation, "workflow id is empty")
	}
	if def.Name == "" {
		result.AddError("name", schema.ErrCodeValidation, "workflow name is empty")
	}
	if def.StartBlock == "" {
		result.AddError("start_block", schema.ErrCodeValidation, "start block is empty")
	} else if _, ok := def.Blocks[def.StartBlock]; !ok {
		result.AddError("start_block", schema.ErrCodeValidation,
			fmt.Sprintf("start block %q is not defined", def.StartBlock))
	}

	// Iterate blocks in sorted order for deterministic output.
	for _, name := range sortedBlockNames(def.Blocks) {
		block := def.Blocks[name]
		path := fmt.Sprintf("blocks[%s]", name)

		if block.Type == "" {
			result.AddError(path+".type", schema.ErrCodeValidation,
				fmt.Sprintf("block %q has no type", name))
		}
		if block.Provider == "" {
			result.AddWarning(path+".provider", schema.ErrCodeValidation,
				fmt.Sprintf("block %q has no provider hint; factory resolution relies on the type tag alone", name))
		}
		if block.NextOnSuccess != "" {
			if _, ok := def.Blocks[block.NextOnSuccess]; !ok {
				result.AddError(path+".next_on_success", schema.ErrCodeValidation,
					fmt.Sprintf("block %q success transition references non-existent block %q", name, block.NextOnSuccess))
			}
		}
		if block.NextOnFailure != "" {
			if _, ok := def.Blocks[block.NextOnFailure]; !ok {
				result.AddError(path+".next_on_failure", schema.ErrCodeValidation,
					fmt.Sprintf("block %q failure transition references non-existent block %q", name, block.NextOnFailure))
			}
		}
	}

	for i, g := range def.GlobalGuards {
		validateGuard(g, fmt.Sprintf("global_guards[%d]", i), result)
	}

	blockGuardNames := make([]string, 0, len(def.BlockGuards))
	for name := range def.BlockGuards {
		blockGuardNames = append(blockGuardNames, name)
	}
	sort.Strings(blockGuardNames)
	for _, name := range blockGuardNames {
		path := fmt.Sprintf("block_guards[%s]", name)
		if _, ok := def.Blocks[name]; !ok {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("guards defined for non-existent block %q", name))
		}
		for i, g := range def.BlockGuards[name] {
			validateGuard(g, fmt.Sprintf("%s[%d]", path, i), result)
		}
	}

	validateConfig(def.Config, result)

	return result
}

func validateGuard(g schema.GuardDefinition, path string, result *schema.ValidationResult) {
	if g.Type == "" {
		result.AddError(path+".type", schema.ErrCodeValidation, "guard has no type")
	}
}

func validateConfig(cfg schema.ExecutionConfig, result *schema.ValidationResult) {
	if cfg.Timeout.D() <= 0 {
		result.AddError("config.timeout", schema.ErrCodeValidation,
			"workflow timeout must be positive")
	}
	if cfg.MaxConcurrentBlocks < 1 {
		result.AddError("config.max_concurrent_blocks", schema.ErrCodeValidation,
			fmt.Sprintf("max concurrent blocks must be at least 1, got %d", cfg.MaxConcurrentBlocks))
	}
	if cfg.Retry.MaxRetries < 0 {
		result.AddError("config.retry.max_retries", schema.ErrCodeValidation,
			fmt.Sprintf("retry count must not be negative, got %d", cfg.Retry.MaxRetries))
	}
	if cfg.Retry.InitialDelay.D() < 0 {
		result.AddError("config.retry.initial_delay", schema.ErrCodeValidation,
			"initial retry delay must not be negative")
	}
	if cfg.Retry.MaxDelay.D() > 0 && cfg.Retry.MaxDelay.D() < cfg.Retry.InitialDelay.D() {
		result.AddWarning("config.retry.max_delay", schema.ErrCodeValidation,
			fmt.Sprintf("max delay (%s) is below initial delay (%s); delays are capped at max delay",
				cfg.Retry.MaxDelay, cfg.Retry.InitialDelay))
	}
}

func sortedBlockNames(blocks map[string]schema.BlockDefinition) []string {
	names := make([]string, 0, len(blocks))
	for name := range blocks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
