package quarantine

import "github.com/apiforge/warden/internal/quality"

// RecoveryStrategy is static per-category recovery policy.
type RecoveryStrategy struct {
	Type                 string
	Priority             int
	AutoRecovery         bool
	MaxAttempts          int
	Actions              []string
	EstimatedSuccessRate float64
}

// Recovery action names executed by the fixers.
const (
	actionCloseBrackets    = "close_brackets"
	actionTerminateStrings = "terminate_strings"
	actionNormalizeImports = "normalize_imports"
	actionInsertAssertions = "insert_response_assertions"
	actionAppendErrorTests = "append_error_scenarios"
)

var strategies = map[quality.IssueCategory]RecoveryStrategy{
	quality.CategorySyntaxError: {
		Type:                 "syntax_repair",
		Priority:             1,
		AutoRecovery:         true,
		MaxAttempts:          3,
		Actions:              []string{actionCloseBrackets, actionTerminateStrings, actionNormalizeImports},
		EstimatedSuccessRate: 0.55,
	},
	quality.CategoryImportResolution: {
		Type:                 "import_repair",
		Priority:             2,
		AutoRecovery:         true,
		MaxAttempts:          3,
		Actions:              []string{actionNormalizeImports},
		EstimatedSuccessRate: 0.80,
	},
	quality.CategoryLowAssertDensity: {
		Type:                 "assertion_enrichment",
		Priority:             3,
		AutoRecovery:         true,
		MaxAttempts:          3,
		Actions:              []string{actionInsertAssertions},
		EstimatedSuccessRate: 0.70,
	},
	quality.CategoryCoverageGap: {
		Type:                 "scenario_expansion",
		Priority:             3,
		AutoRecovery:         true,
		MaxAttempts:          3,
		Actions:              []string{actionAppendErrorTests},
		EstimatedSuccessRate: 0.60,
	},
}

// manualReviewStrategy is the fallback for categories without an automated
// recovery path.
var manualReviewStrategy = RecoveryStrategy{
	Type:                 "manual_review",
	Priority:             9,
	AutoRecovery:         false,
	MaxAttempts:          1,
	Actions:              []string{"flag_for_manual_review"},
	EstimatedSuccessRate: 0.30,
}

func StrategyFor(category quality.IssueCategory) RecoveryStrategy {
	if s, ok := strategies[category]; ok {
		return s
	}
	return manualReviewStrategy
}
