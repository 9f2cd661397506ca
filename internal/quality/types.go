package quality

import (
	"time"

	"github.com/apiforge/warden/internal/model"
)

// IssueCategory tags a validation finding. Categories double as keys into the
// quarantine recovery-strategy table.
type IssueCategory string

const (
	CategorySyntaxError        IssueCategory = "SYNTAX_ERROR"
	CategoryImportResolution   IssueCategory = "IMPORT_RESOLUTION"
	CategoryCollectionFailure  IssueCategory = "COLLECTION_FAILURE"
	CategoryMissingFixture     IssueCategory = "MISSING_FIXTURE"
	CategoryLowTestCount       IssueCategory = "LOW_TEST_COUNT"
	CategoryCoverageGap        IssueCategory = "SCENARIO_COVERAGE_GAP"
	CategoryMissingErrorTests  IssueCategory = "MISSING_ERROR_TESTS"
	CategoryNoTestMethods      IssueCategory = "NO_TEST_METHODS"
	CategoryLowAssertDensity   IssueCategory = "LOW_ASSERTION_DENSITY"
	CategoryMissingStatusCheck IssueCategory = "MISSING_STATUS_ASSERTIONS"
	CategoryMissingStructCheck IssueCategory = "MISSING_STRUCTURE_VALIDATION"
	CategoryNamingConvention   IssueCategory = "NAMING_CONVENTION"
	CategoryNoClassGrouping    IssueCategory = "MISSING_CLASS_GROUPING"
	CategoryMissingDocs        IssueCategory = "MISSING_DOCUMENTATION"
	CategoryOversizedFile      IssueCategory = "OVERSIZED_FILE"
	CategoryHardcodedValues    IssueCategory = "HARDCODED_VALUES"
	CategoryBroadException     IssueCategory = "BROAD_EXCEPTION_HANDLING"
	CategoryValidationError    IssueCategory = "VALIDATION_ERROR"
	CategoryBelowThreshold     IssueCategory = "QUALITY_BELOW_THRESHOLD"
)

// autoRecoverableCategories are the failure classes the quarantine manager
// may schedule for automated recovery.
var autoRecoverableCategories = map[IssueCategory]bool{
	CategorySyntaxError:      true,
	CategoryImportResolution: true,
	CategoryCoverageGap:      true,
	CategoryLowAssertDensity: true,
}

func AutoRecoverable(c IssueCategory) bool {
	return autoRecoverableCategories[c]
}

// Issue is a single validation finding. Immutable once created.
type Issue struct {
	Category       IssueCategory  `yaml:"category"`
	Severity       model.Severity `yaml:"severity"`
	Description    string         `yaml:"description"`
	Line           int            `yaml:"line,omitempty"`
	Recommendation string         `yaml:"recommendation,omitempty"`
}

// Stage weights. Maximum stage scores equal the weights, so the overall
// score is a straight sum bounded by 100.
const (
	WeightSyntax          = 30.0
	WeightCoverage        = 25.0
	WeightAssertion       = 20.0
	WeightStructure       = 15.0
	WeightMaintainability = 10.0
)

// Score carries the five stage scores plus the derived overall and grade.
type Score struct {
	Syntax          float64     `yaml:"syntax"`
	Coverage        float64     `yaml:"coverage"`
	Assertion       float64     `yaml:"assertion"`
	Structure       float64     `yaml:"structure"`
	Maintainability float64     `yaml:"maintainability"`
	Overall         float64     `yaml:"overall"`
	Grade           model.Grade `yaml:"grade"`
}

// Action is the engine's disposition for an artifact.
type Action string

const (
	ActionQuarantineAndRegenerate Action = "QUARANTINE_AND_REGENERATE"
	ActionRejectAndRegenerate     Action = "REJECT_AND_REGENERATE"
	ActionRequiresModification    Action = "REQUIRES_MODIFICATION"
	ActionApproveWithNotes        Action = "APPROVE_WITH_NOTES"
	ActionAutoApprove             Action = "AUTO_APPROVE"
)

// actionForScore returns the score-banded primary action.
func actionForScore(overall float64) Action {
	switch {
	case overall < model.ThresholdAcceptable:
		return ActionRejectAndRegenerate
	case overall < model.ThresholdGood:
		return ActionRequiresModification
	case overall < model.ThresholdExcellent:
		return ActionApproveWithNotes
	default:
		return ActionAutoApprove
	}
}

// Result is the outcome of one validation run. The engine always produces a
// Result; catastrophic stage failures degrade the score instead of erroring.
type Result struct {
	FilePath        string        `yaml:"file_path"`
	ContentHash     string        `yaml:"content_hash"`
	Passed          bool          `yaml:"passed"`
	Score           Score         `yaml:"score"`
	Action          Action        `yaml:"action"`
	Issues          []Issue       `yaml:"issues,omitempty"`
	Recommendations []string      `yaml:"recommendations,omitempty"`
	ProcessingTime  time.Duration `yaml:"processing_time"`
	CacheHit        bool          `yaml:"-"`
}

// HasSeverity reports whether any issue carries the given severity.
func (r *Result) HasSeverity(s model.Severity) bool {
	for _, issue := range r.Issues {
		if issue.Severity == s {
			return true
		}
	}
	return false
}

// CountSeverity counts issues of the given severity.
func (r *Result) CountSeverity(s model.Severity) int {
	n := 0
	for _, issue := range r.Issues {
		if issue.Severity == s {
			n++
		}
	}
	return n
}

// FirstIssue returns the first issue with the given severity, if any.
func (r *Result) FirstIssue(s model.Severity) (Issue, bool) {
	for _, issue := range r.Issues {
		if issue.Severity == s {
			return issue, true
		}
	}
	return Issue{}, false
}
