package quality

import (
	"fmt"
	"sort"
	"strings"

	"github.com/apiforge/warden/internal/model"
)

// Stage deduction amounts. Kept as named constants so the rubric reads as a
// table.
const (
	deductImportIssues     = 5.0
	deductCollectionFail   = 10.0
	deductMissingFixtures  = 5.0
	deductLowTestCount     = 10.0
	deductPerMissingCrud   = 5.0
	deductFewErrorTests    = 5.0
	deductLowDensity       = 10.0
	deductNoStatusChecks   = 5.0
	deductNoStructChecks   = 5.0
	deductBadFilename      = 2.0
	deductNoClassGrouping  = 3.0
	deductNoDocs           = 2.0
	deductOversized        = 2.0
	deductHardcoded        = 3.0
	deductBroadExcept      = 2.0

	minTestMethods    = 4
	minErrorScenarios = 2
	minAssertDensity  = 3.0
	maxFileSizeBytes  = 10 * 1024
	maxUngroupedTests = 5
)

// scoreSyntax applies stage-1 deductions given the checker's report.
// A parse failure zeroes the stage; the engine short-circuits on any stage-1
// score below the maximum.
func scoreSyntax(art *artifact, report SyntaxReport) (float64, []Issue) {
	if report.ParseError != nil {
		issue := *report.ParseError
		if issue.Recommendation == "" {
			issue.Recommendation = "Regenerate the test file from its template"
		}
		return 0, []Issue{issue}
	}

	score := WeightSyntax
	var issues []Issue

	if len(art.badImports) > 0 {
		score -= deductImportIssues
		issues = append(issues, Issue{
			Category:       CategoryImportResolution,
			Severity:       model.SeverityHigh,
			Description:    fmt.Sprintf("%d malformed or unresolvable import statements", len(art.badImports)),
			Line:           art.badImports[0],
			Recommendation: "Fix import statements so all modules resolve",
		})
	}

	if report.CollectionError != nil {
		score -= deductCollectionFail
		issues = append(issues, *report.CollectionError)
	}

	if missing := art.missingFixtures(); len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for name := range missing {
			names = append(names, name)
		}
		sort.Strings(names)
		score -= deductMissingFixtures
		issues = append(issues, Issue{
			Category:       CategoryMissingFixture,
			Severity:       model.SeverityMedium,
			Description:    fmt.Sprintf("fixtures referenced but not defined: %s", strings.Join(names, ", ")),
			Line:           missing[names[0]],
			Recommendation: "Define the missing fixtures or add them to conftest.py",
		})
	}

	if score < 0 {
		score = 0
	}
	return score, issues
}

func scoreCoverage(art *artifact) (float64, []Issue) {
	score := WeightCoverage
	var issues []Issue

	if len(art.testFuncs) < minTestMethods {
		score -= deductLowTestCount
		issues = append(issues, Issue{
			Category:       CategoryLowTestCount,
			Severity:       model.SeverityHigh,
			Description:    fmt.Sprintf("only %d test methods, expected at least %d", len(art.testFuncs), minTestMethods),
			Recommendation: "Add test methods covering the remaining endpoint operations",
		})
	}

	covered := art.crudCoverage()
	var missing []string
	for _, category := range []string{"create", "read", "update", "delete"} {
		if !covered[category] {
			missing = append(missing, category)
			score -= deductPerMissingCrud
		}
	}
	if len(missing) > 0 {
		issues = append(issues, Issue{
			Category:       CategoryCoverageGap,
			Severity:       model.SeverityMedium,
			Description:    fmt.Sprintf("no tests for CRUD categories: %s", strings.Join(missing, ", ")),
			Recommendation: "Add tests exercising the missing CRUD operations",
		})
	}

	if art.errorScenarioCount() < minErrorScenarios {
		score -= deductFewErrorTests
		issues = append(issues, Issue{
			Category:       CategoryMissingErrorTests,
			Severity:       model.SeverityMedium,
			Description:    fmt.Sprintf("only %d error-scenario tests, expected at least %d", art.errorScenarioCount(), minErrorScenarios),
			Recommendation: "Add negative tests for invalid input and error responses",
		})
	}

	if score < 0 {
		score = 0
	}
	return score, issues
}

func scoreAssertions(art *artifact) (float64, []Issue) {
	if len(art.testFuncs) == 0 {
		return 0, []Issue{{
			Category:       CategoryNoTestMethods,
			Severity:       model.SeverityCritical,
			Description:    "no test methods found",
			Recommendation: "Regenerate the test file; it contains no tests",
		}}
	}

	score := WeightAssertion
	var issues []Issue

	density := float64(art.assertTotal) / float64(len(art.testFuncs))
	if density < minAssertDensity {
		score -= deductLowDensity
		issues = append(issues, Issue{
			Category:       CategoryLowAssertDensity,
			Severity:       model.SeverityHigh,
			Description:    fmt.Sprintf("assertion density %.1f below minimum %.0f per test", density, minAssertDensity),
			Recommendation: "Strengthen tests with additional assertions on the response",
		})
	}

	if art.statusChecks == 0 {
		score -= deductNoStatusChecks
		issues = append(issues, Issue{
			Category:       CategoryMissingStatusCheck,
			Severity:       model.SeverityMedium,
			Description:    "no HTTP status code assertions found",
			Recommendation: "Assert expected status codes on every response",
		})
	}

	if art.structChecks == 0 {
		score -= deductNoStructChecks
		issues = append(issues, Issue{
			Category:       CategoryMissingStructCheck,
			Severity:       model.SeverityMedium,
			Description:    "no response structure validation found",
			Recommendation: "Validate response body structure, not just status codes",
		})
	}

	if score < 0 {
		score = 0
	}
	return score, issues
}

func scoreStructure(art *artifact) (float64, []Issue) {
	score := WeightStructure
	var issues []Issue

	base := art.name
	if !strings.HasPrefix(base, "test_") {
		score -= deductBadFilename
		issues = append(issues, Issue{
			Category:       CategoryNamingConvention,
			Severity:       model.SeverityLow,
			Description:    fmt.Sprintf("filename %q does not match test_* convention", base),
			Recommendation: "Rename the file to test_<endpoint>.py",
		})
	}

	if len(art.testFuncs) > maxUngroupedTests && art.classCount == 0 {
		score -= deductNoClassGrouping
		issues = append(issues, Issue{
			Category:       CategoryNoClassGrouping,
			Severity:       model.SeverityLow,
			Description:    fmt.Sprintf("%d test methods with no class grouping", len(art.testFuncs)),
			Recommendation: "Group related tests into classes",
		})
	}

	if art.docstrings == 0 {
		score -= deductNoDocs
		issues = append(issues, Issue{
			Category:       CategoryMissingDocs,
			Severity:       model.SeverityLow,
			Description:    "no documentation strings present",
			Recommendation: "Add docstrings describing each test scenario",
		})
	}

	if score < 0 {
		score = 0
	}
	return score, issues
}

func scoreMaintainability(art *artifact) (float64, []Issue) {
	score := WeightMaintainability
	var issues []Issue

	if len(art.src) > maxFileSizeBytes {
		score -= deductOversized
		issues = append(issues, Issue{
			Category:       CategoryOversizedFile,
			Severity:       model.SeverityLow,
			Description:    fmt.Sprintf("file size %d bytes exceeds %d", len(art.src), maxFileSizeBytes),
			Recommendation: "Split the file per resource or scenario group",
		})
	}

	if len(art.hardcodedHits) > 0 {
		score -= deductHardcoded
		issues = append(issues, Issue{
			Category:       CategoryHardcodedValues,
			Severity:       model.SeverityMedium,
			Description:    fmt.Sprintf("hardcoded URLs or ports on %d lines", len(art.hardcodedHits)),
			Line:           art.hardcodedHits[0],
			Recommendation: "Use the base_url fixture instead of hardcoded addresses",
		})
	}

	if len(art.broadExcepts) > 0 {
		score -= deductBroadExcept
		issues = append(issues, Issue{
			Category:       CategoryBroadException,
			Severity:       model.SeverityLow,
			Description:    fmt.Sprintf("broad or bare exception handling on %d lines", len(art.broadExcepts)),
			Line:           art.broadExcepts[0],
			Recommendation: "Catch specific exception types",
		})
	}

	if score < 0 {
		score = 0
	}
	return score, issues
}
