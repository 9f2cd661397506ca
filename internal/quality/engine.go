// Package quality scores generated API test artifacts through five weighted
// validation stages and produces quarantine/approval dispositions.
package quality

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/apiforge/warden/internal/model"
)

// Engine validates test artifacts. Results for unchanged content are served
// from an LRU cache keyed by content hash; concurrent validations of the
// same content are collapsed via singleflight.
type Engine struct {
	checker      SyntaxChecker
	cache        *ResultCache
	singleflight singleflight.Group
}

// NewEngine builds an engine from quality configuration. Exec-backed syntax
// checks are only used when enabled; the heuristic checker is the default.
func NewEngine(cfg model.QualityConfig) *Engine {
	var checker SyntaxChecker = HeuristicChecker{}
	if cfg.ExecChecks {
		checker = ExecChecker{
			PythonBin:         cfg.PythonBin,
			CollectionTimeout: time.Duration(cfg.CollectionTimeoutSec) * time.Second,
		}
	}
	return &Engine{
		checker: checker,
		cache:   NewResultCache(cfg.CacheSize, time.Duration(cfg.CacheTTLSec)*time.Second),
	}
}

// SetChecker overrides the syntax checker (used in tests).
func (e *Engine) SetChecker(c SyntaxChecker) {
	e.checker = c
}

// ValidateFile reads and validates an artifact on disk. The returned error
// covers I/O only; validation failures are expressed in the Result.
func (e *Engine) ValidateFile(ctx context.Context, path string) (*Result, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	result := e.ValidateSource(ctx, filepath.Base(path), src)
	result.FilePath = path
	return result, nil
}

// ValidateSource validates artifact content. It never fails: stage errors
// degrade the score instead of propagating.
func (e *Engine) ValidateSource(ctx context.Context, name string, src []byte) *Result {
	start := time.Now()

	hash := sha256.Sum256(src)
	key := hex.EncodeToString(hash[:])

	if cached := e.cache.Get(key); cached != nil {
		cached.CacheHit = true
		cached.ProcessingTime = time.Since(start)
		return cached
	}

	v, _, _ := e.singleflight.Do(key, func() (any, error) {
		return e.validateUncached(ctx, name, src, key), nil
	})
	result := v.(*Result)

	e.cache.Set(key, result)

	out := *result
	out.ProcessingTime = time.Since(start)
	return &out
}

func (e *Engine) validateUncached(ctx context.Context, name string, src []byte, key string) *Result {
	result := &Result{
		FilePath:    name,
		ContentHash: key,
	}

	art := safeAnalyze(name, src)

	report := e.safeCheck(ctx, name, src)

	syntaxScore, syntaxIssues := runStage("syntax", func() (float64, []Issue) {
		return scoreSyntax(art, report)
	})
	result.Score.Syntax = syntaxScore
	result.Issues = append(result.Issues, syntaxIssues...)

	// Any stage-1 deduction aborts the run: the artifact is not trustworthy
	// enough for the remaining rubric stages to mean anything.
	if syntaxScore < WeightSyntax {
		result.Score.Overall = round1(syntaxScore)
		result.Score.Grade = model.GradeUnacceptable
		result.Passed = false
		result.Action = ActionQuarantineAndRegenerate
		result.Recommendations = []string{string(ActionQuarantineAndRegenerate)}
		return result
	}

	result.Score.Coverage, result.Issues = appendStage(result.Issues, "coverage", func() (float64, []Issue) {
		return scoreCoverage(art)
	})
	result.Score.Assertion, result.Issues = appendStage(result.Issues, "assertion", func() (float64, []Issue) {
		return scoreAssertions(art)
	})
	result.Score.Structure, result.Issues = appendStage(result.Issues, "structure", func() (float64, []Issue) {
		return scoreStructure(art)
	})
	result.Score.Maintainability, result.Issues = appendStage(result.Issues, "maintainability", func() (float64, []Issue) {
		return scoreMaintainability(art)
	})

	overall := result.Score.Syntax + result.Score.Coverage + result.Score.Assertion +
		result.Score.Structure + result.Score.Maintainability
	result.Score.Overall = round1(overall)
	result.Score.Grade = model.GradeForScore(result.Score.Overall)
	result.Passed = result.Score.Overall >= model.PassingScore
	result.Action = actionForScore(result.Score.Overall)
	result.Recommendations = composeRecommendations(result)

	return result
}

// safeAnalyze guards the lexical pass; a panic yields an empty artifact so
// the stages still run and report zero content.
func safeAnalyze(name string, src []byte) (art *artifact) {
	defer func() {
		if r := recover(); r != nil {
			art = &artifact{
				name:         name,
				src:          src,
				fixturesUsed: make(map[string]int),
				fixturesDef:  make(map[string]bool),
			}
		}
	}()
	return analyze(name, src)
}

func (e *Engine) safeCheck(ctx context.Context, name string, src []byte) (report SyntaxReport) {
	defer func() {
		if r := recover(); r != nil {
			report = SyntaxReport{ParseError: &Issue{
				Category:    CategoryValidationError,
				Severity:    model.SeverityCritical,
				Description: fmt.Sprintf("syntax check panicked: %v", r),
			}}
		}
	}()
	return e.checker.Check(ctx, name, src)
}

// runStage executes one scoring stage, converting a panic into a
// zero-scored validation-error issue.
func runStage(stage string, fn func() (float64, []Issue)) (score float64, issues []Issue) {
	defer func() {
		if r := recover(); r != nil {
			score = 0
			issues = []Issue{{
				Category:    CategoryValidationError,
				Severity:    model.SeverityHigh,
				Description: fmt.Sprintf("%s stage failed: %v", stage, r),
			}}
		}
	}()
	return fn()
}

func appendStage(existing []Issue, stage string, fn func() (float64, []Issue)) (float64, []Issue) {
	score, issues := runStage(stage, fn)
	return score, append(existing, issues...)
}

// composeRecommendations builds the ordered recommendation list: a critical
// issue collapses everything to a single directive, otherwise a high-issue
// preamble, the score-banded action, then per-issue fixes.
func composeRecommendations(r *Result) []string {
	if r.HasSeverity(model.SeverityCritical) {
		return []string{"Address syntax errors immediately - the test file cannot be executed"}
	}

	var recs []string
	if r.HasSeverity(model.SeverityHigh) {
		recs = append(recs, "Fix major quality issues before approval")
	}

	recs = append(recs, string(r.Action))

	for _, issue := range r.Issues {
		if issue.Recommendation == "" {
			continue
		}
		if issue.Severity == model.SeverityHigh || issue.Severity == model.SeverityMedium {
			recs = append(recs, issue.Recommendation)
		}
	}
	return recs
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
