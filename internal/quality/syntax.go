package quality

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/apiforge/warden/internal/model"
)

// SyntaxReport is the outcome of the parse and collection checks.
// A nil pointer means the corresponding check passed.
type SyntaxReport struct {
	ParseError      *Issue
	CollectionError *Issue
}

// SyntaxChecker decides whether an artifact parses and whether the test
// runner could collect it. The heuristic checker is pure Go; the exec
// checker shells out to an interpreter.
type SyntaxChecker interface {
	Name() string
	Check(ctx context.Context, name string, src []byte) SyntaxReport
}

// HeuristicChecker approximates Python parsing lexically: bracket balance,
// string termination, and colon-terminated block openers. It cannot catch
// everything an interpreter would, but it is deterministic and dependency
// free.
type HeuristicChecker struct{}

func (HeuristicChecker) Name() string { return "heuristic" }

var blockOpenerRe = regexp.MustCompile(`^\s*(def|class|if|elif|else|for|while|try|except|finally|with)\b`)

func (HeuristicChecker) Check(_ context.Context, name string, src []byte) SyntaxReport {
	var report SyntaxReport

	if issue := scanLexical(string(src)); issue != nil {
		report.ParseError = issue
		return report
	}

	art := analyze(name, src)
	if len(art.nestedTests) > 0 {
		report.CollectionError = &Issue{
			Category:       CategoryCollectionFailure,
			Severity:       model.SeverityHigh,
			Description:    "test functions nested inside another function are not collectible",
			Line:           art.nestedTests[0],
			Recommendation: "Move nested test functions to module or class level",
		}
	}

	return report
}

// scanLexical walks the source tracking string state and bracket depth.
func scanLexical(src string) *Issue {
	depth := 0
	inString := byte(0)  // quote char when inside a short string
	inTriple := ""       // delimiter when inside a triple-quoted string
	lastOpenLine := 0

	lines := strings.Split(src, "\n")
	for i, line := range lines {
		lineNo := i + 1

		j := 0
		for j < len(line) {
			c := line[j]

			if inTriple != "" {
				if strings.HasPrefix(line[j:], inTriple) {
					inTriple = ""
					j += 3
					continue
				}
				j++
				continue
			}
			if inString != 0 {
				if c == '\\' {
					j += 2
					continue
				}
				if c == inString {
					inString = 0
				}
				j++
				continue
			}

			switch {
			case strings.HasPrefix(line[j:], `"""`) || strings.HasPrefix(line[j:], "'''"):
				inTriple = line[j : j+3]
				j += 3
				continue
			case c == '"' || c == '\'':
				inString = c
			case c == '#':
				j = len(line)
				continue
			case c == '(' || c == '[' || c == '{':
				depth++
				lastOpenLine = lineNo
			case c == ')' || c == ']' || c == '}':
				depth--
				if depth < 0 {
					return &Issue{
						Category:    CategorySyntaxError,
						Severity:    model.SeverityCritical,
						Description: fmt.Sprintf("unbalanced closing bracket %q", string(c)),
						Line:        lineNo,
					}
				}
			}
			j++
		}

		// Short strings do not continue across lines (no continuation handling;
		// a trailing backslash inside a string is rare in generated tests).
		if inString != 0 {
			return &Issue{
				Category:    CategorySyntaxError,
				Severity:    model.SeverityCritical,
				Description: "unterminated string literal",
				Line:        lineNo,
			}
		}

		// Block openers at bracket depth 0 must end with a colon.
		if depth == 0 && inTriple == "" && blockOpenerRe.MatchString(line) {
			code := line
			if idx := strings.Index(code, "#"); idx >= 0 {
				code = code[:idx]
			}
			code = strings.TrimSpace(code)
			if code != "" && !strings.HasSuffix(code, ":") && !strings.HasSuffix(code, "\\") {
				return &Issue{
					Category:    CategorySyntaxError,
					Severity:    model.SeverityCritical,
					Description: "block statement missing trailing colon",
					Line:        lineNo,
				}
			}
		}
	}

	if inTriple != "" {
		return &Issue{
			Category:    CategorySyntaxError,
			Severity:    model.SeverityCritical,
			Description: "unterminated triple-quoted string",
		}
	}
	if depth != 0 {
		return &Issue{
			Category:    CategorySyntaxError,
			Severity:    model.SeverityCritical,
			Description: "unbalanced brackets at end of file",
			Line:        lastOpenLine,
		}
	}
	return nil
}

// ExecChecker validates syntax with py_compile and collectibility with
// pytest --collect-only under a timeout. Falls back to the heuristic
// checker when the interpreter is unavailable.
type ExecChecker struct {
	PythonBin         string
	CollectionTimeout time.Duration
}

func (ExecChecker) Name() string { return "exec" }

func (c ExecChecker) Check(ctx context.Context, name string, src []byte) SyntaxReport {
	if _, err := exec.LookPath(c.PythonBin); err != nil {
		return HeuristicChecker{}.Check(ctx, name, src)
	}

	tmpDir, err := os.MkdirTemp("", "warden-syntax-*")
	if err != nil {
		return HeuristicChecker{}.Check(ctx, name, src)
	}
	defer os.RemoveAll(tmpDir)

	tmpFile := filepath.Join(tmpDir, filepath.Base(name))
	if err := os.WriteFile(tmpFile, src, 0644); err != nil {
		return HeuristicChecker{}.Check(ctx, name, src)
	}

	var report SyntaxReport

	compileCtx, cancel := context.WithTimeout(ctx, c.CollectionTimeout)
	defer cancel()
	cmd := exec.CommandContext(compileCtx, c.PythonBin, "-m", "py_compile", tmpFile)
	if out, err := cmd.CombinedOutput(); err != nil {
		report.ParseError = &Issue{
			Category:    CategorySyntaxError,
			Severity:    model.SeverityCritical,
			Description: fmt.Sprintf("py_compile failed: %s", firstLine(out)),
		}
		return report
	}

	collectCtx, cancel2 := context.WithTimeout(ctx, c.CollectionTimeout)
	defer cancel2()
	cmd = exec.CommandContext(collectCtx, c.PythonBin, "-m", "pytest", "--collect-only", "-q", tmpFile)
	if out, err := cmd.CombinedOutput(); err != nil {
		desc := fmt.Sprintf("pytest collection failed: %s", firstLine(out))
		if collectCtx.Err() == context.DeadlineExceeded {
			desc = fmt.Sprintf("pytest collection timed out after %s", c.CollectionTimeout)
		}
		report.CollectionError = &Issue{
			Category:       CategoryCollectionFailure,
			Severity:       model.SeverityHigh,
			Description:    desc,
			Recommendation: "Fix collection errors so the test runner can discover the tests",
		}
	}

	return report
}

func firstLine(out []byte) string {
	s := strings.TrimSpace(string(out))
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
