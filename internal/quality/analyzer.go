package quality

import (
	"regexp"
	"strings"
)

// artifact is the lexical view of one pytest-style test source. All stage
// scoring reads from this single pass over the file.
type artifact struct {
	name  string
	src   []byte
	lines []string

	testFuncs    []testFunc
	classCount   int
	fixturesUsed map[string]int // fixture name -> first line using it
	fixturesDef  map[string]bool
	badImports   []int // lines with malformed import statements
	nestedTests  []int // test defs inside another function body (uncollectible)

	assertTotal   int
	statusChecks  int
	structChecks  int
	docstrings    int
	hardcodedHits []int
	broadExcepts  []int
}

type testFunc struct {
	name       string
	line       int
	assertions int
}

var (
	defRe          = regexp.MustCompile(`^(\s*)def\s+(\w+)\s*\(([^)]*)`)
	classRe        = regexp.MustCompile(`^class\s+\w+`)
	fixtureDecoRe  = regexp.MustCompile(`^\s*@pytest\.fixture`)
	importLineRe   = regexp.MustCompile(`^(import\s+[\w.]+(\s*,\s*[\w.]+)*(\s+as\s+\w+)?|from\s+[\w.]+\s+import\s+[\w*]+(\s*,\s*\w+)*(\s+as\s+\w+)?)\s*(#.*)?$`)
	statusCheckRe  = regexp.MustCompile(`status_code`)
	structCheckRe  = regexp.MustCompile(`\.json\(\)|response\.json|jsonschema|validate\(`)
	hardcodedRe    = regexp.MustCompile(`https?://(localhost|127\.0\.0\.1|\d+\.\d+\.\d+\.\d+)(:\d+)?|localhost:\d{2,5}`)
	broadExceptRe  = regexp.MustCompile(`^\s*except(\s+Exception\b[^:]*)?\s*:`)
	tripleQuoteRe  = regexp.MustCompile(`"""|'''`)
	pytestRaisesRe = regexp.MustCompile(`pytest\.raises|\.assert_`)
)

// commonFixtures are conventional fixtures that do not need an in-file
// definition: pytest builtins plus the generation templates' shared conftest
// fixtures.
var commonFixtures = map[string]bool{
	"client": true, "api_client": true, "auth_headers": true, "base_url": true,
	"db_session": true, "test_data": true, "session": true, "app": true,
	"monkeypatch": true, "tmp_path": true, "tmpdir": true, "capsys": true,
	"capfd": true, "caplog": true, "request": true, "mocker": true,
	"requests_mock": true, "self": true,
}

var errorTokens = []string{
	"error", "invalid", "fail", "unauthorized", "forbidden",
	"not_found", "missing", "bad_request", "conflict", "timeout",
}

var crudTokens = map[string][]string{
	"create": {"create", "post", "add"},
	"read":   {"get", "read", "list", "retrieve", "fetch"},
	"update": {"update", "put", "patch", "modify"},
	"delete": {"delete", "remove", "destroy"},
}

func analyze(name string, src []byte) *artifact {
	art := &artifact{
		name:         name,
		src:          src,
		lines:        strings.Split(string(src), "\n"),
		fixturesUsed: make(map[string]int),
		fixturesDef:  make(map[string]bool),
	}

	// funcStack tracks indents of enclosing def blocks so we can spot test
	// functions nested inside another function body.
	type scope struct {
		indent int
		isDef  bool
	}
	var stack []scope

	fixtureDecoPending := false
	currentTest := -1 // index into testFuncs whose body we are scanning
	currentIndent := 0

	for i, raw := range art.lines {
		lineNo := i + 1
		line := raw
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		indent := len(line) - len(strings.TrimLeft(line, " \t"))

		// Pop scopes we have dedented out of.
		for len(stack) > 0 && indent <= stack[len(stack)-1].indent && !strings.HasPrefix(trimmed, "#") {
			stack = stack[:len(stack)-1]
		}
		if currentTest >= 0 && indent <= currentIndent && !strings.HasPrefix(trimmed, "#") {
			currentTest = -1
		}

		switch {
		case fixtureDecoRe.MatchString(line):
			fixtureDecoPending = true
			continue

		case classRe.MatchString(line):
			art.classCount++
			fixtureDecoPending = false
			stack = append(stack, scope{indent: indent, isDef: false})
			continue
		}

		if m := defRe.FindStringSubmatch(line); m != nil {
			funcName := m[2]
			params := m[3]

			if fixtureDecoPending {
				art.fixturesDef[funcName] = true
				fixtureDecoPending = false
			} else if strings.HasPrefix(funcName, "test_") {
				inFunc := false
				for _, s := range stack {
					if s.isDef {
						inFunc = true
						break
					}
				}
				if inFunc {
					art.nestedTests = append(art.nestedTests, lineNo)
				}
				art.testFuncs = append(art.testFuncs, testFunc{name: funcName, line: lineNo})
				currentTest = len(art.testFuncs) - 1
				currentIndent = indent
				for _, p := range strings.Split(params, ",") {
					p = strings.TrimSpace(p)
					if idx := strings.IndexAny(p, ":="); idx >= 0 {
						p = strings.TrimSpace(p[:idx])
					}
					if p != "" && p != "*" && !strings.HasPrefix(p, "**") {
						if _, seen := art.fixturesUsed[p]; !seen {
							art.fixturesUsed[p] = lineNo
						}
					}
				}
			}
			stack = append(stack, scope{indent: indent, isDef: true})
			continue
		}
		fixtureDecoPending = false

		if strings.HasPrefix(trimmed, "import ") || strings.HasPrefix(trimmed, "from ") {
			if !importLineRe.MatchString(trimmed) {
				art.badImports = append(art.badImports, lineNo)
			}
			continue
		}

		if strings.HasPrefix(trimmed, "assert ") || strings.HasPrefix(trimmed, "assert(") || pytestRaisesRe.MatchString(trimmed) {
			art.assertTotal++
			if currentTest >= 0 {
				art.testFuncs[currentTest].assertions++
			}
			if statusCheckRe.MatchString(trimmed) {
				art.statusChecks++
			}
			if structCheckRe.MatchString(trimmed) {
				art.structChecks++
			}
		}

		if hardcodedRe.MatchString(trimmed) && !strings.HasPrefix(trimmed, "#") {
			art.hardcodedHits = append(art.hardcodedHits, lineNo)
		}
		if broadExceptRe.MatchString(line) {
			art.broadExcepts = append(art.broadExcepts, lineNo)
		}
		if tripleQuoteRe.MatchString(trimmed) {
			art.docstrings++
		}
	}

	return art
}

// missingFixtures returns fixtures referenced by test functions but neither
// defined in the file nor on the common allow-list.
func (a *artifact) missingFixtures() map[string]int {
	missing := make(map[string]int)
	for name, line := range a.fixturesUsed {
		if commonFixtures[name] {
			continue
		}
		if a.fixturesDef[name] {
			continue
		}
		missing[name] = line
	}
	return missing
}

// crudCoverage reports which CRUD categories have at least one test method.
func (a *artifact) crudCoverage() map[string]bool {
	covered := make(map[string]bool, len(crudTokens))
	for category, tokens := range crudTokens {
		for _, tf := range a.testFuncs {
			lower := strings.ToLower(tf.name)
			for _, tok := range tokens {
				if strings.Contains(lower, tok) {
					covered[category] = true
				}
			}
		}
	}
	return covered
}

// errorScenarioCount counts test methods whose name carries an error token.
func (a *artifact) errorScenarioCount() int {
	n := 0
	for _, tf := range a.testFuncs {
		lower := strings.ToLower(tf.name)
		for _, tok := range errorTokens {
			if strings.Contains(lower, tok) {
				n++
				break
			}
		}
	}
	return n
}
