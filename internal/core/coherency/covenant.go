package coherency

import (
	"math"
	"regexp"
	"strings"
)

// Severity grades a covenant violation.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
)

// Violation is a single covenant finding, keyed to the offending line.
type Violation struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	Line     int      `json:"line"`
	Match    string   `json:"match"`
	Message  string   `json:"message"`
}

// CovenantResult is the outcome of the no-harm covenant check.
type CovenantResult struct {
	Sealed     bool        `json:"sealed"`
	Violations []Violation `json:"violations,omitempty"`
}

type covenantRule struct {
	id       string
	severity Severity
	message  string
	pattern  *regexp.Regexp
	// check handles detections a single regex cannot express.
	check func(line string) (bool, string)
}

// Covenant scans source text for a fixed set of unsafe patterns. The seal
// is a hard precondition for storing a pattern.
type Covenant struct {
	rules  []covenantRule
	strict bool
}

// NewCovenant creates a covenant checker. In strict mode high-severity
// violations break the seal in addition to critical ones.
func NewCovenant(strict bool) *Covenant {
	return &Covenant{strict: strict, rules: covenantRules()}
}

func covenantRules() []covenantRule {
	return []covenantRule{
		{
			id:       "sql-injection-concat",
			severity: SeverityCritical,
			message:  "SQL statement assembled by concatenating request data",
			pattern:  regexp.MustCompile(`(?i)["'` + "`" + `]\s*(SELECT|INSERT|UPDATE|DELETE|DROP)\b[^"'` + "`" + `]*["'` + "`" + `]\s*\+|\+\s*["'` + "`" + `][^"'` + "`" + `]*\b(WHERE|VALUES|SET|FROM)\b`),
		},
		{
			id:       "decode-then-eval",
			severity: SeverityCritical,
			message:  "dynamic decode-then-eval execution",
			pattern:  regexp.MustCompile(`(?i)\beval\s*\(\s*(atob|Buffer\.from|base64|b64decode|decodeURIComponent)|\bexec\s*\(\s*(base64|b64decode)`),
		},
		{
			id:       "shell-backdoor",
			severity: SeverityCritical,
			message:  "shell spawned through child-process primitives",
			pattern:  regexp.MustCompile(`(?i)(child_process|subprocess|os\.system|Runtime\.getRuntime|exec\.Command)[^\n]{0,80}["'](\/bin\/)?(sh|bash|cmd(\.exe)?)["']`),
		},
		{
			id:       "hardcoded-secret",
			severity: SeverityHigh,
			message:  "high-entropy literal assigned next to a secret-like identifier",
			check:    checkHardcodedSecret,
		},
		{
			id:       "weak-password-hash",
			severity: SeverityHigh,
			message:  "deprecated cryptography applied to passwords",
			pattern:  regexp.MustCompile(`(?i)(md5|createHash\s*\(\s*["']md5["']|hashlib\.md5)[^\n]{0,60}(pass|pwd)|(pass|pwd)[^\n]{0,60}\bmd5\b`),
		},
		{
			id:       "catastrophic-regex",
			severity: SeverityHigh,
			message:  "catastrophic backtracking regular expression",
			pattern:  regexp.MustCompile(`\(\.(\*|\+)\)\+`),
		},
		{
			id:       "plaintext-credentials-log",
			severity: SeverityMedium,
			message:  "credentials written to logs",
			pattern:  regexp.MustCompile(`(?i)(console\.log|print|fmt\.Print|log\.)[^\n]{0,40}(password|secret|token)`),
		},
	}
}

// Check scans the code and reports violations. The covenant is sealed when
// no critical violation fires; strict mode also blocks on high severity.
func (c *Covenant) Check(code string) CovenantResult {
	var violations []Violation
	lines := strings.Split(code, "\n")

	for _, rule := range c.rules {
		if rule.pattern != nil {
			for i, line := range lines {
				if loc := rule.pattern.FindString(line); loc != "" {
					violations = append(violations, Violation{
						Rule:     rule.id,
						Severity: rule.severity,
						Line:     i + 1,
						Match:    truncate(loc, 80),
						Message:  rule.message,
					})
					break // one finding per rule is enough to grade it
				}
			}
			continue
		}
		if rule.check != nil {
			for i, line := range lines {
				if hit, match := rule.check(line); hit {
					violations = append(violations, Violation{
						Rule:     rule.id,
						Severity: rule.severity,
						Line:     i + 1,
						Match:    truncate(match, 80),
						Message:  rule.message,
					})
					break
				}
			}
		}
	}

	sealed := true
	for _, v := range violations {
		if v.Severity == SeverityCritical {
			sealed = false
		}
		if c.strict && v.Severity == SeverityHigh {
			sealed = false
		}
	}

	return CovenantResult{Sealed: sealed, Violations: violations}
}

// SecurityScore converts violations into the security coherency dimension:
// 1.0 when clean, −0.3 per high, −0.5 per critical, floored at 0.
func SecurityScore(violations []Violation) float64 {
	score := 1.0
	for _, v := range violations {
		switch v.Severity {
		case SeverityCritical:
			score -= 0.5
		case SeverityHigh:
			score -= 0.3
		}
	}
	if score < 0 {
		return 0
	}
	return score
}

var secretIdent = regexp.MustCompile(`(?i)(password|passwd|apikey|api_key|secret|token)\s*[:=]\s*["']([^"']{12,})["']`)

// checkHardcodedSecret flags long high-entropy literals assigned to
// secret-like identifiers. Shannon entropy over the literal separates real
// keys from placeholder strings.
func checkHardcodedSecret(line string) (bool, string) {
	m := secretIdent.FindStringSubmatch(line)
	if m == nil {
		return false, ""
	}
	literal := m[2]
	lower := strings.ToLower(literal)
	// Obvious placeholders do not count.
	for _, p := range []string{"example", "changeme", "placeholder", "your-", "xxx", "<"} {
		if strings.Contains(lower, p) {
			return false, ""
		}
	}
	if shannonEntropy(literal) < 3.0 {
		return false, ""
	}
	return true, m[0]
}

func shannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	freq := make(map[rune]int)
	for _, r := range s {
		freq[r]++
	}
	n := float64(len([]rune(s)))
	entropy := 0.0
	for _, c := range freq {
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
