package coherency

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/remembrance-run/remembrance-core/internal/core/pattern"
)

// DefaultTestTimeout bounds test execution wall-clock time.
const DefaultTestTimeout = 5 * time.Second

// TestRunner executes a pattern's test code against its source in an
// isolated worker. Implementations must honor context cancellation.
type TestRunner interface {
	Run(ctx context.Context, code, testCode string, lang pattern.Language) (passed bool, output string, err error)
}

// NoopRunner never executes anything; correctness stays unknown.
type NoopRunner struct{}

// Run reports an execution error so the evaluator scores correctness as
// unknown (0.5).
func (NoopRunner) Run(context.Context, string, string, pattern.Language) (bool, string, error) {
	return false, "", fmt.Errorf("test execution disabled")
}

// ExecRunner shells out to a per-language interpreter in a scratch
// directory with a hard wall-clock limit. The worker is killed on timeout
// or cancellation.
type ExecRunner struct {
	Timeout time.Duration
	// WorkDir overrides the scratch parent directory; defaults to the
	// system temp dir.
	WorkDir string
}

// NewExecRunner creates a runner with the default timeout.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{Timeout: DefaultTestTimeout}
}

type langHarness struct {
	sourceFile string
	testFile   string
	command    []string
}

func harnessFor(lang pattern.Language) (langHarness, error) {
	switch lang {
	case pattern.LangJavaScript, pattern.LangTypeScript:
		return langHarness{
			sourceFile: "source.js",
			testFile:   "test.js",
			command:    []string{"node", "test.js"},
		}, nil
	case pattern.LangPython:
		return langHarness{
			sourceFile: "source.py",
			testFile:   "test.py",
			command:    []string{"python3", "test.py"},
		}, nil
	case pattern.LangGo:
		return langHarness{
			sourceFile: "source_test_subject.go",
			testFile:   "subject_test.go",
			command:    []string{"go", "test", "./..."},
		}, nil
	default:
		return langHarness{}, fmt.Errorf("no test harness for language %s", lang)
	}
}

// Run writes source and test into a scratch dir and executes the harness.
// A zero exit status is a pass; non-zero is a fail; anything else (missing
// interpreter, timeout) is an execution error.
func (r *ExecRunner) Run(ctx context.Context, code, testCode string, lang pattern.Language) (bool, string, error) {
	harness, err := harnessFor(lang)
	if err != nil {
		return false, "", err
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dir, err := os.MkdirTemp(r.WorkDir, "oracle-test-")
	if err != nil {
		return false, "", fmt.Errorf("cannot create sandbox dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := os.WriteFile(filepath.Join(dir, harness.sourceFile), []byte(code), 0o600); err != nil {
		return false, "", fmt.Errorf("cannot write source: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, harness.testFile), []byte(testCode), 0o600); err != nil {
		return false, "", fmt.Errorf("cannot write test: %w", err)
	}

	cmd := exec.CommandContext(ctx, harness.command[0], harness.command[1:]...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err = cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return false, out.String(), fmt.Errorf("test execution timed out after %s", timeout)
	}
	if err != nil {
		if _, isExit := err.(*exec.ExitError); isExit {
			return false, out.String(), nil // test ran and failed
		}
		return false, out.String(), fmt.Errorf("cannot execute test: %w", err)
	}
	return true, out.String(), nil
}
