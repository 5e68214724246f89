package stages

import (
	"context"
	"fmt"

	"github.com/anima/anima/internal/dispatch"
	"github.com/anima/anima/internal/kernel"
)

// VerifyConfig wires the verify baseline; it has no external
// dependencies beyond the two ProjectState snapshots it's handed.
type VerifyConfig struct{}

// NewVerify builds the baseline Verifier. All checks run regardless of
// earlier failures so the report captures every problem, per §4.7.5.
func NewVerify(cfg VerifyConfig) dispatch.Verifier {
	return func(ctx context.Context, pre, post kernel.ProjectState) (kernel.VerificationReport, error) {
		var issues []string
		var improvements []string

		issues = append(issues, protectedIntegrityIssues(pre, post)...)

		var lintResult, typecheckResult *kernel.QualityCheckResult
		if post.Quality != nil {
			lintResult = post.Quality.Lint
			typecheckResult = post.Quality.Typecheck
		}
		lintCheck := checkFor(lintResult)
		typecheckCheck := checkFor(typecheckResult)
		testsCheck := testsCheckFor(post.Tests)

		if post.Quality != nil {
			if post.Quality.Lint != nil && !post.Quality.Lint.Passed {
				issues = append(issues, "QUALITY: lint failing")
			}
			if post.Quality.Typecheck != nil && !post.Quality.Typecheck.Passed {
				issues = append(issues, "QUALITY: typecheck failing")
			}
		}
		if post.Tests != nil && !post.Tests.Passed {
			issues = append(issues, "QUALITY: tests failing")
		}

		if len(post.Files) > len(pre.Files) {
			improvements = append(improvements, fmt.Sprintf("improvement: new files = %d", len(post.Files)-len(pre.Files)))
		}

		report := kernel.VerificationReport{
			Lint:         lintCheck,
			Typecheck:    typecheckCheck,
			Tests:        testsCheck,
			Issues:       issues,
			Improvements: improvements,
			AllPassed:    len(issues) == 0,
		}
		report.Summary = summarize(report)
		return report, nil
	}
}

func protectedIntegrityIssues(pre, post kernel.ProjectState) []string {
	preHashes := make(map[string]*string, len(pre.ProtectedHashes))
	for _, h := range pre.ProtectedHashes {
		preHashes[h.Path] = h.Hash
	}
	postHashes := make(map[string]*string, len(post.ProtectedHashes))
	for _, h := range post.ProtectedHashes {
		postHashes[h.Path] = h.Hash
	}

	paths := make(map[string]struct{}, len(preHashes)+len(postHashes))
	for p := range preHashes {
		paths[p] = struct{}{}
	}
	for p := range postHashes {
		paths[p] = struct{}{}
	}

	var issues []string
	for path := range paths {
		preHash, hadPre := preHashes[path]
		postHash, hadPost := postHashes[path]

		switch {
		case hadPre && preHash != nil && (!hadPost || postHash == nil):
			issues = append(issues, fmt.Sprintf("CRITICAL: %s was deleted", path))
		case preHash != nil && postHash != nil && *preHash != *postHash:
			issues = append(issues, fmt.Sprintf("CRITICAL: %s was modified", path))
		case (!hadPre || preHash == nil) && hadPost && postHash != nil:
			issues = append(issues, fmt.Sprintf("CRITICAL: %s appeared unexpectedly", path))
		}
	}
	return issues
}

func checkFor(result *kernel.QualityCheckResult) kernel.StageCheck {
	if result == nil {
		return kernel.StageCheck{Status: kernel.CheckSkipped}
	}
	if result.Passed {
		return kernel.StageCheck{Status: kernel.CheckPassed, Output: result.Output}
	}
	return kernel.StageCheck{Status: kernel.CheckFailed, Output: result.Output}
}

func testsCheckFor(result *kernel.TestResult) kernel.StageCheck {
	if result == nil {
		return kernel.StageCheck{Status: kernel.CheckSkipped}
	}
	if result.Passed {
		return kernel.StageCheck{Status: kernel.CheckPassed, Output: result.StdoutTail}
	}
	return kernel.StageCheck{Status: kernel.CheckFailed, Output: result.StderrTail}
}

func summarize(report kernel.VerificationReport) string {
	if report.AllPassed {
		total := countNonSkipped(report)
		return fmt.Sprintf("All %d verification stages passed.", total)
	}
	return fmt.Sprintf("%d issue(s) found: %v", len(report.Issues), report.Issues)
}

func countNonSkipped(report kernel.VerificationReport) int {
	count := 0
	for _, c := range []kernel.StageCheck{report.Lint, report.Typecheck, report.Tests} {
		if c.Status != kernel.CheckSkipped {
			count++
		}
	}
	return count
}
