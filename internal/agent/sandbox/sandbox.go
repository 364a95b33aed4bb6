// Package sandbox defines the Code Sandbox Gateway contract (spec.md §4.5):
// an abstract interface over a Python executor, plus a static Validator that
// rejects unsafe code before any backend is contacted. Concrete backends
// (internal/agent/sandbox/localproc for "local"; "docker"/"e2b" are named
// but not implemented, per spec.md's out-of-scope sandbox backend) satisfy
// the Gateway interface.
package sandbox

import (
	"context"
	"regexp"
	"strings"

	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/agenterr"
)

// ToolShim describes one tool installed into the sandbox namespace: its name
// and description.
type ToolShim struct {
	Name        string
	Description string
}

// Result is the outcome of one Execute call.
type Result struct {
	Stdout       string
	Stderr       string
	ReturnValue  any
	UpdatedState map[string]any
	Err          error

	// FinalAnswer is set when the executed code called final_answer(...),
	// distinguished by the backend's sentinel return or recorded tool-call
	// log, per spec.md §4.7 step 5.
	FinalAnswer *FinalAnswerCall
}

// FinalAnswerCall carries the raw payload passed to final_answer inside
// sandboxed code, before §4.6-style validation.
type FinalAnswerCall struct {
	Payload map[string]any
}

// Gateway is the Code Sandbox Gateway contract of spec.md §4.5.
type Gateway interface {
	// Prepare installs tool names as Python-callable shims and the curated
	// import allow-list. Called once per Run (and again on Reset per
	// SPEC_FULL.md §10(d)).
	Prepare(ctx context.Context, namespace []ToolShim, authorisedImports map[string]struct{}) error

	// Execute runs code in a persistent interpreter process; state is
	// echoed in and out so State variables survive across ticks.
	Execute(ctx context.Context, code string, state map[string]any) (Result, error)

	// Close tears the backend down on all exit paths.
	Close() error
}

// DefaultAuthorisedImports is the default import allow-list of spec.md §4.5.
func DefaultAuthorisedImports() map[string]struct{} {
	names := []string{
		"json", "re", "collections", "datetime", "time", "math", "itertools",
		"copy", "requests", "bs4", "urllib", "html", "io", "aiohttp", "asyncio",
		"dotenv",
	}
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

// deniedImports is always subtracted from the authorised-imports union.
var deniedImports = map[string]struct{}{
	"os": {}, "sys": {}, "subprocess": {}, "socket": {}, "shutil": {},
}

// ResolveAuthorisedImports unions the default allow-list with a
// caller-supplied one and removes the always-dangerous names.
func ResolveAuthorisedImports(extra map[string]struct{}) map[string]struct{} {
	out := DefaultAuthorisedImports()
	for n := range extra {
		out[n] = struct{}{}
	}
	for n := range deniedImports {
		delete(out, n)
	}
	return out
}

// unsafePatterns are the blacklisted call/import forms of spec.md §4.5.
var unsafePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\beval\s*\(`),
	regexp.MustCompile(`\bexec\s*\(`),
	regexp.MustCompile(`__import__\s*\(`),
	regexp.MustCompile(`\bopen\s*\(`),
	regexp.MustCompile(`\bos\.system\b`),
	regexp.MustCompile(`\bsubprocess\.`),
	regexp.MustCompile(`\bos\.popen\b`),
	regexp.MustCompile(`^\s*import\s+(os|sys|subprocess|socket|shutil)\b`),
	regexp.MustCompile(`^\s*from\s+(os|sys|subprocess|socket|shutil)\b`),
}

// Validate statically rejects code containing any blacklisted pattern,
// returning an agenterr of KindUnsafeCode without contacting the backend.
func Validate(code string) error {
	for _, line := range strings.Split(code, "\n") {
		for _, pat := range unsafePatterns {
			if pat.MatchString(line) {
				return agenterr.New(agenterr.KindUnsafeCode, "code contains a disallowed construct: "+pat.String())
			}
		}
	}
	return nil
}
