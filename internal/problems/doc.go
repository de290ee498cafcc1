// Package problems turns raw tool output into structured diagnostics.
//
// A Config describes one problem matcher: an owner (the grouping key of
// every diagnostic it produces), a default severity and an ordered list
// of line patterns. Compile validates a Config into an immutable Template
// that can be shared between tasks; each task then gets its own stateful
// Matcher from Template.NewMatcher.
//
// Matchers accept arbitrary chunks: bytes are buffered until a full line
// is available, so a line split across two writes matches exactly like
// the same line written at once. Multi-line patterns are matched stage by
// stage. A "loop" flag on the last stage keeps emitting one diagnostic
// per matching line until a line fails to match, e.g. the per-issue lines
// printed under a file header:
//
//	src/app.ts
//	  10:5  error  Unexpected any  no-explicit-any
//	  12:1  warning  Missing return type  explicit-function-return-type
//
// Diagnostics are kept as a set with full-field equality. Write, Flush and
// Reset report whether the set changed so callers only publish genuine
// updates.
//
// Report aggregates the sets of several matchers by owner and renders the
// begin/line/end text markers:
//
//	[biu-problems;typescript;begin]
//	[biu-problem;error;src/a.ts;10,5;TS2322;Type 'string' is not assignable]
//	[biu-problems;typescript;end]
package problems
