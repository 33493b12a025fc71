// Package solver runs solver jobs.
//
// A job flows through these steps:
//
//	Classify -> Workspace.Prepare -> Launch -> {drainStderr, readResults} -> SolveResult
//
// Classify splits the parameters into command line arguments and files.
// A Workspace is a fresh directory holding the files and program.hex, it is
// removed once the job ends unless workspaces are kept for debugging.
// Launch starts the solver inside the workspace. Its stderr is drained into a
// MessageSink by a separate goroutine while the caller decodes stdout line by
// line with an Interpreter. The drain goroutine is joined, with a bounded
// wait, before the result is built.
//
// Solver.Solve is the only error boundary: any error of the steps above ends
// as one message in SolveResult.Description, the caller always gets a result.
//
// Invariants:
//   - One workspace and at most one process per job.
//   - Answer sets keep the order of the solver output.
//   - Diagnostic messages keep the order of stderr, the error description is last.
//   - The MessageSink is the only state shared by the goroutines of a job.
package solver
