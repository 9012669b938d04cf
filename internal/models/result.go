package models

// ExecutionResult holds the outcome of the remote diagnostic run.
// Stdout and Stderr are kept separate so the caller can relay them to
// its own streams without interleaving.
type ExecutionResult struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	CommandRun bool
	Error      error
}
