// Package lib provides a Go SDK to run repositories dev servers in ephemeral sandboxes.
//
// This package allows applications to trigger and observe runs without shelling
// out to the repoready CLI binary or talking to its HTTP API.
//
// # Quick Start
//
// Create a client and run a repository until its dev server is ready:
//
//	client, err := lib.New(ctx, lib.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	st, err := client.Run(ctx, "https://github.com/acme/widget", nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Dispose(ctx)
//
//	switch st.Phase {
//	case lib.PhaseReady:
//	    fmt.Println("Running at", st.URL)
//	default:
//	    fmt.Println("Could not run:", st.Message)
//	    fmt.Println("Try", st.Fallback.StackBlitz)
//	}
//
// # Runs
//
// A client holds a single run slot. [Client.Start] triggers a run in the
// background and [Client.Wait] blocks until it reaches a terminal phase
// (ready, failed or timed out). Starting while a run is in flight returns
// [ErrRunInProgress]. [Client.Dispose] releases the sandbox of the current run.
//
// # Sandboxes
//
//   - [SandboxDocker]: Docker containers based on a Node.js image. Requires a
//     reachable Docker daemon, see [Client.Doctor].
//   - [SandboxFake]: Scripted in-memory sandbox where every install succeeds and
//     every dev server gets ready. Useful for tests.
//
// # History
//
// Runs are persisted, use [Client.ListRuns] and [Client.GetRun] to query them.
//
// # Error Handling
//
// All methods return errors that can be inspected with [errors.Is]:
//
//   - [ErrNotFound]: Run does not exist.
//   - [ErrNotValid]: Invalid input (e.g. a malformed repository URL).
//   - [ErrRunInProgress]: A run is already in flight.
//   - [ErrNotRunnable]: The repository analysis marks it as not runnable.
//
// # Thread Safety
//
// A [Client] is safe for concurrent use from multiple goroutines.
package lib
