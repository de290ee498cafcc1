// Package process wraps a single spawned OS process.
//
// A Handle resolves nothing by itself: callers pass an already resolved
// executable path (see Resolver) so lookup happens once, when the owning
// task is constructed. Start returns a channel of events:
//
//   - Output carries a raw stdout or stderr chunk
//   - Exit reports a normal termination, with a nil Code when the process
//     was killed by a signal
//   - Failure reports a spawn or runtime error
//
// Exactly one Exit or Failure is sent per run, after every Output read
// before the process ended, and the channel is closed right after it.
//
// Stop never waits. The platform Terminator decides how the kill request
// is delivered: a signal to the process group on POSIX systems, or a
// "taskkill /f /t" tree kill on Windows.
//
// Example:
//
//	h := process.NewHandle(process.Options{
//	    Path: resolver.Resolve("go", dir),
//	    Args: []string{"test", "./..."},
//	    Dir:  dir,
//	})
//	events, _ := h.Start()
//	for ev := range events {
//	    switch ev := ev.(type) {
//	    case process.Output:
//	        os.Stdout.Write(ev.Data)
//	    case process.Exit:
//	        fmt.Println("exit", ev.Code)
//	    }
//	}
package process
