// Package shutdown coordinates graceful termination of long-running
// commands.
//
// Hooks registered with OnShutdown run in reverse order once SIGINT or
// SIGTERM arrives, Trigger is called, or the context given to Wait ends.
// All hooks share one timeout.
//
//	h := shutdown.NewHandler(30 * time.Second)
//	h.OnShutdown(srv.Shutdown)
//	err := h.Wait(ctx)
package shutdown
