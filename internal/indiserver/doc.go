// Package indiserver runs indiserver as a supervised child process.
//
// This is optional: most installations start indiserver themselves and the
// watchdog only talks to it over TCP and the control FIFO. When managed, the
// watchdog creates the FIFO, starts
//
//	indiserver -f <fifo> -p <port> [extra args]
//
// in its own process group, restarts it with exponential back-off when it
// exits unexpectedly, and stops it with SIGTERM (then SIGKILL) on shutdown.
// Individual drivers are never managed here; they are restarted through
// the FIFO.
//
// Example usage:
//
//	mgr := indiserver.NewManager(indiserver.Config{
//	    Binary:   "/usr/bin/indiserver",
//	    Args:     indiserver.ServerArgs("/tmp/indiserverFIFO", 7624, nil),
//	    FIFOPath: "/tmp/indiserverFIFO",
//	})
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
package indiserver
