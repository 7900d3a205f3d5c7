// Package restart debounces and performs INDI driver restarts.
//
// A Coordinator keeps a strike counter per driver and decides which restart
// requests actually reach the restart Primitive. FIFORestarter is the
// production primitive: it writes a stop/start pair for the driver to the
// indiserver control FIFO. SQLiteHistory keeps an audit trail of fired
// restarts.
//
// Usage:
//
//	fifo := restart.NewFIFORestarter("/usr/bin", "/tmp/indiserverFIFO")
//	coord := restart.NewCoordinator(3, fifo, restart.WithLogger(log))
//	if coord.RequestRestart("indi_eqmod_telescope") {
//	    // session must be rebuilt
//	}
package restart
