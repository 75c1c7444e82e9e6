// Package idl is a replicated-table client: it keeps a local mirror of the
// tables of one remote database, fed by change notifications, and commits
// transactions against it.
//
// The client is meant to be driven by a single wait/dispatch loop:
//
//	for {
//		client.Wait(p)  // register readiness with a poller.Poller
//		p.Block()
//		client.Run()    // apply buffered change notifications
//		client.Commit(ctx, t)
//	}
//
// A reader goroutine owns the transport. Replies are routed straight to the
// goroutine waiting in Commit; change notifications are parked in a pollable
// inbox whose handle Wait registers, so traffic wakes the loop through the
// same native wait as everything else.
//
// Dial performs schema negotiation (get_schema, table registration) and the
// initial synchronisation (monitor) before returning.
package idl
