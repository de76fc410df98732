// Package bridge
// Author: momentics <momentics@gmail.com>
//
// Package bridge multiplexes the process-wide callbacks of an LwM2M server
// engine onto per-instance Server values.
//
// The engine links against exactly one outbound send hook and one monitoring
// hook. Any number of Servers may run at once, each owning one engine context
// and usually pinned to its own OS thread. The monitoring hook derives an
// identity from the engine handle and drops the notification into the mailbox
// registered for that identity; the owning goroutine picks it up with
// WaitForNotification or HandleCallback and runs its MonitoringHandler.
//
// Outbound bytes land in a single process-wide capture slot (LastSent) and in
// a per-instance outbox (Server.NextOutbound).
package bridge
