// Package reply decides which replies resolve which registrations and moves
// reply processing off the network-receive path.
//
// Every reply kind owns a Queue drained by exactly one Worker, so replies of
// the same kind are handled in arrival order. Ordering across kinds is not
// guaranteed; the classification rules below keep that race harmless.
//
//	reply kind                     pending mode       decision
//	CommandExecuted                CommandExecuted    resolve with the reply fields
//	CommandExecuted Failed/NoOp    EventHandled       resolve with the reply fields
//	CommandExecuted Success        EventHandled       ignore, wait for events
//	EventHandled / stream(false)   any                resolve Success by command id
//	EventStream(true)              any                resolve Success by process id
package reply
