// Package txcoord submits state-changing registry calls and follows each one
// to a terminal state.
//
// Submit checks the session, the arguments and the network before anything is
// sent to the wallet. Once the wallet returns a hash, one goroutine polls for
// the receipt under the coordinator's lifetime context:
//
//	Submitted --status 1--> refresh registry --> Confirmed
//	Submitted --status 0--> replay for reason --> Failed (*interfaces.RevertError)
//
// Abandoning a Wait never abandons the confirmation, and nothing is ever
// resubmitted. With a journal configured, submitted transactions survive a
// restart and Resume picks them up again.
package txcoord
