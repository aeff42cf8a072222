package queue

// QueueInfo describes the state of a driver's channels.
type QueueInfo struct {
	// Waiting is the number of jobs ready for Pop.
	Waiting int64
	// Delayed is the number of jobs whose visibility time hasn't arrived.
	Delayed int64
	// Failed is the number of jobs in the driver's failed channel, if the
	// driver keeps one. Drivers that hand failures straight to a DLQ report 0.
	Failed int64
}
