package queue

import "errors"

var (
	// ErrEmpty is returned by Driver.Pop when no job is ready. It is a normal
	// condition, not a fault: pollers should back off and try again.
	ErrEmpty = errors.New("no job is ready in the queue")

	// ErrDriverUnavailable is returned when the backing resource of a driver
	// (file system, redis connection) is unreachable. It propagates to the
	// caller of Push/Pop and is never swallowed by the driver itself.
	ErrDriverUnavailable = errors.New("queue driver unavailable")

	// ErrUnregisteredJobType is returned when a persisted job carries a type
	// tag with no factory in the Registry. This is a configuration error:
	// register the type at boot, before any persistent driver dequeues.
	ErrUnregisteredJobType = errors.New("job type not registered")

	// ErrJobDeserialization is returned when a stored job body cannot be
	// reconstructed. Like ErrUnregisteredJobType it is fatal for the job,
	// not transient.
	ErrJobDeserialization = errors.New("job deserialization failed")

	// ErrJobTimeout is returned by the Timeout middleware when a job exceeds
	// its deadline. The job body itself cannot be forcibly preempted; see the
	// Timeout documentation.
	ErrJobTimeout = errors.New("job execution timed out")

	// ErrDriverNotFound is returned by the Manager when dispatching to a
	// driver name absent from the configuration.
	ErrDriverNotFound = errors.New("queue driver not found")

	// ErrWorkerStopped is returned when an operation is attempted on a worker
	// that has already been stopped.
	ErrWorkerStopped = errors.New("worker already stopped")
)
