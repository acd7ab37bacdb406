package queue

import "corekit.dev/errs"

// ErrUnknownBackend reports that no backend was registered under name.
func ErrUnknownBackend(name string) error {
	return errs.Newf(errs.Configuration, "queue: no backend registered under name %q", name)
}

// ErrJobNotFound reports that queue/id does not name a known job.
func ErrJobNotFound(queue, id string) error {
	return errs.Newf(errs.NotFound, "queue %q: job %q not found", queue, id)
}
