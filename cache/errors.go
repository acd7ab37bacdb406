package cache

import "corekit.dev/errs"

// ErrUnknownBackend reports that no backend was registered under name.
func ErrUnknownBackend(name string) error {
	return errs.Newf(errs.Configuration, "cache: no backend registered under name %q", name)
}
