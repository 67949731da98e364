package offline

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrProvisioning marks a failed provisioning step. The controller that
	// returned it can never become active.
	ErrProvisioning = errors.New("provisioning failed")

	// ErrStoreAccess marks a failed read or write against the cache storage.
	ErrStoreAccess = errors.New("store access failed")

	// ErrNetwork marks a failed live fetch.
	ErrNetwork = errors.New("network fetch failed")

	// ErrNotInstalled is returned by OnPromote before a successful OnProvision.
	ErrNotInstalled = errors.New("controller is not installed")

	// ErrVersionActive is returned by Host.Deploy for the version already serving.
	ErrVersionActive = errors.New("version is already active")
)

// ProvisionError describes why a version could not be provisioned.
// errors.Is(err, ErrProvisioning) holds for every ProvisionError.
type ProvisionError struct {
	Version string
	Asset   string // empty when the failure is not tied to one asset
	Err     error
}

func (e *ProvisionError) Error() string {
	if e.Asset != "" {
		return fmt.Sprintf("provision %s: asset %s: %v", e.Version, e.Asset, e.Err)
	}
	return fmt.Sprintf("provision %s: %v", e.Version, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

func (e *ProvisionError) Is(target error) bool { return target == ErrProvisioning }

// StatusError reports a manifest asset the origin answered with a non-2xx
// status.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Status)
}

// Temporary reports whether the origin may answer differently on retry.
func (e *StatusError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}
