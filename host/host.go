// Package host is the agent's capability library: the concrete
// system-management operations the dispatch layer invokes. Each operation
// is a plain context-aware function communicating success or failure
// through its error return; the dispatch layer binds them into a capability
// registry via RegisterAll.
//
// Package and service management go through providers selected by runtime
// detection of the tooling present on the host (apt/dnf/yum/homebrew,
// systemd/sysvinit).
package host

import (
	"sync"
)

// Host is a handle on the local machine. Provider detection runs on first
// use and is cached; a host without a usable provider only fails when an
// operation actually needs one.
type Host struct {
	pkgOnce sync.Once
	pkg     PackageProvider
	pkgErr  error

	svcOnce sync.Once
	svc     ServiceProvider
	svcErr  error
}

// NewHost creates a handle on the local machine.
func NewHost() *Host {
	return &Host{}
}

func (h *Host) packageProvider() (PackageProvider, error) {
	h.pkgOnce.Do(func() {
		h.pkg, h.pkgErr = detectPackageProvider()
	})
	return h.pkg, h.pkgErr
}

func (h *Host) serviceProvider() (ServiceProvider, error) {
	h.svcOnce.Do(func() {
		h.svc, h.svcErr = detectServiceProvider()
	})
	return h.svc, h.svcErr
}
