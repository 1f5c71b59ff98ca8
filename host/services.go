package host

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ServiceProvider abstracts one service manager.
type ServiceProvider interface {
	Name() string
	Running(ctx context.Context, svc string) (bool, error)
	Action(ctx context.Context, svc, action string) error
	Enabled(ctx context.Context, svc string) (bool, error)
	Enable(ctx context.Context, svc string) error
	Disable(ctx context.Context, svc string) error
}

func detectServiceProvider() (ServiceProvider, error) {
	if _, err := exec.LookPath("systemctl"); err == nil {
		return systemdProvider{}, nil
	}
	if _, err := exec.LookPath("service"); err == nil {
		return sysvProvider{}, nil
	}
	return nil, fmt.Errorf("no supported service manager found on this host")
}

// ServiceArgs selects a service by name.
type ServiceArgs struct {
	Name string `json:"name"`
}

// ServiceActionArgs is the argument shape of ServiceAction. Actions are
// specific to the service's own configuration ("start", "stop", "reload",
// …) and are passed through to the service manager.
type ServiceActionArgs struct {
	Name   string `json:"name"`
	Action string `json:"action"`
}

// ServiceResult reports an idempotent service mutation.
type ServiceResult struct {
	Name    string `json:"name"`
	Changed bool   `json:"changed"`
}

// ServiceRunning checks whether the service is currently running.
func (h *Host) ServiceRunning(ctx context.Context, args ServiceArgs) (bool, error) {
	p, err := h.serviceProvider()
	if err != nil {
		return false, err
	}
	return p.Running(ctx, args.Name)
}

// ServiceAction performs an action on the service. "start" and "stop" are
// idempotent against the current running state; other actions always run.
func (h *Host) ServiceAction(ctx context.Context, args ServiceActionArgs) (ServiceResult, error) {
	p, err := h.serviceProvider()
	if err != nil {
		return ServiceResult{}, err
	}

	if args.Action == "start" || args.Action == "stop" {
		running, err := p.Running(ctx, args.Name)
		if err != nil {
			return ServiceResult{}, err
		}
		if (args.Action == "start") == running {
			return ServiceResult{Name: args.Name, Changed: false}, nil
		}
	}
	if err := p.Action(ctx, args.Name, args.Action); err != nil {
		return ServiceResult{}, err
	}
	return ServiceResult{Name: args.Name, Changed: true}, nil
}

// ServiceEnabled checks whether the service starts at boot.
func (h *Host) ServiceEnabled(ctx context.Context, args ServiceArgs) (bool, error) {
	p, err := h.serviceProvider()
	if err != nil {
		return false, err
	}
	return p.Enabled(ctx, args.Name)
}

// ServiceEnable marks the service to start at boot.
func (h *Host) ServiceEnable(ctx context.Context, args ServiceArgs) (ServiceResult, error) {
	p, err := h.serviceProvider()
	if err != nil {
		return ServiceResult{}, err
	}
	enabled, err := p.Enabled(ctx, args.Name)
	if err != nil {
		return ServiceResult{}, err
	}
	if enabled {
		return ServiceResult{Name: args.Name, Changed: false}, nil
	}
	if err := p.Enable(ctx, args.Name); err != nil {
		return ServiceResult{}, err
	}
	return ServiceResult{Name: args.Name, Changed: true}, nil
}

// ServiceDisable unmarks the service from starting at boot.
func (h *Host) ServiceDisable(ctx context.Context, args ServiceArgs) (ServiceResult, error) {
	p, err := h.serviceProvider()
	if err != nil {
		return ServiceResult{}, err
	}
	enabled, err := p.Enabled(ctx, args.Name)
	if err != nil {
		return ServiceResult{}, err
	}
	if !enabled {
		return ServiceResult{Name: args.Name, Changed: false}, nil
	}
	if err := p.Disable(ctx, args.Name); err != nil {
		return ServiceResult{}, err
	}
	return ServiceResult{Name: args.Name, Changed: true}, nil
}

// systemd

type systemdProvider struct{}

func (systemdProvider) Name() string { return "systemd" }

func (systemdProvider) Running(ctx context.Context, svc string) (bool, error) {
	// is-active exits non-zero for anything but "active".
	ok, _, err := run(ctx, "systemctl", "is-active", "--quiet", svc)
	return ok, err
}

func (systemdProvider) Action(ctx context.Context, svc, action string) error {
	return runChecked(ctx, "systemctl", action, svc)
}

func (systemdProvider) Enabled(ctx context.Context, svc string) (bool, error) {
	ok, _, err := run(ctx, "systemctl", "is-enabled", "--quiet", svc)
	return ok, err
}

func (systemdProvider) Enable(ctx context.Context, svc string) error {
	return runChecked(ctx, "systemctl", "enable", svc)
}

func (systemdProvider) Disable(ctx context.Context, svc string) error {
	return runChecked(ctx, "systemctl", "disable", svc)
}

// sysvinit via the service(8) wrapper. Boot-time enablement differs per
// distribution, so it goes through update-rc.d or chkconfig, whichever
// exists.

type sysvProvider struct{}

func (sysvProvider) Name() string { return "sysvinit" }

func (sysvProvider) Running(ctx context.Context, svc string) (bool, error) {
	ok, _, err := run(ctx, "service", svc, "status")
	return ok, err
}

func (sysvProvider) Action(ctx context.Context, svc, action string) error {
	return runChecked(ctx, "service", svc, action)
}

func (sysvProvider) Enabled(ctx context.Context, svc string) (bool, error) {
	if _, err := exec.LookPath("chkconfig"); err == nil {
		ok, _, err := run(ctx, "chkconfig", svc)
		return ok, err
	}
	// Debian-style sysvinit: enabled means an S-link exists in any rc
	// runlevel directory.
	ok, out, err := run(ctx, "ls", "/etc/rc2.d", "/etc/rc3.d", "/etc/rc4.d", "/etc/rc5.d")
	if err != nil || !ok {
		return false, err
	}
	for _, entry := range strings.Fields(out) {
		if strings.HasPrefix(entry, "S") && strings.HasSuffix(entry, svc) {
			return true, nil
		}
	}
	return false, nil
}

func (sysvProvider) Enable(ctx context.Context, svc string) error {
	if _, err := exec.LookPath("chkconfig"); err == nil {
		return runChecked(ctx, "chkconfig", svc, "on")
	}
	return runChecked(ctx, "update-rc.d", svc, "enable")
}

func (sysvProvider) Disable(ctx context.Context, svc string) error {
	if _, err := exec.LookPath("chkconfig"); err == nil {
		return runChecked(ctx, "chkconfig", svc, "off")
	}
	return runChecked(ctx, "update-rc.d", svc, "disable")
}
