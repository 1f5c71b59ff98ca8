package host

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// PackageProvider abstracts one package manager. Exactly one provider is
// selected per host by runtime detection.
type PackageProvider interface {
	Name() string
	Installed(ctx context.Context, pkg string) (bool, error)
	Install(ctx context.Context, pkg string) error
	Uninstall(ctx context.Context, pkg string) error
}

// detectPackageProvider picks the first package manager whose tooling is
// present, in a fixed preference order.
func detectPackageProvider() (PackageProvider, error) {
	for _, p := range []PackageProvider{aptProvider{}, dnfProvider{}, yumProvider{}, brewProvider{}} {
		if _, err := exec.LookPath(p.Name()); err == nil {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no supported package manager found on this host")
}

// PackageArgs is the argument shape shared by the package operations.
type PackageArgs struct {
	Name string `json:"name"`
}

// PackageResult reports an idempotent package mutation. Changed is false
// when the host was already in the requested state and nothing ran.
type PackageResult struct {
	Name    string `json:"name"`
	Changed bool   `json:"changed"`
}

// PackageInstalled checks whether the package is installed.
func (h *Host) PackageInstalled(ctx context.Context, args PackageArgs) (bool, error) {
	p, err := h.packageProvider()
	if err != nil {
		return false, err
	}
	return p.Installed(ctx, args.Name)
}

// PackageInstall installs the package if it is not already installed.
func (h *Host) PackageInstall(ctx context.Context, args PackageArgs) (PackageResult, error) {
	p, err := h.packageProvider()
	if err != nil {
		return PackageResult{}, err
	}
	installed, err := p.Installed(ctx, args.Name)
	if err != nil {
		return PackageResult{}, err
	}
	if installed {
		return PackageResult{Name: args.Name, Changed: false}, nil
	}
	if err := p.Install(ctx, args.Name); err != nil {
		return PackageResult{}, err
	}
	return PackageResult{Name: args.Name, Changed: true}, nil
}

// PackageUninstall removes the package if it is installed.
func (h *Host) PackageUninstall(ctx context.Context, args PackageArgs) (PackageResult, error) {
	p, err := h.packageProvider()
	if err != nil {
		return PackageResult{}, err
	}
	installed, err := p.Installed(ctx, args.Name)
	if err != nil {
		return PackageResult{}, err
	}
	if !installed {
		return PackageResult{Name: args.Name, Changed: false}, nil
	}
	if err := p.Uninstall(ctx, args.Name); err != nil {
		return PackageResult{}, err
	}
	return PackageResult{Name: args.Name, Changed: true}, nil
}

// apt (Debian, Ubuntu)

type aptProvider struct{}

func (aptProvider) Name() string { return "apt-get" }

func (aptProvider) Installed(ctx context.Context, pkg string) (bool, error) {
	ok, out, err := run(ctx, "dpkg-query", "-W", "-f=${Status}", pkg)
	if err != nil {
		return false, err
	}
	return ok && strings.Contains(out, "install ok installed"), nil
}

func (aptProvider) Install(ctx context.Context, pkg string) error {
	return runChecked(ctx, "apt-get", "install", "-y", pkg)
}

func (aptProvider) Uninstall(ctx context.Context, pkg string) error {
	return runChecked(ctx, "apt-get", "remove", "-y", pkg)
}

// dnf (Fedora, newer RHEL)

type dnfProvider struct{}

func (dnfProvider) Name() string { return "dnf" }

func (dnfProvider) Installed(ctx context.Context, pkg string) (bool, error) {
	ok, _, err := run(ctx, "rpm", "-q", pkg)
	return ok, err
}

func (dnfProvider) Install(ctx context.Context, pkg string) error {
	return runChecked(ctx, "dnf", "install", "-y", pkg)
}

func (dnfProvider) Uninstall(ctx context.Context, pkg string) error {
	return runChecked(ctx, "dnf", "remove", "-y", pkg)
}

// yum (older RHEL, CentOS)

type yumProvider struct{}

func (yumProvider) Name() string { return "yum" }

func (yumProvider) Installed(ctx context.Context, pkg string) (bool, error) {
	ok, _, err := run(ctx, "rpm", "-q", pkg)
	return ok, err
}

func (yumProvider) Install(ctx context.Context, pkg string) error {
	return runChecked(ctx, "yum", "install", "-y", pkg)
}

func (yumProvider) Uninstall(ctx context.Context, pkg string) error {
	return runChecked(ctx, "yum", "remove", "-y", pkg)
}

// homebrew (macOS)

type brewProvider struct{}

func (brewProvider) Name() string { return "brew" }

func (brewProvider) Installed(ctx context.Context, pkg string) (bool, error) {
	ok, _, err := run(ctx, "brew", "list", "--versions", pkg)
	return ok, err
}

func (brewProvider) Install(ctx context.Context, pkg string) error {
	return runChecked(ctx, "brew", "install", pkg)
}

func (brewProvider) Uninstall(ctx context.Context, pkg string) error {
	return runChecked(ctx, "brew", "uninstall", pkg)
}
