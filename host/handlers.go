package host

import (
	"hostagent/capability"
)

// RegisterAll binds every host operation into the registry under its wire
// identifier. The identifiers are the agent's wire contract; renaming one
// breaks existing callers.
func RegisterAll(reg *capability.Registry, h *Host) error {
	bindings := []struct {
		command string
		handler capability.Handler
	}{
		{"CommandExec", capability.Func(h.CommandExec)},
		{"PackageInstalled", capability.Func(h.PackageInstalled)},
		{"PackageInstall", capability.Func(h.PackageInstall)},
		{"PackageUninstall", capability.Func(h.PackageUninstall)},
		{"ServiceRunning", capability.Func(h.ServiceRunning)},
		{"ServiceAction", capability.Func(h.ServiceAction)},
		{"ServiceEnabled", capability.Func(h.ServiceEnabled)},
		{"ServiceEnable", capability.Func(h.ServiceEnable)},
		{"ServiceDisable", capability.Func(h.ServiceDisable)},
		{"TelemetryLoad", capability.Func(h.TelemetryLoad)},
	}
	for _, b := range bindings {
		if err := reg.Register(b.command, b.handler); err != nil {
			return err
		}
	}
	return nil
}
