package provision

import "github.com/FainiDenis/rpi-setup/internal/steps"

// SetupSequence is the full host provisioning run, in the only order that
// works: identity first, then packages, then services, then the firewall
// closing everything else down.
func (e *Env) SetupSequence() []steps.Step {
	out := []steps.Step{e.PlatformStep()}
	out = append(out, e.HostnameSteps()...)
	out = append(out, e.RenameUserStep())
	out = append(out, e.SSHStep())
	out = append(out, e.BasePackagesStep())
	out = append(out, e.DockerSteps()...)
	out = append(out, e.PortainerStep())
	out = append(out, e.CockpitSteps()...)
	out = append(out, e.RemoteAccessStep())
	out = append(out, e.FirewallStep())
	return out
}

// SambaSequence provisions the file share.
func (e *Env) SambaSequence() []steps.Step {
	out := []steps.Step{e.PlatformStep()}
	out = append(out, e.SambaSteps()...)
	return out
}
