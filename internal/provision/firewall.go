package provision

import (
	"context"
	"strings"

	"github.com/FainiDenis/rpi-setup/internal/steps"
)

// baselineRules are the ufw allow targets every host gets: SSH and the
// Cockpit console.
var baselineRules = []string{"OpenSSH", "9090/tcp"}

// FirewallStep applies the ufw baseline: default deny incoming, allow the
// baseline rules, enable. ufw itself skips duplicate rules, and the probe
// reports satisfied once active with all rules present, so a second apply
// yields the same rule set.
func (e *Env) FirewallStep() steps.Step {
	return e.firewallStep("firewall baseline", baselineRules)
}

// FirewallAllowStep opens additional targets (e.g. Samba) on an already
// configured firewall.
func (e *Env) FirewallAllowStep(name string, rules ...string) steps.Step {
	return e.firewallStep(name, rules)
}

func (e *Env) firewallStep(name string, rules []string) steps.Step {
	return steps.Step{
		Name:  name,
		Fatal: true,
		Probe: func(ctx context.Context) (bool, error) {
			res, err := e.Exec.Run(ctx, "ufw", "status")
			if err != nil {
				return false, err
			}
			return firewallSatisfied(res.Stdout, rules), nil
		},
		Apply: func(ctx context.Context) error {
			if _, err := e.Exec.Run(ctx, "ufw", "default", "deny", "incoming"); err != nil {
				return err
			}
			if _, err := e.Exec.Run(ctx, "ufw", "default", "allow", "outgoing"); err != nil {
				return err
			}
			for _, r := range rules {
				if _, err := e.Exec.Run(ctx, "ufw", "allow", r); err != nil {
					return err
				}
			}
			_, err := e.Exec.Run(ctx, "ufw", "--force", "enable")
			return err
		},
	}
}

// firewallSatisfied parses `ufw status` output: the firewall must be
// active and every rule target present.
func firewallSatisfied(statusOut string, rules []string) bool {
	if !strings.Contains(statusOut, "Status: active") {
		return false
	}
	for _, r := range rules {
		found := false
		for _, ln := range strings.Split(statusOut, "\n") {
			fields := strings.Fields(ln)
			if len(fields) > 0 && fields[0] == r {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
