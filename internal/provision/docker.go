package provision

import (
	"context"
	"fmt"
	"strings"

	"github.com/FainiDenis/rpi-setup/internal/apt"
	"github.com/FainiDenis/rpi-setup/internal/steps"
)

// DockerRepo is Docker's official apt repository for Debian derivatives.
var DockerRepo = apt.Repo{
	Name:       "docker",
	KeyURL:     "https://download.docker.com/linux/debian/gpg",
	SourceLine: "deb [signed-by={keyring}] https://download.docker.com/linux/debian bookworm stable",
}

var dockerPackages = []string{
	"docker-ce", "docker-ce-cli", "containerd.io", "docker-compose-plugin",
}

const portainerImage = "portainer/portainer-ce:latest"

// DockerSteps install the Docker engine from the upstream repository,
// start it, and put the admin user in the docker group.
func (e *Env) DockerSteps() []steps.Step {
	return []steps.Step{
		{
			Name:  "docker engine",
			Fatal: true,
			Probe: func(ctx context.Context) (bool, error) {
				missing, err := e.Apt.Missing(ctx, dockerPackages...)
				return len(missing) == 0, err
			},
			Apply: func(ctx context.Context) error {
				if err := e.Apt.EnsureRepo(ctx, DockerRepo); err != nil {
					return err
				}
				return e.Apt.Install(ctx, dockerPackages...)
			},
		},
		{
			Name:  "docker service",
			Fatal: true,
			Probe: func(ctx context.Context) (bool, error) {
				return e.Probe.ServiceActive(ctx, "docker")
			},
			Apply: func(ctx context.Context) error {
				_, err := e.Exec.Run(ctx, "systemctl", "enable", "--now", "docker")
				return err
			},
		},
		{
			Name:  "docker group membership",
			Fatal: false,
			Probe: func(ctx context.Context) (bool, error) {
				user := e.adminUser()
				if user == "" {
					return true, nil
				}
				res, err := e.Exec.Run(ctx, "id", "-nG", user)
				if err != nil {
					return false, err
				}
				for _, g := range strings.Fields(res.Stdout) {
					if g == "docker" {
						return true, nil
					}
				}
				return false, nil
			},
			Apply: func(ctx context.Context) error {
				_, err := e.Exec.Run(ctx, "usermod", "-aG", "docker", e.adminUser())
				return err
			},
		},
	}
}

// PortainerStep runs the Portainer CE container with a persistent volume.
func (e *Env) PortainerStep() steps.Step {
	return steps.Step{
		Name:  "portainer container",
		Fatal: true,
		Probe: func(ctx context.Context) (bool, error) {
			res, err := e.Exec.Run(ctx, "docker", "ps", "-a", "--filter", "name=portainer", "--format", "{{.Names}}")
			if err != nil {
				return false, err
			}
			for _, name := range strings.Split(res.Stdout, "\n") {
				if strings.TrimSpace(name) == "portainer" {
					return true, nil
				}
			}
			return false, nil
		},
		Apply: func(ctx context.Context) error {
			if _, err := e.Exec.Run(ctx, "docker", "volume", "create", "portainer_data"); err != nil {
				return fmt.Errorf("portainer volume: %w", err)
			}
			_, err := e.Exec.Run(ctx, "docker", "run", "-d",
				"-p", "8000:8000", "-p", "9443:9443",
				"--name", "portainer", "--restart=always",
				"-v", "/var/run/docker.sock:/var/run/docker.sock",
				"-v", "portainer_data:/data",
				portainerImage)
			return err
		},
	}
}

// adminUser is the account that ends up owning docker access: the renamed
// user when a rename is configured, the stock account otherwise.
func (e *Env) adminUser() string {
	if e.Cfg.NewUser != "" {
		return e.Cfg.NewUser
	}
	return e.Cfg.OldUser
}
