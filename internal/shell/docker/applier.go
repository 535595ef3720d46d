package docker

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/artpar/stacker/internal/core/topology"
)

// =============================================================================
// Applier
// =============================================================================

// Applier materializes a resolved topology against a Docker daemon. It owns
// the naming scheme for the resources it creates and tags everything with
// com.stacker.* labels so Down can find it again without local state.
type Applier struct {
	client Client
	logger *slog.Logger
}

// NewApplier creates an applier backed by the given client.
func NewApplier(client Client, logger *slog.Logger) *Applier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Applier{client: client, logger: logger}
}

// NetworkName returns the daemon-level name for a topology network.
func NetworkName(project, network string) string {
	return fmt.Sprintf("%s_%s", project, network)
}

// VolumeName returns the daemon-level name for a topology volume.
func VolumeName(project, volume string) string {
	return fmt.Sprintf("%s_%s", project, volume)
}

// ContainerName returns the name for replica n (1-based) of a service.
func ContainerName(project, service string, n int) string {
	return fmt.Sprintf("%s-%s-%d", project, service, n)
}

// =============================================================================
// Apply
// =============================================================================

// Apply creates the networks, volumes, and containers for the topology and
// starts the containers in dependency order. Resources that already exist are
// left in place, so re-applying after a partial failure converges.
func (a *Applier) Apply(project string, topo *topology.Topology) error {
	if err := a.applyNetworks(project, topo); err != nil {
		return err
	}
	if err := a.applyVolumes(project, topo); err != nil {
		return err
	}

	for _, name := range topology.StartOrder(topo) {
		svc := topo.Service(name)
		if err := a.applyService(project, svc); err != nil {
			return err
		}
	}

	return nil
}

func (a *Applier) applyNetworks(project string, topo *topology.Topology) error {
	for _, net := range projectNetworks(topo) {
		if net.External {
			continue
		}

		name := NetworkName(project, net.Name)
		_, err := a.client.CreateNetwork(NetworkSpec{
			Name:   name,
			Driver: net.Driver,
			Labels: a.labels(project, "", net.Labels),
		})
		if err != nil {
			if errors.Is(err, ErrNetworkAlreadyExists) {
				a.logger.Debug("network already exists", "network", name)
				continue
			}
			return err
		}
		a.logger.Info("created network", "network", name)
	}

	return nil
}

func (a *Applier) applyVolumes(project string, topo *topology.Topology) error {
	for _, vol := range topo.Volumes {
		if vol.External {
			continue
		}

		name := VolumeName(project, vol.Name)
		_, err := a.client.CreateVolume(VolumeSpec{
			Name:   name,
			Driver: vol.Driver,
			Labels: a.labels(project, "", vol.Labels),
		})
		if err != nil {
			return err
		}
		a.logger.Info("created volume", "volume", name)
	}

	return nil
}

func (a *Applier) applyService(project string, svc *topology.Service) error {
	if svc.Image == "" {
		return NewDockerError("Apply", "service", svc.Name, "service has no image", ErrBuildNotSupported)
	}

	if svc.Scale > 1 {
		for _, p := range svc.Ports {
			if p.Published != 0 {
				return NewDockerError("Apply", "service", svc.Name,
					fmt.Sprintf("cannot scale to %d with published port %d", svc.Scale, p.Published),
					ErrScaledPublishedPort)
			}
		}
	}

	if err := a.ensureImage(svc.Image); err != nil {
		return err
	}

	for n := 1; n <= svc.Scale; n++ {
		spec := a.containerSpec(project, svc, n)

		id, err := a.client.CreateContainer(spec)
		if err != nil {
			if errors.Is(err, ErrContainerAlreadyExists) {
				a.logger.Debug("container already exists", "container", spec.Name)
				continue
			}
			return err
		}

		if err := a.client.StartContainer(id); err != nil {
			return err
		}
		a.logger.Info("started container", "container", spec.Name, "image", svc.Image)
	}

	return nil
}

func (a *Applier) ensureImage(img string) error {
	exists, err := a.client.ImageExists(img)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	a.logger.Info("pulling image", "image", img)
	return a.client.PullImage(img, PullOptions{})
}

func (a *Applier) containerSpec(project string, svc *topology.Service, n int) ContainerSpec {
	spec := ContainerSpec{
		Name:       ContainerName(project, svc.Name, n),
		Image:      svc.Image,
		Command:    svc.Command,
		Entrypoint: svc.Entrypoint,
		Env:        svc.Environment,
		Labels:     a.labels(project, svc.Name, svc.Labels),
		RestartPolicy: RestartPolicy{
			Name: string(svc.Restart),
		},
		Resources: ResourceLimits{
			CPULimit:    svc.Resources.CPULimit,
			MemoryLimit: svc.Resources.MemoryLimit,
		},
	}

	for _, p := range svc.Ports {
		spec.Ports = append(spec.Ports, PortBinding{
			ContainerPort: int(p.Target),
			HostPort:      int(p.Published),
			Protocol:      p.Protocol,
			HostIP:        p.HostIP,
		})
	}

	for _, v := range svc.Volumes {
		source := v.Source
		if v.Type == topology.VolumeMountTypeVolume {
			source = VolumeName(project, v.Source)
		}
		spec.Volumes = append(spec.Volumes, VolumeMount{
			Source:   source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		})
	}

	networks := svc.Networks
	if len(networks) == 0 {
		networks = []string{topology.DefaultNetwork}
	}
	spec.NetworkAliases = make(map[string][]string, len(networks))
	for _, net := range networks {
		name := NetworkName(project, net)
		spec.Networks = append(spec.Networks, name)
		// The service name resolves to the container over the project network,
		// so depends_on peers can reach it by its topology name.
		spec.NetworkAliases[name] = []string{svc.Name}
	}

	if svc.HealthCheck != nil {
		spec.HealthCheck = &HealthCheck{
			Test:        svc.HealthCheck.Test,
			Interval:    parseDuration(svc.HealthCheck.Interval),
			Timeout:     parseDuration(svc.HealthCheck.Timeout),
			Retries:     svc.HealthCheck.Retries,
			StartPeriod: parseDuration(svc.HealthCheck.StartPeriod),
		}
	}

	return spec
}

func (a *Applier) labels(project, service string, extra map[string]string) map[string]string {
	labels := map[string]string{
		LabelManaged: "true",
		LabelProject: project,
	}
	if service != "" {
		labels[LabelService] = service
	}
	for k, v := range extra {
		labels[k] = v
	}
	return labels
}

// projectNetworks returns the declared networks plus the implicit default
// network when any service relies on it.
func projectNetworks(topo *topology.Topology) []topology.Network {
	networks := make([]topology.Network, len(topo.Networks))
	copy(networks, topo.Networks)

	declared := false
	for _, net := range networks {
		if net.Name == topology.DefaultNetwork {
			declared = true
			break
		}
	}
	if !declared {
		for _, svc := range topo.Services {
			if len(svc.Networks) == 0 {
				networks = append(networks, topology.Network{Name: topology.DefaultNetwork})
				break
			}
		}
	}

	return networks
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// =============================================================================
// Down
// =============================================================================

// Down stops and removes every container labeled with the project, then
// removes the project's networks. Volumes are kept unless removeVolumes is
// set, so data survives a routine teardown.
func (a *Applier) Down(project string, topo *topology.Topology, removeVolumes bool) error {
	containers, err := a.client.ListContainers(ListOptions{
		All:     true,
		Filters: map[string]string{"label": LabelProject + "=" + project},
	})
	if err != nil {
		return err
	}

	stopTimeout := 10 * time.Second
	for _, c := range containers {
		if c.State == "running" {
			if err := a.client.StopContainer(c.ID, &stopTimeout); err != nil && !errors.Is(err, ErrContainerNotRunning) {
				return err
			}
		}
		if err := a.client.RemoveContainer(c.ID, RemoveOptions{Force: true}); err != nil && !errors.Is(err, ErrContainerNotFound) {
			return err
		}
		a.logger.Info("removed container", "container", c.Name)
	}

	for _, net := range projectNetworks(topo) {
		if net.External {
			continue
		}
		name := NetworkName(project, net.Name)
		if err := a.client.RemoveNetwork(name); err != nil && !errors.Is(err, ErrNetworkNotFound) {
			return err
		}
		a.logger.Info("removed network", "network", name)
	}

	if removeVolumes {
		for _, vol := range topo.Volumes {
			if vol.External {
				continue
			}
			name := VolumeName(project, vol.Name)
			if err := a.client.RemoveVolume(name, false); err != nil && !errors.Is(err, ErrVolumeNotFound) {
				return err
			}
			a.logger.Info("removed volume", "volume", name)
		}
	}

	return nil
}
