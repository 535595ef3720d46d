package topology

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// Loading
// =============================================================================

// Load loads a fully substituted Compose-shaped document into a Topology.
// This is a pure function - no I/O, no side effects. The document must not
// contain unresolved ${VAR} placeholders; substitution happens upstream.
func Load(doc map[string]any) (*Topology, error) {
	if len(doc) == 0 {
		return nil, ErrEmptyInput
	}

	// Port bounds are checked on the raw tree so out-of-range values surface
	// with a field path instead of a decode error from the loader.
	if err := checkPortBounds(doc); err != nil {
		return nil, err
	}

	project, err := loadProject(doc)
	if err != nil {
		return nil, err
	}

	if err := checkUnsupportedFeatures(project); err != nil {
		return nil, err
	}

	if len(project.Services) == 0 {
		return nil, ErrNoServices
	}

	topo := &Topology{
		Services: make([]Service, 0, len(project.Services)),
		Networks: make([]Network, 0, len(project.Networks)),
		Volumes:  make([]Volume, 0, len(project.Volumes)),
	}

	// Convert services in name order so output is deterministic.
	names := make([]string, 0, len(project.Services))
	for name := range project.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		converted, err := convertService(name, project.Services[name])
		if err != nil {
			return nil, err
		}
		topo.Services = append(topo.Services, converted)
	}

	for name, net := range project.Networks {
		topo.Networks = append(topo.Networks, convertNetwork(name, net))
	}
	sort.Slice(topo.Networks, func(i, j int) bool { return topo.Networks[i].Name < topo.Networks[j].Name })

	for name, vol := range project.Volumes {
		topo.Volumes = append(topo.Volumes, convertVolume(name, vol))
	}
	sort.Slice(topo.Volumes, func(i, j int) bool { return topo.Volumes[i].Name < topo.Volumes[j].Name })

	return topo, nil
}

// checkPortBounds validates port numbers in the raw document tree before it
// reaches the loader, which would otherwise reject them with an opaque decode
// error. Entries with shapes we cannot read are left for the loader.
func checkPortBounds(doc map[string]any) error {
	services, ok := doc["services"].(map[string]any)
	if !ok {
		return nil
	}

	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		svc, ok := services[name].(map[string]any)
		if !ok {
			continue
		}
		ports, ok := svc["ports"].([]any)
		if !ok {
			continue
		}
		for i, entry := range ports {
			path := fmt.Sprintf("services.%s.ports[%d]", name, i)
			if err := checkPortEntry(entry, path); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkPortEntry(entry any, path string) error {
	switch e := entry.(type) {
	case int:
		return checkPortValue(e, path)
	case string:
		// [host-ip:][published:]target[/protocol], segments may be ranges.
		spec := e
		if idx := strings.LastIndex(spec, "/"); idx >= 0 {
			spec = spec[:idx]
		}
		segments := strings.Split(spec, ":")
		if len(segments) > 2 {
			// Drop the host IP, keep published and target.
			segments = segments[len(segments)-2:]
		}
		for _, segment := range segments {
			if segment == "" {
				continue
			}
			for _, token := range strings.Split(segment, "-") {
				n, err := strconv.Atoi(token)
				if err != nil {
					return NewFieldError(path, fmt.Sprintf("port %q must be numeric", token), ErrInvalidPort)
				}
				if err := checkPortValue(n, path); err != nil {
					return err
				}
			}
		}
	case map[string]any:
		for _, field := range []string{"target", "published"} {
			switch v := e[field].(type) {
			case int:
				if err := checkPortValue(v, path); err != nil {
					return err
				}
			case string:
				n, err := strconv.Atoi(v)
				if err != nil {
					return NewFieldError(path, fmt.Sprintf("port %q must be numeric", v), ErrInvalidPort)
				}
				if err := checkPortValue(n, path); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func checkPortValue(n int, path string) error {
	if n < 1 || n > 65535 {
		return NewFieldError(path, fmt.Sprintf("port %d is out of range (1-65535)", n), ErrInvalidPort)
	}
	return nil
}

// loadProject loads a document tree through the compose-go loader. The loader
// panics on some malformed trees, so a recover turns those into errors.
func loadProject(doc map[string]any) (project *types.Project, err error) {
	defer func() {
		if r := recover(); r != nil {
			project = nil
			err = NewFieldError("", fmt.Sprintf("invalid document structure: %v", r), ErrInvalidDocument)
		}
	}()

	content, err := yaml.Marshal(doc)
	if err != nil {
		return nil, NewFieldError("", "cannot encode document", ErrInvalidDocument)
	}

	project, err = loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Content: content,
				Config:  doc,
			},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName("stacker-temp", false)
		// Substitution is the resolver's job and has already happened;
		// schema-level validation is done here by hand so error kinds
		// stay ours.
		opts.SkipInterpolation = true
		opts.SkipValidation = true
		// Don't resolve paths since we're in-memory
		opts.SkipNormalization = true
		opts.SkipExtends = true // Don't try to load external files
	})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "dependency cycle detected") {
			return nil, NewFieldError("", "circular dependency detected", ErrCircularDependency)
		}
		return nil, NewFieldError("", errStr, ErrInvalidDocument)
	}

	return project, nil
}

// checkUnsupportedFeatures checks for features we don't support.
func checkUnsupportedFeatures(project *types.Project) error {
	if len(project.Secrets) > 0 {
		return NewFieldError("secrets", "secrets are not supported", ErrUnsupportedFeature)
	}

	if len(project.Configs) > 0 {
		return NewFieldError("configs", "configs are not supported", ErrUnsupportedFeature)
	}

	for name, svc := range project.Services {
		if svc.Extends != nil && svc.Extends.File != "" {
			return NewFieldError("services."+name+".extends", "extends is not supported", ErrUnsupportedFeature)
		}
	}

	return nil
}

// convertService converts a compose-go service to our Service type.
func convertService(name string, svc types.ServiceConfig) (Service, error) {
	service := Service{
		Name:        name,
		Image:       svc.Image,
		Command:     svc.Command,
		Entrypoint:  svc.Entrypoint,
		Scale:       1,
		Environment: make(map[string]string),
		Labels:      make(map[string]string),
		Networks:    make([]string, 0),
		DependsOn:   make([]string, 0),
	}

	// Build config
	if svc.Build != nil {
		service.Build = &BuildConfig{
			Context:    svc.Build.Context,
			Dockerfile: svc.Build.Dockerfile,
		}
	}

	if service.Image == "" && service.Build == nil {
		return Service{}, NewFieldError("services."+name, "service must have image or build", ErrServiceNoImage)
	}

	// Ports
	for _, p := range svc.Ports {
		var published uint32
		if p.Published != "" {
			pub, err := strconv.ParseUint(p.Published, 10, 32)
			if err != nil {
				return Service{}, NewFieldError("services."+name+".ports", "published port must be numeric", ErrInvalidPort)
			}
			published = uint32(pub)
		}
		service.Ports = append(service.Ports, Port{
			Target:    p.Target,
			Published: published,
			Protocol:  p.Protocol,
			HostIP:    p.HostIP,
		})
	}

	// Environment. Entries without a value were already resolved or dropped
	// by the resolution environment; nil values are skipped here.
	for k, v := range svc.Environment {
		if v != nil {
			service.Environment[k] = *v
		}
	}

	// Volumes
	for _, v := range svc.Volumes {
		mount := VolumeMount{
			Source:   v.Source,
			Target:   v.Target,
			ReadOnly: v.ReadOnly,
		}
		switch v.Type {
		case "bind":
			mount.Type = VolumeMountTypeBind
		case "volume":
			mount.Type = VolumeMountTypeVolume
		case "tmpfs":
			mount.Type = VolumeMountTypeTmpfs
		default:
			// Infer type from source
			if strings.HasPrefix(v.Source, "./") || strings.HasPrefix(v.Source, "/") || strings.HasPrefix(v.Source, "~") {
				mount.Type = VolumeMountTypeBind
			} else {
				mount.Type = VolumeMountTypeVolume
			}
		}
		service.Volumes = append(service.Volumes, mount)
	}

	// Networks
	for net := range svc.Networks {
		service.Networks = append(service.Networks, net)
	}
	sort.Strings(service.Networks)

	// DependsOn
	for dep := range svc.DependsOn {
		service.DependsOn = append(service.DependsOn, dep)
	}
	sort.Strings(service.DependsOn)

	// Scale from deploy.replicas (default 1)
	if svc.Deploy != nil && svc.Deploy.Replicas != nil {
		service.Scale = *svc.Deploy.Replicas
	}

	// Restart policy
	service.Restart = RestartPolicy(svc.Restart)

	// Labels
	for k, v := range svc.Labels {
		service.Labels[k] = v
	}

	// HealthCheck
	if svc.HealthCheck != nil && !svc.HealthCheck.Disable {
		service.HealthCheck = &HealthCheck{
			Test: svc.HealthCheck.Test,
		}
		if svc.HealthCheck.Retries != nil {
			service.HealthCheck.Retries = int(*svc.HealthCheck.Retries)
		}
		if svc.HealthCheck.Interval != nil {
			service.HealthCheck.Interval = svc.HealthCheck.Interval.String()
		}
		if svc.HealthCheck.Timeout != nil {
			service.HealthCheck.Timeout = svc.HealthCheck.Timeout.String()
		}
		if svc.HealthCheck.StartPeriod != nil {
			service.HealthCheck.StartPeriod = svc.HealthCheck.StartPeriod.String()
		}
	}

	// Resources
	// Note: compose-go's NanoCPUs is misnamed - it's actually the CPU count as float32
	if svc.Deploy != nil && svc.Deploy.Resources.Limits != nil {
		limits := svc.Deploy.Resources.Limits
		service.Resources.CPULimit = float64(limits.NanoCPUs)
		service.Resources.MemoryLimit = int64(limits.MemoryBytes)
	}
	if svc.Deploy != nil && svc.Deploy.Resources.Reservations != nil {
		reservations := svc.Deploy.Resources.Reservations
		service.Resources.CPUReservation = float64(reservations.NanoCPUs)
		service.Resources.MemoryReservation = int64(reservations.MemoryBytes)
	}

	return service, nil
}

// convertNetwork converts a compose-go network to our Network type.
func convertNetwork(name string, net types.NetworkConfig) Network {
	return Network{
		Name:       name,
		Driver:     net.Driver,
		External:   bool(net.External),
		Internal:   net.Internal,
		Attachable: net.Attachable,
		Labels:     net.Labels,
	}
}

// convertVolume converts a compose-go volume to our Volume type.
func convertVolume(name string, vol types.VolumeConfig) Volume {
	return Volume{
		Name:     name,
		Driver:   vol.Driver,
		External: bool(vol.External),
		Labels:   vol.Labels,
	}
}
