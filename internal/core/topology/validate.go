package topology

import (
	"fmt"
	"strconv"
)

// =============================================================================
// Validation
// =============================================================================

// Validate checks referential integrity of a loaded topology: host port
// uniqueness across all services, volume and network references against the
// declared sets, port ranges, scale, and dependency cycles. On success the
// topology is returned to the caller unchanged; validation is side-effect-free.
func Validate(t *Topology) error {
	if len(t.Services) == 0 {
		return ErrNoServices
	}

	if err := validatePortRanges(t.Services); err != nil {
		return err
	}
	if err := validateScale(t.Services); err != nil {
		return err
	}
	if err := validateHostPortUniqueness(t.Services); err != nil {
		return err
	}
	if err := validateVolumeReferences(t); err != nil {
		return err
	}
	if err := validateNetworkReferences(t); err != nil {
		return err
	}
	if err := validateDependencyReferences(t.Services); err != nil {
		return err
	}
	return detectCircularDependencies(t.Services)
}

// validatePortRanges validates all port configurations.
func validatePortRanges(services []Service) error {
	for _, svc := range services {
		for i, port := range svc.Ports {
			path := "services." + svc.Name + ".ports[" + strconv.Itoa(i) + "]"
			if port.Target == 0 {
				return NewFieldError(path, "target port cannot be 0", ErrInvalidPort)
			}
			if port.Target > 65535 {
				return NewFieldError(path, "target port must be <= 65535", ErrInvalidPort)
			}
			if port.Published > 65535 {
				return NewFieldError(path, "published port must be <= 65535", ErrInvalidPort)
			}
		}
	}
	return nil
}

// validateScale rejects negative scale factors.
func validateScale(services []Service) error {
	for _, svc := range services {
		if svc.Scale < 0 {
			return NewFieldError("services."+svc.Name+".deploy.replicas", "scale cannot be negative", ErrInvalidScale)
		}
	}
	return nil
}

// validateHostPortUniqueness checks that no host port is published by more
// than one binding across the whole topology. Dynamic bindings (published 0)
// are exempt.
func validateHostPortUniqueness(services []Service) error {
	bound := make(map[uint32]string) // host port -> service name
	for _, svc := range services {
		for i, port := range svc.Ports {
			if port.Published == 0 {
				continue
			}
			if holder, ok := bound[port.Published]; ok {
				return NewFieldError(
					"services."+svc.Name+".ports["+strconv.Itoa(i)+"]",
					fmt.Sprintf("host port %d is already bound by service %q", port.Published, holder),
					ErrTopologyConflict,
				)
			}
			bound[port.Published] = svc.Name
		}
	}
	return nil
}

// validateVolumeReferences checks that every named-volume mount references a
// declared top-level volume.
func validateVolumeReferences(t *Topology) error {
	declared := make(map[string]bool, len(t.Volumes))
	for _, v := range t.Volumes {
		declared[v.Name] = true
	}

	for _, svc := range t.Services {
		for i, mount := range svc.Volumes {
			if mount.Type != VolumeMountTypeVolume {
				continue
			}
			if !declared[mount.Source] {
				return NewFieldError(
					"services."+svc.Name+".volumes["+strconv.Itoa(i)+"]",
					fmt.Sprintf("volume %q is not declared", mount.Source),
					ErrTopologyConflict,
				)
			}
		}
	}
	return nil
}

// validateNetworkReferences checks that every network a service joins is
// declared. The implicit default network is always considered declared.
func validateNetworkReferences(t *Topology) error {
	declared := map[string]bool{DefaultNetwork: true}
	for _, n := range t.Networks {
		declared[n.Name] = true
	}

	for _, svc := range t.Services {
		for _, net := range svc.Networks {
			if !declared[net] {
				return NewFieldError(
					"services."+svc.Name+".networks",
					fmt.Sprintf("network %q is not declared", net),
					ErrTopologyConflict,
				)
			}
		}
	}
	return nil
}

// validateDependencyReferences checks that depends_on entries name services
// that exist in the topology.
func validateDependencyReferences(services []Service) error {
	known := make(map[string]bool, len(services))
	for _, svc := range services {
		known[svc.Name] = true
	}

	for _, svc := range services {
		for _, dep := range svc.DependsOn {
			if !known[dep] {
				return NewFieldError(
					"services."+svc.Name+".depends_on",
					fmt.Sprintf("service %q is not declared", dep),
					ErrTopologyConflict,
				)
			}
		}
	}
	return nil
}

// detectCircularDependencies detects circular dependencies in service
// dependencies using DFS with a recursion stack.
func detectCircularDependencies(services []Service) error {
	deps := make(map[string][]string)
	for _, svc := range services {
		deps[svc.Name] = svc.DependsOn
	}

	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	var hasCycle func(node string) bool
	hasCycle = func(node string) bool {
		visited[node] = true
		recStack[node] = true

		for _, dep := range deps[node] {
			// Self-reference
			if dep == node {
				return true
			}
			if !visited[dep] {
				if hasCycle(dep) {
					return true
				}
			} else if recStack[dep] {
				return true
			}
		}

		recStack[node] = false
		return false
	}

	for _, svc := range services {
		if !visited[svc.Name] {
			if hasCycle(svc.Name) {
				return ErrCircularDependency
			}
		}
	}

	return nil
}

// =============================================================================
// Start Order
// =============================================================================

// StartOrder returns service names in dependency order: every service appears
// after all services it depends on. Validate must pass first; a cycle makes
// the order undefined.
func StartOrder(t *Topology) []string {
	indegree := make(map[string]int, len(t.Services))
	dependents := make(map[string][]string)

	for _, svc := range t.Services {
		indegree[svc.Name] += 0
		for _, dep := range svc.DependsOn {
			indegree[svc.Name]++
			dependents[dep] = append(dependents[dep], svc.Name)
		}
	}

	// Seed with services that depend on nothing, in topology order so the
	// result is deterministic.
	var queue []string
	for _, svc := range t.Services {
		if indegree[svc.Name] == 0 {
			queue = append(queue, svc.Name)
		}
	}

	var order []string
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		order = append(order, name)
		for _, dependent := range dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	return order
}
