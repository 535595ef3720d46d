package docker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/stacker/internal/core/topology"
)

// =============================================================================
// Fake Client
// =============================================================================

type fakeClient struct {
	createdContainers []ContainerSpec
	startedContainers []string
	stoppedContainers []string
	removedContainers []string
	createdNetworks   []NetworkSpec
	removedNetworks   []string
	createdVolumes    []VolumeSpec
	removedVolumes    []string
	pulledImages      []string

	localImages       map[string]bool
	existingContainer map[string]bool
	existingNetwork   map[string]bool
	listResult        []ContainerInfo
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		localImages:       map[string]bool{},
		existingContainer: map[string]bool{},
		existingNetwork:   map[string]bool{},
	}
}

func (f *fakeClient) CreateContainer(spec ContainerSpec) (string, error) {
	if f.existingContainer[spec.Name] {
		return "", NewDockerError("CreateContainer", "container", spec.Name, "container already exists", ErrContainerAlreadyExists)
	}
	f.createdContainers = append(f.createdContainers, spec)
	return "id-" + spec.Name, nil
}

func (f *fakeClient) StartContainer(id string) error {
	f.startedContainers = append(f.startedContainers, id)
	return nil
}

func (f *fakeClient) StopContainer(id string, timeout *time.Duration) error {
	f.stoppedContainers = append(f.stoppedContainers, id)
	return nil
}

func (f *fakeClient) RemoveContainer(id string, opts RemoveOptions) error {
	f.removedContainers = append(f.removedContainers, id)
	return nil
}

func (f *fakeClient) ListContainers(opts ListOptions) ([]ContainerInfo, error) {
	return f.listResult, nil
}

func (f *fakeClient) CreateNetwork(spec NetworkSpec) (string, error) {
	if f.existingNetwork[spec.Name] {
		return "", NewDockerError("CreateNetwork", "network", spec.Name, "network already exists", ErrNetworkAlreadyExists)
	}
	f.createdNetworks = append(f.createdNetworks, spec)
	return "net-" + spec.Name, nil
}

func (f *fakeClient) RemoveNetwork(id string) error {
	f.removedNetworks = append(f.removedNetworks, id)
	return nil
}

func (f *fakeClient) CreateVolume(spec VolumeSpec) (string, error) {
	f.createdVolumes = append(f.createdVolumes, spec)
	return spec.Name, nil
}

func (f *fakeClient) RemoveVolume(name string, force bool) error {
	f.removedVolumes = append(f.removedVolumes, name)
	return nil
}

func (f *fakeClient) PullImage(image string, opts PullOptions) error {
	f.pulledImages = append(f.pulledImages, image)
	return nil
}

func (f *fakeClient) ImageExists(image string) (bool, error) {
	return f.localImages[image], nil
}

func (f *fakeClient) Ping() error  { return nil }
func (f *fakeClient) Close() error { return nil }

// =============================================================================
// Fixtures
// =============================================================================

func webDBTopology() *topology.Topology {
	return &topology.Topology{
		Services: []topology.Service{
			{
				Name:        "db",
				Image:       "postgres:15",
				Scale:       1,
				Environment: map[string]string{"POSTGRES_DB": "app"},
				Volumes: []topology.VolumeMount{
					{Type: topology.VolumeMountTypeVolume, Source: "pgdata", Target: "/var/lib/postgresql/data"},
				},
			},
			{
				Name:      "web",
				Image:     "nginx:alpine",
				Scale:     1,
				Ports:     []topology.Port{{Target: 80, Published: 8080, Protocol: "tcp"}},
				DependsOn: []string{"db"},
			},
		},
		Volumes: []topology.Volume{{Name: "pgdata"}},
	}
}

// =============================================================================
// Apply Tests
// =============================================================================

func TestApply_CreatesEverything(t *testing.T) {
	client := newFakeClient()
	client.localImages["postgres:15"] = true
	client.localImages["nginx:alpine"] = true

	applier := NewApplier(client, nil)
	require.NoError(t, applier.Apply("acme", webDBTopology()))

	require.Len(t, client.createdNetworks, 1)
	assert.Equal(t, "acme_default", client.createdNetworks[0].Name)
	assert.Equal(t, "acme", client.createdNetworks[0].Labels[LabelProject])

	require.Len(t, client.createdVolumes, 1)
	assert.Equal(t, "acme_pgdata", client.createdVolumes[0].Name)

	require.Len(t, client.createdContainers, 2)
	assert.Equal(t, []string{"id-acme-db-1", "id-acme-web-1"}, client.startedContainers)
}

func TestApply_DependencyOrder(t *testing.T) {
	client := newFakeClient()
	client.localImages["postgres:15"] = true
	client.localImages["nginx:alpine"] = true

	applier := NewApplier(client, nil)
	require.NoError(t, applier.Apply("acme", webDBTopology()))

	// db has no dependencies, web depends on db
	require.Len(t, client.createdContainers, 2)
	assert.Equal(t, "acme-db-1", client.createdContainers[0].Name)
	assert.Equal(t, "acme-web-1", client.createdContainers[1].Name)
}

func TestApply_ContainerSpec(t *testing.T) {
	client := newFakeClient()
	client.localImages["postgres:15"] = true
	client.localImages["nginx:alpine"] = true

	applier := NewApplier(client, nil)
	require.NoError(t, applier.Apply("acme", webDBTopology()))

	db := client.createdContainers[0]
	assert.Equal(t, "postgres:15", db.Image)
	assert.Equal(t, map[string]string{"POSTGRES_DB": "app"}, db.Env)
	assert.Equal(t, "true", db.Labels[LabelManaged])
	assert.Equal(t, "acme", db.Labels[LabelProject])
	assert.Equal(t, "db", db.Labels[LabelService])
	require.Len(t, db.Volumes, 1)
	assert.Equal(t, "acme_pgdata", db.Volumes[0].Source)
	assert.Equal(t, []string{"acme_default"}, db.Networks)
	assert.Equal(t, []string{"db"}, db.NetworkAliases["acme_default"])

	web := client.createdContainers[1]
	require.Len(t, web.Ports, 1)
	assert.Equal(t, 80, web.Ports[0].ContainerPort)
	assert.Equal(t, 8080, web.Ports[0].HostPort)
}

func TestApply_PullsMissingImage(t *testing.T) {
	client := newFakeClient()
	client.localImages["postgres:15"] = true

	applier := NewApplier(client, nil)
	require.NoError(t, applier.Apply("acme", webDBTopology()))

	assert.Equal(t, []string{"nginx:alpine"}, client.pulledImages)
}

func TestApply_ScaleCreatesReplicas(t *testing.T) {
	client := newFakeClient()
	client.localImages["worker:latest"] = true

	topo := &topology.Topology{
		Services: []topology.Service{
			{Name: "worker", Image: "worker:latest", Scale: 3},
		},
	}

	applier := NewApplier(client, nil)
	require.NoError(t, applier.Apply("acme", topo))

	require.Len(t, client.createdContainers, 3)
	assert.Equal(t, "acme-worker-1", client.createdContainers[0].Name)
	assert.Equal(t, "acme-worker-3", client.createdContainers[2].Name)
}

func TestApply_ScaledServiceWithPublishedPort(t *testing.T) {
	client := newFakeClient()
	client.localImages["worker:latest"] = true

	topo := &topology.Topology{
		Services: []topology.Service{
			{
				Name:  "worker",
				Image: "worker:latest",
				Scale: 2,
				Ports: []topology.Port{{Target: 8000, Published: 8000}},
			},
		},
	}

	applier := NewApplier(client, nil)
	err := applier.Apply("acme", topo)
	require.ErrorIs(t, err, ErrScaledPublishedPort)
	assert.Empty(t, client.createdContainers)
}

func TestApply_BuildOnlyService(t *testing.T) {
	client := newFakeClient()

	topo := &topology.Topology{
		Services: []topology.Service{
			{Name: "app", Build: &topology.BuildConfig{Context: "."}, Scale: 1},
		},
	}

	applier := NewApplier(client, nil)
	err := applier.Apply("acme", topo)
	require.ErrorIs(t, err, ErrBuildNotSupported)
}

func TestApply_ExistingResourcesSkipped(t *testing.T) {
	client := newFakeClient()
	client.localImages["postgres:15"] = true
	client.localImages["nginx:alpine"] = true
	client.existingNetwork["acme_default"] = true
	client.existingContainer["acme-db-1"] = true

	applier := NewApplier(client, nil)
	require.NoError(t, applier.Apply("acme", webDBTopology()))

	assert.Empty(t, client.createdNetworks)
	require.Len(t, client.createdContainers, 1)
	assert.Equal(t, "acme-web-1", client.createdContainers[0].Name)
}

func TestApply_ExternalResourcesNotCreated(t *testing.T) {
	client := newFakeClient()
	client.localImages["nginx:alpine"] = true

	topo := &topology.Topology{
		Services: []topology.Service{
			{Name: "web", Image: "nginx:alpine", Scale: 1, Networks: []string{"shared"}},
		},
		Networks: []topology.Network{{Name: "shared", External: true}},
		Volumes:  []topology.Volume{{Name: "data", External: true}},
	}

	applier := NewApplier(client, nil)
	require.NoError(t, applier.Apply("acme", topo))

	assert.Empty(t, client.createdNetworks)
	assert.Empty(t, client.createdVolumes)
}

// =============================================================================
// Down Tests
// =============================================================================

func TestDown_RemovesContainersAndNetworks(t *testing.T) {
	client := newFakeClient()
	client.listResult = []ContainerInfo{
		{ID: "c1", Name: "acme-web-1", State: "running"},
		{ID: "c2", Name: "acme-db-1", State: "exited"},
	}

	applier := NewApplier(client, nil)
	require.NoError(t, applier.Down("acme", webDBTopology(), false))

	assert.Equal(t, []string{"c1"}, client.stoppedContainers)
	assert.Equal(t, []string{"c1", "c2"}, client.removedContainers)
	assert.Equal(t, []string{"acme_default"}, client.removedNetworks)
	assert.Empty(t, client.removedVolumes)
}

func TestDown_RemoveVolumes(t *testing.T) {
	client := newFakeClient()

	applier := NewApplier(client, nil)
	require.NoError(t, applier.Down("acme", webDBTopology(), true))

	assert.Equal(t, []string{"acme_pgdata"}, client.removedVolumes)
}
