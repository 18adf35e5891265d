package dockermock

import (
	"context"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/mock"
)

// MockDockerClient is a mock type for the docker.DockerClient type.
type MockDockerClient struct {
	mock.Mock
}

func (m *MockDockerClient) Ping(ctx context.Context) (types.Ping, error) {
	ret := m.Called(ctx)
	return ret.Get(0).(types.Ping), ret.Error(1)
}

func (m *MockDockerClient) ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error) {
	ret := m.Called(ctx, refStr, options)
	var r0 io.ReadCloser
	if v := ret.Get(0); v != nil {
		r0 = v.(io.ReadCloser)
	}
	return r0, ret.Error(1)
}

func (m *MockDockerClient) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	ret := m.Called(ctx, config, hostConfig, networkingConfig, platform, containerName)
	return ret.Get(0).(container.CreateResponse), ret.Error(1)
}

func (m *MockDockerClient) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	ret := m.Called(ctx, containerID, options)
	return ret.Error(0)
}

func (m *MockDockerClient) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	ret := m.Called(ctx, containerID, options)
	return ret.Error(0)
}

func (m *MockDockerClient) ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error) {
	ret := m.Called(ctx, containerID)
	return ret.Get(0).(container.InspectResponse), ret.Error(1)
}

func (m *MockDockerClient) ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error) {
	ret := m.Called(ctx, containerID, options)
	return ret.Get(0).(container.ExecCreateResponse), ret.Error(1)
}

func (m *MockDockerClient) ContainerExecAttach(ctx context.Context, execID string, config container.ExecStartOptions) (types.HijackedResponse, error) {
	ret := m.Called(ctx, execID, config)
	return ret.Get(0).(types.HijackedResponse), ret.Error(1)
}

func (m *MockDockerClient) ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error) {
	ret := m.Called(ctx, execID)
	return ret.Get(0).(container.ExecInspect), ret.Error(1)
}

func (m *MockDockerClient) CopyToContainer(ctx context.Context, containerID, dstPath string, content io.Reader, options container.CopyToContainerOptions) error {
	ret := m.Called(ctx, containerID, dstPath, content, options)
	return ret.Error(0)
}

func (m *MockDockerClient) Events(ctx context.Context, options events.ListOptions) (<-chan events.Message, <-chan error) {
	ret := m.Called(ctx, options)
	var r0 <-chan events.Message
	if v := ret.Get(0); v != nil {
		r0 = v.(<-chan events.Message)
	}
	var r1 <-chan error
	if v := ret.Get(1); v != nil {
		r1 = v.(<-chan error)
	}
	return r0, r1
}
