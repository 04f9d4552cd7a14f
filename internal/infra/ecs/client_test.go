package ecs

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	awsecs "github.com/aws/aws-sdk-go/service/ecs"
	"github.com/aws/aws-sdk-go/service/ecs/ecsiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenlight-sh/greenlight/internal/controlplane"
)

// fakeECS overrides just the calls under test; everything else panics via the
// embedded nil interface.
type fakeECS struct {
	ecsiface.ECSAPI

	describeServices func(*awsecs.DescribeServicesInput) (*awsecs.DescribeServicesOutput, error)
	describeTaskDef  func(*awsecs.DescribeTaskDefinitionInput) (*awsecs.DescribeTaskDefinitionOutput, error)
	registerTaskDef  func(*awsecs.RegisterTaskDefinitionInput) (*awsecs.RegisterTaskDefinitionOutput, error)
	updateService    func(*awsecs.UpdateServiceInput) (*awsecs.UpdateServiceOutput, error)
	listTaskPages    func(*awsecs.ListTasksInput, func(*awsecs.ListTasksOutput, bool) bool) error
	describeTasks    func(*awsecs.DescribeTasksInput) (*awsecs.DescribeTasksOutput, error)
}

func (f *fakeECS) DescribeServicesWithContext(_ aws.Context, in *awsecs.DescribeServicesInput, _ ...request.Option) (*awsecs.DescribeServicesOutput, error) {
	return f.describeServices(in)
}

func (f *fakeECS) DescribeTaskDefinitionWithContext(_ aws.Context, in *awsecs.DescribeTaskDefinitionInput, _ ...request.Option) (*awsecs.DescribeTaskDefinitionOutput, error) {
	return f.describeTaskDef(in)
}

func (f *fakeECS) RegisterTaskDefinitionWithContext(_ aws.Context, in *awsecs.RegisterTaskDefinitionInput, _ ...request.Option) (*awsecs.RegisterTaskDefinitionOutput, error) {
	return f.registerTaskDef(in)
}

func (f *fakeECS) UpdateServiceWithContext(_ aws.Context, in *awsecs.UpdateServiceInput, _ ...request.Option) (*awsecs.UpdateServiceOutput, error) {
	return f.updateService(in)
}

func (f *fakeECS) ListTasksPagesWithContext(_ aws.Context, in *awsecs.ListTasksInput, fn func(*awsecs.ListTasksOutput, bool) bool, _ ...request.Option) error {
	return f.listTaskPages(in, fn)
}

func (f *fakeECS) DescribeTasksWithContext(_ aws.Context, in *awsecs.DescribeTasksInput, _ ...request.Option) (*awsecs.DescribeTasksOutput, error) {
	return f.describeTasks(in)
}

var target = controlplane.ServiceTarget{Cluster: "prod", Service: "checkout", Region: "eu-west-1"}

func TestDescribeService_MapsSnapshot(t *testing.T) {
	api := &fakeECS{
		describeServices: func(in *awsecs.DescribeServicesInput) (*awsecs.DescribeServicesOutput, error) {
			assert.Equal(t, "prod", aws.StringValue(in.Cluster))
			require.Len(t, in.Services, 1)
			assert.Equal(t, "checkout", aws.StringValue(in.Services[0]))

			return &awsecs.DescribeServicesOutput{
				Services: []*awsecs.Service{{
					Status:       aws.String("ACTIVE"),
					RunningCount: aws.Int64(6),
					DesiredCount: aws.Int64(4),
					PendingCount: aws.Int64(2),
					Deployments: []*awsecs.Deployment{
						{
							Status:         aws.String("PRIMARY"),
							TaskDefinition: aws.String("arn:td/checkout:8"),
							RolloutState:   aws.String("IN_PROGRESS"),
							RunningCount:   aws.Int64(2),
							DesiredCount:   aws.Int64(4),
						},
						{
							Status:         aws.String("ACTIVE"),
							TaskDefinition: aws.String("arn:td/checkout:7"),
							RolloutState:   aws.String("COMPLETED"),
							RunningCount:   aws.Int64(4),
							DesiredCount:   aws.Int64(4),
						},
					},
				}},
			}, nil
		},
	}

	snap, err := NewWithAPI(api, "eu-west-1").DescribeService(context.Background(), target)
	require.NoError(t, err)

	assert.Equal(t, controlplane.RevisionRef("arn:td/checkout:8"), snap.Revision)
	assert.Equal(t, "ACTIVE", snap.Status)
	assert.Equal(t, 6, snap.Running)
	assert.Equal(t, 4, snap.Desired)
	require.Len(t, snap.Deployments, 2)
	assert.Equal(t, controlplane.RolloutInProgress, snap.Deployments[0].State)
	assert.Equal(t, controlplane.RolloutCompleted, snap.Deployments[1].State)
}

func TestDescribeService_UnknownService(t *testing.T) {
	api := &fakeECS{
		describeServices: func(*awsecs.DescribeServicesInput) (*awsecs.DescribeServicesOutput, error) {
			return &awsecs.DescribeServicesOutput{}, nil
		},
	}

	_, err := NewWithAPI(api, "eu-west-1").DescribeService(context.Background(), target)
	assert.ErrorIs(t, err, controlplane.ErrServiceNotFound)
}

func TestDescribeService_WrapsTransportError(t *testing.T) {
	api := &fakeECS{
		describeServices: func(*awsecs.DescribeServicesInput) (*awsecs.DescribeServicesOutput, error) {
			return nil, assert.AnError
		},
	}

	_, err := NewWithAPI(api, "eu-west-1").DescribeService(context.Background(), target)
	var cpErr *controlplane.Error
	require.ErrorAs(t, err, &cpErr)
	assert.Equal(t, "ecs.DescribeServices", cpErr.Op)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestRegisterRevision_OverridesImageAndTags(t *testing.T) {
	api := &fakeECS{
		describeTaskDef: func(in *awsecs.DescribeTaskDefinitionInput) (*awsecs.DescribeTaskDefinitionOutput, error) {
			assert.Equal(t, "arn:td/checkout:7", aws.StringValue(in.TaskDefinition))
			return &awsecs.DescribeTaskDefinitionOutput{
				TaskDefinition: &awsecs.TaskDefinition{
					Family: aws.String("checkout"),
					ContainerDefinitions: []*awsecs.ContainerDefinition{
						{Name: aws.String("app"), Image: aws.String("registry.example.com/checkout:v1")},
						{Name: aws.String("envoy"), Image: aws.String("registry.example.com/envoy:v1")},
					},
					Cpu:     aws.String("256"),
					Memory:  aws.String("512"),
					PidMode: aws.String("task"),
					IpcMode: aws.String("none"),
					ProxyConfiguration: &awsecs.ProxyConfiguration{
						Type:          aws.String("APPMESH"),
						ContainerName: aws.String("envoy"),
					},
					InferenceAccelerators: []*awsecs.InferenceAccelerator{
						{DeviceName: aws.String("device1"), DeviceType: aws.String("eia2.medium")},
					},
				},
			}, nil
		},
		registerTaskDef: func(in *awsecs.RegisterTaskDefinitionInput) (*awsecs.RegisterTaskDefinitionOutput, error) {
			assert.Equal(t, "checkout", aws.StringValue(in.Family))
			require.Len(t, in.ContainerDefinitions, 2)
			assert.Equal(t, "registry.example.com/checkout:v2", aws.StringValue(in.ContainerDefinitions[0].Image))
			// Sidecars stay on their own image.
			assert.Equal(t, "registry.example.com/envoy:v1", aws.StringValue(in.ContainerDefinitions[1].Image))
			require.Len(t, in.Tags, 1)
			assert.Equal(t, "deployment_id", aws.StringValue(in.Tags[0].Key))

			// Runtime settings carry over from the base task definition.
			assert.Equal(t, "task", aws.StringValue(in.PidMode))
			assert.Equal(t, "none", aws.StringValue(in.IpcMode))
			require.NotNil(t, in.ProxyConfiguration)
			assert.Equal(t, "envoy", aws.StringValue(in.ProxyConfiguration.ContainerName))
			require.Len(t, in.InferenceAccelerators, 1)
			assert.Equal(t, "device1", aws.StringValue(in.InferenceAccelerators[0].DeviceName))

			return &awsecs.RegisterTaskDefinitionOutput{
				TaskDefinition: &awsecs.TaskDefinition{
					TaskDefinitionArn: aws.String("arn:td/checkout:8"),
				},
			}, nil
		},
	}

	rev, err := NewWithAPI(api, "eu-west-1").RegisterRevision(context.Background(), "arn:td/checkout:7", "registry.example.com/checkout:v2", map[string]string{"deployment_id": "dep-1"})
	require.NoError(t, err)
	assert.Equal(t, controlplane.RevisionRef("arn:td/checkout:8"), rev)
}

func TestUpdateService_SetsCapacityBounds(t *testing.T) {
	api := &fakeECS{
		updateService: func(in *awsecs.UpdateServiceInput) (*awsecs.UpdateServiceOutput, error) {
			assert.Equal(t, "arn:td/checkout:8", aws.StringValue(in.TaskDefinition))
			require.NotNil(t, in.DeploymentConfiguration)
			assert.Equal(t, int64(100), aws.Int64Value(in.DeploymentConfiguration.MinimumHealthyPercent))
			assert.Equal(t, int64(200), aws.Int64Value(in.DeploymentConfiguration.MaximumPercent))
			return &awsecs.UpdateServiceOutput{}, nil
		},
	}

	err := NewWithAPI(api, "eu-west-1").UpdateService(context.Background(), target, "arn:td/checkout:8", controlplane.DefaultCapacityBounds)
	require.NoError(t, err)
}

func TestListInstances_FiltersByRevision(t *testing.T) {
	api := &fakeECS{
		listTaskPages: func(_ *awsecs.ListTasksInput, fn func(*awsecs.ListTasksOutput, bool) bool) error {
			fn(&awsecs.ListTasksOutput{TaskArns: []*string{
				aws.String("arn:task/a"),
				aws.String("arn:task/b"),
				aws.String("arn:task/c"),
			}}, true)
			return nil
		},
		describeTasks: func(in *awsecs.DescribeTasksInput) (*awsecs.DescribeTasksOutput, error) {
			require.Len(t, in.Tasks, 3)
			return &awsecs.DescribeTasksOutput{Tasks: []*awsecs.Task{
				{TaskArn: aws.String("arn:task/a"), TaskDefinitionArn: aws.String("arn:td/checkout:8")},
				{TaskArn: aws.String("arn:task/b"), TaskDefinitionArn: aws.String("arn:td/checkout:7")},
				{TaskArn: aws.String("arn:task/c"), TaskDefinitionArn: aws.String("arn:td/checkout:8")},
			}}, nil
		},
	}

	instances, err := NewWithAPI(api, "eu-west-1").ListInstances(context.Background(), target, "arn:td/checkout:8")
	require.NoError(t, err)
	assert.Equal(t, []controlplane.InstanceRef{"arn:task/a", "arn:task/c"}, instances)
}

func TestDescribeInstanceHealth_FallsBackToLifecycle(t *testing.T) {
	cases := []struct {
		name       string
		health     string
		lastStatus string
		want       controlplane.HealthStatus
	}{
		{"explicit healthy", "HEALTHY", "RUNNING", controlplane.HealthHealthy},
		{"explicit unhealthy", "UNHEALTHY", "RUNNING", controlplane.HealthUnhealthy},
		{"no health check, running", "UNKNOWN", "RUNNING", controlplane.HealthHealthy},
		{"no health check, stopped", "UNKNOWN", "STOPPED", controlplane.HealthUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeECS{
				describeTasks: func(*awsecs.DescribeTasksInput) (*awsecs.DescribeTasksOutput, error) {
					return &awsecs.DescribeTasksOutput{Tasks: []*awsecs.Task{{
						TaskArn:      aws.String("arn:task/a"),
						HealthStatus: aws.String(tc.health),
						LastStatus:   aws.String(tc.lastStatus),
					}}}, nil
				},
			}

			h, err := NewWithAPI(api, "eu-west-1").DescribeInstanceHealth(context.Background(), target, "arn:task/a")
			require.NoError(t, err)
			assert.Equal(t, tc.want, h.Status)
			assert.Equal(t, tc.lastStatus, h.LastStatus)
		})
	}
}

func TestClient_RejectsMismatchedRegion(t *testing.T) {
	// The fake has no call overrides: a request reaching the API would panic.
	api := &fakeECS{}
	c := NewWithAPI(api, "us-east-1")

	_, err := c.DescribeService(context.Background(), target)
	var cpErr *controlplane.Error
	require.ErrorAs(t, err, &cpErr)
	assert.Contains(t, cpErr.Error(), "eu-west-1")
	assert.Contains(t, cpErr.Error(), "us-east-1")

	assert.Error(t, c.UpdateService(context.Background(), target, "arn:td/checkout:8", controlplane.DefaultCapacityBounds))
	_, err = c.ListInstances(context.Background(), target, "arn:td/checkout:8")
	assert.Error(t, err)
	_, err = c.DescribeInstanceHealth(context.Background(), target, "arn:task/a")
	assert.Error(t, err)
}
