// Package ecs adapts Amazon ECS to the controlplane.Client interface. A
// RevisionRef is a task definition ARN, an InstanceRef is a task ARN, and a
// ServiceTarget maps onto a (cluster, service) pair in one region.
package ecs

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	awsecs "github.com/aws/aws-sdk-go/service/ecs"
	"github.com/aws/aws-sdk-go/service/ecs/ecsiface"

	"github.com/greenlight-sh/greenlight/internal/controlplane"
)

// describeTasksBatch is the DescribeTasks API limit.
const describeTasksBatch = 100

type Client struct {
	api    ecsiface.ECSAPI
	region string
}

// New builds a client for one region using the ambient AWS credential chain
// (environment, shared config, instance role).
func New(region string) (*Client, error) {
	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            aws.Config{Region: aws.String(region)},
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return &Client{api: awsecs.New(sess), region: region}, nil
}

// NewWithAPI injects the ECS API directly, for tests.
func NewWithAPI(api ecsiface.ECSAPI, region string) *Client {
	return &Client{api: api, region: region}
}

// checkRegion rejects targets for a region the session cannot reach. The
// underlying session is pinned to one region at construction, so a mismatched
// target would otherwise execute against the wrong region.
func (c *Client) checkRegion(target controlplane.ServiceTarget) error {
	if target.Region != "" && target.Region != c.region {
		return &controlplane.Error{
			Op:  "ecs.CheckRegion",
			Err: fmt.Errorf("target region %q does not match client region %q", target.Region, c.region),
		}
	}
	return nil
}

func (c *Client) DescribeService(ctx context.Context, target controlplane.ServiceTarget) (controlplane.ServiceSnapshot, error) {
	if err := c.checkRegion(target); err != nil {
		return controlplane.ServiceSnapshot{}, err
	}
	out, err := c.api.DescribeServicesWithContext(ctx, &awsecs.DescribeServicesInput{
		Cluster:  aws.String(target.Cluster),
		Services: []*string{aws.String(target.Service)},
	})
	if err != nil {
		return controlplane.ServiceSnapshot{}, &controlplane.Error{Op: "ecs.DescribeServices", Err: err}
	}
	if len(out.Services) == 0 {
		return controlplane.ServiceSnapshot{}, controlplane.ErrServiceNotFound
	}

	svc := out.Services[0]
	snap := controlplane.ServiceSnapshot{
		Status:  aws.StringValue(svc.Status),
		Running: int(aws.Int64Value(svc.RunningCount)),
		Desired: int(aws.Int64Value(svc.DesiredCount)),
		Pending: int(aws.Int64Value(svc.PendingCount)),
	}
	for _, d := range svc.Deployments {
		desc := controlplane.DeploymentDescriptor{
			Revision: controlplane.RevisionRef(aws.StringValue(d.TaskDefinition)),
			State:    rolloutState(d),
			Running:  int(aws.Int64Value(d.RunningCount)),
			Desired:  int(aws.Int64Value(d.DesiredCount)),
		}
		if aws.StringValue(d.Status) == "PRIMARY" {
			snap.Revision = desc.Revision
		}
		snap.Deployments = append(snap.Deployments, desc)
	}
	return snap, nil
}

// rolloutState maps ECS's per-deployment rollout state. Services created
// without the circuit breaker predate the field; for those the counts are the
// only signal.
func rolloutState(d *awsecs.Deployment) controlplane.RolloutState {
	if s := aws.StringValue(d.RolloutState); s != "" {
		return controlplane.RolloutState(s)
	}
	if aws.Int64Value(d.RunningCount) == aws.Int64Value(d.DesiredCount) {
		return controlplane.RolloutCompleted
	}
	return controlplane.RolloutInProgress
}

// RegisterRevision copies the base task definition with the image of its
// first container replaced. Task definitions with sidecars keep every other
// container untouched.
func (c *Client) RegisterRevision(ctx context.Context, base controlplane.RevisionRef, image string, metadata map[string]string) (controlplane.RevisionRef, error) {
	out, err := c.api.DescribeTaskDefinitionWithContext(ctx, &awsecs.DescribeTaskDefinitionInput{
		TaskDefinition: aws.String(string(base)),
	})
	if err != nil {
		return "", &controlplane.Error{Op: "ecs.DescribeTaskDefinition", Err: err}
	}
	td := out.TaskDefinition
	if td == nil || len(td.ContainerDefinitions) == 0 {
		return "", fmt.Errorf("task definition %s: %w", base, controlplane.ErrRevisionNotFound)
	}

	td.ContainerDefinitions[0].Image = aws.String(image)

	input := &awsecs.RegisterTaskDefinitionInput{
		Family:                  td.Family,
		ContainerDefinitions:    td.ContainerDefinitions,
		TaskRoleArn:             td.TaskRoleArn,
		ExecutionRoleArn:        td.ExecutionRoleArn,
		NetworkMode:             td.NetworkMode,
		Volumes:                 td.Volumes,
		PlacementConstraints:    td.PlacementConstraints,
		RequiresCompatibilities: td.RequiresCompatibilities,
		Cpu:                     td.Cpu,
		Memory:                  td.Memory,
		EphemeralStorage:        td.EphemeralStorage,
		RuntimePlatform:         td.RuntimePlatform,
		PidMode:                 td.PidMode,
		IpcMode:                 td.IpcMode,
		ProxyConfiguration:      td.ProxyConfiguration,
		InferenceAccelerators:   td.InferenceAccelerators,
	}
	for k, v := range metadata {
		input.Tags = append(input.Tags, &awsecs.Tag{Key: aws.String(k), Value: aws.String(v)})
	}

	registered, err := c.api.RegisterTaskDefinitionWithContext(ctx, input)
	if err != nil {
		return "", &controlplane.Error{Op: "ecs.RegisterTaskDefinition", Err: err}
	}
	return controlplane.RevisionRef(aws.StringValue(registered.TaskDefinition.TaskDefinitionArn)), nil
}

func (c *Client) UpdateService(ctx context.Context, target controlplane.ServiceTarget, rev controlplane.RevisionRef, bounds controlplane.CapacityBounds) error {
	if err := c.checkRegion(target); err != nil {
		return err
	}
	_, err := c.api.UpdateServiceWithContext(ctx, &awsecs.UpdateServiceInput{
		Cluster:        aws.String(target.Cluster),
		Service:        aws.String(target.Service),
		TaskDefinition: aws.String(string(rev)),
		DeploymentConfiguration: &awsecs.DeploymentConfiguration{
			MinimumHealthyPercent: aws.Int64(int64(bounds.MinPercent)),
			MaximumPercent:        aws.Int64(int64(bounds.MaxPercent)),
		},
	})
	if err != nil {
		return &controlplane.Error{Op: "ecs.UpdateService", Err: err}
	}
	return nil
}

// ListInstances lists the service's tasks and keeps the ones running rev.
func (c *Client) ListInstances(ctx context.Context, target controlplane.ServiceTarget, rev controlplane.RevisionRef) ([]controlplane.InstanceRef, error) {
	if err := c.checkRegion(target); err != nil {
		return nil, err
	}
	var taskARNs []*string
	input := &awsecs.ListTasksInput{
		Cluster:     aws.String(target.Cluster),
		ServiceName: aws.String(target.Service),
	}
	err := c.api.ListTasksPagesWithContext(ctx, input, func(page *awsecs.ListTasksOutput, _ bool) bool {
		taskARNs = append(taskARNs, page.TaskArns...)
		return true
	})
	if err != nil {
		return nil, &controlplane.Error{Op: "ecs.ListTasks", Err: err}
	}

	var instances []controlplane.InstanceRef
	for start := 0; start < len(taskARNs); start += describeTasksBatch {
		end := start + describeTasksBatch
		if end > len(taskARNs) {
			end = len(taskARNs)
		}
		out, err := c.api.DescribeTasksWithContext(ctx, &awsecs.DescribeTasksInput{
			Cluster: aws.String(target.Cluster),
			Tasks:   taskARNs[start:end],
		})
		if err != nil {
			return nil, &controlplane.Error{Op: "ecs.DescribeTasks", Err: err}
		}
		for _, task := range out.Tasks {
			if controlplane.RevisionRef(aws.StringValue(task.TaskDefinitionArn)) == rev {
				instances = append(instances, controlplane.InstanceRef(aws.StringValue(task.TaskArn)))
			}
		}
	}
	return instances, nil
}

func (c *Client) DescribeInstanceHealth(ctx context.Context, target controlplane.ServiceTarget, instance controlplane.InstanceRef) (controlplane.InstanceHealth, error) {
	if err := c.checkRegion(target); err != nil {
		return controlplane.InstanceHealth{}, err
	}
	out, err := c.api.DescribeTasksWithContext(ctx, &awsecs.DescribeTasksInput{
		Cluster: aws.String(target.Cluster),
		Tasks:   []*string{aws.String(string(instance))},
	})
	if err != nil {
		return controlplane.InstanceHealth{}, &controlplane.Error{Op: "ecs.DescribeTasks", Err: err}
	}
	if len(out.Tasks) == 0 {
		return controlplane.InstanceHealth{}, fmt.Errorf("task %s: %w", instance, controlplane.ErrRevisionNotFound)
	}

	task := out.Tasks[0]
	return controlplane.InstanceHealth{
		Instance:   instance,
		Status:     healthStatus(task),
		LastStatus: aws.StringValue(task.LastStatus),
	}, nil
}

// healthStatus trusts the container health check when one is configured.
// Tasks without health checks always report UNKNOWN, so for those the
// lifecycle state stands in: a RUNNING task counts as healthy.
func healthStatus(task *awsecs.Task) controlplane.HealthStatus {
	switch aws.StringValue(task.HealthStatus) {
	case "HEALTHY":
		return controlplane.HealthHealthy
	case "UNHEALTHY":
		return controlplane.HealthUnhealthy
	}
	if aws.StringValue(task.LastStatus) == "RUNNING" {
		return controlplane.HealthHealthy
	}
	return controlplane.HealthUnknown
}
