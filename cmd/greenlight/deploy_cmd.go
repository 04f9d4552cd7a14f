package main

import (
	"fmt"
	"os"
	"os/user"
	"time"

	"github.com/spf13/cobra"

	"github.com/greenlight-sh/greenlight/internal/controlplane"
	"github.com/greenlight-sh/greenlight/internal/deploy"
	inmemory "github.com/greenlight-sh/greenlight/internal/infra/in-memory"
)

type deployOpts struct {
	*rootOpts
	cluster      string
	service      string
	region       string
	image        string
	dryRun       bool
	pollInterval time.Duration
	maxWait      time.Duration
	gracePeriod  time.Duration
}

func newDeploy(parent *rootOpts) *deployOpts {
	return &deployOpts{rootOpts: parent}
}

func (opts *deployOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Roll a service onto a new image and wait for the outcome.",
		Long: `Roll a service onto a new image and wait for the outcome.

The in-flight guard only covers this process: two concurrent greenlight
invocations for the same service are not serialized against each other.
When several people or pipelines deploy the same services, run greenlightd
and deploy through it instead.`,
		Example: makeExample(
			"greenlight deploy --cluster=prod --service=checkout --image=registry.example.com/checkout:v2",
			"greenlight deploy --cluster=prod --service=checkout --image=... --max-wait=15m",
			"greenlight deploy --cluster=prod --service=checkout --image=... --dry-run",
		),
		RunE: opts.RunE,
	}
	cmd.Flags().StringVar(&opts.cluster, "cluster", "", "cluster the service runs in")
	cmd.Flags().StringVar(&opts.service, "service", "", "service to deploy")
	cmd.Flags().StringVar(&opts.region, "region", "", "region of the cluster; defaults to the configured region")
	cmd.Flags().StringVarP(&opts.image, "image", "i", "", "container image to roll out; must carry an immutable tag or digest")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "validate and snapshot, but change nothing")
	cmd.Flags().DurationVar(&opts.pollInterval, "poll-interval", 0, "override the configured rollout poll interval")
	cmd.Flags().DurationVar(&opts.maxWait, "max-wait", 0, "override the configured rollout timeout")
	cmd.Flags().DurationVar(&opts.gracePeriod, "grace-period", 0, "override the configured health check grace period")
	return cmd
}

func (opts *deployOpts) RunE(_ *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	if opts.cluster == "" || opts.service == "" {
		return usageErrorf("--cluster and --service are required")
	}
	if opts.image == "" {
		return usageErrorf("--image is required")
	}

	region := opts.region
	if region == "" {
		region = opts.config.ControlPlane.Region
	}

	cp, err := buildControlPlane(opts.config, opts.logger)
	if err != nil {
		return err
	}
	led, err := buildLedger(opts.config)
	if err != nil {
		return err
	}
	// The lock only guards this process; greenlightd serializes across callers.
	orchestrator := deploy.NewOrchestrator(cp, led, inmemory.NewLocker(), nil, opts.logger)

	rollout := opts.config.Rollout
	req := deploy.Request{
		Target: controlplane.ServiceTarget{
			Cluster: opts.cluster,
			Service: opts.service,
			Region:  region,
		},
		Image:                        opts.image,
		RequestedBy:                  currentUser(),
		DryRun:                       opts.dryRun,
		Capacity:                     rollout.Capacity(),
		PollInterval:                 rollout.PollInterval.Value(),
		MaxWait:                      rollout.MaxWait.Value(),
		GracePeriod:                  rollout.GracePeriod.Value(),
		RegisterTimeout:              rollout.RegisterTimeout.Value(),
		UpdateTimeout:                rollout.UpdateTimeout.Value(),
		RollbackBelowHealthyFraction: rollout.RollbackBelowHealthyFraction,
	}
	if opts.pollInterval > 0 {
		req.PollInterval = opts.pollInterval
	}
	if opts.maxWait > 0 {
		req.MaxWait = opts.maxWait
	}
	if opts.gracePeriod > 0 {
		req.GracePeriod = opts.gracePeriod
	}

	begin := time.Now()
	printf := func(format string, args ...interface{}) {
		args = append([]interface{}{int(time.Since(begin).Seconds())}, args...)
		fmt.Fprintf(os.Stdout, "t=%d "+format+"\n", args...)
	}

	progress := make(chan controlplane.RolloutProgress, 16)
	req.Progress = progress
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range progress {
			printf("%s", p.Message)
		}
	}()

	if opts.dryRun {
		printf("Starting dry-run deployment of %s to %s...", opts.image, req.Target)
	} else {
		printf("Starting deployment of %s to %s...", opts.image, req.Target)
	}

	res, runErr := orchestrator.RunDeployment(cmdContext(), req)
	close(progress)
	<-done

	printf("Deployment %s finished in phase %s", res.DeploymentID, res.FinalPhase)
	if res.PreviousRevision != "" {
		printf("  previous revision: %s", res.PreviousRevision)
	}
	if res.TargetRevision != "" {
		printf("  target revision:   %s", res.TargetRevision)
	}
	printf("Run `greenlight history %s` for the full audit trail", res.DeploymentID)

	return runErr
}

// currentUser attributes the deployment in the ledger; best effort.
func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}
