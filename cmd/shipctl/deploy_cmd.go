package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/service/ecr"
	"github.com/aws/aws-sdk-go/service/ecs"
	"github.com/go-kit/kit/log"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/resumelab/shipper/pkg/deploy"
	"github.com/resumelab/shipper/pkg/publish"
	"github.com/resumelab/shipper/pkg/registry"
	"github.com/resumelab/shipper/pkg/rollout"
	"github.com/resumelab/shipper/pkg/verify"
)

type deployOpts struct {
	*rootOpts
	revision      string
	deadline      time.Duration
	interval      time.Duration
	grace         time.Duration
	maxConcurrent int
	output        string
	listen        string
}

func newDeploy(root *rootOpts) *deployOpts {
	return &deployOpts{rootOpts: root}
}

func (opts *deployOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Publish, roll out and verify every service in the manifest",
		RunE:  opts.RunE,
	}
	cmd.Flags().StringVar(&opts.revision, "revision", "",
		"source revision to tag images with; derived from the build context when empty")
	cmd.Flags().DurationVar(&opts.deadline, "deadline", rollout.DefaultDeadline,
		"how long to wait for each service to stabilise")
	cmd.Flags().DurationVar(&opts.interval, "interval", rollout.DefaultInterval,
		"how often to poll the scheduler during a rollout")
	cmd.Flags().DurationVar(&opts.grace, "grace", verify.DefaultGrace,
		"warm-up allowance before the first health probe")
	cmd.Flags().IntVar(&opts.maxConcurrent, "max-concurrent", deploy.DefaultMaxConcurrent,
		"how many independent services may deploy at once")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "text",
		"report format: text or json")
	cmd.Flags().StringVar(&opts.listen, "listen", "",
		"optional address to serve /metrics on for the duration of the run")
	return cmd
}

func (opts *deployOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}
	if opts.output != "text" && opts.output != "json" {
		return newUsageError("--output must be text or json")
	}

	specs, err := opts.loadSpecs()
	if err != nil {
		return err
	}

	// A second interrupt kills the process the usual way; the first
	// one winds the run down and still prints the report.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-interrupts
		opts.logger.Log("msg", "interrupt received; finishing in-flight work")
		signal.Stop(interrupts)
		cancel()
	}()

	descriptor, err := opts.loadDescriptor(ctx)
	if err != nil {
		return err
	}

	if opts.listen != "" {
		router := mux.NewRouter()
		router.Handle("/metrics", promhttp.Handler())
		go func() {
			if err := http.ListenAndServe(opts.listen, router); err != nil {
				opts.logger.Log("err", err)
			}
		}()
	}

	sess, err := opts.awsSession(descriptor.Region)
	if err != nil {
		return err
	}

	revision := opts.revision
	if revision == "" {
		// Best effort: not every build context is a git checkout.
		if rev, err := publish.SourceRevision(ctx, "."); err == nil {
			revision = rev
		}
	}

	orchestrator := &deploy.Orchestrator{
		Publisher: &publish.Publisher{
			Docker:   publish.NewCLI(log.With(opts.logger, "component", "docker")),
			Auth:     &registry.ECRAuthenticator{ECR: ecr.New(sess)},
			Logger:   log.With(opts.logger, "component", "publish"),
			Revision: revision,
		},
		Rollouts: &rollout.Controller{
			ECS:      ecs.New(sess),
			Cluster:  descriptor.Cluster,
			Interval: opts.interval,
			Limiter:  rate.NewLimiter(rate.Limit(2), 4),
			Logger:   log.With(opts.logger, "component", "rollout"),
		},
		Verifier: &verify.Verifier{
			Logger: log.With(opts.logger, "component", "verify"),
			Grace:  opts.grace,
		},
		Logger:          log.With(opts.logger, "component", "deploy"),
		MaxConcurrent:   opts.maxConcurrent,
		RolloutDeadline: opts.deadline,
		Metrics:         deploy.NewMetrics(),
	}

	report, err := orchestrator.Run(ctx, specs, descriptor)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.output == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		deploy.PrintReport(out, report)
	}

	if code := report.ExitCode(); code != 0 {
		return deploymentError{code: code}
	}
	return nil
}
