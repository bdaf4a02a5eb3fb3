package main

import (
	"context"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/go-kit/kit/log"
	"github.com/spf13/cobra"

	"github.com/resumelab/shipper/pkg/deploy"
	"github.com/resumelab/shipper/pkg/terraform"
)

type rootOpts struct {
	Manifest       string
	TerraformDir   string
	DescriptorFile string

	logger log.Logger
}

func newRoot() *rootOpts {
	return &rootOpts{}
}

var rootLongHelp = strings.TrimSpace(`
shipctl builds, publishes and rolls out the platform's services.

Workflow:
  shipctl status                      # What is the cluster running?
  shipctl publish server              # Build and push one service's image.
  shipctl deploy                      # Publish, roll out and verify everything.
`)

func (opts *rootOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "shipctl",
		Long:          rootLongHelp,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.Manifest, "manifest", "m", "services.yaml",
		"path to the service manifest")
	cmd.PersistentFlags().StringVar(&opts.TerraformDir, "terraform-dir", "",
		"directory holding the applied provisioning configuration; its outputs become the resource descriptor")
	cmd.PersistentFlags().StringVar(&opts.DescriptorFile, "descriptor", "",
		"path to a resource descriptor in `terraform output -json` form (alternative to --terraform-dir)")

	opts.logger = log.With(log.NewLogfmtLogger(os.Stderr), "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller)

	cmd.AddCommand(
		newDeploy(opts).Command(),
		newPublish(opts).Command(),
		newStatus(opts).Command(),
		newVersionCommand(),
	)

	return cmd
}

func (opts *rootOpts) loadSpecs() ([]deploy.ServiceSpec, error) {
	f, err := os.Open(opts.Manifest)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return deploy.LoadManifest(f)
}

func (opts *rootOpts) loadDescriptor(ctx context.Context) (deploy.Descriptor, error) {
	if err := checkExactlyOne("--terraform-dir, --descriptor",
		opts.TerraformDir != "", opts.DescriptorFile != ""); err != nil {
		return deploy.Descriptor{}, err
	}

	var outputs terraform.Outputs
	var err error
	if opts.TerraformDir != "" {
		outputs, err = terraform.Query(ctx, opts.TerraformDir)
	} else {
		var f *os.File
		if f, err = os.Open(opts.DescriptorFile); err == nil {
			outputs, err = terraform.ParseOutputs(f)
			f.Close()
		}
	}
	if err != nil {
		return deploy.Descriptor{}, err
	}
	return outputs.Descriptor()
}

func (opts *rootOpts) awsSession(region string) (*session.Session, error) {
	return session.NewSessionWithOptions(session.Options{
		Config:            aws.Config{Region: aws.String(region)},
		SharedConfigState: session.SharedConfigEnable,
	})
}
