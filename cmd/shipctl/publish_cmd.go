package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/service/ecr"
	"github.com/go-kit/kit/log"
	"github.com/spf13/cobra"

	"github.com/resumelab/shipper/pkg/deploy"
	"github.com/resumelab/shipper/pkg/publish"
	"github.com/resumelab/shipper/pkg/registry"
)

type publishOpts struct {
	*rootOpts
	revision string
}

func newPublish(root *rootOpts) *publishOpts {
	return &publishOpts{rootOpts: root}
}

func (opts *publishOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish [service ...]",
		Short: "Build and push images without rolling anything out",
		RunE:  opts.RunE,
	}
	cmd.Flags().StringVar(&opts.revision, "revision", "",
		"source revision to tag images with; derived from the build context when empty")
	return cmd
}

func (opts *publishOpts) RunE(cmd *cobra.Command, args []string) error {
	specs, err := opts.loadSpecs()
	if err != nil {
		return err
	}
	specs, err = selectSpecs(specs, args)
	if err != nil {
		return err
	}

	ctx := context.Background()
	descriptor, err := opts.loadDescriptor(ctx)
	if err != nil {
		return err
	}
	if err := descriptor.Validate(specs); err != nil {
		return err
	}
	sess, err := opts.awsSession(descriptor.Region)
	if err != nil {
		return err
	}

	publisher := &publish.Publisher{
		Docker:   publish.NewCLI(log.With(opts.logger, "component", "docker")),
		Auth:     &registry.ECRAuthenticator{ECR: ecr.New(sess)},
		Logger:   log.With(opts.logger, "component", "publish"),
		Revision: opts.revision,
	}

	for _, spec := range specs {
		ref, err := publisher.Publish(ctx, spec.Name, spec.BuildContext, descriptor.RegistryURLs[spec.Name])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", spec.Name, ref.String())
	}
	return nil
}

// selectSpecs narrows the manifest to the named services, keeping
// manifest order; no names means all of them.
func selectSpecs(specs []deploy.ServiceSpec, names []string) ([]deploy.ServiceSpec, error) {
	if len(names) == 0 {
		return specs, nil
	}
	wanted := map[string]bool{}
	for _, name := range names {
		wanted[name] = true
	}
	var selected []deploy.ServiceSpec
	for _, spec := range specs {
		if wanted[spec.Name] {
			selected = append(selected, spec)
			delete(wanted, spec.Name)
		}
	}
	for name := range wanted {
		return nil, newUsageError(fmt.Sprintf("service %q is not in the manifest", name))
	}
	return selected, nil
}
