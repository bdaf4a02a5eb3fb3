package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/ecs"
	"github.com/spf13/cobra"
)

type statusOpts struct {
	*rootOpts
}

func newStatus(root *rootOpts) *statusOpts {
	return &statusOpts{rootOpts: root}
}

func (opts *statusOpts) Command() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show desired and running counts for each service in the manifest",
		RunE:  opts.RunE,
	}
}

func (opts *statusOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}

	specs, err := opts.loadSpecs()
	if err != nil {
		return err
	}
	ctx := context.Background()
	descriptor, err := opts.loadDescriptor(ctx)
	if err != nil {
		return err
	}
	sess, err := opts.awsSession(descriptor.Region)
	if err != nil {
		return err
	}
	client := ecs.New(sess)

	var names []*string
	for _, spec := range specs {
		names = append(names, aws.String(spec.Name))
	}
	out, err := client.DescribeServicesWithContext(ctx, &ecs.DescribeServicesInput{
		Cluster:  aws.String(descriptor.Cluster),
		Services: names,
	})
	if err != nil {
		return err
	}

	byName := map[string]*ecs.Service{}
	for _, svc := range out.Services {
		byName[aws.StringValue(svc.ServiceName)] = svc
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE \tDESIRED \tRUNNING \tDEPLOYMENTS \tSTATUS")
	for _, spec := range specs {
		svc, ok := byName[spec.Name]
		if !ok {
			fmt.Fprintf(w, "%s\t-\t-\t-\tnot found\n", spec.Name)
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n",
			spec.Name,
			aws.Int64Value(svc.DesiredCount),
			aws.Int64Value(svc.RunningCount),
			len(svc.Deployments),
			aws.StringValue(svc.Status))
	}
	return w.Flush()
}
