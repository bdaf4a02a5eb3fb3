package terraform

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os/exec"
	"strings"

	"github.com/pkg/errors"

	"github.com/resumelab/shipper/pkg/deploy"
)

// Output names the provisioning configuration is expected to expose.
// These are query keys, nothing more; the values stay opaque.
const (
	OutputRegion         = "region"
	OutputCluster        = "cluster_name"
	OutputLoadBalancer   = "alb_dns_name"
	OutputRepositoryURLs = "repository_urls"
)

type output struct {
	Sensitive bool            `json:"sensitive"`
	Value     json.RawMessage `json:"value"`
}

// Outputs is the parsed form of `terraform output -json`.
type Outputs map[string]output

// ParseOutputs decodes the JSON that `terraform output -json` emits.
func ParseOutputs(r io.Reader) (Outputs, error) {
	var outputs Outputs
	if err := json.NewDecoder(r).Decode(&outputs); err != nil {
		return nil, errors.Wrap(err, "parsing terraform outputs")
	}
	return outputs, nil
}

// Query runs `terraform output -json` in the given directory. The
// provisioning step must already have been applied; this reads its
// results, it never changes infrastructure.
func Query(ctx context.Context, dir string) (Outputs, error) {
	cmd := exec.CommandContext(ctx, "terraform", "output", "-json")
	cmd.Dir = dir
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, errors.Errorf("running terraform output: %s", strings.TrimSpace(stderr.String()))
	}
	return ParseOutputs(bytes.NewReader(out))
}

// String returns a string-typed output by name.
func (o Outputs) String(name string) (string, error) {
	raw, ok := o[name]
	if !ok {
		return "", errors.Errorf("provisioning exposes no output %q", name)
	}
	var s string
	if err := json.Unmarshal(raw.Value, &s); err != nil {
		return "", errors.Wrapf(err, "output %q is not a string", name)
	}
	return s, nil
}

// StringMap returns a map-of-strings-typed output by name.
func (o Outputs) StringMap(name string) (map[string]string, error) {
	raw, ok := o[name]
	if !ok {
		return nil, errors.Errorf("provisioning exposes no output %q", name)
	}
	var m map[string]string
	if err := json.Unmarshal(raw.Value, &m); err != nil {
		return nil, errors.Wrapf(err, "output %q is not a map of strings", name)
	}
	return m, nil
}

// Descriptor assembles the resource descriptor the rest of the run
// consumes from the conventional output names.
func (o Outputs) Descriptor() (deploy.Descriptor, error) {
	var desc deploy.Descriptor
	var err error
	if desc.Region, err = o.String(OutputRegion); err != nil {
		return desc, err
	}
	if desc.Cluster, err = o.String(OutputCluster); err != nil {
		return desc, err
	}
	if desc.LoadBalancer, err = o.String(OutputLoadBalancer); err != nil {
		return desc, err
	}
	if desc.RegistryURLs, err = o.StringMap(OutputRepositoryURLs); err != nil {
		return desc, err
	}
	return desc, nil
}
