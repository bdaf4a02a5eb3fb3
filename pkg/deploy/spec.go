package deploy

import (
	"fmt"
	"io"
	"io/ioutil"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// ServiceSpec is one service's deployment configuration, loaded once
// at the start of a run and immutable after that.
type ServiceSpec struct {
	// Name keys the service everywhere: the scheduler's service name,
	// the descriptor's registry URL map, the report.
	Name string `yaml:"name"`
	// BuildContext is the directory the image is built from.
	BuildContext string `yaml:"context"`
	// Port is the container port the load balancer forwards to.
	Port int `yaml:"port"`
	// HealthPath is the HTTP path that answers 2xx when the service
	// is ready for traffic.
	HealthPath string `yaml:"health"`
	// Replicas is the desired instance count.
	Replicas int `yaml:"replicas"`
	// DependsOn names services that must have rolled out successfully
	// before this one starts. Dependencies must appear earlier in the
	// manifest, so the list order always reads as the deploy order.
	DependsOn []string `yaml:"depends_on"`
}

type manifest struct {
	Services []ServiceSpec `yaml:"services"`
}

// LoadManifest reads an ordered service list from YAML and validates
// it. Malformed manifests are fatal to the run as a whole, so errors
// here are returned rather than folded into a report.
func LoadManifest(r io.Reader) ([]ServiceSpec, error) {
	buf, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading manifest")
	}
	var m manifest
	if err := yaml.UnmarshalStrict(buf, &m); err != nil {
		return nil, errors.Wrap(err, "parsing manifest")
	}
	if len(m.Services) == 0 {
		return nil, errors.New("manifest lists no services")
	}

	seen := map[string]bool{}
	for i := range m.Services {
		spec := &m.Services[i]
		if spec.HealthPath == "" {
			spec.HealthPath = "/health"
		}
		if !strings.HasPrefix(spec.HealthPath, "/") {
			spec.HealthPath = "/" + spec.HealthPath
		}
		if spec.Replicas == 0 {
			spec.Replicas = 1
		}
		if err := validateSpec(*spec, seen); err != nil {
			return nil, err
		}
		seen[spec.Name] = true
	}
	return m.Services, nil
}

func validateSpec(spec ServiceSpec, earlier map[string]bool) error {
	switch {
	case spec.Name == "":
		return errors.New("service with no name")
	case earlier[spec.Name]:
		return errors.Errorf("duplicate service name %q", spec.Name)
	case spec.BuildContext == "":
		return errors.Errorf("service %s has no build context", spec.Name)
	case spec.Port <= 0 || spec.Port > 65535:
		return errors.Errorf("service %s has invalid port %d", spec.Name, spec.Port)
	case spec.Replicas < 0:
		return errors.Errorf("service %s has negative replica count", spec.Name)
	}
	for _, dep := range spec.DependsOn {
		if dep == spec.Name {
			return errors.Errorf("service %s depends on itself", spec.Name)
		}
		if !earlier[dep] {
			return errors.Errorf("service %s depends on %q, which is not listed before it", spec.Name, dep)
		}
	}
	return nil
}

// Descriptor is the set of infrastructure handles produced by
// provisioning: opaque strings we pass along as query and command
// parameters, never parse. Read-only for the whole run.
type Descriptor struct {
	Region       string            `json:"region"`
	Cluster      string            `json:"cluster"`
	RegistryURLs map[string]string `json:"registryUrls"`
	LoadBalancer string            `json:"loadBalancer"`
}

// Validate checks the descriptor covers every service in the run.
func (d Descriptor) Validate(specs []ServiceSpec) error {
	switch {
	case d.Region == "":
		return errors.New("descriptor has no region")
	case d.Cluster == "":
		return errors.New("descriptor has no cluster")
	case d.LoadBalancer == "":
		return errors.New("descriptor has no load balancer address")
	}
	for _, spec := range specs {
		if d.RegistryURLs[spec.Name] == "" {
			return errors.Errorf("descriptor has no registry URL for service %s", spec.Name)
		}
	}
	return nil
}

// HealthURL is where the service's health endpoint is reachable from
// outside, via the load balancer.
func (d Descriptor) HealthURL(spec ServiceSpec) string {
	return fmt.Sprintf("http://%s:%d%s", d.LoadBalancer, spec.Port, spec.HealthPath)
}
