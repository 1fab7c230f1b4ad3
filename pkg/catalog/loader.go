package catalog

import (
	"bytes"
	_ "embed"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultDefinitions []byte

// File is the on-disk shape of a workload set
type File struct {
	Clusters  []ClusterDefinition  `yaml:"clusters"`
	Workloads []WorkloadDefinition `yaml:"workloads"`
}

type ClusterDefinition struct {
	Name     string `yaml:"name"`
	Provider string `yaml:"provider"`
}

// WorkloadDefinition describes one simulated workload. Requests and limits
// use Kubernetes quantity notation ("250m", "512Mi").
type WorkloadDefinition struct {
	Name      string            `yaml:"name"`
	Cluster   string            `yaml:"cluster"`
	Namespace string            `yaml:"namespace"`
	Kind      string            `yaml:"kind"`
	Class     string            `yaml:"class"`
	Profile   string            `yaml:"profile"`
	Pattern   string            `yaml:"pattern"`
	Replicas  int               `yaml:"replicas"`
	Requests  map[string]string `yaml:"requests"`
	Limits    map[string]string `yaml:"limits,omitempty"`
	Network   *NetworkOverride  `yaml:"network,omitempty"`
}

// NetworkOverride replaces the class default traffic per sample
type NetworkOverride struct {
	Rx string `yaml:"rx,omitempty"`
	Tx string `yaml:"tx,omitempty"`
}

// Parse decodes a workload set. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, errors.Wrap(err, "decoding workload definitions")
	}
	return &f, nil
}

// Default returns the built-in catalog
func Default(epoch time.Time) (*Catalog, error) {
	f, err := Parse(defaultDefinitions)
	if err != nil {
		return nil, err
	}
	return New(f, epoch)
}

// Load reads a catalog from path, or the built-in one when path is empty
func Load(path string, epoch time.Time) (*Catalog, error) {
	if path == "" {
		return Default(epoch)
	}
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, errors.Wrapf(err, "expanding catalog path %s", path)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, errors.Wrap(err, "reading catalog file")
	}
	f, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing %s", expanded)
	}
	return New(f, epoch)
}

// DefaultDefinitions returns a copy of the built-in workload set in YAML
func DefaultDefinitions() []byte {
	out := make([]byte, len(defaultDefinitions))
	copy(out, defaultDefinitions)
	return out
}

// Marshal encodes a workload set in the format Parse accepts
func Marshal(f *File) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return nil, errors.Wrap(err, "encoding workload definitions")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrap(err, "encoding workload definitions")
	}
	return buf.Bytes(), nil
}
