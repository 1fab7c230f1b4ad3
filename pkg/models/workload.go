package models

import (
	"fmt"
	"time"
)

// Provider is the cloud a simulated cluster runs on
type Provider string

const (
	ProviderAWS   Provider = "aws"
	ProviderGCP   Provider = "gcp"
	ProviderAzure Provider = "azure"
)

// Providers lists every supported provider in catalog order
var Providers = []Provider{ProviderAWS, ProviderGCP, ProviderAzure}

// ParseProvider validates a provider tag
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(s); p {
	case ProviderAWS, ProviderGCP, ProviderAzure:
		return p, nil
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// Kind is the Kubernetes controller kind of a workload
type Kind string

const (
	KindDeployment  Kind = "Deployment"
	KindStatefulSet Kind = "StatefulSet"
	KindDaemonSet   Kind = "DaemonSet"
	KindCronJob     Kind = "CronJob"
	KindJob         Kind = "Job"
)

// ParseKind validates a workload kind tag
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindDeployment, KindStatefulSet, KindDaemonSet, KindCronJob, KindJob:
		return k, nil
	}
	return "", fmt.Errorf("unknown workload kind %q", s)
}

// Profile is the resource-intensity category of a workload
type Profile string

const (
	ProfileCPUIntensive    Profile = "cpu-intensive"
	ProfileMemoryIntensive Profile = "memory-intensive"
	ProfileBalanced        Profile = "balanced"
	ProfileLowUsage        Profile = "low-usage"
)

// ParseProfile validates a resource profile
func ParseProfile(s string) (Profile, error) {
	switch p := Profile(s); p {
	case ProfileCPUIntensive, ProfileMemoryIntensive, ProfileBalanced, ProfileLowUsage:
		return p, nil
	}
	return "", fmt.Errorf("unknown resource profile %q", s)
}

// Pattern is the temporal shape governing a workload's usage cycle
type Pattern string

const (
	PatternBusinessHours Pattern = "business-hours"
	PatternNightly       Pattern = "nightly"
	PatternHourly        Pattern = "hourly"
	PatternSporadic      Pattern = "sporadic"
	PatternWeekendLow    Pattern = "weekend-low"
	PatternSteady        Pattern = "steady"
)

// ParsePattern validates a scaling pattern
func ParsePattern(s string) (Pattern, error) {
	switch p := Pattern(s); p {
	case PatternBusinessHours, PatternNightly, PatternHourly,
		PatternSporadic, PatternWeekendLow, PatternSteady:
		return p, nil
	}
	return "", fmt.Errorf("unknown scaling pattern %q", s)
}

// Class groups workloads by their network footprint
type Class string

const (
	ClassStateless    Class = "stateless"
	ClassDatabase     Class = "database"
	ClassCache        Class = "cache"
	ClassBatch        Class = "batch"
	ClassMLTraining   Class = "ml-training"
	ClassMLInference  Class = "ml-inference"
	ClassMessageQueue Class = "message-queue"
	ClassMonitoring   Class = "monitoring"
)

// ParseClass validates a network class
func ParseClass(s string) (Class, error) {
	switch c := Class(s); c {
	case ClassStateless, ClassDatabase, ClassCache, ClassBatch,
		ClassMLTraining, ClassMLInference, ClassMessageQueue, ClassMonitoring:
		return c, nil
	}
	return "", fmt.Errorf("unknown workload class %q", s)
}

// Cluster represents a simulated Kubernetes cluster
type Cluster struct {
	ID            string
	Name          string
	Provider      Provider
	WorkloadCount int
}

// Workload represents a simulated Kubernetes workload
type Workload struct {
	ID          string
	Name        string
	ClusterID   string
	ClusterName string
	Namespace   string
	Kind        Kind
	Class       Class
	Profile     Profile
	Pattern     Pattern
	Replicas    int

	// Baselines before pattern, growth, spike and noise adjustments
	BaselineCPU       float64 // cores
	BaselineMemory    int64   // bytes
	BaselineNetworkRx int64   // bytes
	BaselineNetworkTx int64   // bytes

	CPULimit    float64 // cores
	MemoryLimit int64   // bytes

	// Epoch is the instant growth is measured from; no sample may precede it
	Epoch time.Time
}

// Key returns the human readable identity cluster/namespace/name
func (w *Workload) Key() string {
	return w.ClusterName + "/" + w.Namespace + "/" + w.Name
}
