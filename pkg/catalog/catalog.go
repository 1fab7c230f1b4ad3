package catalog

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/opscart/k8s-metrics-generator/pkg/models"
)

// Distribution is the fixed number of workloads each provider's cluster runs
var Distribution = map[models.Provider]int{
	models.ProviderAWS:   25,
	models.ProviderGCP:   15,
	models.ProviderAzure: 13,
}

// networkRates is the baseline receive volume per sample for each class
var networkRates = map[models.Class]int64{
	models.ClassStateless:    5 << 20,
	models.ClassDatabase:     50 << 20,
	models.ClassCache:        100 << 20,
	models.ClassBatch:        20 << 20,
	models.ClassMLTraining:   500 << 20,
	models.ClassMLInference:  30 << 20,
	models.ClassMessageQueue: 80 << 20,
	models.ClassMonitoring:   10 << 20,
}

// txRatio is the share of received traffic a workload sends back by default
const txRatio = 0.5

// IntegrityError is returned when a workload set is malformed or does not
// match the fixed per-cluster distribution. It is fatal at startup.
type IntegrityError struct {
	Problems []string
}

func (e *IntegrityError) Error() string {
	return "catalog integrity check failed: " + strings.Join(e.Problems, "; ")
}

// Catalog is the immutable set of simulated clusters and workloads.
// It is safe for concurrent reads.
type Catalog struct {
	clusters  []models.Cluster
	workloads []models.Workload
	byCluster map[string][]int
	byID      map[string]int
}

// New validates definitions and builds the catalog. Every workload gets the
// given epoch; samples before it are rejected by the simulator.
func New(file *File, epoch time.Time) (*Catalog, error) {
	var problems []string
	addf := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	c := &Catalog{
		byCluster: make(map[string][]int),
		byID:      make(map[string]int),
	}

	clusterByName := make(map[string]int)
	seenProviders := make(map[models.Provider]bool)
	for _, def := range file.Clusters {
		provider, err := models.ParseProvider(def.Provider)
		if err != nil {
			addf("cluster %q: %v", def.Name, err)
			continue
		}
		if _, dup := clusterByName[def.Name]; dup {
			addf("duplicate cluster %q", def.Name)
			continue
		}
		if seenProviders[provider] {
			addf("cluster %q: provider %s already has a cluster", def.Name, provider)
			continue
		}
		seenProviders[provider] = true
		clusterByName[def.Name] = len(c.clusters)
		c.clusters = append(c.clusters, models.Cluster{
			ID:            ClusterID(def.Name),
			Name:          def.Name,
			Provider:      provider,
			WorkloadCount: Distribution[provider],
		})
	}
	for _, p := range models.Providers {
		if !seenProviders[p] {
			addf("no cluster for provider %s", p)
		}
	}

	for i, def := range file.Workloads {
		ci, ok := clusterByName[def.Cluster]
		if !ok {
			addf("workload %q references unknown cluster %q", def.Name, def.Cluster)
			continue
		}
		w, err := buildWorkload(def, &c.clusters[ci], epoch)
		if err != nil {
			addf("workload #%d %q: %v", i, def.Name, err)
			continue
		}
		if _, dup := c.byID[w.ID]; dup {
			addf("duplicate workload %s", w.Key())
			continue
		}
		c.byID[w.ID] = len(c.workloads)
		c.byCluster[w.ClusterID] = append(c.byCluster[w.ClusterID], len(c.workloads))
		c.workloads = append(c.workloads, w)
	}

	for _, cl := range c.clusters {
		if got := len(c.byCluster[cl.ID]); got != cl.WorkloadCount {
			addf("cluster %s has %d workloads, want %d", cl.Name, got, cl.WorkloadCount)
		}
	}

	if len(problems) > 0 {
		return nil, &IntegrityError{Problems: problems}
	}
	return c, nil
}

func buildWorkload(def WorkloadDefinition, cluster *models.Cluster, epoch time.Time) (models.Workload, error) {
	if def.Name == "" || def.Namespace == "" {
		return models.Workload{}, fmt.Errorf("name and namespace are required")
	}
	kind, err := models.ParseKind(def.Kind)
	if err != nil {
		return models.Workload{}, err
	}
	class, err := models.ParseClass(def.Class)
	if err != nil {
		return models.Workload{}, err
	}
	profile, err := models.ParseProfile(def.Profile)
	if err != nil {
		return models.Workload{}, err
	}
	pattern, err := models.ParsePattern(def.Pattern)
	if err != nil {
		return models.Workload{}, err
	}

	requests, err := parseResources(def.Requests)
	if err != nil {
		return models.Workload{}, fmt.Errorf("requests: %w", err)
	}
	cpuReq, okCPU := requests[corev1.ResourceCPU]
	memReq, okMem := requests[corev1.ResourceMemory]
	if !okCPU || !okMem || cpuReq.Sign() <= 0 || memReq.Sign() <= 0 {
		return models.Workload{}, fmt.Errorf("positive cpu and memory requests are required")
	}

	limits, err := parseResources(def.Limits)
	if err != nil {
		return models.Workload{}, fmt.Errorf("limits: %w", err)
	}
	cpuLimit := scaledOrDefault(limits, corev1.ResourceCPU, cpuReq)
	memLimit := scaledOrDefault(limits, corev1.ResourceMemory, memReq)
	if cpuLimit.Cmp(cpuReq) < 0 || memLimit.Cmp(memReq) < 0 {
		return models.Workload{}, fmt.Errorf("limits must not be below requests")
	}

	rx := networkRates[class]
	tx := int64(float64(rx) * txRatio)
	if def.Network != nil {
		if def.Network.Rx != "" {
			q, err := resource.ParseQuantity(def.Network.Rx)
			if err != nil {
				return models.Workload{}, fmt.Errorf("network rx: %w", err)
			}
			rx = q.Value()
			tx = int64(float64(rx) * txRatio)
		}
		if def.Network.Tx != "" {
			q, err := resource.ParseQuantity(def.Network.Tx)
			if err != nil {
				return models.Workload{}, fmt.Errorf("network tx: %w", err)
			}
			tx = q.Value()
		}
	}
	if rx < 0 || tx < 0 {
		return models.Workload{}, fmt.Errorf("network baselines must not be negative")
	}

	replicas := def.Replicas
	if replicas <= 0 {
		replicas = 1
	}

	return models.Workload{
		ID:                WorkloadID(cluster.Name, def.Namespace, def.Name, kind),
		Name:              def.Name,
		ClusterID:         cluster.ID,
		ClusterName:       cluster.Name,
		Namespace:         def.Namespace,
		Kind:              kind,
		Class:             class,
		Profile:           profile,
		Pattern:           pattern,
		Replicas:          replicas,
		BaselineCPU:       float64(cpuReq.MilliValue()) / 1000,
		BaselineMemory:    memReq.Value(),
		BaselineNetworkRx: rx,
		BaselineNetworkTx: tx,
		CPULimit:          float64(cpuLimit.MilliValue()) / 1000,
		MemoryLimit:       memLimit.Value(),
		Epoch:             epoch,
	}, nil
}

func parseResources(raw map[string]string) (corev1.ResourceList, error) {
	list := corev1.ResourceList{}
	for name, value := range raw {
		rn := corev1.ResourceName(name)
		if rn != corev1.ResourceCPU && rn != corev1.ResourceMemory {
			return nil, fmt.Errorf("unsupported resource %q", name)
		}
		q, err := resource.ParseQuantity(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		list[rn] = q
	}
	return list, nil
}

// scaledOrDefault returns the explicit limit or twice the request
func scaledOrDefault(limits corev1.ResourceList, name corev1.ResourceName, request resource.Quantity) resource.Quantity {
	if q, ok := limits[name]; ok {
		return q
	}
	q := request.DeepCopy()
	q.Add(request)
	return q
}

// ClusterID derives the stable identity of a cluster from its name
func ClusterID(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("k8s-metrics-generator://clusters/"+name)).String()
}

// WorkloadID derives the stable identity of a workload. Identical definitions
// map to identical IDs across restarts, which keeps backfill re-runs idempotent.
func WorkloadID(cluster, namespace, name string, kind models.Kind) string {
	key := fmt.Sprintf("k8s-metrics-generator://workloads/%s/%s/%s/%s", cluster, namespace, kind, name)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()
}

// Clusters returns the clusters in catalog order
func (c *Catalog) Clusters() []models.Cluster {
	out := make([]models.Cluster, len(c.clusters))
	copy(out, c.clusters)
	return out
}

// Cluster looks a cluster up by ID
func (c *Catalog) Cluster(id string) (models.Cluster, bool) {
	for _, cl := range c.clusters {
		if cl.ID == id {
			return cl, true
		}
	}
	return models.Cluster{}, false
}

// AllWorkloads returns every workload in a stable order. The slice is a copy;
// modifying it does not affect the catalog.
func (c *Catalog) AllWorkloads() []models.Workload {
	out := make([]models.Workload, len(c.workloads))
	copy(out, c.workloads)
	return out
}

// WorkloadsByCluster returns the workloads of one cluster in catalog order
func (c *Catalog) WorkloadsByCluster(clusterID string) []models.Workload {
	idx := c.byCluster[clusterID]
	out := make([]models.Workload, len(idx))
	for i, j := range idx {
		out[i] = c.workloads[j]
	}
	return out
}

// Workload looks a workload up by ID
func (c *Catalog) Workload(id string) (models.Workload, bool) {
	i, ok := c.byID[id]
	if !ok {
		return models.Workload{}, false
	}
	return c.workloads[i], true
}

// Len returns the number of workloads
func (c *Catalog) Len() int {
	return len(c.workloads)
}

// Namespaces returns the distinct namespaces, sorted
func (c *Catalog) Namespaces() []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range c.workloads {
		if !seen[w.Namespace] {
			seen[w.Namespace] = true
			out = append(out, w.Namespace)
		}
	}
	sort.Strings(out)
	return out
}
