package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const (
	pipelineContainer = "pipeline"
	jobNameLabel      = "job-name"
	podPollInterval   = 500 * time.Millisecond
)

// KubernetesConfig holds configuration for the Kubernetes runtime.
type KubernetesConfig struct {
	Namespace      string
	ServiceAccount string

	// Resource requests and limits for the pipeline container. Empty values
	// fall back to the defaults below.
	CPURequest    string
	MemoryRequest string
	CPULimit      string
	MemoryLimit   string

	// TTLAfterFinished lets Kubernetes garbage collect finished Jobs.
	// Default 1h; negative keeps them forever.
	TTLAfterFinished time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (c KubernetesConfig) withDefaults() KubernetesConfig {
	if c.Namespace == "" {
		c.Namespace = "default"
	}
	if c.CPURequest == "" {
		c.CPURequest = "250m"
	}
	if c.MemoryRequest == "" {
		c.MemoryRequest = "512Mi"
	}
	if c.CPULimit == "" {
		c.CPULimit = "2"
	}
	if c.MemoryLimit == "" {
		c.MemoryLimit = "4Gi"
	}
	if c.TTLAfterFinished == 0 {
		c.TTLAfterFinished = time.Hour
	}
	return c
}

func (c KubernetesConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// KubernetesRuntime runs the pipeline image as a Kubernetes Job.
type KubernetesRuntime struct {
	clientset kubernetes.Interface
	config    KubernetesConfig
}

// KubernetesHandle is a submitted pipeline Job.
type KubernetesHandle struct {
	clientset kubernetes.Interface
	namespace string
	jobName   string
	logger    *slog.Logger
}

// NewKubernetesRuntime uses the in-cluster config when available and falls
// back to $KUBECONFIG or ~/.kube/config.
func NewKubernetesRuntime(cfg KubernetesConfig) (*KubernetesRuntime, error) {
	restCfg, err := rest.InClusterConfig()
	if err != nil {
		kubeconfig := os.Getenv("KUBECONFIG")
		if kubeconfig == "" {
			home, _ := os.UserHomeDir()
			kubeconfig = filepath.Join(home, ".kube", "config")
		}
		restCfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
		}
		cfg.logger().Info("using kubeconfig", "path", kubeconfig)
	}

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}
	return &KubernetesRuntime{clientset: clientset, config: cfg.withDefaults()}, nil
}

func jobName(opts StartOptions) string {
	if opts.Name != "" {
		return resourceName(opts.Name)
	}
	return fmt.Sprintf("draftplane-%d", time.Now().UnixNano())
}

// jobSpec builds the Job for one pipeline run.
func (k *KubernetesRuntime) jobSpec(cfg KubernetesConfig, opts StartOptions) (*batchv1.Job, error) {
	resources, err := containerResources(cfg)
	if err != nil {
		return nil, err
	}

	env := make([]corev1.EnvVar, 0, len(opts.Env))
	for _, kv := range mapToEnvList(opts.Env) {
		key, value, _ := strings.Cut(kv, "=")
		env = append(env, corev1.EnvVar{Name: key, Value: value})
	}

	name := jobName(opts)
	labels := runLabels(opts.Env)
	podLabels := runLabels(opts.Env)
	podLabels[jobNameLabel] = name

	// Retries are driven by the controller, never by Kubernetes.
	backoffLimit := int32(0)
	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: cfg.Namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoffLimit,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: podLabels},
				Spec: corev1.PodSpec{
					RestartPolicy:      corev1.RestartPolicyNever,
					ServiceAccountName: cfg.ServiceAccount,
					Containers: []corev1.Container{{
						Name:      pipelineContainer,
						Image:     opts.Image,
						Command:   opts.Command,
						Env:       env,
						Resources: resources,
					}},
				},
			},
		},
	}
	if secs := int64(opts.Timeout.Seconds()); secs > 0 {
		job.Spec.ActiveDeadlineSeconds = &secs
	}
	if cfg.TTLAfterFinished > 0 {
		ttl := int32(cfg.TTLAfterFinished.Seconds())
		job.Spec.TTLSecondsAfterFinished = &ttl
	}
	return job, nil
}

func containerResources(cfg KubernetesConfig) (corev1.ResourceRequirements, error) {
	parse := func(field, v string) (resource.Quantity, error) {
		q, err := resource.ParseQuantity(v)
		if err != nil {
			return q, fmt.Errorf("invalid %s %q: %w", field, v, err)
		}
		return q, nil
	}

	var out corev1.ResourceRequirements
	cpuReq, err := parse("cpu request", cfg.CPURequest)
	if err != nil {
		return out, err
	}
	memReq, err := parse("memory request", cfg.MemoryRequest)
	if err != nil {
		return out, err
	}
	cpuLim, err := parse("cpu limit", cfg.CPULimit)
	if err != nil {
		return out, err
	}
	memLim, err := parse("memory limit", cfg.MemoryLimit)
	if err != nil {
		return out, err
	}
	out.Requests = corev1.ResourceList{corev1.ResourceCPU: cpuReq, corev1.ResourceMemory: memReq}
	out.Limits = corev1.ResourceList{corev1.ResourceCPU: cpuLim, corev1.ResourceMemory: memLim}
	return out, nil
}

// Start creates a Kubernetes Job running opts.Image.
func (k *KubernetesRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	cfg := k.config.withDefaults()
	job, err := k.jobSpec(cfg, opts)
	if err != nil {
		return nil, err
	}

	created, err := k.clientset.BatchV1().Jobs(cfg.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes job: %w", err)
	}

	log := cfg.logger().With("job", created.Name, "namespace", cfg.Namespace)
	log.Info("created kubernetes job", "dispatch_id", created.Labels[LabelDispatchID])

	return &KubernetesHandle{
		clientset: k.clientset,
		namespace: cfg.Namespace,
		jobName:   created.Name,
		logger:    log,
	}, nil
}

// podResult reports whether pod has finished and how.
func podResult(pod *corev1.Pod) (ExitResult, bool) {
	switch pod.Status.Phase {
	case corev1.PodSucceeded:
		return ExitResult{ExitCode: 0}, true
	case corev1.PodFailed:
		res := ExitResult{ExitCode: -1}
		for _, cs := range pod.Status.ContainerStatuses {
			if cs.Name != pipelineContainer || cs.State.Terminated == nil {
				continue
			}
			res.ExitCode = int(cs.State.Terminated.ExitCode)
			if reason := cs.State.Terminated.Reason; reason != "" {
				res.Error = errors.New(reason)
			}
		}
		// Deadline kills happen at pod level and leave no container status.
		if res.Error == nil && pod.Status.Reason != "" {
			res.Error = errors.New(pod.Status.Reason)
		}
		return res, true
	}
	return ExitResult{}, false
}

// Wait blocks until the job's pod completes. A closed watch is re-opened
// until ctx ends.
func (h *KubernetesHandle) Wait(ctx context.Context) (ExitResult, error) {
	podName, err := h.waitForPod(ctx)
	if err != nil {
		return ExitResult{ExitCode: -1, Error: err}, err
	}

	pods := h.clientset.CoreV1().Pods(h.namespace)
	for ctx.Err() == nil {
		watcher, err := pods.Watch(ctx, metav1.ListOptions{
			FieldSelector: "metadata.name=" + podName,
		})
		if err != nil {
			return ExitResult{ExitCode: -1, Error: err}, err
		}

		for event := range watcher.ResultChan() {
			if event.Type == watch.Error {
				watcher.Stop()
				err := fmt.Errorf("watch error on pod %s", podName)
				return ExitResult{ExitCode: -1, Error: err}, err
			}
			pod, ok := event.Object.(*corev1.Pod)
			if !ok {
				continue
			}
			if res, done := podResult(pod); done {
				watcher.Stop()
				return res, nil
			}
		}
		watcher.Stop()
	}
	return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
}

// waitForPod polls until the job's pod exists and returns its name.
func (h *KubernetesHandle) waitForPod(ctx context.Context) (string, error) {
	var name string
	err := wait.PollUntilContextCancel(ctx, podPollInterval, true, func(ctx context.Context) (bool, error) {
		pods, err := h.clientset.CoreV1().Pods(h.namespace).List(ctx, metav1.ListOptions{
			LabelSelector: jobNameLabel + "=" + h.jobName,
		})
		if err != nil {
			return false, err
		}
		if len(pods.Items) == 0 {
			return false, nil
		}
		name = pods.Items[0].Name
		return true, nil
	})
	return name, err
}

// waitForContainerReady polls until the pod has started or finished.
func (h *KubernetesHandle) waitForContainerReady(ctx context.Context, podName string) error {
	return wait.PollUntilContextCancel(ctx, podPollInterval, true, func(ctx context.Context) (bool, error) {
		pod, err := h.clientset.CoreV1().Pods(h.namespace).Get(ctx, podName, metav1.GetOptions{})
		if err != nil {
			return false, err
		}
		switch pod.Status.Phase {
		case corev1.PodRunning, corev1.PodSucceeded, corev1.PodFailed:
			return true, nil
		}
		return false, nil
	})
}

// Stop deletes the Job and its pods. A Job that is already gone is not an
// error.
func (h *KubernetesHandle) Stop(ctx context.Context) error {
	propagation := metav1.DeletePropagationForeground
	err := h.clientset.BatchV1().Jobs(h.namespace).Delete(ctx, h.jobName, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete job %s: %w", h.jobName, err)
	}
	if h.logger != nil {
		h.logger.Info("deleted kubernetes job")
	}
	return nil
}

// StreamLogs follows the pipeline container's logs.
func (h *KubernetesHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	podName, err := h.waitForPod(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to find pod for job %s: %w", h.jobName, err)
	}
	if err := h.waitForContainerReady(ctx, podName); err != nil {
		return nil, err
	}

	return h.clientset.CoreV1().Pods(h.namespace).GetLogs(podName, &corev1.PodLogOptions{
		Container: pipelineContainer,
		Follow:    true,
	}).Stream(ctx)
}
