package provisioner

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/Rubentxu/hodei-pipelines/pkg/log"
)

const defaultNamespace = "hodei-workers"

// Kubernetes provisions workers as pods.
type Kubernetes struct {
	clientset kubernetes.Interface
	namespace string
}

// NewKubernetes builds a client from the kubeconfig path, falling back
// to in-cluster config when the path is empty.
func NewKubernetes(kubeconfig string) (*Kubernetes, error) {
	var (
		cfg *rest.Config
		err error
	)
	if kubeconfig != "" {
		cfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	} else {
		cfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load kubernetes config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	return &Kubernetes{clientset: clientset, namespace: defaultNamespace}, nil
}

func (k *Kubernetes) Provision(ctx context.Context, spec WorkerSpec) (string, error) {
	image := spec.Image
	if image == "" {
		image = defaultAgentImage
	}

	labels := map[string]string{
		"app":         "hodei-worker",
		labelWorkerID: spec.WorkerID,
		labelPoolID:   spec.PoolID,
	}
	for kk, v := range spec.Labels {
		labels[kk] = v
	}

	var env []corev1.EnvVar
	for _, kv := range agentEnv(spec) {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				env = append(env, corev1.EnvVar{Name: kv[:i], Value: kv[i+1:]})
				break
			}
		}
	}

	limits := corev1.ResourceList{}
	if spec.Resources.CPUCores > 0 {
		limits[corev1.ResourceCPU] = *resource.NewMilliQuantity(int64(spec.Resources.CPUCores*1000), resource.DecimalSI)
	}
	if spec.Resources.MemoryMB > 0 {
		limits[corev1.ResourceMemory] = *resource.NewQuantity(spec.Resources.MemoryMB*1024*1024, resource.BinarySI)
	}

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:   "hodei-worker-" + spec.WorkerID,
			Labels: labels,
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{{
				Name:  "agent",
				Image: image,
				Env:   env,
				Resources: corev1.ResourceRequirements{
					Limits:   limits,
					Requests: limits,
				},
			}},
		},
	}

	created, err := k.clientset.CoreV1().Pods(k.namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to create worker pod: %w", err)
	}

	logger := log.WithComponent("provisioner")
	logger.Info().
		Str("worker_id", spec.WorkerID).
		Str("pod", created.Name).
		Msg("worker pod created")
	return created.Name, nil
}

func (k *Kubernetes) Terminate(ctx context.Context, instanceID string) error {
	if err := k.clientset.CoreV1().Pods(k.namespace).Delete(ctx, instanceID, metav1.DeleteOptions{}); err != nil {
		return fmt.Errorf("failed to delete worker pod: %w", err)
	}
	return nil
}

func (k *Kubernetes) List(ctx context.Context, poolID string) ([]Instance, error) {
	pods, err := k.clientset.CoreV1().Pods(k.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labelPoolID + "=" + poolID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list worker pods: %w", err)
	}

	out := make([]Instance, 0, len(pods.Items))
	for _, p := range pods.Items {
		out = append(out, Instance{
			ID:       p.Name,
			WorkerID: p.Labels[labelWorkerID],
			Running:  p.Status.Phase == corev1.PodRunning,
		})
	}
	return out, nil
}
