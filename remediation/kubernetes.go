package remediation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8stypes "k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/zero-day-ai/responder/responderr"
)

const (
	// DefaultQuarantinePolicy is the name of the deny-all NetworkPolicy.
	DefaultQuarantinePolicy = "responder-quarantine"

	// DefaultQuarantineLabel is the pod label the policy selects.
	DefaultQuarantineLabel = "responder.zero-day.ai/quarantine"

	managedByLabel = "app.kubernetes.io/managed-by"
	managedByValue = "responder"
)

// KubernetesOptions configures a KubernetesController.
type KubernetesOptions struct {
	// PolicyName of the per-namespace deny-all NetworkPolicy.
	PolicyName string

	// QuarantineLabel is set to "true" on isolated pods.
	QuarantineLabel string
}

// KubernetesController isolates pods. It labels the pod and makes sure a
// NetworkPolicy with no ingress or egress rules selects that label in the
// pod's namespace, which cuts all of the pod's traffic.
type KubernetesController struct {
	client     kubernetes.Interface
	policyName string
	label      string
	logger     *slog.Logger
}

// NewKubernetesController creates a KubernetesController.
func NewKubernetesController(client kubernetes.Interface, opts KubernetesOptions, logger *slog.Logger) *KubernetesController {
	if opts.PolicyName == "" {
		opts.PolicyName = DefaultQuarantinePolicy
	}
	if opts.QuarantineLabel == "" {
		opts.QuarantineLabel = DefaultQuarantineLabel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KubernetesController{
		client:     client,
		policyName: opts.PolicyName,
		label:      opts.QuarantineLabel,
		logger:     logger,
	}
}

// NewKubernetesClient builds a clientset from kubeconfig, or from the
// in-cluster service account when kubeconfig is empty.
func NewKubernetesClient(kubeconfig string) (kubernetes.Interface, error) {
	var config *rest.Config
	var err error

	if kubeconfig == "" {
		config, err = rest.InClusterConfig()
		if err != nil {
			// Fallback to the local kubeconfig for development
			config, err = clientcmd.BuildConfigFromFlags("", clientcmd.RecommendedHomeFile)
		}
	} else {
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get kubernetes config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}
	return clientset, nil
}

// Name implements Controller.
func (c *KubernetesController) Name() string {
	return "kubernetes"
}

// Isolate implements Controller.
func (c *KubernetesController) Isolate(ctx context.Context, ref string) (Result, error) {
	namespace, name, err := parsePodRef(ref)
	if err != nil {
		return Result{}, responderr.UnsupportedResource(ref, err.Error())
	}

	pod, err := c.client.CoreV1().Pods(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return Result{}, classifyKubernetesError(ref, err)
	}
	if pod.DeletionTimestamp != nil {
		return Result{}, responderr.ResourceNotFound(ref, fmt.Errorf("pod %s/%s is terminating", namespace, name))
	}

	created, err := c.ensurePolicy(ctx, namespace)
	if err != nil {
		return Result{}, classifyKubernetesError(ref, err)
	}

	labeled := pod.Labels[c.label] == "true"
	if !labeled {
		patch, err := json.Marshal(map[string]any{
			"metadata": map[string]any{
				"labels": map[string]string{c.label: "true"},
			},
		})
		if err != nil {
			return Result{}, fmt.Errorf("failed to build label patch: %w", err)
		}
		_, err = c.client.CoreV1().Pods(namespace).Patch(ctx, name, k8stypes.MergePatchType, patch, metav1.PatchOptions{})
		if err != nil {
			return Result{}, classifyKubernetesError(ref, err)
		}
	}

	c.logger.Info("pod quarantined",
		"namespace", namespace,
		"pod", name,
		"policy", c.policyName,
		"policy_created", created,
		"label_applied", !labeled,
	)
	return Result{ResourceRef: ref, AlreadyIsolated: labeled && !created}, nil
}

// Release implements Releaser by removing the quarantine label. The
// namespace's policy stays in place for other quarantined pods.
func (c *KubernetesController) Release(ctx context.Context, ref string, _ []string) (Result, error) {
	namespace, name, err := parsePodRef(ref)
	if err != nil {
		return Result{}, responderr.UnsupportedResource(ref, err.Error())
	}

	pod, err := c.client.CoreV1().Pods(namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return Result{}, classifyKubernetesError(ref, err)
	}
	if _, ok := pod.Labels[c.label]; !ok {
		return Result{ResourceRef: ref}, nil
	}

	patch, err := json.Marshal(map[string]any{
		"metadata": map[string]any{
			"labels": map[string]any{c.label: nil},
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to build label patch: %w", err)
	}
	_, err = c.client.CoreV1().Pods(namespace).Patch(ctx, name, k8stypes.MergePatchType, patch, metav1.PatchOptions{})
	if err != nil {
		return Result{}, classifyKubernetesError(ref, err)
	}

	c.logger.Info("pod released from quarantine", "namespace", namespace, "pod", name)
	return Result{ResourceRef: ref}, nil
}

// ensurePolicy creates the quarantine policy in namespace unless it exists.
// It reports whether the policy was created.
func (c *KubernetesController) ensurePolicy(ctx context.Context, namespace string) (bool, error) {
	policies := c.client.NetworkingV1().NetworkPolicies(namespace)

	_, err := policies.Get(ctx, c.policyName, metav1.GetOptions{})
	if err == nil {
		return false, nil
	}
	if !apierrors.IsNotFound(err) {
		return false, err
	}

	policy := &networkingv1.NetworkPolicy{
		ObjectMeta: metav1.ObjectMeta{
			Name:      c.policyName,
			Namespace: namespace,
			Labels:    map[string]string{managedByLabel: managedByValue},
		},
		Spec: networkingv1.NetworkPolicySpec{
			PodSelector: metav1.LabelSelector{
				MatchLabels: map[string]string{c.label: "true"},
			},
			PolicyTypes: []networkingv1.PolicyType{
				networkingv1.PolicyTypeIngress,
				networkingv1.PolicyTypeEgress,
			},
		},
	}

	_, err = policies.Create(ctx, policy, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		// Another worker created it first
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// parsePodRef splits "k8s:pod/<namespace>/<name>".
func parsePodRef(ref string) (namespace, name string, err error) {
	if !strings.HasPrefix(ref, k8sPrefix) {
		return "", "", fmt.Errorf("not a pod reference")
	}
	parts := strings.Split(strings.TrimPrefix(ref, k8sPrefix), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("pod reference must be k8s:pod/<namespace>/<name>")
	}
	return parts[0], parts[1], nil
}

// classifyKubernetesError maps API server failures onto the remediation error codes.
func classifyKubernetesError(ref string, err error) error {
	switch {
	case apierrors.IsNotFound(err), apierrors.IsGone(err):
		return responderr.ResourceNotFound(ref, err)
	case apierrors.IsTooManyRequests(err), apierrors.IsServerTimeout(err), apierrors.IsTimeout(err),
		apierrors.IsServiceUnavailable(err), apierrors.IsInternalError(err), apierrors.IsUnexpectedServerError(err):
		return responderr.TransientRemediation(ref, err)
	case apierrors.IsForbidden(err), apierrors.IsUnauthorized(err), apierrors.IsInvalid(err),
		apierrors.IsBadRequest(err), apierrors.IsMethodNotSupported(err):
		return responderr.RemediationRejected(ref, err)
	default:
		return responderr.TransientRemediation(ref, err)
	}
}
