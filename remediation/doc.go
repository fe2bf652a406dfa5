// Package remediation isolates compromised resources from the network.
//
// A Dispatcher accepts a resource reference and an Action and hands the work
// to a Controller. Controllers exist per resource kind:
//
//   - EC2Controller swaps an instance's security groups for a quarantine group.
//   - KubernetesController labels a pod and ensures a deny-all NetworkPolicy
//     selects it.
//   - DryRunController only logs what it would have done.
//
// A Router picks the controller from the reference's shape:
//
//	i-0abc123             EC2 instance
//	ec2:i-0abc123         EC2 instance
//	k8s:pod/default/web-1 Kubernetes pod
//
// Isolation is idempotent. Isolating a resource that is already quarantined
// succeeds with Result.AlreadyIsolated set and changes nothing.
package remediation
