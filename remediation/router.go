package remediation

import (
	"context"
	"strings"

	"github.com/zero-day-ai/responder/responderr"
)

// Kind identifies the class of resource a reference names.
type Kind string

const (
	KindUnknown       Kind = ""
	KindEC2Instance   Kind = "ec2-instance"
	KindKubernetesPod Kind = "k8s-pod"
)

const (
	ec2Prefix = "ec2:"
	k8sPrefix = "k8s:pod/"
)

// KindOf classifies a resource reference by its shape.
func KindOf(ref string) Kind {
	switch {
	case strings.HasPrefix(ref, ec2Prefix+"i-"), strings.HasPrefix(ref, "i-"):
		return KindEC2Instance
	case strings.HasPrefix(ref, k8sPrefix):
		return KindKubernetesPod
	default:
		return KindUnknown
	}
}

// Router is a Controller that delegates to the controller registered for
// the reference's Kind. References of an unregistered kind go to the
// fallback; with no fallback they fail with UNSUPPORTED_RESOURCE.
type Router struct {
	controllers map[Kind]Controller
	fallback    Controller
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{controllers: make(map[Kind]Controller)}
}

// Handle registers c for kind and returns the router for chaining.
func (r *Router) Handle(kind Kind, c Controller) *Router {
	r.controllers[kind] = c
	return r
}

// Fallback sets the controller for references no registered kind matches.
func (r *Router) Fallback(c Controller) *Router {
	r.fallback = c
	return r
}

// Name implements Controller.
func (r *Router) Name() string {
	return "router"
}

// Route returns the controller for ref, or nil.
func (r *Router) Route(ref string) Controller {
	if c, ok := r.controllers[KindOf(ref)]; ok {
		return c
	}
	return r.fallback
}

// Isolate implements Controller.
func (r *Router) Isolate(ctx context.Context, ref string) (Result, error) {
	c := r.Route(ref)
	if c == nil {
		return Result{ResourceRef: ref}, responderr.UnsupportedResource(ref, "no controller for resource kind")
	}
	res, err := c.Isolate(ctx, ref)
	if res.Controller == "" {
		res.Controller = c.Name()
	}
	return res, err
}

// Release implements Releaser for controllers that support it.
func (r *Router) Release(ctx context.Context, ref string, previousGroups []string) (Result, error) {
	c := r.Route(ref)
	if c == nil {
		return Result{ResourceRef: ref}, responderr.UnsupportedResource(ref, "no controller for resource kind")
	}
	releaser, ok := c.(Releaser)
	if !ok {
		return Result{ResourceRef: ref, Controller: c.Name()}, responderr.UnsupportedResource(ref, "controller cannot release resources")
	}
	res, err := releaser.Release(ctx, ref, previousGroups)
	if res.Controller == "" {
		res.Controller = c.Name()
	}
	return res, err
}
