package remediation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/zero-day-ai/responder/responderr"
)

type stubController struct {
	name  string
	calls []string
	err   error
	block bool
}

func (s *stubController) Name() string {
	if s.name == "" {
		return "stub"
	}
	return s.name
}

func (s *stubController) Isolate(ctx context.Context, ref string) (Result, error) {
	s.calls = append(s.calls, ref)
	if s.block {
		<-ctx.Done()
		return Result{}, ctx.Err()
	}
	if s.err != nil {
		return Result{}, s.err
	}
	return Result{ResourceRef: ref}, nil
}

func TestDispatcherRemediate(t *testing.T) {
	ctrl := &stubController{}
	d := NewDispatcher(ctrl)

	res, err := d.Remediate(context.Background(), "r-123", ActionIsolate)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "r-123", res.ResourceRef)
	assert.Equal(t, "stub", res.Controller)
	assert.Equal(t, []string{"r-123"}, ctrl.calls)
}

func TestDispatcherRejectsEmptyRef(t *testing.T) {
	ctrl := &stubController{}
	d := NewDispatcher(ctrl)

	res, err := d.Remediate(context.Background(), "", ActionIsolate)
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.True(t, errors.Is(err, responderr.ErrUnsupportedResource))
	assert.Empty(t, ctrl.calls, "controller must not be called without a resource")
}

func TestDispatcherRejectsUnknownAction(t *testing.T) {
	ctrl := &stubController{}
	d := NewDispatcher(ctrl)

	_, err := d.Remediate(context.Background(), "r-1", Action("terminate"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, responderr.ErrUnsupportedResource))
	assert.Empty(t, ctrl.calls)
}

func TestDispatcherPreservesClassifiedErrors(t *testing.T) {
	ctrl := &stubController{err: responderr.ResourceNotFound("r-1", nil)}
	d := NewDispatcher(ctrl)

	res, err := d.Remediate(context.Background(), "r-1", ActionIsolate)
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.ErrorDetail)
	assert.True(t, errors.Is(err, responderr.ErrResourceNotFound))
	assert.False(t, responderr.IsRetryable(err))
}

func TestDispatcherClassifiesUnknownErrorsAsTransient(t *testing.T) {
	ctrl := &stubController{err: errors.New("connection reset by peer")}
	d := NewDispatcher(ctrl)

	_, err := d.Remediate(context.Background(), "r-1", ActionIsolate)
	require.Error(t, err)
	assert.True(t, errors.Is(err, responderr.ErrTransientRemediation))
	assert.True(t, responderr.IsRetryable(err))
}

func TestDispatcherTimeout(t *testing.T) {
	ctrl := &stubController{block: true}
	d := NewDispatcher(ctrl, WithTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := d.Remediate(context.Background(), "r-1", ActionIsolate)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, responderr.IsRetryable(err))
}

func TestDryRunController(t *testing.T) {
	d := NewDispatcher(NewDryRunController(nil))

	res, err := d.Remediate(context.Background(), "i-0abc", ActionIsolate)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "dry-run", res.Controller)
}

func TestDispatcherRateLimit(t *testing.T) {
	ctrl := &stubController{}
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	d := NewDispatcher(ctrl, WithRateLimit(limiter), WithTimeout(20*time.Millisecond))

	_, err := d.Remediate(context.Background(), "r-1", ActionIsolate)
	require.NoError(t, err)

	_, err = d.Remediate(context.Background(), "r-2", ActionIsolate)
	require.Error(t, err)
	assert.True(t, responderr.IsRetryable(err))
	assert.Equal(t, []string{"r-1"}, ctrl.calls)
}

func TestDryRunResultIsMarked(t *testing.T) {
	d := NewDispatcher(NewDryRunController(nil))

	res, err := d.Remediate(context.Background(), "i-0abc", ActionIsolate)
	require.NoError(t, err)
	assert.True(t, res.DryRun)

	res, err = d.Release(context.Background(), "i-0abc", []string{"sg-1"})
	require.NoError(t, err)
	assert.True(t, res.DryRun)
}

func TestDispatcherReleaseNeedsReleaser(t *testing.T) {
	ctrl := &stubController{}
	d := NewDispatcher(ctrl)

	_, err := d.Release(context.Background(), "r-1", []string{"sg-1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, responderr.ErrUnsupportedResource))
	assert.Empty(t, ctrl.calls)
}

func TestDispatcherReleaseThroughRouter(t *testing.T) {
	api := newFakeEC2()
	ec2Ctrl := newTestEC2Controller(t, api)
	router := NewRouter().Handle(KindEC2Instance, ec2Ctrl).Handle(KindKubernetesPod, &stubController{name: "pods"})
	d := NewDispatcher(router)
	ctx := context.Background()

	isolated, err := d.Remediate(ctx, "ec2:i-0abc", ActionIsolate)
	require.NoError(t, err)
	assert.Equal(t, "ec2", isolated.Controller)

	released, err := d.Release(ctx, "ec2:i-0abc", isolated.PreviousGroups)
	require.NoError(t, err)
	assert.True(t, released.Success)
	assert.Equal(t, []string{"sg-web", "sg-ssh"}, api.instances["i-0abc"])

	_, err = d.Release(ctx, "k8s:pod/prod/web-1", nil)
	assert.True(t, errors.Is(err, responderr.ErrUnsupportedResource), "stub controller cannot release")

	_, err = d.Release(ctx, "vm-42", nil)
	assert.True(t, errors.Is(err, responderr.ErrUnsupportedResource))
}
