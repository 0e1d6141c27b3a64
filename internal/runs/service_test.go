package runs_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordontrips/cordontrips/internal/runs"
	"github.com/cordontrips/cordontrips/internal/source"
)

func validRequest() runs.Request {
	return runs.Request{
		Plans:   "https://data.example.org/freight.xml.gz",
		Network: "/data/network.xml.gz",
		Region:  "/data/region.geojson",
		Output:  "/data/out/freight-trips.xml.gz",
	}
}

func newService() *runs.Service {
	return runs.NewService(runs.NewInMemoryRepository(), runs.WithLocationPolicy(source.Policy{
		DataRoot:     "/data",
		AllowedHosts: []string{"data.example.org"},
	}))
}

func TestService_Create(t *testing.T) {
	svc := newService()

	run, err := svc.Create(context.Background(), validRequest())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(run.ID, "run_"))
	assert.Equal(t, runs.StatusPending, run.Status)
	assert.Nil(t, run.StartedAt)

	stored, err := svc.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.Request, stored.Request)
}

func TestService_Create_Validation(t *testing.T) {
	svc := newService()
	req := validRequest()
	req.Plans = ""
	req.Workers = 1000

	_, err := svc.Create(context.Background(), req)

	var verr *runs.ValidationError
	require.True(t, errors.As(err, &verr))
	fields := map[string]string{}
	for _, fe := range verr.Errors {
		fields[fe.Field] = fe.Code
	}
	assert.Equal(t, "required", fields["plans"])
	assert.Equal(t, "max", fields["workers"])
}

func TestService_Create_Locations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *runs.Request)
		field  string
	}{
		{name: "output outside data root", mutate: func(r *runs.Request) { r.Output = "/etc/cron.d/x" }, field: "output"},
		{name: "output escapes with dot-dot", mutate: func(r *runs.Request) { r.Output = "out/../../etc/cron.d/x" }, field: "output"},
		{name: "remote output", mutate: func(r *runs.Request) { r.Output = "https://data.example.org/out.xml" }, field: "output"},
		{name: "file uri outside data root", mutate: func(r *runs.Request) { r.Plans = "file:///etc/shadow" }, field: "plans"},
		{name: "host not allowed", mutate: func(r *runs.Request) { r.Network = "http://169.254.169.254/latest" }, field: "network"},
		{name: "unsupported scheme", mutate: func(r *runs.Request) { r.Region = "gs://bucket/region.shp" }, field: "region"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newService()
			req := validRequest()
			tt.mutate(&req)

			_, err := svc.Create(context.Background(), req)

			var verr *runs.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			require.Len(t, verr.Errors, 1)
			assert.Equal(t, tt.field, verr.Errors[0].Field)
			assert.Equal(t, "location", verr.Errors[0].Code)

			list, err := svc.List(context.Background(), runs.ListOptions{})
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestService_Create_DefaultPolicy(t *testing.T) {
	svc := runs.NewService(runs.NewInMemoryRepository())

	_, err := svc.Create(context.Background(), runs.Request{
		Plans: "plans.xml", Network: "network.xml", Region: "region.geojson", Output: "out.xml",
	})
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), validRequest())
	var verr *runs.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.NotEmpty(t, verr.Errors)
}

func TestService_Lifecycle(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	run, err := svc.Create(ctx, validRequest())
	require.NoError(t, err)

	running, err := svc.MarkRunning(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusRunning, running.Status)
	require.NotNil(t, running.StartedAt)

	again, err := svc.MarkRunning(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, running.StartedAt, again.StartedAt)

	done, err := svc.Complete(ctx, run.ID, runs.Outcome{
		Processed:     10,
		Emitted:       4,
		Skipped:       map[string]int{"no_crossing": 6},
		BoundaryLinks: 24,
	})
	require.NoError(t, err)
	assert.Equal(t, runs.StatusSucceeded, done.Status)
	assert.Equal(t, 4, done.Emitted)
	assert.Equal(t, 6, done.Skipped["no_crossing"])
	require.NotNil(t, done.FinishedAt)

	_, err = svc.Fail(ctx, run.ID, errors.New("late failure"))
	assert.ErrorIs(t, err, runs.ErrInvalidTransition)

	_, err = svc.MarkRunning(ctx, run.ID)
	assert.ErrorIs(t, err, runs.ErrInvalidTransition)
}

func TestService_Fail(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	run, err := svc.Create(ctx, validRequest())
	require.NoError(t, err)

	failed, err := svc.Fail(ctx, run.ID, errors.New("network has no routable links"))
	require.NoError(t, err)
	assert.Equal(t, runs.StatusFailed, failed.Status)
	assert.Equal(t, "network has no routable links", failed.Error)
	assert.NotNil(t, failed.StartedAt)
}

func TestService_NotFound(t *testing.T) {
	svc := newService()
	_, err := svc.Get(context.Background(), "run_missing")
	assert.ErrorIs(t, err, runs.ErrRunNotFound)
	_, err = svc.MarkRunning(context.Background(), "run_missing")
	assert.ErrorIs(t, err, runs.ErrRunNotFound)
}

func TestInMemoryRepository_ListFilterAndLimit(t *testing.T) {
	ctx := context.Background()
	svc := newService()
	var ids []string
	for i := 0; i < 3; i++ {
		run, err := svc.Create(ctx, validRequest())
		require.NoError(t, err)
		ids = append(ids, run.ID)
	}
	_, err := svc.MarkRunning(ctx, ids[1])
	require.NoError(t, err)

	all, err := svc.List(ctx, runs.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	running, err := svc.List(ctx, runs.ListOptions{Status: runs.StatusRunning})
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, ids[1], running[0].ID)

	limited, err := svc.List(ctx, runs.ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestInMemoryRepository_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := runs.NewInMemoryRepository()
	require.NoError(t, repo.Create(ctx, &runs.Run{ID: "r1", Skipped: map[string]int{"no_path": 1}}))

	got, err := repo.Get(ctx, "r1")
	require.NoError(t, err)
	got.Skipped["no_path"] = 99

	again, err := repo.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Skipped["no_path"])

	assert.ErrorIs(t, repo.Update(ctx, &runs.Run{ID: "missing"}), runs.ErrRunNotFound)
}
