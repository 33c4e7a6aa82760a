package batch

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cotaai/quotepipe/internal/models"
)

type fakeJobStore struct {
	created      int
	total        int
	resumable    []uuid.UUID
	recomputed   *models.BatchJob
	createErr    error
	recomputeErr error
}

func (f *fakeJobStore) Create(ctx context.Context, total int) (uuid.UUID, error) {
	if f.createErr != nil {
		return uuid.Nil, f.createErr
	}
	f.created++
	f.total = total
	return uuid.New(), nil
}

func (f *fakeJobStore) Get(ctx context.Context, id uuid.UUID) (*models.BatchJob, error) {
	return &models.BatchJob{ID: id, Total: f.total}, nil
}

func (f *fakeJobStore) ResumableChildIDs(ctx context.Context, batchJobID uuid.UUID) ([]uuid.UUID, error) {
	return f.resumable, nil
}

func (f *fakeJobStore) RecomputeCounters(ctx context.Context, batchJobID uuid.UUID) (*models.BatchJob, error) {
	if f.recomputeErr != nil {
		return nil, f.recomputeErr
	}
	return f.recomputed, nil
}

type fakeChildCreator struct {
	created []models.InputType
}

func (f *fakeChildCreator) CreateChild(ctx context.Context, inputText string, inputType models.InputType, configVersionID, batchJobID uuid.UUID) (uuid.UUID, error) {
	f.created = append(f.created, inputType)
	return uuid.New(), nil
}

func TestSubmitRejectsEmptyBatch(t *testing.T) {
	o := &Orchestrator{jobs: &fakeJobStore{}, requests: &fakeChildCreator{}, log: zerolog.Nop()}
	_, err := o.Submit(context.Background(), nil, uuid.New())
	assert.Error(t, err)
}

func TestSubmitCreatesJobAndAllChildren(t *testing.T) {
	jobs := &fakeJobStore{}
	children := &fakeChildCreator{}
	o := &Orchestrator{jobs: jobs, requests: children, log: zerolog.Nop()}

	batchID, err := o.Submit(context.Background(), []ChildInput{
		{InputText: "a", InputType: models.InputText},
		{InputText: "b", InputType: models.InputText},
		{InputText: "c", InputType: models.InputText},
	}, uuid.New())

	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, batchID)
	assert.Equal(t, 1, jobs.created)
	assert.Equal(t, 3, jobs.total)
	assert.Len(t, children.created, 3)
}

func TestResumeReconcilesCountersAndReturnsPending(t *testing.T) {
	batchID := uuid.New()
	pendingID := uuid.New()
	jobs := &fakeJobStore{
		resumable:  []uuid.UUID{pendingID},
		recomputed: &models.BatchJob{ID: batchID, Total: 3, Completed: 2, Status: models.BatchProcessing},
	}
	o := &Orchestrator{jobs: jobs, requests: &fakeChildCreator{}, log: zerolog.Nop()}

	job, pending, err := o.Resume(context.Background(), batchID)

	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{pendingID}, pending)
	assert.Equal(t, 2, job.Completed)
}
