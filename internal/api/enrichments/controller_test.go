package enrichments_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hbomb79/Vidra/internal/api/enrichments"
	"github.com/hbomb79/Vidra/internal/enrich"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTasks struct {
	result  *enrich.TaskResult
	err     error
	maxWait time.Duration
}

func (tasks *fakeTasks) Poll(ctx context.Context, taskID uuid.UUID, maxWait time.Duration) (*enrich.TaskResult, error) {
	tasks.maxWait = maxWait
	if tasks.err != nil {
		return nil, tasks.err
	}

	result := *tasks.result
	result.ID = taskID
	return &result, nil
}

func newTestServer(t *testing.T, tasks enrichments.TaskService) *echo.Echo {
	t.Helper()
	ec := echo.New()
	enrichments.New(tasks).SetRoutes(ec.Group(""))
	return ec
}

func perform(ec *echo.Echo, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	ec.ServeHTTP(rec, req)
	return rec
}

func Test_Poll_InvalidIDRejected(t *testing.T) {
	t.Parallel()
	ec := newTestServer(t, &fakeTasks{})

	rec := perform(ec, "/not-a-uuid/")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func Test_Poll_UnknownTaskReturns404(t *testing.T) {
	t.Parallel()
	ec := newTestServer(t, &fakeTasks{err: enrich.ErrTaskNotFound})

	rec := perform(ec, "/"+uuid.NewString()+"/")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func Test_Poll_CompletedTaskReturned(t *testing.T) {
	t.Parallel()
	tasks := &fakeTasks{result: &enrich.TaskResult{Status: enrich.Completed, MusicFileID: "music-id"}}
	ec := newTestServer(t, tasks)

	taskID := uuid.NewString()
	rec := perform(ec, "/"+taskID+"/")
	require.Equal(t, http.StatusOK, rec.Code)

	var dto enrichments.TaskDto
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	assert.Equal(t, taskID, dto.ID.String())
	assert.Equal(t, "COMPLETED", dto.Status)
	assert.Equal(t, "music-id", dto.MusicFileID)
}

func Test_Poll_WaitParamForwardedInSeconds(t *testing.T) {
	t.Parallel()
	tasks := &fakeTasks{result: &enrich.TaskResult{Status: enrich.Pending}}
	ec := newTestServer(t, tasks)

	rec := perform(ec, "/"+uuid.NewString()+"/?wait=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Second*5, tasks.maxWait)
}

func Test_Poll_NegativeWaitRejected(t *testing.T) {
	t.Parallel()
	ec := newTestServer(t, &fakeTasks{result: &enrich.TaskResult{Status: enrich.Pending}})

	rec := perform(ec, "/"+uuid.NewString()+"/?wait=-1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
