package loom

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loomci.dev/loom/models"
	"loomci.dev/loom/queue"
	"loomci.dev/loom/workflow"
)

const minimalWorkflow = `
image: rust:1.79
steps:
  - name: Build
    command: cargo build
`

func postPipeline(t *testing.T, s *Loom, payload PipelinePayload) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/pipelines", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.NewPipeline(rec, req)
	return rec
}

func payloadWith(tr workflow.TriggerMetadata) PipelinePayload {
	return PipelinePayload{
		Trigger: tr,
		Workflows: []PayloadWorkflow{
			{Name: "ci.yml", Contents: []byte(minimalWorkflow)},
		},
	}
}

func TestNewPipelineEnqueues(t *testing.T) {
	eng := &fakeEngine{}
	s := testLoom(t, eng)
	s.jq = queue.NewQueue(10, 1)
	s.jq.Start()

	rec := postPipeline(t, s, payloadWith(testTrigger()))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	var resp PipelineResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Skipped)
	assert.Equal(t, []string{"ci.yml"}, resp.Workflows)

	s.jq.Stop()

	wid := models.WorkflowId{
		PipelineId: models.PipelineId{Host: "forge.example.com", Id: resp.Id},
		Name:       "ci.yml",
	}
	require.Eventually(t, func() bool {
		status, err := s.db.GetStatus(wid)
		return err == nil && status.Status.IsFinish()
	}, time.Second, 10*time.Millisecond)

	status, err := s.db.GetStatus(wid)
	require.NoError(t, err)
	assert.Equal(t, models.StatusKindSuccess, status.Status)
}

func TestNewPipelineSameRepoPullRequestSkips(t *testing.T) {
	eng := &fakeEngine{}
	s := testLoom(t, eng)
	s.jq = queue.NewQueue(10, 1)
	s.jq.Start()
	defer s.jq.Stop()

	repo := &workflow.TriggerRepo{Host: "forge.example.com", Owner: "icy", Name: "loom"}
	tr := workflow.TriggerMetadata{
		Kind: workflow.TriggerKindPullRequest,
		Repo: repo,
		PullRequest: &workflow.PullRequestTrigger{
			Source:       repo,
			SourceBranch: "feature",
			TargetBranch: "main",
			SourceSha:    "cafebabe",
		},
	}

	rec := postPipeline(t, s, payloadWith(tr))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp PipelineResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Skipped)
	assert.Empty(t, resp.Workflows)
	assert.Empty(t, eng.ran, "no step may run for a same-repo pull request")

	wid := models.WorkflowId{
		PipelineId: models.PipelineId{Host: "forge.example.com", Id: resp.Id},
		Name:       "ci.yml",
	}
	status, err := s.db.GetStatus(wid)
	require.NoError(t, err)
	assert.Equal(t, models.StatusKindSkipped, status.Status)
}

func TestNewPipelineForkPullRequestRuns(t *testing.T) {
	eng := &fakeEngine{}
	s := testLoom(t, eng)
	s.jq = queue.NewQueue(10, 1)
	s.jq.Start()

	tr := workflow.TriggerMetadata{
		Kind: workflow.TriggerKindPullRequest,
		Repo: &workflow.TriggerRepo{Host: "forge.example.com", Owner: "icy", Name: "loom"},
		PullRequest: &workflow.PullRequestTrigger{
			Source:       &workflow.TriggerRepo{Host: "forge.example.com", Owner: "oppi", Name: "loom"},
			SourceBranch: "feature",
			TargetBranch: "main",
			SourceSha:    "cafebabe",
		},
	}

	rec := postPipeline(t, s, payloadWith(tr))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	s.jq.Stop()

	assert.NotEmpty(t, eng.ran, "fork pull requests run the pipeline")
}

func TestNewPipelineInvalidWorkflow(t *testing.T) {
	s := testLoom(t, &fakeEngine{})

	payload := PipelinePayload{
		Trigger: testTrigger(),
		Workflows: []PayloadWorkflow{
			{Name: "broken.yml", Contents: []byte("image: rust:1.79\n")}, // no steps
		},
	}

	rec := postPipeline(t, s, payload)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp PipelineResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Diagnostics)
}

func TestNewPipelineBadPayload(t *testing.T) {
	s := testLoom(t, &fakeEngine{})

	req := httptest.NewRequest(http.MethodPost, "/pipelines", bytes.NewReader([]byte("{")))
	rec := httptest.NewRecorder()
	s.NewPipeline(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
