package worker_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docproof/apps/backend/features/task"
	"docproof/apps/backend/internal/config"
	"docproof/apps/backend/internal/fetch"
	"docproof/apps/backend/internal/source"
	"docproof/apps/backend/internal/testutils"
)

func TestTopicRouting(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	ctx := context.Background()
	appCfg := s.GetAppConfig()

	// 1. Setup Service
	repo := task.NewPostgresRepo(s.DB)
	svc := task.NewService(repo, s.NSQ, appCfg.UploadDir)

	// 2. Setup Consumer for verification
	msgs := make(chan *nsq.Message, 2)
	consumer, err := nsq.NewConsumer(config.TopicAnalysisTask, "test-ch", nsq.NewConfig())
	require.NoError(t, err)
	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		msgs <- m
		return nil
	}))
	if err := consumer.ConnectToNSQD(appCfg.NSQDHost); err != nil {
		t.Fatalf("Failed to connect to NSQD: %v", err)
	}
	defer consumer.Stop()

	receive := func() task.Payload {
		select {
		case msg := <-msgs:
			var p task.Payload
			require.NoError(t, json.Unmarshal(msg.Body, &p))
			return p
		case <-time.After(10 * time.Second):
			t.Fatal("Timeout waiting for analysis task")
		}
		return task.Payload{}
	}

	// 3. Remote document with credentials
	ref, err := source.ResolveRemote("https://docs.google.com/document/d/abc123XYZ/edit")
	require.NoError(t, err)
	remote, err := svc.RunAnalysis(ctx, ref, &fetch.Credentials{AccessToken: "tok"}, task.PromptConfig{UseO1: true})
	require.NoError(t, err)

	p := receive()
	assert.Equal(t, remote.ID, p.TaskID)
	assert.Equal(t, ref.Input, p.Source)
	require.NotNil(t, p.Credentials)
	assert.Equal(t, "tok", p.Credentials.AccessToken)
	assert.True(t, p.Prompt.UseO1)

	stored, err := svc.Get(ctx, remote.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, stored.Status)

	// 4. Upload
	upRef, err := source.ResolveUpload([]byte("hello world"), "notes.txt", "text/plain")
	require.NoError(t, err)
	upload, err := svc.RunAnalysis(ctx, upRef, nil, task.PromptConfig{})
	require.NoError(t, err)

	p = receive()
	assert.Equal(t, upload.ID, p.TaskID)
	assert.Equal(t, "notes.txt", p.FileName)
	assert.FileExists(t, p.UploadPath)
	assert.Nil(t, p.Credentials)
}
