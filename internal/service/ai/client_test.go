package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thinkchat/internal/config"
)

type fakeChatModel struct {
	reply    *schema.Message
	err      error
	block    bool
	calls    int
	lastMsgs []*schema.Message
	lastOpts *model.Options
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.calls++
	f.lastMsgs = input
	f.lastOpts = model.GetCommonOptions(&model.Options{}, opts...)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := f.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func testModelConfig() config.ModelConfig {
	return config.ModelConfig{
		Provider:              config.ProviderOllama,
		BaseURL:               "http://localhost:11434",
		Models:                []string{"deepseek-r1:1.5b", "deepseek-r1:3b"},
		DefaultModel:          "deepseek-r1:1.5b",
		Temperature:           0.3,
		RequestTimeoutSeconds: 5,
	}
}

func TestCompleteReturnsRawContent(t *testing.T) {
	fake := &fakeChatModel{reply: schema.AssistantMessage("<think>plan</think>done", nil)}
	client := NewClientWithFactory(testModelConfig(), func(ctx context.Context, modelID string) (model.BaseChatModel, error) {
		return fake, nil
	})

	msgs := []*schema.Message{schema.SystemMessage("sys"), schema.UserMessage("hi")}
	out, err := client.Complete(context.Background(), "deepseek-r1:1.5b", msgs)
	require.NoError(t, err)
	assert.Equal(t, "<think>plan</think>done", out)
	assert.Equal(t, msgs, fake.lastMsgs)

	require.NotNil(t, fake.lastOpts.Temperature)
	assert.InDelta(t, 0.3, *fake.lastOpts.Temperature, 0.0001)
	require.NotNil(t, fake.lastOpts.Model)
	assert.Equal(t, "deepseek-r1:1.5b", *fake.lastOpts.Model)
}

func TestCompleteEmptyResponse(t *testing.T) {
	client := NewClientWithFactory(testModelConfig(), func(ctx context.Context, modelID string) (model.BaseChatModel, error) {
		return &fakeChatModel{}, nil
	})
	out, err := client.Complete(context.Background(), "deepseek-r1:1.5b", nil)
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestCompleteCachesModelPerID(t *testing.T) {
	var built atomic.Int32
	client := NewClientWithFactory(testModelConfig(), func(ctx context.Context, modelID string) (model.BaseChatModel, error) {
		built.Add(1)
		return &fakeChatModel{reply: schema.AssistantMessage(modelID, nil)}, nil
	})

	for i := 0; i < 3; i++ {
		out, err := client.Complete(context.Background(), "deepseek-r1:1.5b", nil)
		require.NoError(t, err)
		assert.Equal(t, "deepseek-r1:1.5b", out)
	}
	out, err := client.Complete(context.Background(), "deepseek-r1:3b", nil)
	require.NoError(t, err)
	assert.Equal(t, "deepseek-r1:3b", out)
	assert.Equal(t, int32(2), built.Load())
}

func TestCompleteRejectsUnknownModel(t *testing.T) {
	client := NewClientWithFactory(testModelConfig(), func(ctx context.Context, modelID string) (model.BaseChatModel, error) {
		t.Fatalf("factory should not be called for %s", modelID)
		return nil, nil
	})
	_, err := client.Complete(context.Background(), "gpt-4o", nil)
	assert.ErrorIs(t, err, ErrUnknownModel)
	assert.False(t, IsConnectivity(err))
}

func TestCompleteFactoryError(t *testing.T) {
	boom := errors.New("boom")
	client := NewClientWithFactory(testModelConfig(), func(ctx context.Context, modelID string) (model.BaseChatModel, error) {
		return nil, boom
	})
	_, err := client.Complete(context.Background(), "deepseek-r1:1.5b", nil)
	assert.ErrorIs(t, err, boom)
}

func TestCompleteTimeout(t *testing.T) {
	fake := &fakeChatModel{block: true}
	client := NewClientWithFactory(testModelConfig(), func(ctx context.Context, modelID string) (model.BaseChatModel, error) {
		return fake, nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Complete(ctx, "deepseek-r1:1.5b", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, IsConnectivity(err))
	assert.Equal(t, 1, fake.calls)
}

func TestClassify(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name        string
		err         error
		unreachable bool
		timeout     bool
	}{
		{
			name:        "connection refused",
			err:         &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED},
			unreachable: true,
		},
		{
			name:        "flattened transport error",
			err:         errors.New(`Post "http://localhost:11434/api/chat": dial tcp [::1]:11434: connect: connection refused`),
			unreachable: true,
		},
		{
			name:    "deadline exceeded",
			err:     context.DeadlineExceeded,
			timeout: true,
		},
		{
			name: "model error",
			err:  errors.New(`model "x" not found, try pulling it first`),
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := classify(ctx, tc.err)
			assert.Equal(t, tc.unreachable, errors.Is(err, ErrUnreachable))
			assert.Equal(t, tc.timeout, errors.Is(err, ErrTimeout))
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestOllamaBackendAgainstLocalServer(t *testing.T) {
	var gotModel string
	var gotRoles []string
	var gotTemperature *float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			Options struct {
				Temperature *float64 `json:"temperature"`
			} `json:"options"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotModel = body.Model
		gotTemperature = body.Options.Temperature
		for _, m := range body.Messages {
			gotRoles = append(gotRoles, m.Role)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":   body.Model,
			"message": map[string]string{"role": "assistant", "content": "<think>hmm</think>ok"},
			"done":    true,
		})
	}))
	defer srv.Close()

	cfg := testModelConfig()
	cfg.BaseURL = srv.URL
	client := NewClient(cfg)

	out, err := client.Complete(context.Background(), "deepseek-r1:3b",
		[]*schema.Message{schema.SystemMessage("sys"), schema.UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "<think>hmm</think>ok", out)
	assert.Equal(t, "deepseek-r1:3b", gotModel)
	assert.Equal(t, []string{"system", "user"}, gotRoles)
	require.NotNil(t, gotTemperature, "temperature missing from request options")
	assert.InDelta(t, 0.3, *gotTemperature, 1e-6)
}

func TestOllamaBackendUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := testModelConfig()
	cfg.BaseURL = url
	client := NewClient(cfg)

	_, err := client.Complete(context.Background(), "deepseek-r1:1.5b",
		[]*schema.Message{schema.UserMessage("hi")})
	require.Error(t, err)
	assert.True(t, IsConnectivity(err), "got %v", err)
}
