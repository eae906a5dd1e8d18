package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"thinkchat/internal/config"
)

const defaultRequestTimeout = 120 * time.Second

var (
	ErrUnreachable  = errors.New("model server unreachable")
	ErrTimeout      = errors.New("model request timed out")
	ErrUnknownModel = errors.New("unknown model")
)

// IsConnectivity reports whether err means the model server could not be
// reached in time.
func IsConnectivity(err error) bool {
	return errors.Is(err, ErrUnreachable) || errors.Is(err, ErrTimeout)
}

// ChatModelFactory builds the chat model serving one model id.
type ChatModelFactory func(ctx context.Context, modelID string) (model.BaseChatModel, error)

// Client issues one synchronous completion per call against the local model
// server. Chat models are built lazily and cached per model id.
type Client struct {
	cfg     config.ModelConfig
	factory ChatModelFactory

	mu     sync.Mutex
	models map[string]model.BaseChatModel
}

// NewClient builds a client for the configured provider.
func NewClient(cfg config.ModelConfig) *Client {
	c := &Client{
		cfg:    cfg,
		models: make(map[string]model.BaseChatModel),
	}
	c.factory = c.newChatModel
	return c
}

// NewClientWithFactory lets callers supply their own chat models.
func NewClientWithFactory(cfg config.ModelConfig, factory ChatModelFactory) *Client {
	c := NewClient(cfg)
	if factory != nil {
		c.factory = factory
	}
	return c
}

// Complete sends messages to modelID and returns the raw completion text.
// The response is not validated; an empty completion is returned as "".
// Failures are not retried.
func (c *Client) Complete(ctx context.Context, modelID string, messages []*schema.Message) (string, error) {
	if !slices.Contains(c.cfg.Models, modelID) {
		return "", fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	chatModel, err := c.chatModel(ctx, modelID)
	if err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	start := time.Now()
	resp, err := chatModel.Generate(callCtx, messages,
		model.WithModel(modelID),
		model.WithTemperature(float32(c.cfg.Temperature)),
	)
	if err != nil {
		err = classify(callCtx, err)
		slog.Warn("model call failed", "model", modelID, "elapsed", time.Since(start), "error", err)
		return "", err
	}
	if resp == nil {
		return "", nil
	}
	slog.Debug("model call finished", "model", modelID, "elapsed", time.Since(start), "chars", len(resp.Content))
	return resp.Content, nil
}

func (c *Client) timeout() time.Duration {
	if c.cfg.RequestTimeoutSeconds <= 0 {
		return defaultRequestTimeout
	}
	return time.Duration(c.cfg.RequestTimeoutSeconds) * time.Second
}

// chatModel returns the cached model for modelID, building it on first use.
func (c *Client) chatModel(ctx context.Context, modelID string) (model.BaseChatModel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cm, ok := c.models[modelID]; ok {
		return cm, nil
	}
	cm, err := c.factory(ctx, modelID)
	if err != nil {
		return nil, fmt.Errorf("init chat model %s: %w", modelID, err)
	}
	c.models[modelID] = cm
	return cm, nil
}

func (c *Client) newChatModel(ctx context.Context, modelID string) (model.BaseChatModel, error) {
	switch c.cfg.Provider {
	case config.ProviderOpenAI:
		apiKey := c.cfg.APIKey
		if apiKey == "" {
			apiKey = "local"
		}
		temperature := float32(c.cfg.Temperature)
		cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:     c.cfg.BaseURL,
			APIKey:      apiKey,
			Model:       modelID,
			Temperature: &temperature,
			Timeout:     c.timeout(),
		})
		if err != nil {
			return nil, err
		}
		return cm, nil
	case config.ProviderOllama, "":
		cm, err := ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: c.cfg.BaseURL,
			Model:   modelID,
			Timeout: c.timeout(),
		})
		if err != nil {
			return nil, err
		}
		return cm, nil
	default:
		return nil, fmt.Errorf("invalid provider: %s", c.cfg.Provider)
	}
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	if isConnectionError(err) {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	return fmt.Errorf("generate completion: %w", err)
}

func isConnectionError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	// some backends flatten transport errors into text
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"connection refused", "no such host", "connection reset", "dial tcp"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
