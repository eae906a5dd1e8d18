// Package conversation drives one chat session: it records turns, calls the
// model and annotates replies.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"

	"thinkchat/internal/config"
	"thinkchat/internal/models"
	"thinkchat/internal/service/annotate"
	"thinkchat/internal/service/prompt"
	"thinkchat/internal/worker"
)

var (
	ErrEmptyInput   = errors.New("message is empty")
	ErrBusy         = errors.New("a reply is already being generated")
	ErrUnknownModel = errors.New("model is not available")
)

type State string

const (
	StateIdle       State = "idle"
	StateProcessing State = "processing"
)

// Completer produces the raw model text for an assembled prompt.
type Completer interface {
	Complete(ctx context.Context, modelID string, messages []*schema.Message) (string, error)
}

// Settings holds the per-controller values taken from configuration.
type Settings struct {
	Greeting     string
	Models       []string
	DefaultModel string
}

// Controller owns a History and the model selection for one session. Only one
// submission may be in flight at a time.
type Controller struct {
	completer Completer
	assembler *prompt.Assembler
	annotator *annotate.Annotator
	models    []string

	mu         sync.Mutex
	history    *History
	selected   string
	state      State
	createdAt  time.Time
	lastActive time.Time
	now        func() time.Time
}

func NewController(settings Settings, completer Completer, assembler *prompt.Assembler, annotator *annotate.Annotator) *Controller {
	c := &Controller{
		completer: completer,
		assembler: assembler,
		annotator: annotator,
		models:    slices.Clone(settings.Models),
		selected:  settings.DefaultModel,
		state:     StateIdle,
		now:       time.Now,
	}
	if c.selected == "" && len(c.models) > 0 {
		c.selected = c.models[0]
	}
	c.createdAt = c.now()
	c.lastActive = c.createdAt
	c.history = newHistory(models.Turn{
		Role:      models.RoleAssistant,
		Content:   settings.Greeting,
		CreatedAt: c.createdAt,
	})
	return c
}

// Factory builds controllers that share one completer and stateless helpers.
type Factory func() *Controller

func NewFactory(cfg *config.Config, completer Completer) Factory {
	assembler := prompt.NewAssembler(cfg.Chat.SystemPrompt)
	annotator := annotate.New(cfg.Chat.ReasoningStart, cfg.Chat.ReasoningEnd)
	settings := Settings{
		Greeting:     cfg.Chat.Greeting,
		Models:       cfg.Model.Models,
		DefaultModel: cfg.Model.DefaultModel,
	}
	return func() *Controller {
		return NewController(settings, completer, assembler, annotator)
	}
}

// Submit records userText, asks the selected model for a reply and records the
// annotated reply. When the model call fails the user turn stays in the
// history, no assistant turn is added and the error is returned. When the
// call is refused before reaching the model (dispatcher queue full or
// stopped) the history is left as it was, so the caller may retry.
func (c *Controller) Submit(ctx context.Context, userText string) (models.Turn, error) {
	_, reply, err := c.Exchange(ctx, userText)
	return reply, err
}

// Exchange is Submit that also returns the recorded user turn.
func (c *Controller) Exchange(ctx context.Context, userText string) (models.Turn, models.Turn, error) {
	if strings.TrimSpace(userText) == "" {
		return models.Turn{}, models.Turn{}, ErrEmptyInput
	}

	c.mu.Lock()
	if c.state == StateProcessing {
		c.mu.Unlock()
		return models.Turn{}, models.Turn{}, ErrBusy
	}
	userTurn := models.Turn{
		Role:      models.RoleUser,
		Content:   userText,
		CreatedAt: c.now(),
	}
	userIndex := c.history.Len()
	c.history.append(userTurn)
	c.state = StateProcessing
	c.lastActive = c.now()
	snapshot := c.history.Snapshot()
	modelID := c.selected
	c.mu.Unlock()

	start := time.Now()
	raw, err := c.completer.Complete(ctx, modelID, c.assembler.Assemble(snapshot))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateIdle
	c.lastActive = c.now()
	if err != nil {
		if refused(err) {
			// the model never saw the request, so the submission did not happen
			c.history.truncate(userIndex)
			slog.Warn("submit refused", "model", modelID, "error", err)
			return models.Turn{}, models.Turn{}, fmt.Errorf("generate reply: %w", err)
		}
		slog.Warn("submit failed", "model", modelID, "turns", c.history.Len(), "error", err)
		return userTurn, models.Turn{}, fmt.Errorf("generate reply: %w", err)
	}

	res := c.annotator.Annotate(raw)
	reply := models.Turn{
		Role:      models.RoleAssistant,
		Content:   res.Display,
		Reasoning: res.Reasoning,
		Answer:    res.Answer,
		CreatedAt: c.now(),
	}
	c.history.append(reply)
	slog.Info("reply generated", "model", modelID, "elapsed", time.Since(start), "reasoning", res.Found)
	return userTurn, reply, nil
}

func refused(err error) bool {
	return errors.Is(err, worker.ErrDispatcherBusy) || errors.Is(err, worker.ErrDispatcherStopped)
}

// History returns a copy of every turn so far.
func (c *Controller) History() []models.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.history.Snapshot()
}

func (c *Controller) AvailableModels() []string {
	return slices.Clone(c.models)
}

// SelectModel changes the model used by the next submission.
func (c *Controller) SelectModel(id string) error {
	if !slices.Contains(c.models, id) {
		return fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}
	c.mu.Lock()
	c.selected = id
	c.lastActive = c.now()
	c.mu.Unlock()
	return nil
}

func (c *Controller) SelectedModel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastActive is the time of the most recent submission or selection change.
func (c *Controller) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

// Summary describes the controller for listings.
func (c *Controller) Summary(id string) models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.Session{
		ID:        id,
		Model:     c.selected,
		State:     string(c.state),
		Turns:     c.history.Len(),
		CreatedAt: c.createdAt,
		UpdatedAt: c.lastActive,
	}
}
