package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"multichat-backend/internal/config"
	"multichat-backend/internal/gateway"
	"multichat-backend/internal/history"
	"multichat-backend/internal/model"
	"multichat-backend/internal/settings"
	"multichat-backend/internal/storage"
	"multichat-backend/pkg/logger"
)

var (
	// ErrRequestInFlight rejects a dispatch for a conversation that already
	// has an outstanding request.
	ErrRequestInFlight = errors.New("a request is already in flight for this conversation")
	// ErrNotUserMessage rejects dispatching a message that is not a user message.
	ErrNotUserMessage  = errors.New("message is not a user message")
)

// Gateway sends one turn to the inference gateway.
type Gateway interface {
	Send(ctx context.Context, req *model.GatewayRequest, onPartial gateway.PartialFunc) (*model.GatewayResponse, error)
}

// Outstanding is the tracking entry of an in-flight turn.
type Outstanding struct {
	UserMessageID string
	DispatchedAt  time.Time
}

// TurnResult is the outcome of one dispatch. Err is set when the turn
// ended in a terminal failure; Message is then the appended error message.
type TurnResult struct {
	ConversationID string
	UserMessageID  string
	Message        *model.Message
	Err            error
}

// Orchestrator turns a stored user message into gateway calls and feeds the
// answers through the Reconciler.
type Orchestrator struct {
	gateway    Gateway
	store      storage.Storage
	settings   settings.Store
	defaults   settings.Global
	prompts    *settings.Prompts
	reconciler *Reconciler
	window     int
	baseDelay  time.Duration
	maxDelay   time.Duration
	sleep      Sleeper
	newID      func() string
	now        func() time.Time

	mu          sync.Mutex
	outstanding map[string]Outstanding
}

// OrchestratorOption customises an Orchestrator built by NewOrchestrator.
type OrchestratorOption func(*Orchestrator)

// WithSleeper replaces the back-off wait.
func WithSleeper(s Sleeper) OrchestratorOption {
	return func(o *Orchestrator) { o.sleep = s }
}

func WithIDGenerator(f func() string) OrchestratorOption {
	return func(o *Orchestrator) { o.newID = f }
}

func WithClock(f func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = f }
}

func NewOrchestrator(gw Gateway, store storage.Storage, st settings.Store, cfg *config.Config, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		gateway:     gw,
		store:       store,
		settings:    st,
		defaults:    settings.DefaultsFromConfig(cfg),
		prompts:     settings.NewPrompts(cfg.Prompts),
		window:      cfg.Orchestrator.MaxHistoryMessages,
		baseDelay:   cfg.Orchestrator.RetryBaseDelay,
		maxDelay:    cfg.Orchestrator.RetryMaxDelay,
		sleep:       sleepContext,
		newID:       uuid.NewString,
		now:         time.Now,
		outstanding: make(map[string]Outstanding),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.reconciler = NewReconciler(store, o.newID, o.now)
	return o
}

func (o *Orchestrator) Reconciler() *Reconciler { return o.reconciler }

// Effective resolves the settings one turn runs with.
func (o *Orchestrator) Effective(overrides model.TurnOverrides) settings.Effective {
	return settings.Resolve(settings.LoadGlobal(o.settings, o.defaults), overrides, o.prompts)
}

// Status reports the outstanding request of a conversation.
func (o *Orchestrator) Status(conversationID string) (Outstanding, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	out, ok := o.outstanding[conversationID]
	return out, ok
}

// Reserve claims the conversation for one turn before anything is written
// to it. The returned release must be called once the turn has settled.
func (o *Orchestrator) Reserve(conversationID string) (func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.outstanding[conversationID]; busy {
		return nil, ErrRequestInFlight
	}
	o.outstanding[conversationID] = Outstanding{DispatchedAt: o.now()}

	var once sync.Once
	return func() { once.Do(func() { o.unregister(conversationID) }) }, nil
}

// track records which user message a reserved turn is answering.
func (o *Orchestrator) track(conversationID, userMessageID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.outstanding[conversationID]; ok {
		o.outstanding[conversationID] = Outstanding{UserMessageID: userMessageID, DispatchedAt: o.now()}
	}
}

func (o *Orchestrator) unregister(conversationID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.outstanding, conversationID)
}

// Dispatch sends the stored user message userMessageID of conversationID.
// Everything before that message is history. A configuration problem
// fails before any call and appends nothing. A gateway failure that
// survives the retry policy is appended as an error message and reported
// in TurnResult.Err.
func (o *Orchestrator) Dispatch(ctx context.Context, conversationID, userMessageID string, overrides model.TurnOverrides) (*TurnResult, error) {
	if err := o.Effective(overrides).Validate(); err != nil {
		return nil, err
	}
	release, err := o.Reserve(conversationID)
	if err != nil {
		return nil, err
	}
	defer release()
	return o.dispatchReserved(ctx, conversationID, userMessageID, overrides)
}

// dispatchReserved runs a turn for a conversation the caller already holds
// through Reserve.
func (o *Orchestrator) dispatchReserved(ctx context.Context, conversationID, userMessageID string, overrides model.TurnOverrides) (*TurnResult, error) {
	eff := o.Effective(overrides)
	if err := eff.Validate(); err != nil {
		return nil, err
	}
	o.track(conversationID, userMessageID)

	conv, err := o.store.GetConversation(conversationID)
	if err != nil {
		return nil, err
	}
	idx := conv.IndexOf(userMessageID)
	if idx < 0 {
		return nil, storage.ErrMessageNotFound
	}
	current := conv.Messages[idx]
	if !current.IsUser() {
		return nil, ErrNotUserMessage
	}

	req := o.buildRequest(conv.Messages[:idx], current, eff)
	log := logger.WithFields(logger.Fields{
		"conversation_id": conversationID,
		"user_message_id": userMessageID,
		"concurrent":      req.ConcurrentCount,
	})
	log.Info("dispatching turn")

	policy := RetryPolicy{
		Retries:   eff.RetryAttempts,
		BaseDelay: o.baseDelay,
		MaxDelay:  o.maxDelay,
		Sleep:     o.sleep,
	}

	var msg *model.Message
	if req.ConcurrentCount <= 1 {
		msg, err = o.sendWithRetry(ctx, conversationID, req, policy, log)
	} else {
		msg, err = o.sendConcurrent(ctx, conversationID, req, policy, log)
	}

	result := &TurnResult{ConversationID: conversationID, UserMessageID: userMessageID, Message: msg}
	if err == nil {
		return result, nil
	}

	var ge *gateway.Error
	if errors.As(err, &ge) && ge.Kind == gateway.KindConfig {
		return nil, fmt.Errorf("%w: %v", settings.ErrConfig, ge)
	}
	if !isGatewayFailure(err) {
		return nil, err
	}

	log.WithField("error", err.Error()).Warn("turn failed")
	errMsg, appendErr := o.appendError(conversationID, userMessageID, err)
	if appendErr != nil {
		return nil, appendErr
	}
	result.Message = errMsg
	result.Err = err
	return result, nil
}

func isGatewayFailure(err error) bool {
	var ge *gateway.Error
	return errors.As(err, &ge)
}

func (o *Orchestrator) buildRequest(prior []model.Message, current model.Message, eff settings.Effective) *model.GatewayRequest {
	messages := history.Prompt(prior, current, history.PromptOptions{
		SystemPrompt: eff.SystemPrompt,
		Window:       o.window,
		TaskID:       strings.ReplaceAll(o.newID(), "-", ""),
	})
	return &model.GatewayRequest{
		BaseURL:      eff.BaseURL,
		APIKey:       eff.APIKey,
		Organization: eff.Organization,
		RequestBody: openai.ChatCompletionRequest{
			Model:       eff.Model,
			Messages:    messages,
			Temperature: eff.Temperature,
			MaxTokens:   eff.MaxTokens,
			Stream:      false,
		},
		ConcurrentCount: eff.ConcurrentCount,
		UserMessageID:   current.ID,
		RequestTimeout:  eff.RequestTimeout,
	}
}

func (o *Orchestrator) sendWithRetry(ctx context.Context, conversationID string, req *model.GatewayRequest, policy RetryPolicy, log *logger.Entry) (*model.Message, error) {
	var resp *model.GatewayResponse
	err := policy.Do(ctx, log, func(attempt int) error {
		var err error
		resp, err = o.gateway.Send(ctx, req, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return o.reconciler.Apply(conversationID, resp)
}

func (o *Orchestrator) sendConcurrent(ctx context.Context, conversationID string, req *model.GatewayRequest, policy RetryPolicy, log *logger.Entry) (*model.Message, error) {
	onPartial := func(p *model.GatewayResponse) {
		if p.UserMessageID == "" {
			p.UserMessageID = req.UserMessageID
		}
		if _, err := o.reconciler.Apply(conversationID, p); err != nil {
			log.Warnf("failed to apply partial result: %v", err)
		}
	}

	var resp *model.GatewayResponse
	err := policy.Do(ctx, log, func(attempt int) error {
		var err error
		resp, err = o.gateway.Send(ctx, req, onPartial)
		return err
	})
	if err != nil {
		o.reconciler.Abandon(conversationID, req.UserMessageID, err.Error())
		return nil, err
	}
	if resp.UserMessageID == "" {
		resp.UserMessageID = req.UserMessageID
	}
	resp.IsFinalResult = true
	resp.IsPartialResult = false
	return o.reconciler.Apply(conversationID, resp)
}

// ErrorContent is the body of the message appended for a failed turn.
func ErrorContent(err error) string {
	return fmt.Sprintf("Request failed: %v\n\nPlease check your API settings and retry.", err)
}

func (o *Orchestrator) appendError(conversationID, userMessageID string, cause error) (*model.Message, error) {
	msg := model.Message{
		ID:            o.newID(),
		Role:          model.RoleAssistant,
		Content:       ErrorContent(cause),
		Timestamp:     o.now(),
		UserMessageID: userMessageID,
		IsError:       true,
	}
	if err := o.store.AppendMessage(conversationID, msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
