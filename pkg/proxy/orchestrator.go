package proxy

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/IMBotPlatform/IMBotGuard/pkg/audit"
	"github.com/IMBotPlatform/IMBotGuard/pkg/botcore"
	"github.com/IMBotPlatform/IMBotGuard/pkg/session"
)

const (
	defaultCompletionTimeout = 120 * time.Second
	defaultModerationTimeout = 60 * time.Second
)

// ModelResolver 将 (会话, 策略) 解析为模型绑定与密钥。
type ModelResolver interface {
	Resolve(ctx context.Context, sess *session.Session, policyID string) (botcore.Binding, botcore.Credential, error)
}

// Orchestrator 串联一轮对话：解析模型 -> 补全 -> 写入会话 -> 后台审核 -> 审计。
type Orchestrator struct {
	sessions  session.Store
	resolver  ModelResolver
	moderator botcore.Moderator
	audit     audit.Log
	logger    *zap.Logger

	completionTimeout time.Duration
	moderationTimeout time.Duration
	moderateResponses bool
	now               func() time.Time

	inflight sync.WaitGroup
}

// Option 自定义 Orchestrator 行为。
type Option func(*Orchestrator)

// WithLogger 注入日志记录器。
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithCompletionTimeout 设置补全调用超时。
func WithCompletionTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.completionTimeout = d
		}
	}
}

// WithModerationTimeout 设置后台审核阶段的整体超时。
func WithModerationTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.moderationTimeout = d
		}
	}
}

// WithResponseModeration 控制是否同时审核机器人回复，默认开启。
func WithResponseModeration(enabled bool) Option {
	return func(o *Orchestrator) {
		o.moderateResponses = enabled
	}
}

// WithClock 替换时间源。
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New 创建 Orchestrator。
func New(sessions session.Store, resolver ModelResolver, moderator botcore.Moderator, log audit.Log, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sessions:          sessions,
		resolver:          resolver,
		moderator:         moderator,
		audit:             log,
		logger:            zap.NewNop(),
		completionTimeout: defaultCompletionTimeout,
		moderationTimeout: defaultModerationTimeout,
		moderateResponses: true,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Handle 处理一条已认证用户的消息，补全成功后立即返回 Turn。
//
// 核心流程:
//
//	Session Lookup -> Active Policy? --(no)--> PolicyNotSetError
//	      |
//	      v
//	Resolver.Resolve (缓存命中零远程调用)
//	      |
//	      v
//	Provider.Complete (计时) --(err)--> CompletionError
//	      |
//	      v
//	Session.RecordCompletion  ------------------> return Turn
//	      |
//	      v (goroutine)
//	Moderate(input) || Moderate(reply) -> Session.RecordModeration -> Audit.Append -> Done
func (o *Orchestrator) Handle(ctx context.Context, userID, message string) (*Turn, error) {
	turn := newTurn(userID, message, o.now())
	sess := o.sessions.GetOrCreate(userID)

	// Authenticated -> Resolved
	policyID, ok := sess.ActivePolicy()
	if !ok {
		return nil, o.abort(turn, &botcore.PolicyNotSetError{UserID: userID})
	}
	turn.PolicyID = policyID

	binding, _, err := o.resolver.Resolve(ctx, sess, policyID)
	if err != nil {
		return nil, o.abort(turn, err)
	}
	turn.Binding = binding
	o.transition(turn, StateResolved)

	// Resolved -> Completed
	completion, elapsed, err := o.complete(ctx, binding, message)
	if err != nil {
		return nil, o.abort(turn, err)
	}
	turn.Reply = completion.Text
	turn.BotTokens = completion.CompletionTokens
	turn.BotLatency = elapsed

	// 回复先落入会话，再启动审核
	sess.RecordCompletion(message, completion.Text)
	o.transition(turn, StateCompleted)

	// Completed -> Moderated -> Logged
	o.inflight.Add(1)
	go o.moderate(context.WithoutCancel(ctx), sess, turn)

	return turn, nil
}

// Wait 等待所有后台审核任务结束，用于优雅退出。
func (o *Orchestrator) Wait() {
	o.inflight.Wait()
}

func (o *Orchestrator) complete(ctx context.Context, binding botcore.Binding, message string) (botcore.Completion, time.Duration, error) {
	if binding.Provider == nil {
		return botcore.Completion{}, 0, &botcore.ConfigurationError{PolicyID: binding.PolicyID, Reason: "binding has no provider"}
	}

	ctx, cancel := context.WithTimeout(ctx, o.completionTimeout)
	defer cancel()

	start := time.Now()
	completion, err := binding.Provider.Complete(ctx, []botcore.Message{botcore.UserMessage(message)})
	elapsed := time.Since(start)
	if err != nil {
		var compErr *botcore.CompletionError
		if !errors.As(err, &compErr) {
			err = &botcore.CompletionError{Engine: binding.Engine, Model: binding.Model, Err: err}
		}
		return botcore.Completion{}, elapsed, err
	}
	return completion, elapsed, nil
}

// moderationResult 是单次审核调用的结果与耗时。
type moderationResult struct {
	verdict botcore.Verdict
	elapsed time.Duration
	err     error
}

func (o *Orchestrator) moderate(ctx context.Context, sess *session.Session, turn *Turn) {
	defer o.inflight.Done()
	defer close(turn.done)

	modCtx, cancel := context.WithTimeout(ctx, o.moderationTimeout)
	defer cancel()

	token := sess.AccessToken()
	var input, response moderationResult

	// 两次审核互不影响：任一失败都不取消另一次
	var g errgroup.Group
	g.Go(func() error {
		input = o.moderateOne(modCtx, token, turn.PolicyID, turn.Message)
		return nil
	})
	if o.moderateResponses {
		g.Go(func() error {
			response = o.moderateOne(modCtx, token, turn.PolicyID, turn.Reply)
			return nil
		})
	}
	_ = g.Wait()

	entry := session.ModerationEntry{Verdict: input.verdict}
	if input.err != nil {
		entry.Err = input.err.Error()
		o.logger.Warn("input moderation failed",
			zap.String("turn", turn.ID),
			zap.String("user", turn.UserID),
			zap.String("policy", turn.PolicyID),
			zap.Error(input.err),
		)
	}
	if response.err != nil {
		o.logger.Warn("response moderation failed",
			zap.String("turn", turn.ID),
			zap.String("user", turn.UserID),
			zap.String("policy", turn.PolicyID),
			zap.Error(response.err),
		)
	}
	sess.RecordModeration(turn.Message, entry)
	o.transition(turn, StateModerated)

	rec := buildRecord(turn, input, response)
	out := Outcome{Record: rec, InputErr: input.err, ResponseErr: response.err}

	// 审计写入不受审核超时约束
	if err := o.audit.Append(ctx, rec); err != nil {
		out.AuditErr = err
		o.logger.Error("audit append failed",
			zap.String("turn", turn.ID),
			zap.String("user", turn.UserID),
			zap.Error(err),
		)
	} else {
		o.transition(turn, StateLogged)
	}

	turn.done <- out
}

func (o *Orchestrator) moderateOne(ctx context.Context, token, policyID, content string) moderationResult {
	start := time.Now()
	verdict, err := o.moderator.Moderate(ctx, token, policyID, content)
	res := moderationResult{elapsed: time.Since(start), err: err}
	if err == nil {
		res.verdict = verdict
	}
	return res
}

// buildRecord 合并补全与审核结果。审核失败时判定文本为空、violation=false、token 为 0。
func buildRecord(turn *Turn, input, response moderationResult) audit.Record {
	rec := audit.Record{
		ID:                turn.ID,
		Timestamp:         turn.StartedAt,
		User:              turn.UserID,
		Message:           turn.Message,
		BotResponseTime:   turn.BotLatency.Seconds(),
		GuardResponseTime: input.elapsed.Seconds(),
		Engine:            turn.Binding.Engine,
		Model:             turn.Binding.Model,
		PolicyID:          turn.PolicyID,
		BotResponse:       turn.Reply,
		GuardResponse:     input.verdict.Text,
		Violation:         input.verdict.Violation || response.verdict.Violation,
		BotTokens:         turn.BotTokens,
		GuardTokens:       input.verdict.CompletionTokens,

		ResponseGuardResponse: response.verdict.Text,
		ResponseGuardTime:     response.elapsed.Seconds(),
		ResponseViolation:     response.verdict.Violation,
		ResponseGuardTokens:   response.verdict.CompletionTokens,
	}
	if input.err != nil {
		rec.GuardError = input.err.Error()
	}
	if response.err != nil {
		rec.ResponseGuardError = response.err.Error()
	}
	return rec
}

func (o *Orchestrator) transition(turn *Turn, next State) {
	prev := State(turn.state.Swap(int32(next)))
	o.logger.Debug("turn state",
		zap.String("turn", turn.ID),
		zap.String("user", turn.UserID),
		zap.Stringer("from", prev),
		zap.Stringer("to", next),
	)
}

func (o *Orchestrator) abort(turn *Turn, err error) error {
	o.transition(turn, StateAborted)
	o.logger.Info("turn aborted",
		zap.String("turn", turn.ID),
		zap.String("user", turn.UserID),
		zap.String("policy", turn.PolicyID),
		zap.Error(err),
	)
	return err
}
