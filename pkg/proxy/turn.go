package proxy

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/IMBotPlatform/IMBotGuard/pkg/audit"
	"github.com/IMBotPlatform/IMBotGuard/pkg/botcore"
)

// State 是一轮对话在状态机中的位置。
//
//	Authenticated -> Resolved -> Completed -> Moderated -> Logged
//	      |              |
//	      +--------------+--> Aborted
type State int32

const (
	StateAuthenticated State = iota
	StateResolved
	StateCompleted
	StateModerated
	StateLogged
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateResolved:
		return "resolved"
	case StateCompleted:
		return "completed"
	case StateModerated:
		return "moderated"
	case StateLogged:
		return "logged"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Outcome 是后台审核阶段的最终结果。
type Outcome struct {
	Record      audit.Record
	InputErr    error // 用户输入审核失败原因
	ResponseErr error // 机器人回复审核失败原因
	AuditErr    error // 审计写入失败原因
}

// Turn 描述一轮已完成补全的对话。Reply 在返回时即可见，
// 审核与审计在后台完成，结果通过 Done 投递一次。
type Turn struct {
	ID         string
	UserID     string
	PolicyID   string
	Message    string
	Reply      string
	Binding    botcore.Binding
	BotTokens  int
	BotLatency time.Duration
	StartedAt  time.Time

	state atomic.Int32
	done  chan Outcome
}

func newTurn(userID, message string, startedAt time.Time) *Turn {
	return &Turn{
		ID:        audit.NewID(),
		UserID:    userID,
		Message:   message,
		StartedAt: startedAt,
		done:      make(chan Outcome, 1),
	}
}

// State 返回当前状态。
func (t *Turn) State() State {
	return State(t.state.Load())
}

// Done 在后台阶段结束时投递 Outcome 并关闭。
func (t *Turn) Done() <-chan Outcome {
	return t.done
}

// Wait 阻塞直到后台阶段结束或 ctx 取消。仅用于测试与优雅退出，不应出现在响应路径上。
func (t *Turn) Wait(ctx context.Context) (Outcome, error) {
	select {
	case out := <-t.done:
		return out, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}
