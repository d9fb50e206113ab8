package ai

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/IMBotPlatform/IMBotGuard/pkg/botcore"
	"github.com/IMBotPlatform/IMBotGuard/pkg/session"
)

// ConfigFetcher 读取策略的原始 config.yml 文本。
type ConfigFetcher interface {
	ReadConfig(ctx context.Context, token, policyID string) (string, error)
}

// CredentialFetcher 读取策略绑定的 LLM 密钥。
type CredentialFetcher interface {
	FetchCredential(ctx context.Context, token, policyID string) (botcore.Credential, error)
}

// Resolver 将 (会话, 策略) 解析为模型绑定与密钥，并缓存在会话中。
// 缓存只增不减：会话存续期间同一策略不会重新拉取配置。
type Resolver struct {
	configs     ConfigFetcher
	credentials CredentialFetcher
	providers   ProviderFactory
	logger      *zap.Logger
	timeout     time.Duration // 单次共享解析的上限
}

const defaultResolveTimeout = 30 * time.Second

// ResolverOption 自定义 Resolver 行为。
type ResolverOption func(*Resolver)

// WithLogger 注入日志记录器。
func WithLogger(l *zap.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithResolveTimeout 设置单次解析（读配置、取密钥、初始化引擎）的超时。
func WithResolveTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithProviderFactory 替换默认的 langchaingo Factory。
func WithProviderFactory(f ProviderFactory) ResolverOption {
	return func(r *Resolver) {
		if f != nil {
			r.providers = f
		}
	}
}

// NewResolver 创建 Resolver。
func NewResolver(configs ConfigFetcher, credentials CredentialFetcher, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		configs:     configs,
		credentials: credentials,
		providers:   NewFactory(),
		logger:      zap.NewNop(),
		timeout:     defaultResolveTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve 返回策略对应的绑定与密钥。
//
// 逻辑流程:
//
//	Check Session Cache -> (Hit) -> Return
//	        |
//	     (Miss)
//	        v
//	Read config.yml -> Parse models[0] -> Fetch Credential -> Init Provider -> Cache both -> Return
func (r *Resolver) Resolve(ctx context.Context, sess *session.Session, policyID string) (botcore.Binding, botcore.Credential, error) {
	return sess.LoadOrResolve(ctx, policyID, func(shared context.Context) (botcore.Binding, botcore.Credential, error) {
		shared, cancel := context.WithTimeout(shared, r.timeout)
		defer cancel()
		return r.resolve(shared, sess, policyID)
	})
}

func (r *Resolver) resolve(ctx context.Context, sess *session.Session, policyID string) (botcore.Binding, botcore.Credential, error) {
	token := sess.AccessToken()

	// Step 1: 拉取并解析策略配置
	text, err := r.configs.ReadConfig(ctx, token, policyID)
	if err != nil {
		return botcore.Binding{}, "", asConfigurationError(policyID, err)
	}
	spec, err := ParsePolicyDocument(policyID, text)
	if err != nil {
		return botcore.Binding{}, "", err
	}
	engine, ok := ParseEngine(spec.Engine)
	if !ok {
		return botcore.Binding{}, "", &botcore.ConfigurationError{PolicyID: policyID, Reason: "unsupported engine " + spec.Engine}
	}

	// Step 2: 获取密钥（会话中已有则复用）
	cred, ok := sess.Credential(policyID)
	if !ok {
		cred, err = r.credentials.FetchCredential(ctx, token, policyID)
		if err != nil {
			var credErr *botcore.CredentialError
			if !errors.As(err, &credErr) {
				err = &botcore.CredentialError{PolicyID: policyID, Err: err}
			}
			return botcore.Binding{}, "", err
		}
	}

	// Step 3: 初始化引擎
	provider, err := r.providers.New(ctx, engine, spec.Model, cred)
	if err != nil {
		return botcore.Binding{}, "", asConfigurationError(policyID, err)
	}

	r.logger.Info("policy resolved",
		zap.String("user", sess.UserID),
		zap.String("policy", policyID),
		zap.String("engine", string(engine)),
		zap.String("model", spec.Model),
	)

	return botcore.Binding{
		PolicyID: policyID,
		Model:    spec.Model,
		Engine:   string(engine),
		Provider: provider,
	}, cred, nil
}

func asConfigurationError(policyID string, err error) error {
	var cfgErr *botcore.ConfigurationError
	if errors.As(err, &cfgErr) {
		if cfgErr.PolicyID == "" {
			cfgErr.PolicyID = policyID
		}
		return err
	}
	return &botcore.ConfigurationError{PolicyID: policyID, Reason: "failed to load config document", Err: err}
}
