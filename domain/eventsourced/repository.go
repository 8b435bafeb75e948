package eventsourced

import (
	"context"
	stdErrors "errors"
	"fmt"

	"esroot/domain/identity"
	"esroot/errors"
	"esroot/eventing"
	"esroot/eventing/monitoring"
	"esroot/eventing/store"
	"esroot/logging"
	"esroot/patterns/retry"
)

// IEventPublisher 事件发布契约，bus.EventBus 实现了它
type IEventPublisher interface {
	Publish(ctx context.Context, events []*eventing.Event) error
}

// IRepository 事件溯源仓储接口
type IRepository[A IAggregate[ID], ID identity.ID] interface {
	// Save 逐个追加并发布未提交事件，全部成功后标记为已提交
	Save(ctx context.Context, aggregate A) error

	// FindByID 按时间顺序重放事件重建聚合；以墓碑结尾的流返回 IsDeleted 为 true 的聚合
	FindByID(ctx context.Context, id ID) (A, error)

	// DeleteByID 追加删除墓碑
	DeleteByID(ctx context.Context, id ID) error

	Exists(ctx context.Context, id ID) (bool, error)

	// Version 事件流当前版本，不存在时为 0
	Version(ctx context.Context, id ID) (uint64, error)
}

// Repository 事件溯源仓储。
//
// 保存不是原子的：每个事件先追加再单独发布，第一个失败即返回，
// 已追加的事件不回滚。重新保存同一聚合时，已提交的前缀由存储按事件 ID 幂等跳过，
// 发布则至少一次。
type Repository[A IAggregate[ID], ID identity.ID] struct {
	aggregateType string
	factory       func(id ID) A
	store         store.IEventStore
	publisher     IEventPublisher

	logger  logging.Logger
	metrics monitoring.Metrics
	retry   *retry.Config
}

// RepositoryOption 仓储配置项
type RepositoryOption func(*repositoryOptions)

type repositoryOptions struct {
	logger  logging.Logger
	metrics monitoring.Metrics
	retry   *retry.Config
}

// WithLogger 设置日志
func WithLogger(logger logging.Logger) RepositoryOption {
	return func(o *repositoryOptions) { o.logger = logger }
}

// WithMetrics 设置指标
func WithMetrics(metrics monitoring.Metrics) RepositoryOption {
	return func(o *repositoryOptions) { o.metrics = metrics }
}

// WithRetry 失败的追加或发布按 cfg 退避重试。
// 并发冲突与无效输入永远不重试；cfg.RetryIf 在此基础上进一步收窄。
func WithRetry(cfg retry.Config) RepositoryOption {
	return func(o *repositoryOptions) {
		userRetryIf := cfg.RetryIf
		cfg.RetryIf = func(err error) bool {
			if !retryable(err) {
				return false
			}
			return userRetryIf == nil || userRetryIf(err)
		}
		o.retry = &cfg
	}
}

// NewRepository 创建仓储。publisher 为 nil 时只持久化不发布。
func NewRepository[A IAggregate[ID], ID identity.ID](
	aggregateType string,
	factory func(id ID) A,
	eventStore store.IEventStore,
	publisher IEventPublisher,
	opts ...RepositoryOption,
) (*Repository[A, ID], error) {
	if aggregateType == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidInput, "aggregate type is required")
	}
	if factory == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidInput, "aggregate factory is required")
	}
	if eventStore == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidInput, "event store is required")
	}

	options := repositoryOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = logging.ComponentLogger("domain.eventsourced.repository")
	}
	if options.metrics == nil {
		options.metrics = monitoring.Default()
	}

	return &Repository[A, ID]{
		aggregateType: aggregateType,
		factory:       factory,
		store:         eventStore,
		publisher:     publisher,
		logger:        options.logger.WithFields(logging.AggregateType(aggregateType)),
		metrics:       options.metrics,
		retry:         options.retry,
	}, nil
}

// AggregateType 仓储管理的聚合类型
func (r *Repository[A, ID]) AggregateType() string { return r.aggregateType }

// Save 对缓冲中的每个事件依次执行：追加（期望版本为 persisted+i），再单独发布。
// 缓冲为空时不做任何事。
func (r *Repository[A, ID]) Save(ctx context.Context, aggregate A) error {
	events := aggregate.UncommittedChanges()
	if len(events) == 0 {
		return nil
	}

	timer := r.metrics.RepoSaveDuration(r.aggregateType)
	defer timer.ObserveDuration()

	aggregateID := aggregate.ID().String()
	base := aggregate.PersistedVersion()
	for i, evt := range events {
		expected := base + uint64(i)

		err := r.attempt(ctx, func(ctx context.Context) error {
			return store.AppendEvent(ctx, r.store, evt, expected)
		})
		if err != nil {
			if stdErrors.Is(err, eventing.ErrConcurrencyConflict) {
				r.metrics.ConcurrencyConflict(r.aggregateType)
			}
			r.logger.Warn(ctx, "append event failed",
				logging.AggregateID(aggregateID),
				logging.EventType(evt.Type),
				logging.Version(evt.Version),
				logging.Error(err))
			return r.wrap(ctx, err, fmt.Sprintf("append %s v%d of %s", evt.Type, evt.Version, aggregateID))
		}

		if r.publisher == nil {
			continue
		}
		err = r.attempt(ctx, func(ctx context.Context) error {
			return r.publisher.Publish(ctx, []*eventing.Event{evt})
		})
		if err != nil {
			r.logger.Warn(ctx, "publish event failed",
				logging.AggregateID(aggregateID),
				logging.EventType(evt.Type),
				logging.Version(evt.Version),
				logging.Error(err))
			return errors.Wrap(ctx, errors.Normalize(err), errors.ErrCodeQueue,
				fmt.Sprintf("publish %s v%d of %s", evt.Type, evt.Version, aggregateID))
		}
	}

	aggregate.MarkChangesAsCommitted()
	r.logger.Debug(ctx, "aggregate saved",
		logging.AggregateID(aggregateID),
		logging.Int("events", len(events)),
		logging.Version(aggregate.PersistedVersion()))
	return nil
}

// FindByID 加载按时间顺序的事件流并重放到 factory(id)
func (r *Repository[A, ID]) FindByID(ctx context.Context, id ID) (A, error) {
	var zero A

	timer := r.metrics.RepoLoadDuration(r.aggregateType)
	defer timer.ObserveDuration()

	events, err := store.FindEvents(ctx, r.store, r.aggregateType, id.String())
	if err != nil {
		return zero, r.wrap(ctx, err, "load "+id.String())
	}
	if len(events) == 0 {
		return zero, r.notFound(id)
	}

	aggregate := r.factory(id)
	if err := aggregate.LoadFromHistory(events); err != nil {
		return zero, err
	}
	return aggregate, nil
}

// DeleteByID 加载聚合并追加删除墓碑。
// 聚合不存在返回 ErrAggregateNotFound；已删除返回 ErrAggregateDeleted。
func (r *Repository[A, ID]) DeleteByID(ctx context.Context, id ID) error {
	aggregate, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if aggregate.IsDeleted() {
		return errors.WrapError(ErrAggregateDeleted, errors.ErrCodeDeleted,
			fmt.Sprintf("%s %s", r.aggregateType, id))
	}
	if err := aggregate.ApplyChange(eventing.NewTombstone()); err != nil {
		return err
	}
	return r.Save(ctx, aggregate)
}

// Exists 事件流是否存在（包括已删除的聚合）
func (r *Repository[A, ID]) Exists(ctx context.Context, id ID) (bool, error) {
	ok, err := store.AggregateExists(ctx, r.store, r.aggregateType, id.String())
	if err != nil {
		return false, r.wrap(ctx, err, "exists "+id.String())
	}
	return ok, nil
}

// Version 事件流当前版本
func (r *Repository[A, ID]) Version(ctx context.Context, id ID) (uint64, error) {
	v, err := store.GetCurrentVersion(ctx, r.store, r.aggregateType, id.String())
	if err != nil {
		return 0, r.wrap(ctx, err, "version "+id.String())
	}
	return v, nil
}

func (r *Repository[A, ID]) attempt(ctx context.Context, op func(ctx context.Context) error) error {
	if r.retry == nil {
		return op(ctx)
	}
	return retry.Do(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			r.logger.Debug(ctx, "retrying", logging.Int("attempt", attempt))
		}
		return op(ctx)
	}, *r.retry)
}

// wrap 规范化存储错误并保留原因链
func (r *Repository[A, ID]) wrap(ctx context.Context, err error, msg string) error {
	normalized := errors.Normalize(err)
	return errors.Wrap(ctx, normalized, errors.GetErrorCode(normalized), msg)
}

func (r *Repository[A, ID]) notFound(id ID) error {
	return errors.NewErrorWithCause(errors.ErrCodeNotFound,
		fmt.Sprintf("%s %s not found", r.aggregateType, id), ErrAggregateNotFound).
		WithContext("aggregate_id", id.String())
}

func retryable(err error) bool {
	if stdErrors.Is(err, eventing.ErrConcurrencyConflict) {
		return false
	}
	if stdErrors.Is(err, eventing.ErrInvalidEvent) || stdErrors.Is(err, eventing.ErrVersionSequence) {
		return false
	}
	return !stdErrors.Is(err, context.Canceled) && !stdErrors.Is(err, context.DeadlineExceeded)
}
