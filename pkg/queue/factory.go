package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/gosimple/slug"
	"github.com/stoewer/go-strcase"

	"github.com/deferrable-run/deferrable/pkg/queue/memqueue"
	"github.com/deferrable-run/deferrable/pkg/queue/redisqueue"
	"github.com/deferrable-run/deferrable/pkg/queue/sqsqueue"
	"github.com/redis/rueidis"
)

// NormalizeGroupName turns an arbitrary group identifier into a
// lowercase, hyphenated form safe to embed in a redis key or an SQS
// queue name, so that "Billing Emails" and "billing-emails" resolve to
// the same backend.
func NormalizeGroupName(group string) string {
	return slug.Make(strcase.KebabCase(group))
}

// MemoryBackendFactory hands out in-memory backends, one pair of
// queues per group, memoized so repeated calls for the same group
// return the same queues rather than silently splitting a group's
// traffic across two disconnected in-memory lists.
type MemoryBackendFactory struct {
	mu       sync.Mutex
	backends map[string]Backend
}

// NewMemoryBackendFactory returns an empty MemoryBackendFactory.
func NewMemoryBackendFactory() *MemoryBackendFactory {
	return &MemoryBackendFactory{backends: make(map[string]Backend)}
}

func (f *MemoryBackendFactory) CreateBackendForGroup(group string) (Backend, error) {
	name := NormalizeGroupName(group)
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.backends[name]; ok {
		return b, nil
	}
	b := Backend{Group: name, Queue: memqueue.New(), ErrorQueue: memqueue.New()}
	f.backends[name] = b
	return b, nil
}

var _ BackendFactory = (*MemoryBackendFactory)(nil)

// RedisBackendFactory hands out redis-backed backends sharing a single
// rueidis client, namespaced so multiple environments can point at the
// same redis instance without colliding.
type RedisBackendFactory struct {
	client            rueidis.Client
	namespace         string
	visibilityTimeout time.Duration
}

// NewRedisBackendFactory returns a RedisBackendFactory. namespace
// typically identifies the environment ("staging", "prod-us-east-1").
func NewRedisBackendFactory(client rueidis.Client, namespace string, visibilityTimeout time.Duration) *RedisBackendFactory {
	return &RedisBackendFactory{client: client, namespace: namespace, visibilityTimeout: visibilityTimeout}
}

func (f *RedisBackendFactory) CreateBackendForGroup(group string) (Backend, error) {
	name := NormalizeGroupName(group)
	return Backend{
		Group:      name,
		Queue:      redisqueue.New(f.client, f.namespace, name, f.visibilityTimeout),
		ErrorQueue: redisqueue.NewErrorQueue(f.client, f.namespace, name),
	}, nil
}

var _ BackendFactory = (*RedisBackendFactory)(nil)

// QueueURLResolver maps a normalized group name to the SQS queue URL
// that backs it. Deployments typically provision one queue per group
// up front and supply a resolver backed by that static mapping.
type QueueURLResolver func(group string) (queueURL string, errorQueueURL string, err error)

// SQSBackendFactory hands out SQS-backed backends.
type SQSBackendFactory struct {
	resolve           QueueURLResolver
	visibilityTimeout time.Duration
	connect           sqsqueue.ConnectFunc
}

// NewSQSBackendFactory returns an SQSBackendFactory. connect is shared
// across every Queue it creates, but each Queue still lazily dials it
// independently on first use.
func NewSQSBackendFactory(resolve QueueURLResolver, visibilityTimeout time.Duration, connect sqsqueue.ConnectFunc) *SQSBackendFactory {
	return &SQSBackendFactory{resolve: resolve, visibilityTimeout: visibilityTimeout, connect: connect}
}

func (f *SQSBackendFactory) CreateBackendForGroup(group string) (Backend, error) {
	name := NormalizeGroupName(group)
	queueURL, errorQueueURL, err := f.resolve(name)
	if err != nil {
		return Backend{}, fmt.Errorf("sqs backend for group %q: %w", name, err)
	}
	return Backend{
		Group:      name,
		Queue:      sqsqueue.New(queueURL, f.visibilityTimeout, f.connect),
		ErrorQueue: sqsqueue.New(errorQueueURL, f.visibilityTimeout, f.connect),
	}, nil
}

var _ BackendFactory = (*SQSBackendFactory)(nil)
