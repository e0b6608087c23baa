// Package sqsqueue is the cloud-bus Queue implementation, backed by
// Amazon SQS. Visibility timeout stands in for the in-flight tracking
// memqueue and redisqueue track explicitly: once a message is received
// it is invisible to other consumers until either Complete (DeleteMessage)
// runs or the timeout elapses and SQS redelivers it.
package sqsqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/pkg/errors"

	"github.com/deferrable-run/deferrable/pkg/item"
	"github.com/deferrable-run/deferrable/pkg/queue"
)

// maxDelaySeconds is SQS's own ceiling on DelaySeconds.
const maxDelaySeconds = 900

// maxBatchSize is SQS's ceiling on messages per batch request.
const maxBatchSize = 10

// API is the subset of *sqs.Client the queue needs, narrowed to an
// interface so tests can substitute a fake rather than hitting AWS.
type API interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	SendMessageBatch(ctx context.Context, params *sqs.SendMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
	PurgeQueue(ctx context.Context, params *sqs.PurgeQueueInput, optFns ...func(*sqs.Options)) (*sqs.PurgeQueueOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// ConnectFunc lazily produces an SQS client. Queue only calls it once,
// the first time a request actually needs a connection, so that
// constructing a Queue for a group a worker process never touches never
// pays for an AWS config load.
type ConnectFunc func(ctx context.Context) (API, error)

// DefaultConnect loads the AWS SDK's default config chain (environment,
// shared config, IMDS) and returns an SQS client from it.
func DefaultConnect(ctx context.Context) (API, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "sqsqueue: load aws config")
	}
	return sqs.NewFromConfig(cfg), nil
}

// Queue is an SQS-backed queue.Queue.
type Queue struct {
	queueURL          string
	visibilityTimeout int32

	connect ConnectFunc
	once    sync.Once
	client  API
	connErr error
}

// New returns a Queue against queueURL. connect is called lazily on
// first use; pass DefaultConnect unless a test needs a fake client.
func New(queueURL string, visibilityTimeout time.Duration, connect ConnectFunc) *Queue {
	return &Queue{
		queueURL:          queueURL,
		visibilityTimeout: int32(visibilityTimeout / time.Second),
		connect:           connect,
	}
}

func (q *Queue) client_(ctx context.Context) (API, error) {
	q.once.Do(func() {
		q.client, q.connErr = q.connect(ctx)
	})
	return q.client, q.connErr
}

func encodeBody(it item.Item) (string, error) {
	raw, err := json.Marshal(it)
	if err != nil {
		return "", errors.Wrap(err, "sqsqueue: marshal item")
	}
	return string(raw), nil
}

func decodeBody(body string) (item.Item, error) {
	var it item.Item
	if err := json.Unmarshal([]byte(body), &it); err != nil {
		return item.Item{}, errors.Wrap(err, "sqsqueue: unmarshal item")
	}
	return it, nil
}

func (q *Queue) Push(ctx context.Context, it item.Item, delaySeconds int) error {
	client, err := q.client_(ctx)
	if err != nil {
		return err
	}
	body, err := encodeBody(it)
	if err != nil {
		return err
	}
	if delaySeconds > maxDelaySeconds {
		delaySeconds = maxDelaySeconds
	}
	_, err = client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(q.queueURL),
		MessageBody:  aws.String(body),
		DelaySeconds: int32(delaySeconds),
	})
	if err != nil {
		return errors.Wrap(err, "sqsqueue: SendMessage")
	}
	return nil
}

func (q *Queue) PushBatch(ctx context.Context, items []item.Item, delaySeconds int) error {
	client, err := q.client_(ctx)
	if err != nil {
		return err
	}
	if delaySeconds > maxDelaySeconds {
		delaySeconds = maxDelaySeconds
	}
	for start := 0; start < len(items); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(items) {
			end = len(items)
		}
		entries := make([]types.SendMessageBatchRequestEntry, 0, end-start)
		for i, it := range items[start:end] {
			body, err := encodeBody(it)
			if err != nil {
				return err
			}
			entries = append(entries, types.SendMessageBatchRequestEntry{
				Id:           aws.String(fmt.Sprintf("m%d", i)),
				MessageBody:  aws.String(body),
				DelaySeconds: int32(delaySeconds),
			})
		}
		out, err := client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(q.queueURL),
			Entries:  entries,
		})
		if err != nil {
			return errors.Wrap(err, "sqsqueue: SendMessageBatch")
		}
		if len(out.Failed) > 0 {
			return fmt.Errorf("sqsqueue: %d of %d messages failed to send", len(out.Failed), len(entries))
		}
	}
	return nil
}

func (q *Queue) Pop(ctx context.Context, wait time.Duration) (queue.Envelope, bool, error) {
	client, err := q.client_(ctx)
	if err != nil {
		return queue.Envelope{}, false, err
	}
	waitSeconds := int32(wait / time.Second)
	if waitSeconds > 20 {
		waitSeconds = 20
	}
	out, err := client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     waitSeconds,
		VisibilityTimeout:   q.visibilityTimeout,
	})
	if err != nil {
		return queue.Envelope{}, false, errors.Wrap(err, "sqsqueue: ReceiveMessage")
	}
	if len(out.Messages) == 0 {
		return queue.Envelope{}, false, nil
	}
	msg := out.Messages[0]
	it, err := decodeBody(aws.ToString(msg.Body))
	if err != nil {
		return queue.Envelope{}, false, err
	}
	return queue.Envelope{Item: it, Handle: aws.ToString(msg.ReceiptHandle), PoppedAt: time.Now()}, true, nil
}

func (q *Queue) PopBatch(ctx context.Context, max int, wait time.Duration) ([]queue.Envelope, error) {
	client, err := q.client_(ctx)
	if err != nil {
		return nil, err
	}
	if max > maxBatchSize {
		max = maxBatchSize
	}
	waitSeconds := int32(wait / time.Second)
	if waitSeconds > 20 {
		waitSeconds = 20
	}
	out, err := client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     waitSeconds,
		VisibilityTimeout:   q.visibilityTimeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "sqsqueue: ReceiveMessage")
	}
	envs := make([]queue.Envelope, 0, len(out.Messages))
	for _, msg := range out.Messages {
		it, err := decodeBody(aws.ToString(msg.Body))
		if err != nil {
			return nil, err
		}
		envs = append(envs, queue.Envelope{Item: it, Handle: aws.ToString(msg.ReceiptHandle), PoppedAt: time.Now()})
	}
	return envs, nil
}

func (q *Queue) Complete(ctx context.Context, env queue.Envelope) error {
	client, err := q.client_(ctx)
	if err != nil {
		return err
	}
	_, err = client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(env.Handle),
	})
	if err != nil {
		return errors.Wrap(err, "sqsqueue: DeleteMessage")
	}
	return nil
}

func (q *Queue) CompleteBatch(ctx context.Context, envs []queue.Envelope) error {
	client, err := q.client_(ctx)
	if err != nil {
		return err
	}
	for start := 0; start < len(envs); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(envs) {
			end = len(envs)
		}
		entries := make([]types.DeleteMessageBatchRequestEntry, 0, end-start)
		for i, env := range envs[start:end] {
			entries = append(entries, types.DeleteMessageBatchRequestEntry{
				Id:            aws.String(fmt.Sprintf("m%d", i)),
				ReceiptHandle: aws.String(env.Handle),
			})
		}
		out, err := client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
			QueueUrl: aws.String(q.queueURL),
			Entries:  entries,
		})
		if err != nil {
			return errors.Wrap(err, "sqsqueue: DeleteMessageBatch")
		}
		if len(out.Failed) > 0 {
			return fmt.Errorf("sqsqueue: %d of %d deletes failed", len(out.Failed), len(entries))
		}
	}
	return nil
}

func (q *Queue) Flush(ctx context.Context) error {
	client, err := q.client_(ctx)
	if err != nil {
		return err
	}
	_, err = client.PurgeQueue(ctx, &sqs.PurgeQueueInput{QueueUrl: aws.String(q.queueURL)})
	if err != nil {
		return errors.Wrap(err, "sqsqueue: PurgeQueue")
	}
	return nil
}

// SlowFlush drains the queue by repeated Pop+Complete rather than
// PurgeQueue, which SQS only allows once every 60 seconds per queue.
// It exists for tests that need a queue empty right now.
func (q *Queue) SlowFlush(ctx context.Context) error {
	for {
		env, ok, err := q.Pop(ctx, 0)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := q.Complete(ctx, env); err != nil {
			return err
		}
	}
}

func (q *Queue) Stat(ctx context.Context) (queue.Stats, error) {
	client, err := q.client_(ctx)
	if err != nil {
		return queue.Stats{}, err
	}
	out, err := client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(q.queueURL),
		AttributeNames: []types.QueueAttributeName{
			types.QueueAttributeNameApproximateNumberOfMessages,
			types.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
			types.QueueAttributeNameApproximateNumberOfMessagesDelayed,
		},
	})
	if err != nil {
		return queue.Stats{}, errors.Wrap(err, "sqsqueue: GetQueueAttributes")
	}
	var stats queue.Stats
	if v, ok := out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessages)]; ok {
		fmt.Sscanf(v, "%d", &stats.Ready)
	}
	if v, ok := out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessagesNotVisible)]; ok {
		fmt.Sscanf(v, "%d", &stats.InFlight)
	}
	if v, ok := out.Attributes[string(types.QueueAttributeNameApproximateNumberOfMessagesDelayed)]; ok {
		fmt.Sscanf(v, "%d", &stats.Delayed)
	}
	return stats, nil
}

func (q *Queue) FIFO() bool { return false }

func (q *Queue) SupportsDelay() bool { return true }

var _ queue.Queue = (*Queue)(nil)
var _ queue.BatchPusher = (*Queue)(nil)
var _ queue.BatchPopper = (*Queue)(nil)
var _ queue.BatchCompleter = (*Queue)(nil)
