// Package lambdaadapter adapts a single AWS Lambda SQS event batch into
// the same decode-and-invoke path Engine.RunOnce uses against a polled
// queue, for deployments that let Lambda's own SQS trigger do the
// popping instead of running a worker loop.
package lambdaadapter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-lambda-go/events"

	"github.com/deferrable-run/deferrable/pkg/codec"
	"github.com/deferrable-run/deferrable/pkg/item"
)

// Handler decodes and invokes each record in an SQS event against a
// codec.Codec's registry. It never pushes retries or error-queue
// entries itself: returning an error for a record tells Lambda/SQS to
// redeliver it, which is the retry mechanism in this deployment shape.
type Handler struct {
	codec *codec.Codec
}

// New returns a Handler backed by c.
func New(c *codec.Codec) *Handler {
	return &Handler{codec: c}
}

// Handle implements the shape github.com/aws/aws-lambda-go/lambda.Start
// expects for an SQS-triggered function. It reports partial batch
// failures via BatchItemFailures so that only records which actually
// failed are redelivered, not the whole batch.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, record := range sqsEvent.Records {
		var it item.Item
		if err := json.Unmarshal([]byte(record.Body), &it); err != nil {
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			continue
		}
		if err := h.codec.Invoke(ctx, it); err != nil {
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			continue
		}
	}
	if len(resp.BatchItemFailures) == len(sqsEvent.Records) && len(sqsEvent.Records) > 0 {
		return resp, fmt.Errorf("lambdaadapter: every record in the batch failed")
	}
	return resp, nil
}
