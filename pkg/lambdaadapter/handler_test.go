package lambdaadapter

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aws/aws-lambda-go/events"

	"github.com/deferrable-run/deferrable/pkg/codec"
	"github.com/deferrable-run/deferrable/pkg/item"
)

func TestHandleInvokesEachRecord(t *testing.T) {
	reg := codec.NewRegistry()
	var invoked []string
	reg.RegisterFunc("greet", func(ctx context.Context, args []any, kwargs map[string]any) error {
		invoked = append(invoked, args[0].(string))
		return nil
	})
	c := codec.New(reg)
	h := New(c)

	it, err := c.BuildItem("greet", "", []any{"world"}, nil)
	if err != nil {
		t.Fatalf("BuildItem: %v", err)
	}
	body, err := json.Marshal(it)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	resp, err := h.Handle(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{{MessageId: "1", Body: string(body)}},
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(resp.BatchItemFailures) != 0 {
		t.Fatalf("expected no failures, got %+v", resp.BatchItemFailures)
	}
	if len(invoked) != 1 || invoked[0] != "world" {
		t.Fatalf("expected the callable to run once with 'world', got %v", invoked)
	}
}

func TestHandleReportsFailedRecord(t *testing.T) {
	c := codec.New(codec.NewRegistry())
	h := New(c)

	badItem := item.Item{Method: "not_registered"}
	body, _ := json.Marshal(badItem)

	resp, err := h.Handle(context.Background(), events.SQSEvent{
		Records: []events.SQSMessage{{MessageId: "bad-1", Body: string(body)}},
	})
	if err == nil {
		t.Fatalf("expected an error when every record in the batch fails")
	}
	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "bad-1" {
		t.Fatalf("expected the failing record to be reported, got %+v", resp.BatchItemFailures)
	}
}
