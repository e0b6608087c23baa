package events

import (
	"testing"

	"github.com/deferrable-run/deferrable/pkg/item"
)

type recordingObserver struct {
	pushed   []string
	popped   []string
	emptied  []string
	panicked bool
}

func (r *recordingObserver) OnPush(group string, it item.Item) { r.pushed = append(r.pushed, group) }
func (r *recordingObserver) OnPop(group string, it item.Item)  { r.popped = append(r.popped, group) }
func (r *recordingObserver) OnEmpty(group string)              { r.emptied = append(r.emptied, group) }

type panickingObserver struct{}

func (panickingObserver) OnPush(group string, it item.Item) { panic("boom") }

func TestRegistrarDispatchesOnlyMatchingInterfaces(t *testing.T) {
	reg := NewRegistrar()
	rec := &recordingObserver{}
	reg.Register(rec)

	if err := reg.EmitPush("emails", item.Item{}); err != nil {
		t.Fatalf("EmitPush: %v", err)
	}
	if err := reg.EmitPop("emails", item.Item{}); err != nil {
		t.Fatalf("EmitPop: %v", err)
	}
	if err := reg.EmitEmpty("emails"); err != nil {
		t.Fatalf("EmitEmpty: %v", err)
	}
	if err := reg.EmitComplete("emails", item.Item{}); err != nil {
		t.Fatalf("EmitComplete (no observer implements this): %v", err)
	}

	if len(rec.pushed) != 1 || len(rec.popped) != 1 || len(rec.emptied) != 1 {
		t.Fatalf("expected each matching event dispatched once, got %+v", rec)
	}
}

func TestRegistrarIsolatesPanickingObserver(t *testing.T) {
	reg := NewRegistrar()
	rec := &recordingObserver{}
	reg.Register(panickingObserver{})
	reg.Register(rec)

	err := reg.EmitPush("emails", item.Item{})
	if err == nil {
		t.Fatalf("expected the panic to be reported as an aggregated error")
	}
	if len(rec.pushed) != 1 {
		t.Fatalf("expected the well-behaved observer to still run, got %+v", rec)
	}
}
