package events

import (
	"fmt"
	"testing"

	"github.com/agentmem/retrieval-core/internal/model"
)

func testEvent(id string) model.ChangeEvent {
	return model.ChangeEvent{
		EntryType: model.KindGuideline,
		EntryID:   id,
		ScopeType: model.ScopeProject,
		ScopeID:   "p1",
		Action:    model.ActionCreate,
	}
}

func TestEmitDeliversInOrder(t *testing.T) {
	b := New()
	var order []int

	b.Subscribe(func(model.ChangeEvent) error { order = append(order, 1); return nil })
	b.Subscribe(func(model.ChangeEvent) error { order = append(order, 2); return nil })
	b.Subscribe(func(model.ChangeEvent) error { order = append(order, 3); return nil })

	b.Emit(testEvent("e1"))

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected in-order delivery 1,2,3, got %v", order)
	}
}

func TestErrorIsolatedPerSubscriber(t *testing.T) {
	b := New()
	var secondCalled, thirdCalled bool

	b.Subscribe(func(model.ChangeEvent) error { return fmt.Errorf("boom") })
	b.Subscribe(func(model.ChangeEvent) error { secondCalled = true; return nil })
	b.Subscribe(func(model.ChangeEvent) error { thirdCalled = true; return nil })

	b.Emit(testEvent("e1"))

	if !secondCalled || !thirdCalled {
		t.Fatalf("a failing subscriber must not block the others")
	}
}

func TestUnsubscribeDuringEmission(t *testing.T) {
	b := New()
	var tok Token
	var secondCalls int

	tok = b.Subscribe(func(model.ChangeEvent) error {
		b.Unsubscribe(tok)
		return nil
	})
	b.Subscribe(func(model.ChangeEvent) error { secondCalls++; return nil })

	b.Emit(testEvent("e1"))
	if secondCalls != 1 {
		t.Fatalf("first emission should still reach subscriber 2, got %d calls", secondCalls)
	}

	b.Emit(testEvent("e2"))
	if secondCalls != 2 {
		t.Fatalf("second emission should only reach the surviving subscriber, got %d calls", secondCalls)
	}
	if b.Len() != 1 {
		t.Fatalf("expected 1 subscriber left after unsubscribe, got %d", b.Len())
	}
}

func TestSubscribeDuringEmissionDoesNotAffectCurrentEmit(t *testing.T) {
	b := New()
	var lateCalls int

	b.Subscribe(func(model.ChangeEvent) error {
		b.Subscribe(func(model.ChangeEvent) error { lateCalls++; return nil })
		return nil
	})

	b.Emit(testEvent("e1"))
	if lateCalls != 0 {
		t.Fatalf("subscriber added mid-emission must not receive the in-flight event, got %d calls", lateCalls)
	}

	b.Emit(testEvent("e2"))
	if lateCalls != 1 {
		t.Fatalf("subscriber added mid-emission should receive subsequent events, got %d calls", lateCalls)
	}
}

func TestSubscriberOverflow(t *testing.T) {
	b := New()
	for i := 0; i < MaxSubscribers; i++ {
		if tok := b.Subscribe(func(model.ChangeEvent) error { return nil }); tok == 0 {
			t.Fatalf("subscription %d should have succeeded", i)
		}
	}
	if tok := b.Subscribe(func(model.ChangeEvent) error { return nil }); tok != 0 {
		t.Fatalf("subscription beyond MaxSubscribers should be dropped (token 0), got %d", tok)
	}
	if b.Len() != MaxSubscribers {
		t.Fatalf("expected exactly %d subscribers, got %d", MaxSubscribers, b.Len())
	}
}
