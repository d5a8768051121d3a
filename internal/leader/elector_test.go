package leader

import (
	"context"
	"testing"
	"time"
)

func TestFirstElectorWinsImmediately(t *testing.T) {
	a := NewLocalElector("acct-imm")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.AwaitLeadership(ctx); err != nil {
		t.Fatalf("expected immediate leadership, got %v", err)
	}
	a.Resign()
}

func TestLeadershipPassesOnResign(t *testing.T) {
	a := NewLocalElector("acct-pass")
	b := NewLocalElector("acct-pass")

	if err := a.AwaitLeadership(context.Background()); err != nil {
		t.Fatalf("a should lead: %v", err)
	}

	won := make(chan error, 1)
	go func() {
		won <- b.AwaitLeadership(context.Background())
	}()

	select {
	case err := <-won:
		t.Fatalf("b became leader while a still holds: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	a.Resign()
	select {
	case err := <-won:
		if err != nil {
			t.Fatalf("b should inherit leadership: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("leadership was not handed over")
	}
	b.Resign()
}

func TestAwaitLeadershipHonorsContext(t *testing.T) {
	a := NewLocalElector("acct-ctx")
	b := NewLocalElector("acct-ctx")

	if err := a.AwaitLeadership(context.Background()); err != nil {
		t.Fatalf("a should lead: %v", err)
	}
	defer a.Resign()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := b.AwaitLeadership(ctx); err != context.DeadlineExceeded {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestResignWithdrawsCandidacy(t *testing.T) {
	a := NewLocalElector("acct-wd")
	b := NewLocalElector("acct-wd")
	c := NewLocalElector("acct-wd")

	if err := a.AwaitLeadership(context.Background()); err != nil {
		t.Fatalf("a should lead: %v", err)
	}

	bWon := make(chan error, 1)
	go func() { bWon <- b.AwaitLeadership(context.Background()) }()
	time.Sleep(20 * time.Millisecond)
	b.Resign() // withdraw before winning
	select {
	case err := <-bWon:
		if err != ErrResigned {
			t.Fatalf("expected ErrResigned, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("withdrawn candidate stayed blocked")
	}

	cWon := make(chan error, 1)
	go func() { cWon <- c.AwaitLeadership(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	a.Resign()
	select {
	case err := <-cWon:
		if err != nil {
			t.Fatalf("c should inherit leadership: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("leadership was not handed to c")
	}
	c.Resign()
}
