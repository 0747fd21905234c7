package runctx

import (
	"context"
	"testing"
	"time"
)

func TestRecvOrDone(t *testing.T) {
	in := make(chan int, 1)
	in <- 7
	if v, ok := RecvOrDone(context.Background(), "test", nil, in); !ok || v != 7 {
		t.Fatalf("RecvOrDone() = %d, %v, want 7, true", v, ok)
	}
	close(in)
	if _, ok := RecvOrDone(context.Background(), "test", nil, in); ok {
		t.Fatal("RecvOrDone() on closed channel ok = true, want false")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := RecvOrDone(ctx, "test", nil, make(chan int)); ok {
		t.Fatal("RecvOrDone() after cancel ok = true, want false")
	}
}

func TestSendOrDone(t *testing.T) {
	out := make(chan string, 1)
	if !SendOrDone(context.Background(), "test", nil, out, "x") {
		t.Fatal("SendOrDone() = false, want true")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if SendOrDone(ctx, "test", nil, make(chan string), "y") {
		t.Fatal("SendOrDone() after cancel = true, want false")
	}
}

func TestSleepOrDone(t *testing.T) {
	if !SleepOrDone(context.Background(), time.Millisecond) {
		t.Fatal("SleepOrDone() = false, want true")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if SleepOrDone(ctx, time.Hour) {
		t.Fatal("SleepOrDone() after cancel = true, want false")
	}
}
