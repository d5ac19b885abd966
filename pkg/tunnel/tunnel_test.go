/*
Copyright 2025 The SuperSONIC Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package tunnel

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"
)

// stubForwarder returns a Forwarder whose forwarding "process" is the given
// command instead of kubectl.
func stubForwarder(settle time.Duration, name string, args ...string) *Forwarder {
	return &Forwarder{
		Namespace:   "cms",
		SettleDelay: settle,
		Command: func(ctx context.Context, podName string, localPort, remotePort int) *exec.Cmd {
			return exec.Command(name, args...)
		},
	}
}

func TestOpenFailsWhenProcessExitsEarly(t *testing.T) {
	fwd := stubForwarder(500*time.Millisecond, "false")
	sess, err := fwd.Open(context.Background(), "triton-0", 8000)
	if err == nil {
		sess.Close()
		t.Fatal("Open() succeeded, want establishment failure")
	}
	var estErr *EstablishmentError
	if !errors.As(err, &estErr) {
		t.Fatalf("Open() error = %T (%v), want *EstablishmentError", err, err)
	}
	if estErr.Pod != "triton-0" {
		t.Errorf("EstablishmentError.Pod = %q, want %q", estErr.Pod, "triton-0")
	}
	if sess != nil {
		t.Error("Open() returned a session alongside an error; no port may leak")
	}
}

func TestOpenSucceedsForLongLivedProcess(t *testing.T) {
	fwd := stubForwarder(100*time.Millisecond, "sleep", "60")
	sess, err := fwd.Open(context.Background(), "triton-0", 8000)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer sess.Close()

	if sess.LocalPort() <= 0 {
		t.Errorf("LocalPort() = %d, want a positive port", sess.LocalPort())
	}
	if err := sess.Healthy(); err != nil {
		t.Errorf("Healthy() = %v, want nil", err)
	}
}

func TestHealthyReportsLossAfterProcessDies(t *testing.T) {
	fwd := stubForwarder(50*time.Millisecond, "sleep", "0.2")
	sess, err := fwd.Open(context.Background(), "triton-0", 8000)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer sess.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := sess.Healthy(); err != nil {
			var lost *LostError
			if !errors.As(err, &lost) {
				t.Fatalf("Healthy() error = %T (%v), want *LostError", err, err)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("Healthy() never reported the dead forwarding process")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	fwd := stubForwarder(50*time.Millisecond, "sleep", "60")
	sess, err := fwd.Open(context.Background(), "triton-0", 8000)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	sess.Close()
	sess.Close() // must not panic or block
	if err := sess.Healthy(); err == nil {
		t.Error("Healthy() = nil after Close, want loss")
	}
}

func TestOpenRespectsContextCancellation(t *testing.T) {
	fwd := stubForwarder(5*time.Second, "sleep", "60")
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := fwd.Open(ctx, "triton-0", 8000)
	if err == nil {
		t.Fatal("Open() succeeded, want cancellation failure")
	}
	var estErr *EstablishmentError
	if !errors.As(err, &estErr) {
		t.Fatalf("Open() error = %T, want *EstablishmentError", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Open() blocked %v after cancellation", elapsed)
	}
}
