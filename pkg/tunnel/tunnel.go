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

// Package tunnel opens ephemeral local endpoints that forward to a single
// remote port on a single Triton server Pod. A session is opened per
// operation and closed by that operation; nothing outlives its caller.
package tunnel

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"k8s.io/klog/v2"
)

// DefaultSettleDelay bounds how long Open waits to tell an immediately
// failing forwarding process apart from transient startup latency.
const DefaultSettleDelay = 2 * time.Second

// EstablishmentError reports that the forwarding process failed to start or
// exited within the settle window.
type EstablishmentError struct {
	Pod string
	Err error
}

func (e *EstablishmentError) Error() string {
	return fmt.Sprintf("port-forward to pod %q failed to establish: %v", e.Pod, e.Err)
}

func (e *EstablishmentError) Unwrap() error { return e.Err }

// LostError reports that a forwarding process died after Open had already
// reported success.
type LostError struct {
	Pod string
}

func (e *LostError) Error() string {
	return fmt.Sprintf("port-forward to pod %q was lost", e.Pod)
}

// Opener opens forwarding sessions. The concrete implementation is
// Forwarder; tests substitute their own.
type Opener interface {
	// Open blocks until the forwarding channel to remotePort on the named
	// Pod is live, or fails with an *EstablishmentError.
	Open(ctx context.Context, podName string, remotePort int) (Session, error)
}

// Session is one live forwarding channel.
type Session interface {
	// LocalPort is the local TCP port forwarding to the remote port.
	LocalPort() int
	// Healthy returns nil while the forwarding process is alive, and a
	// *LostError once it has died. Callers check it between uses of the
	// local endpoint so a dead tunnel fails fast instead of hanging.
	Healthy() error
	// Close terminates the forwarding process group and releases the local
	// port. Idempotent and safe to call on every exit path.
	Close()
}

// Forwarder opens kubectl port-forward sessions into Pods of one namespace.
// The zero value of the optional fields gives kubectl from PATH and the
// default settle delay.
type Forwarder struct {
	Namespace string

	// KubectlPath overrides the forwarding binary.
	KubectlPath string

	// SettleDelay overrides DefaultSettleDelay.
	SettleDelay time.Duration

	// Command overrides construction of the forwarding command. Tests use
	// this to supervise stub processes instead of kubectl.
	Command func(ctx context.Context, podName string, localPort, remotePort int) *exec.Cmd
}

var _ Opener = &Forwarder{}

func (f *Forwarder) settleDelay() time.Duration {
	if f.SettleDelay > 0 {
		return f.SettleDelay
	}
	return DefaultSettleDelay
}

func (f *Forwarder) buildCommand(ctx context.Context, podName string, localPort, remotePort int) *exec.Cmd {
	if f.Command != nil {
		return f.Command(ctx, podName, localPort, remotePort)
	}
	kubectl := f.KubectlPath
	if kubectl == "" {
		kubectl = "kubectl"
	}
	return exec.CommandContext(ctx, kubectl, "port-forward",
		"pod/"+podName,
		fmt.Sprintf("%d:%d", localPort, remotePort),
		"-n", f.Namespace)
}

// Open allocates a free local port, spawns the forwarding process in its own
// process group, and blocks until the process has survived the settle window
// or exited. On failure no session (and no port) is handed out; the process,
// if it ever started, is already reaped.
func (f *Forwarder) Open(ctx context.Context, podName string, remotePort int) (Session, error) {
	logger := klog.FromContext(ctx).WithValues("pod", podName, "remotePort", remotePort)

	localPort, err := freePort()
	if err != nil {
		return nil, &EstablishmentError{Pod: podName, Err: fmt.Errorf("no free local port: %w", err)}
	}

	var stderr bytes.Buffer
	cmd := f.buildCommand(ctx, podName, localPort, remotePort)
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, &EstablishmentError{Pod: podName, Err: err}
	}

	s := &session{pod: podName, localPort: localPort, cmd: cmd, done: make(chan struct{})}
	go func() {
		s.exitErr = cmd.Wait()
		close(s.done)
	}()

	settle := time.NewTimer(f.settleDelay())
	defer settle.Stop()
	select {
	case <-s.done:
		return nil, &EstablishmentError{Pod: podName,
			Err: fmt.Errorf("forwarding process exited early: %v; stderr: %s", s.exitErr, stderr.String())}
	case <-ctx.Done():
		s.Close()
		return nil, &EstablishmentError{Pod: podName, Err: ctx.Err()}
	case <-settle.C:
	}

	logger.V(3).Info("Port-forwarding established", "localPort", localPort)
	return s, nil
}

type session struct {
	pod       string
	localPort int
	cmd       *exec.Cmd

	// done is closed by the watcher goroutine once the process has exited;
	// exitErr is written before the close.
	done    chan struct{}
	exitErr error

	closeOnce sync.Once
}

func (s *session) LocalPort() int { return s.localPort }

func (s *session) Healthy() error {
	select {
	case <-s.done:
		return &LostError{Pod: s.pod}
	default:
		return nil
	}
}

func (s *session) Close() {
	s.closeOnce.Do(func() {
		select {
		case <-s.done:
			// already exited, nothing to kill
			return
		default:
		}
		// Kill the whole process group: kubectl may have children.
		if pgidErr := syscall.Kill(-s.cmd.Process.Pid, syscall.SIGTERM); pgidErr != nil {
			_ = s.cmd.Process.Kill()
		}
		<-s.done
	})
}

// freePort asks the kernel for an unused ephemeral port. The listener is
// closed before the forwarding process starts, so a concurrent claimer can
// race it; the forwarding process then fails within the settle window and
// the operation surfaces an EstablishmentError.
func freePort() (int, error) {
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close() //nolint:errcheck
	return l.Addr().(*net.TCPAddr).Port, nil
}
