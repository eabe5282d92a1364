// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"
)

const doclingImage = "ghcr.io/enlitens/docling-json:2.31"

// mockExecutor records calls and returns configured responses.
type mockExecutor struct {
	availableBins map[string]bool // binary -> whether LookPath succeeds
	runnableCmds  map[string]bool // "bin arg1 arg2" -> whether RunSilent succeeds
	runPipedFunc  func(ctx context.Context, name string, args []string, stdin io.Reader, stdout io.Writer) error
}

func (m *mockExecutor) LookPath(file string) (string, error) {
	if m.availableBins[file] {
		return "/usr/bin/" + file, nil
	}
	return "", errors.New("not found: " + file)
}

func (m *mockExecutor) RunSilent(_ context.Context, name string, args ...string) error {
	key := name + " " + strings.Join(args, " ")
	if m.runnableCmds[key] {
		return nil
	}
	return errors.New("command failed: " + key)
}

func (m *mockExecutor) RunPiped(ctx context.Context, name string, args []string, stdin io.Reader, stdout io.Writer) error {
	if m.runPipedFunc != nil {
		return m.runPipedFunc(ctx, name, args, stdin, stdout)
	}
	return nil
}

func TestDetectRuntime(t *testing.T) {
	tests := []struct {
		name     string
		exec     *mockExecutor
		wantName string
		wantErr  bool
	}{
		{
			name: "docker available",
			exec: &mockExecutor{
				availableBins: map[string]bool{"docker": true},
				runnableCmds:  map[string]bool{"docker info": true},
			},
			wantName: "docker",
		},
		{
			name: "podman fallback when docker missing",
			exec: &mockExecutor{
				availableBins: map[string]bool{"podman": true},
				runnableCmds:  map[string]bool{"podman info": true},
			},
			wantName: "podman",
		},
		{
			name:    "neither available",
			exec:    &mockExecutor{},
			wantErr: true,
		},
		{
			name: "docker daemon down, podman works",
			exec: &mockExecutor{
				availableBins: map[string]bool{"docker": true, "podman": true},
				runnableCmds:  map[string]bool{"podman info": true},
			},
			wantName: "podman",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, err := detectRuntime(context.Background(), tt.exec)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), "no container runtime available") {
					t.Errorf("error should mention no runtime available, got: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rt.Name() != tt.wantName {
				t.Errorf("got runtime %q, want %q", rt.Name(), tt.wantName)
			}
		})
	}
}

func TestImageExistsSubcommand(t *testing.T) {
	docker := &mockExecutor{runnableCmds: map[string]bool{"docker image inspect " + doclingImage: true}}
	if err := newDockerRuntime(docker).ImageExists(context.Background(), doclingImage); err != nil {
		t.Fatalf("docker ImageExists: %v", err)
	}

	podman := &mockExecutor{runnableCmds: map[string]bool{"podman image exists " + doclingImage: true}}
	if err := newPodmanRuntime(podman).ImageExists(context.Background(), doclingImage); err != nil {
		t.Fatalf("podman ImageExists: %v", err)
	}

	missing := &mockExecutor{}
	err := newPodmanRuntime(missing).ImageExists(context.Background(), doclingImage)
	if err == nil || !strings.Contains(err.Error(), doclingImage) {
		t.Errorf("missing image error should name the image, got: %v", err)
	}
}

func TestRunArgumentsAndPiping(t *testing.T) {
	var gotArgs []string
	exec := &mockExecutor{runPipedFunc: func(_ context.Context, name string, args []string, stdin io.Reader, stdout io.Writer) error {
		if name != "docker" {
			return errors.New("expected docker binary")
		}
		gotArgs = args
		data, _ := io.ReadAll(stdin)
		fmt.Fprintf(stdout, `{"bytes":%d}`, len(data))
		return nil
	}}

	var out bytes.Buffer
	err := newDockerRuntime(exec).Run(context.Background(), doclingImage, []string{"--to", "json"}, strings.NewReader("%PDF-"), &out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"run", "--rm", "-i", "--network", "none", doclingImage, "--to", "json"}
	if strings.Join(gotArgs, " ") != strings.Join(want, " ") {
		t.Errorf("args = %v, want %v", gotArgs, want)
	}
	if out.String() != `{"bytes":5}` {
		t.Errorf("stdout = %q", out.String())
	}
}

func TestRunWrapsFailures(t *testing.T) {
	exec := &mockExecutor{runPipedFunc: func(context.Context, string, []string, io.Reader, io.Writer) error {
		return errors.New("container exited with code 1")
	}}
	err := newPodmanRuntime(exec).Run(context.Background(), doclingImage, nil, nil, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "podman container") {
		t.Fatalf("expected wrapped podman error, got %v", err)
	}
}

func TestRunReportsDeadline(t *testing.T) {
	exec := &mockExecutor{runPipedFunc: func(ctx context.Context, _ string, _ []string, _ io.Reader, _ io.Writer) error {
		<-ctx.Done()
		return errors.New("signal: killed")
	}}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := newDockerRuntime(exec).Run(ctx, doclingImage, nil, nil, io.Discard)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}
