package btrfs

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/skroutz/forge/pkg/process"
)

type recordingRunner struct {
	calls      [][]string
	subvolumes map[string]bool
}

func (r *recordingRunner) Run(_ context.Context, cmd process.Command, _ process.LineFunc) (process.Result, error) {
	args := cmd.Argv()
	r.calls = append(r.calls, args)
	if len(args) == 4 && args[1] == "subvolume" && args[2] == "show" && !r.subvolumes[args[3]] {
		return process.Result{ExitCode: 1}, nil
	}
	return process.Result{}, nil
}

func TestCloneSnapshotsSubvolumes(t *testing.T) {
	r := &recordingRunner{subvolumes: map[string]bool{"/b/app": true}}
	fs := Btrfs{Runner: r}

	err := fs.Clone(context.Background(), "/b/app", "/b/app2")
	if err != nil {
		t.Fatal(err)
	}
	last := r.calls[len(r.calls)-1]
	expected := []string{"btrfs", "subvolume", "snapshot", "/b/app", "/b/app2"}
	if !reflect.DeepEqual(last, expected) {
		t.Fatalf("Expected %v, got %v", expected, last)
	}
}

func TestCloneCopiesPlainDirectories(t *testing.T) {
	r := &recordingRunner{}
	fs := Btrfs{Runner: r}

	err := fs.Clone(context.Background(), "/ctx/out", "/b/app")
	if err != nil {
		t.Fatal(err)
	}
	last := r.calls[len(r.calls)-1]
	expected := []string{"cp", "-R", "-p", "--reflink=auto", "/ctx/out", "/b/app"}
	if !reflect.DeepEqual(last, expected) {
		t.Fatalf("Expected %v, got %v", expected, last)
	}
}

func TestCreateSkipsExisting(t *testing.T) {
	r := &recordingRunner{}
	fs := Btrfs{Runner: r}
	dir := t.TempDir()

	if err := fs.Create(dir); err != nil {
		t.Fatal(err)
	}
	if len(r.calls) != 0 {
		t.Fatalf("expected no commands, got %v", r.calls)
	}

	missing := filepath.Join(dir, "app")
	if err := fs.Create(missing); err != nil {
		t.Fatal(err)
	}
	expected := [][]string{{"btrfs", "subvolume", "create", missing}}
	if !reflect.DeepEqual(r.calls, expected) {
		t.Fatalf("Expected %v, got %v", expected, r.calls)
	}
}
