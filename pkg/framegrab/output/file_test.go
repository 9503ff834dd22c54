package output

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/norasector/framegrab/pkg/deframe"
	"github.com/norasector/framegrab/pkg/util"
	"github.com/rs/zerolog"
)

func TestFileOutput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "threshold_255")
	out, err := NewFileOutput(dir, "capture_", "P1", &util.MockWriteAPI{}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- out.Start(ctx) }()

	frames := []*deframe.Frame{
		{Kind: deframe.KindText, Seq: 1, Lines: []string{"4 2", "1010", "0101"}},
		{Kind: deframe.KindBinary, Seq: 2, Bytes: []byte{0xff, 0xd8, '\n', 0xff, 0xd9}},
		{Kind: deframe.KindText, Seq: 3, Lines: []string{}, Partial: true},
	}
	for _, f := range frames {
		out.Receive() <- f
	}

	want := map[string]string{
		"capture_001.pbm": "P1\n4 2\n1010\n0101\n",
		"capture_002.jpg": "\xff\xd8\n\xff\xd9",
		"capture_003.pbm": "P1\n",
	}
	deadline := time.Now().Add(2 * time.Second)
	for name, content := range want {
		path := filepath.Join(dir, name)
		for {
			got, err := os.ReadFile(path)
			if err == nil && string(got) == content {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("%s = %q (%v), want %q", name, got, err, content)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Start() = %v, want context.Canceled", err)
	}
}

func TestFileOutputDrainsOnCancel(t *testing.T) {
	dir := t.TempDir()
	out, err := NewFileOutput(dir, "f", "P1", &util.MockWriteAPI{}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	out.Receive() <- &deframe.Frame{Kind: deframe.KindBinary, Seq: 1, Bytes: []byte("a")}
	out.Receive() <- &deframe.Frame{Kind: deframe.KindBinary, Seq: 2, Bytes: []byte("b")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := out.Start(ctx); err != context.Canceled {
		t.Fatalf("Start() = %v, want context.Canceled", err)
	}
	for _, name := range []string{"f001.jpg", "f002.jpg"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("queued frame not saved: %v", err)
		}
	}
}
