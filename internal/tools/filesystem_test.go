package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadWriteRoundTrip(t *testing.T) {
	ws := t.TempDir()
	write := NewWriteFileTool(ws, true)
	read := NewReadFileTool(ws, true)

	result := write.Execute(context.Background(), map[string]interface{}{
		"path": "notes/todo.txt", "content": "buy milk\n",
	})
	if result.IsError {
		t.Fatalf("write failed: %s", result.ForLLM)
	}

	result = read.Execute(context.Background(), map[string]interface{}{"path": "notes/todo.txt"})
	if result.IsError {
		t.Fatalf("read failed: %s", result.ForLLM)
	}
	if result.ForLLM != "buy milk\n" {
		t.Fatalf("got %q", result.ForLLM)
	}
}

func TestWriteRejectsWorkspaceEscape(t *testing.T) {
	ws := t.TempDir()
	write := NewWriteFileTool(ws, true)

	result := write.Execute(context.Background(), map[string]interface{}{
		"path": "../outside.txt", "content": "nope",
	})
	if !result.IsError {
		t.Fatal("expected workspace escape to be rejected")
	}
}

func TestReadRejectsSymlinkEscape(t *testing.T) {
	ws := t.TempDir()
	outside := filepath.Join(t.TempDir(), "secret.txt")
	if err := os.WriteFile(outside, []byte("secret"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(outside, filepath.Join(ws, "link.txt")); err != nil {
		t.Skip("symlinks unavailable")
	}

	read := NewReadFileTool(ws, true)
	result := read.Execute(context.Background(), map[string]interface{}{"path": "link.txt"})
	if !result.IsError {
		t.Fatal("expected symlink escape to be rejected")
	}
}

func TestReadRejectsNonUTF8(t *testing.T) {
	ws := t.TempDir()
	if err := os.WriteFile(filepath.Join(ws, "blob.bin"), []byte{0xff, 0xfe, 0x00, 0x81}, 0o644); err != nil {
		t.Fatal(err)
	}
	read := NewReadFileTool(ws, true)
	result := read.Execute(context.Background(), map[string]interface{}{"path": "blob.bin"})
	if !result.IsError || !strings.Contains(result.ForLLM, "UTF-8") {
		t.Fatalf("expected UTF-8 rejection, got %q", result.ForLLM)
	}
}
