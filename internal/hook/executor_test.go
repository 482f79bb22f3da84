package hook

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// writeHook writes an executable sh script plus its manifest and returns
// the matching Hook.
func writeHook(t *testing.T, dir, name, script string, events ...string) *Hook {
	t.Helper()

	hookPath := filepath.Join(dir, name)
	if err := os.MkdirAll(hookPath, 0755); err != nil {
		t.Fatalf("failed to create hook dir: %v", err)
	}
	scriptPath := filepath.Join(hookPath, "run.sh")
	if err := os.WriteFile(scriptPath, []byte(script), 0755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}

	manifest := Manifest{
		Name:       name,
		Version:    "1.0.0",
		Executable: "run.sh",
		Events:     events,
	}
	data, err := json.Marshal(manifest)
	if err != nil {
		t.Fatalf("failed to marshal manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(hookPath, ManifestFile), data, 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}

	return &Hook{Manifest: manifest, Path: hookPath, Executable: scriptPath}
}

func skipOnWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("skipping test on Windows")
	}
}

func TestExecutor_Execute(t *testing.T) {
	skipOnWindows(t)

	h := writeHook(t, t.TempDir(), "notify", `#!/bin/sh
cat > /dev/null
echo '{"success":true,"data":{"message":"queued"}}'
`, EventBatchPersisted)

	req, err := NewRequest(EventBatchPersisted, map[string]string{"filename": "data/features/hello/hello.npy", "label": "hello"}, nil)
	if err != nil {
		t.Fatalf("NewRequest() failed: %v", err)
	}

	response, err := NewExecutor(5*time.Second).Execute(context.Background(), h, req)
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	if !response.Success {
		t.Errorf("expected success=true, got false")
	}
	var data map[string]string
	if err := json.Unmarshal(response.Data, &data); err != nil {
		t.Fatalf("failed to unmarshal response data: %v", err)
	}
	if data["message"] != "queued" {
		t.Errorf("expected message 'queued', got %v", data["message"])
	}
}

func TestExecutor_Execute_ReadsStdin(t *testing.T) {
	skipOnWindows(t)

	// The hook echoes its request back inside data.
	h := writeHook(t, t.TempDir(), "echo", `#!/bin/sh
input=$(cat)
printf '{"success":true,"data":%s}\n' "$input"
`, EventEntryDeleted)

	req, err := NewRequest(EventEntryDeleted, map[string]string{"label": "namaste"}, map[string]int{"num_samples": 3})
	if err != nil {
		t.Fatalf("NewRequest() failed: %v", err)
	}

	response, err := NewExecutor(0).Execute(context.Background(), h, req)
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	var echoed Request
	if err := json.Unmarshal(response.Data, &echoed); err != nil {
		t.Fatalf("failed to unmarshal echoed request: %v", err)
	}
	if echoed.Event != EventEntryDeleted {
		t.Errorf("expected event %q, got %q", EventEntryDeleted, echoed.Event)
	}
	if !strings.Contains(string(echoed.Entry), "namaste") {
		t.Errorf("expected entry to carry the label, got %s", echoed.Entry)
	}
	if !strings.Contains(string(echoed.Report), "num_samples") {
		t.Errorf("expected report in request, got %s", echoed.Report)
	}
}

func TestExecutor_Execute_Timeout(t *testing.T) {
	skipOnWindows(t)

	h := writeHook(t, t.TempDir(), "slow", `#!/bin/sh
sleep 5
echo '{"success":true}'
`)

	_, err := NewExecutor(100*time.Millisecond).Execute(context.Background(), h, &Request{Event: EventBatchPersisted})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("expected timeout error, got %v", err)
	}
}

func TestExecutor_Execute_Failure(t *testing.T) {
	skipOnWindows(t)

	h := writeHook(t, t.TempDir(), "broken", `#!/bin/sh
echo "disk full" >&2
exit 1
`)

	_, err := NewExecutor(time.Second).Execute(context.Background(), h, &Request{Event: EventBatchPersisted})
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("expected stderr in error, got %v", err)
	}
}

func TestExecutor_Execute_InvalidJSON(t *testing.T) {
	skipOnWindows(t)

	h := writeHook(t, t.TempDir(), "chatty", `#!/bin/sh
echo "not json"
`)

	_, err := NewExecutor(time.Second).Execute(context.Background(), h, &Request{Event: EventBatchPersisted})
	if err == nil || !strings.Contains(err.Error(), "failed to parse hook response") {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestNewExecutor_DefaultTimeout(t *testing.T) {
	if got := NewExecutor(0).timeout; got != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", got, DefaultTimeout)
	}
	if got := NewExecutor(-time.Second).timeout; got != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", got, DefaultTimeout)
	}
}
