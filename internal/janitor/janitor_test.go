package janitor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dieriver/balrog-go/internal/servicelog"
)

func testLogger() servicelog.Logger {
	return servicelog.Nop()
}

func TestSweepRemovesOnlyStaleFiles(t *testing.T) {
	dir := t.TempDir()

	stale := filepath.Join(dir, "stale.log")
	fresh := filepath.Join(dir, "fresh.log")
	if err := os.WriteFile(stale, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(fresh, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}

	j := New(testLogger(), []string{dir}, 24*time.Hour, time.Hour)
	j.sweep()

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("expected stale file to be removed, stat err = %v", err)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("expected fresh file to survive, got err = %v", err)
	}
}

func TestSweepIgnoresMissingFolder(t *testing.T) {
	j := New(testLogger(), []string{filepath.Join(t.TempDir(), "does-not-exist")}, time.Hour, time.Hour)
	j.sweep() // must not panic
}

func TestRunNowCoalesces(t *testing.T) {
	j := New(testLogger(), []string{t.TempDir()}, time.Minute, time.Hour)

	j.RunNow()
	j.RunNow() // second call must coalesce rather than block

	select {
	case <-j.trigger:
	default:
		t.Fatal("expected RunNow to enqueue a trigger")
	}
	select {
	case <-j.trigger:
		t.Fatal("expected coalesced RunNow calls to leave only one pending trigger")
	default:
	}
}
