package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"strings"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("dispatch", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Backend != "memory" {
		t.Fatalf("expected memory backend, got %q", cfg.Backend)
	}
	if cfg.SnapshotThreshold != 50 || cfg.SchemaVersion != 1 {
		t.Fatalf("expected snapshot defaults, got %d/%d", cfg.SnapshotThreshold, cfg.SchemaVersion)
	}
	if cfg.TxTimeout != 5*time.Second || cfg.TxIsolation != "read_committed" {
		t.Fatalf("expected transaction defaults, got %s/%s", cfg.TxTimeout, cfg.TxIsolation)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	fs := flag.NewFlagSet("dispatch", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{
		"-backend", "sqlite",
		"-sqlite-path", "/tmp/x.db",
		"-snapshot-threshold", "3",
		"-tx-timeout", "2s",
		"-tx-isolation", "serializable",
	})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Backend != "sqlite" || cfg.SQLitePath != "/tmp/x.db" {
		t.Fatalf("expected sqlite override, got %+v", cfg)
	}
	if cfg.SnapshotThreshold != 3 || cfg.TxTimeout != 2*time.Second || cfg.TxIsolation != "serializable" {
		t.Fatalf("expected overrides, got %+v", cfg)
	}
}

func TestParseConfigReadsPrefixedEnv(t *testing.T) {
	t.Setenv("EVENTCORE_SNAPSHOT_THRESHOLD", "7")
	fs := flag.NewFlagSet("dispatch", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.SnapshotThreshold != 7 {
		t.Fatalf("expected threshold 7, got %d", cfg.SnapshotThreshold)
	}
}

func decodeLines(t *testing.T, out string) []response {
	t.Helper()
	var results []response
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var res response
		if err := json.Unmarshal([]byte(line), &res); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		results = append(results, res)
	}
	return results
}

func TestServeDispatchesLines(t *testing.T) {
	input := strings.Join([]string{
		`{"aggregate":"account","aggregate_id":"acc-1","command":"open_account","fields":{"owner":"Ada"}}`,
		``,
		`# comment`,
		`{"aggregate":"account","aggregate_id":"acc-1","command":"deposit","fields":{"amount":12}}`,
		`{"aggregate":"account","aggregate_id":"acc-1","command":"withdraw","fields":{"amount":50}}`,
		`{"aggregate":"account","command":"open_account","fields":{}}`,
		`not json`,
		`{"aggregate":"ledger","command":"open"}`,
	}, "\n")

	var out bytes.Buffer
	cfg := Config{Backend: "memory", SnapshotThreshold: 2, SchemaVersion: 1, TxIsolation: "read_committed"}
	if err := Serve(context.Background(), cfg, strings.NewReader(input), &out); err != nil {
		t.Fatalf("serve: %v", err)
	}

	results := decodeLines(t, out.String())
	if len(results) != 6 {
		t.Fatalf("expected 6 results, got %d: %s", len(results), out.String())
	}
	if evt := results[0].Event; evt == nil || evt.Name != "account_opened" || evt.Version != 1 {
		t.Fatalf("expected account_opened v1, got %+v", results[0])
	}
	if evt := results[1].Event; evt == nil || evt.Version != 2 || !evt.Snapshot {
		t.Fatalf("expected snapshotted deposit v2, got %+v", results[1])
	}
	if len(results[2].Errors) != 1 || !strings.HasPrefix(results[2].Errors[0], "Action: insufficient funds") {
		t.Fatalf("expected insufficient funds, got %+v", results[2])
	}
	if len(results[3].Errors) == 0 || results[3].Errors[0] != "Validation: is required (field: owner)" {
		t.Fatalf("expected owner validation, got %+v", results[3])
	}
	if len(results[4].Errors) != 1 || results[4].Errors[0] != "Command: Invalid request" {
		t.Fatalf("expected invalid request, got %+v", results[4])
	}
	if len(results[5].Errors) != 1 || !strings.HasPrefix(results[5].Errors[0], "Command: ") {
		t.Fatalf("expected command error, got %+v", results[5])
	}
}

func TestServeReportsStatusCodes(t *testing.T) {
	input := strings.Join([]string{
		`{"aggregate":"account","aggregate_id":"acc-1","command":"open_account","fields":{"owner":"Ada"}}`,
		`{"aggregate":"account","aggregate_id":"acc-1","command":"withdraw","fields":{"amount":50}}`,
		`{"aggregate":"account","command":"open_account","fields":{"email":"nope"}}`,
		`not json`,
		`{"aggregate":"account","aggregate_id":"acc-1","command":"deposit","fields":{"amount":1e19}}`,
	}, "\n")

	var out bytes.Buffer
	cfg := Config{Backend: "memory", SchemaVersion: 1, TxIsolation: "read_committed"}
	if err := Serve(context.Background(), cfg, strings.NewReader(input), &out); err != nil {
		t.Fatalf("serve: %v", err)
	}
	results := decodeLines(t, out.String())
	if len(results) != 5 {
		t.Fatalf("expected 5 results, got %d: %s", len(results), out.String())
	}
	if results[0].Code != "" || results[0].Event == nil {
		t.Fatalf("expected success without code, got %+v", results[0])
	}
	if results[1].Code != "Aborted" || len(results[1].Violations) != 1 || results[1].Violations[0] != "amount: insufficient funds" {
		t.Fatalf("expected aborted overdraft, got %+v", results[1])
	}
	if results[2].Code != "InvalidArgument" || len(results[2].Violations) != 2 {
		t.Fatalf("expected invalid argument with owner and email violations, got %+v", results[2])
	}
	if results[3].Code != "FailedPrecondition" || results[3].Reason != "COMMAND_ERROR" {
		t.Fatalf("expected failed precondition, got %+v", results[3])
	}
	if results[4].Code != "InvalidArgument" || len(results[4].Violations) != 1 || !strings.HasPrefix(results[4].Violations[0], "amount: ") {
		t.Fatalf("expected out of range amount rejected, got %+v", results[4])
	}
}

func TestServeRejectsUnknownIsolation(t *testing.T) {
	err := Serve(context.Background(), Config{Backend: "memory", TxIsolation: "chaos"}, strings.NewReader(""), &bytes.Buffer{})
	if err == nil {
		t.Fatal("expected isolation error")
	}
}
