// Package dispatch parses dispatch command flags and feeds JSON command
// requests to the dispatch runtime.
package dispatch

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	entrypoint "github.com/louisbranch/eventcore/internal/platform/cmd"
	apperrors "github.com/louisbranch/eventcore/internal/platform/errors"
	"github.com/louisbranch/eventcore/internal/services/dispatch/app"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/engine"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/event"
	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/transaction"
)

const maxLineSize = 1 << 20

// Config holds dispatch command configuration.
type Config struct {
	Input             string        `env:"DISPATCH_INPUT"`
	Backend           string        `env:"SNAPSHOT_BACKEND"        envDefault:"memory"`
	SQLitePath        string        `env:"SQLITE_PATH"             envDefault:"data/dispatch.db"`
	PostgresURL       string        `env:"POSTGRES_URL"`
	SnapshotThreshold int           `env:"SNAPSHOT_THRESHOLD"      envDefault:"50"`
	SchemaVersion     int           `env:"SNAPSHOT_SCHEMA_VERSION" envDefault:"1"`
	TxTimeout         time.Duration `env:"TX_TIMEOUT"              envDefault:"5s"`
	TxIsolation       string        `env:"TX_ISOLATION"            envDefault:"read_committed"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Input, "input", cfg.Input, "path to a JSON lines command file (default stdin)")
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "event and snapshot storage: memory, sqlite or postgres")
	fs.StringVar(&cfg.SQLitePath, "sqlite-path", cfg.SQLitePath, "SQLite database path")
	fs.StringVar(&cfg.PostgresURL, "postgres-url", cfg.PostgresURL, "PostgreSQL connection URL")
	fs.IntVar(&cfg.SnapshotThreshold, "snapshot-threshold", cfg.SnapshotThreshold, "events between snapshots (0 disables)")
	fs.IntVar(&cfg.SchemaVersion, "schema-version", cfg.SchemaVersion, "snapshot schema version")
	fs.DurationVar(&cfg.TxTimeout, "tx-timeout", cfg.TxTimeout, "transaction timeout")
	fs.StringVar(&cfg.TxIsolation, "tx-isolation", cfg.TxIsolation, "transaction isolation level")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run reads requests from the configured input and writes one JSON result
// line per request to out.
func Run(ctx context.Context, cfg Config, out io.Writer) error {
	in := io.Reader(os.Stdin)
	if cfg.Input != "" {
		f, err := os.Open(cfg.Input)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceDispatch, func(ctx context.Context) error {
		return Serve(ctx, cfg, in, out)
	})
}

// request is one input line.
type request struct {
	Aggregate   string         `json:"aggregate"`
	AggregateID string         `json:"aggregate_id,omitempty"`
	Command     string         `json:"command"`
	Fields      map[string]any `json:"fields,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// response is one output line. Failures carry the formatted errors plus the
// gRPC status a transport would return for them.
type response struct {
	Event      *eventView `json:"event,omitempty"`
	Value      any        `json:"value,omitempty"`
	Errors     []string   `json:"errors,omitempty"`
	Code       string     `json:"code,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	Violations []string   `json:"violations,omitempty"`
}

type eventView struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	AggregateType string         `json:"aggregate_type"`
	AggregateID   string         `json:"aggregate_id"`
	Version       uint64         `json:"version"`
	Values        map[string]any `json:"values"`
	Timestamp     time.Time      `json:"timestamp"`
	Snapshot      bool           `json:"snapshot,omitempty"`
}

// Serve dispatches every request line read from in until EOF or ctx is done.
func Serve(ctx context.Context, cfg Config, in io.Reader, out io.Writer) error {
	isolation, err := transaction.ParseIsolationLevel(cfg.TxIsolation)
	if err != nil {
		return err
	}
	runtime, err := app.New(ctx, app.Config{
		Backend:           app.Backend(cfg.Backend),
		SQLitePath:        cfg.SQLitePath,
		PostgresURL:       cfg.PostgresURL,
		SnapshotThreshold: cfg.SnapshotThreshold,
		SchemaVersion:     cfg.SchemaVersion,
		TxTimeout:         cfg.TxTimeout,
		TxIsolation:       isolation,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := runtime.Close(); err != nil {
			log.Printf("close dispatch runtime: %v", err)
		}
	}()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	encoder := json.NewEncoder(out)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := encoder.Encode(handleLine(ctx, runtime, line)); err != nil {
			return fmt.Errorf("write result: %w", err)
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}

func handleLine(ctx context.Context, runtime *app.App, line string) response {
	var req request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return failure(apperrors.Command("Invalid request", apperrors.WithContext("decode", err.Error())))
	}
	res, err := runtime.Dispatch(ctx, engine.Request{
		AggregateType: req.Aggregate,
		AggregateID:   req.AggregateID,
		Command:       req.Command,
		Fields:        req.Fields,
		Metadata:      req.Metadata,
	})
	if err != nil {
		return failure(err)
	}
	if res.Event == nil {
		return response{Value: res.Value}
	}
	return response{Event: viewEvent(*res.Event, res.Snapshot != nil)}
}

func failure(err error) response {
	list := apperrors.FromResult(err)
	res := response{Errors: list.Messages()}
	st := status.Convert(list.ToGRPCStatus())
	if st.Code() != codes.OK {
		res.Code = st.Code().String()
	}
	for _, detail := range st.Details() {
		switch d := detail.(type) {
		case *errdetails.ErrorInfo:
			res.Reason = d.GetReason()
		case *errdetails.BadRequest:
			for _, v := range d.GetFieldViolations() {
				res.Violations = append(res.Violations, v.GetField()+": "+v.GetDescription())
			}
		}
	}
	return res
}

func viewEvent(evt event.Event, snapshotted bool) *eventView {
	return &eventView{
		ID:            evt.ID,
		Name:          evt.Name,
		AggregateType: evt.AggregateType,
		AggregateID:   evt.AggregateID,
		Version:       evt.Version,
		Values:        map[string]any(evt.Values),
		Timestamp:     evt.Timestamp,
		Snapshot:      snapshotted,
	}
}
