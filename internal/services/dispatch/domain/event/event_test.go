package event

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/louisbranch/eventcore/internal/services/dispatch/domain/command"
)

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Definition{Name: " account_opened ", Fields: []string{"id"}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(Definition{Name: "account_opened"}); err == nil {
		t.Fatal("expected duplicate error")
	}
	if err := r.Register(Definition{}); !errors.Is(err, ErrNameRequired) {
		t.Fatalf("err = %v, want ErrNameRequired", err)
	}
	def, ok := r.Definition("account_opened")
	if !ok || !reflect.DeepEqual(def.Fields, []string{"id"}) {
		t.Fatalf("definition = %+v, %v", def, ok)
	}
	if got := r.Names(); !reflect.DeepEqual(got, []string{"account_opened"}) {
		t.Fatalf("Names() = %v", got)
	}
}

func TestFromCommandCopiesMatchingFields(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))
	cmd := command.Command{
		Name:   "open_account",
		Fields: []string{"id", "owner", "note"},
		Values: map[string]any{"id": "a1", "owner": "ana", "note": "dropped"},
	}
	def := Definition{Name: "account_opened", Fields: []string{"id", "owner", "balance"}}

	evt, err := FromCommand(def, cmd, Stamp{AggregateType: "account", AggregateID: "a1", Version: 3, Now: func() time.Time { return fixed }})
	if err != nil {
		t.Fatalf("from command: %v", err)
	}
	want := map[string]any{"id": "a1", "owner": "ana"}
	if !reflect.DeepEqual(map[string]any(evt.Values), want) {
		t.Fatalf("values = %v, want %v", evt.Values, want)
	}
	if evt.ID == "" || evt.Name != "account_opened" || evt.Version != 3 || evt.AggregateID != "a1" {
		t.Fatalf("envelope = %+v", evt)
	}
	if !evt.Timestamp.Equal(fixed) || evt.Timestamp.Location() != time.UTC {
		t.Fatalf("timestamp = %v", evt.Timestamp)
	}
}

func TestFromCommandRequiresName(t *testing.T) {
	if _, err := FromCommand(Definition{}, command.Command{}, Stamp{}); !errors.Is(err, ErrNameRequired) {
		t.Fatalf("err = %v, want ErrNameRequired", err)
	}
}
