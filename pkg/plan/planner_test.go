package plan

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/cairnlang/cairn/pkg/eval"
	"github.com/cairnlang/cairn/pkg/loader"
	"github.com/cairnlang/cairn/pkg/stores"
	"github.com/cairnlang/cairn/pkg/value"
)

func setupPlanner(t *testing.T) (*Planner, *stores.SQLiteStore) {
	t.Helper()
	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewPlanner(store, zerolog.Nop()), store
}

func evaluate(t *testing.T, src string) *eval.Result {
	t.Helper()
	prog, err := loader.New(afero.NewMemMapFs()).Parse("main.cairn", []byte(src))
	if err != nil {
		t.Fatalf("failed to parse program: %v", err)
	}
	res, err := eval.New(eval.Options{Logger: zerolog.Nop()}).Run(context.Background(), prog)
	if err != nil {
		t.Fatalf("failed to evaluate program: %v", err)
	}
	return res
}

func mustPlan(t *testing.T, p *Planner, src string) *Plan {
	t.Helper()
	pl, err := p.Plan(context.Background(), evaluate(t, src))
	if err != nil {
		t.Fatalf("failed to plan: %v", err)
	}
	return pl
}

func mustApply(t *testing.T, p *Planner, pl *Plan) {
	t.Helper()
	if _, err := p.Apply(context.Background(), pl); err != nil {
		t.Fatalf("failed to apply: %v", err)
	}
}

func operations(pl *Plan) []string {
	out := make([]string, len(pl.Units))
	for i, u := range pl.Units {
		out[i] = string(u.Operation) + " " + u.Key
	}
	return out
}

const network = `
resource "network" "net" {
  cidr = "10.0.0.0/16"
}

resource "subnet" "app" {
  network = net.cidr
  zone    = "a"
}

resource "vm" "web" {
  subnet = app.network
  size   = 2
}

output "size" {
  value = web.size
}
`

func TestPlan_CreateThenNoop(t *testing.T) {
	p, store := setupPlanner(t)

	pl := mustPlan(t, p, network)
	want := []string{"create net", "create app", "create web"}
	if diff := cmp.Diff(want, operations(pl)); diff != "" {
		t.Errorf("Units mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]string{{"net"}, {"app"}, {"web"}}, pl.Levels); diff != "" {
		t.Errorf("Levels mismatch (-want +got):\n%s", diff)
	}
	if pl.Summary.ToCreate != 3 || pl.Summary.Total != 3 || !pl.HasChanges() {
		t.Errorf("Unexpected summary: %+v", pl.Summary)
	}

	web, _ := pl.Unit("web")
	wantChanges := []Change{
		{Path: "size", Action: ChangeActionAdd, After: value.Number(2)},
		{Path: "subnet", Action: ChangeActionAdd, After: value.String("10.0.0.0/16")},
	}
	if diff := cmp.Diff(wantChanges, web.Changes); diff != "" {
		t.Errorf("Changes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"app"}, web.Dependencies); diff != "" {
		t.Errorf("Dependencies mismatch (-want +got):\n%s", diff)
	}

	mustApply(t, p, pl)

	states, err := store.ListResourceStates(context.Background())
	if err != nil {
		t.Fatalf("failed to list state: %v", err)
	}
	if len(states) != 3 {
		t.Fatalf("Expected 3 state entries, got %d", len(states))
	}
	for _, st := range states {
		if st.RunID != pl.RunID {
			t.Errorf("Expected %s to be recorded by run %s, got %s", st.Key, pl.RunID, st.RunID)
		}
	}

	again := mustPlan(t, p, network)
	if again.HasChanges() {
		t.Errorf("Expected no changes after apply, got %v", operations(again))
	}
	if again.Summary.NoChange != 3 || len(again.Levels) != 0 {
		t.Errorf("Unexpected summary: %+v, levels %v", again.Summary, again.Levels)
	}
}

func TestPlan_Update(t *testing.T) {
	p, _ := setupPlanner(t)
	mustApply(t, p, mustPlan(t, p, `
resource "vm" "web" {
  size  = 2
  image = "ubuntu"
}
`))

	pl := mustPlan(t, p, `
resource "vm" "web" {
  size = 4
  zone = "b"
}
`)
	web, ok := pl.Unit("web")
	if !ok || web.Operation != OperationUpdate {
		t.Fatalf("Expected web to be updated, got %v", operations(pl))
	}
	want := []Change{
		{Path: "image", Action: ChangeActionRemove, Before: value.String("ubuntu")},
		{Path: "size", Action: ChangeActionModify, Before: value.Number(2), After: value.Number(4)},
		{Path: "zone", Action: ChangeActionAdd, After: value.String("b")},
	}
	if diff := cmp.Diff(want, web.Changes); diff != "" {
		t.Errorf("Changes mismatch (-want +got):\n%s", diff)
	}
	if web.PriorChecksum == web.Checksum {
		t.Error("Expected checksums to differ")
	}

	retyped := mustPlan(t, p, `
resource "container" "web" {
  size  = 2
  image = "ubuntu"
}
`)
	web, _ = retyped.Unit("web")
	wantType := []Change{{Path: "type", Action: ChangeActionModify, Before: value.String("vm"), After: value.String("container")}}
	if diff := cmp.Diff(wantType, web.Changes); diff != "" {
		t.Errorf("Type change mismatch (-want +got):\n%s", diff)
	}
}

func TestPlan_Delete(t *testing.T) {
	p, store := setupPlanner(t)
	mustApply(t, p, mustPlan(t, p, network))

	pl := mustPlan(t, p, `
resource "vm" "db" {
  size = 1
}
`)
	want := []string{"delete web", "delete app", "delete net", "create db"}
	if diff := cmp.Diff(want, operations(pl)); diff != "" {
		t.Errorf("Units mismatch (-want +got):\n%s", diff)
	}
	if pl.Summary.ToDelete != 3 || pl.Summary.ToCreate != 1 {
		t.Errorf("Unexpected summary: %+v", pl.Summary)
	}

	mustApply(t, p, pl)
	states, _ := store.ListResourceStates(context.Background())
	if len(states) != 1 || states[0].Key != "db" {
		t.Errorf("Expected only db to remain, got %d entries", len(states))
	}
}

func TestPlan_SkipsUnmanaged(t *testing.T) {
	p, _ := setupPlanner(t)
	pl := mustPlan(t, p, `
resource "vpc" "shared" {
  id = "vpc-123"
  directive "existing" {}
}

resource "vm" "web" {
  vpc = shared.id
}

output "vpc" {
  value = shared.id
}
`)
	if diff := cmp.Diff([]string{"create web"}, operations(pl)); diff != "" {
		t.Errorf("Units mismatch (-want +got):\n%s", diff)
	}
}

func TestPlan_MasksSensitive(t *testing.T) {
	p, _ := setupPlanner(t)
	src := `
resource "db" "main" {
  user     = "admin"
  password = "hunter2"
  directive "sensitive" {
    property = "password"
  }
}
`
	pl := mustPlan(t, p, src)
	main, _ := pl.Unit("main")
	for _, c := range main.Changes {
		if c.Path == "password" && c.After != value.String(eval.SensitiveMarker) {
			t.Errorf("Expected password to be masked, got %v", c.After)
		}
	}

	data, err := json.Marshal(pl)
	if err != nil {
		t.Fatalf("failed to encode plan: %v", err)
	}
	if strings.Contains(string(data), "hunter2") {
		t.Errorf("Expected the encoded plan to mask secrets, got %s", data)
	}

	mustApply(t, p, pl)
	changed := mustPlan(t, p, strings.Replace(src, "hunter2", "hunter3", 1))
	main, _ = changed.Unit("main")
	want := []Change{{
		Path:   "password",
		Action: ChangeActionModify,
		Before: value.String(eval.SensitiveMarker),
		After:  value.String(eval.SensitiveMarker),
	}}
	if diff := cmp.Diff(want, main.Changes); diff != "" {
		t.Errorf("Changes mismatch (-want +got):\n%s", diff)
	}
}

func TestChecksum(t *testing.T) {
	a := value.Map{"x": value.Number(1), "y": value.List{value.String("a"), value.Unknown{}}}
	b := value.Map{"y": value.List{value.String("a"), value.Unknown{}}, "x": value.Number(1)}
	if Checksum(a) != Checksum(b) {
		t.Error("Expected equal maps to have equal checksums")
	}
	if Checksum(a) == Checksum(value.Map{"x": value.String("1")}) {
		t.Error("Expected different kinds to have different checksums")
	}
	if len(Checksum(a)) != 64 {
		t.Errorf("Expected a hex SHA256, got %q", Checksum(a))
	}
}

func TestDecodeProperties_RestoresUnknown(t *testing.T) {
	props := value.Map{"id": value.Unknown{}, "tags": value.List{value.Unknown{}}}
	data, err := value.MarshalJSON(props)
	if err != nil {
		t.Fatalf("failed to encode: %v", err)
	}
	got, err := decodeProperties(string(data))
	if err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if !value.Equal(props, got) {
		t.Errorf("Expected %v, got %v", props, got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		plan *Plan
		want string
	}{
		{"nil plan", nil, "plan is nil"},
		{"empty key", &Plan{ID: "p", Units: []Unit{{Operation: OperationNoop, Properties: value.Map{}}}}, "empty key"},
		{"duplicate", &Plan{ID: "p", Units: []Unit{
			{Key: "a", Operation: OperationDelete},
			{Key: "a", Operation: OperationDelete},
		}}, "duplicate units for a"},
		{"bad operation", &Plan{ID: "p", Units: []Unit{{Key: "a", Operation: "replace"}}}, "invalid operation: replace"},
		{"no properties", &Plan{ID: "p", Units: []Unit{{Key: "a", Operation: OperationCreate}}}, "no properties"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.plan)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got: %v", tt.want, err)
			}
		})
	}
}
