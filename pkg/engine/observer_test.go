package engine

import (
	"testing"

	"github.com/cairnlang/cairn/pkg/addr"
	"github.com/cairnlang/cairn/pkg/ast"
)

func registered(t *testing.T, table *EntityTable, name string) *Entity {
	t.Helper()
	e := NewEntity(KindResource, addr.New("vm", name), ast.Pos{})
	if err := table.Add(e); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	return e
}

func TestObserverRegistry_NotifyQueuesInDeclarationOrder(t *testing.T) {
	table := NewEntityTable()
	a := registered(t, table, "a")
	b := registered(t, table, "b")
	c := registered(t, table, "c")

	r := NewObserverRegistry()
	r.AddObserver(c, "main")
	r.AddObserver(a, "main")
	r.AddObserver(b, "other")

	if n := r.Notify("main"); n != 2 {
		t.Fatalf("Expected 2 queued, got %d", n)
	}
	// Re-notifying does not queue twice.
	if n := r.Notify("main"); n != 0 {
		t.Errorf("Expected 0 newly queued, got %d", n)
	}

	first, _ := r.Next()
	second, _ := r.Next()
	if first != a || second != c {
		t.Errorf("Expected a then c, got %s then %s", first.Key, second.Key)
	}
	if _, ok := r.Next(); ok {
		t.Error("Expected empty queue")
	}
}

func TestObserverRegistry_SkipsEvaluated(t *testing.T) {
	table := NewEntityTable()
	a := registered(t, table, "a")
	a.State = StateEvaluated

	r := NewObserverRegistry()
	r.AddObserver(a, "main")
	if n := r.Notify("main"); n != 0 {
		t.Errorf("Expected evaluated entity to be skipped, got %d queued", n)
	}
}

func TestObserverRegistry_SyncRemovesStaleKeys(t *testing.T) {
	table := NewEntityTable()
	a := registered(t, table, "a")

	r := NewObserverRegistry()
	a.Pending = map[string]Provenance{"x": ProvenanceProperty, "y": ProvenanceExplicit}
	r.Sync(a, nil)
	if got := r.Names(); len(got) != 2 {
		t.Fatalf("Expected 2 keys, got %v", got)
	}

	previous := a.PendingTargets()
	a.Pending = map[string]Provenance{"y": ProvenanceExplicit}
	r.Sync(a, previous)
	if got := r.Names(); len(got) != 1 || got[0] != "y" {
		t.Errorf("Expected only y to remain, got %v", got)
	}

	previous = a.PendingTargets()
	a.Pending = map[string]Provenance{}
	r.Sync(a, previous)
	if got := r.Names(); len(got) != 0 {
		t.Errorf("Expected every key to be deleted, got %v", got)
	}
	if r.Blocked() != 0 {
		t.Errorf("Expected 0 blocked, got %d", r.Blocked())
	}
}
