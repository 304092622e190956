package state

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	"kttrack/api/internal/domain"
)

func seeded() *Store {
	store := New()
	store.Replace([]domain.Project{
		{ID: "p-1", Name: "Billing", Members: []domain.Member{{UserID: "u-1", KTRole: domain.RoleContributor}}},
		{ID: "p-2", Name: "Search"},
	})
	return store
}

func TestSnapshotIsIsolated(t *testing.T) {
	store := seeded()
	snapshot := store.Snapshot()
	snapshot[0].Members[0].Name = "mutated"
	snapshot[0].Name = "mutated"

	project, ok := store.Project("p-1")
	if !ok {
		t.Fatal("expected project p-1")
	}
	if project.Name != "Billing" || project.Members[0].Name != "" {
		t.Fatalf("snapshot mutation leaked into store: %+v", project)
	}
}

func TestApplyIsAtomicAndVersioned(t *testing.T) {
	store := seeded()
	var seen []uint64
	store.OnChange(func(version uint64) { seen = append(seen, version) })

	before := store.Version()
	ok := store.Apply("p-2", func(project domain.Project) domain.Project {
		project.Completion = 40
		project.Status = domain.ProjectInProgress
		return project
	})
	if !ok {
		t.Fatal("Apply() = false, want true")
	}
	if store.Version() != before+1 {
		t.Fatalf("Version() = %d, want %d", store.Version(), before+1)
	}
	project, _ := store.Project("p-2")
	if project.Completion != 40 || project.Status != domain.ProjectInProgress {
		t.Fatalf("unexpected project after Apply: %+v", project)
	}
	if len(seen) != 1 || seen[0] != before+1 {
		t.Fatalf("listener calls = %v", seen)
	}

	if store.Apply("missing", func(p domain.Project) domain.Project { return p }) {
		t.Fatal("Apply() on missing project should report false")
	}
	if store.Version() != before+1 {
		t.Fatal("missing project must not bump version")
	}
}

func TestAddAndRemove(t *testing.T) {
	store := seeded()
	store.Add(domain.Project{ID: "p-3", Name: "Payments"})
	if store.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", store.Len())
	}
	if first := store.Snapshot()[0]; first.ID != "p-3" {
		t.Fatalf("new project should be listed first, got %s", first.ID)
	}
	if !store.Remove("p-1") {
		t.Fatal("Remove() = false")
	}
	if _, ok := store.Project("p-1"); ok {
		t.Fatal("p-1 still present after Remove")
	}
	if store.Remove("p-1") {
		t.Fatal("second Remove() should report false")
	}
}

func TestWithOptimisticUpdateRollsBack(t *testing.T) {
	store := seeded()
	project, _ := store.Project("p-1")
	before := project.Members

	write := func(members []domain.Member) {
		store.Apply("p-1", func(p domain.Project) domain.Project {
			p.Members = members
			return p
		})
	}
	var duringPersist []domain.Member
	err := WithOptimisticUpdate(before, write,
		func(members []domain.Member) []domain.Member {
			next := append(append([]domain.Member{}, members...), domain.Member{UserID: "u-2", KTRole: domain.RoleReceiver})
			return next
		},
		func() error {
			current, _ := store.Project("p-1")
			duringPersist = current.Members
			return errors.New("remote unavailable")
		},
	)
	if err == nil {
		t.Fatal("expected persist error")
	}
	if len(duringPersist) != 2 {
		t.Fatalf("optimistic state not visible during persist: %+v", duringPersist)
	}
	after, _ := store.Project("p-1")
	if !reflect.DeepEqual(after.Members, before) {
		t.Fatalf("members after rollback = %+v, want %+v", after.Members, before)
	}
}

func TestWithOptimisticUpdateCommits(t *testing.T) {
	var value []string
	err := WithOptimisticUpdate([]string{"a"}, func(v []string) { value = v },
		func(v []string) []string { return append(append([]string{}, v...), "b") },
		func() error { return nil },
	)
	if err != nil {
		t.Fatalf("WithOptimisticUpdate() error = %v", err)
	}
	if !reflect.DeepEqual(value, []string{"a", "b"}) {
		t.Fatalf("value = %v", value)
	}
}

func TestLocksSerializePerKey(t *testing.T) {
	locks := NewLocks()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("section-1")
			defer unlock()
			current := counter
			counter = current + 1
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("counter = %d, want 50", counter)
	}
}

func TestLocksReleaseKeysWhenIdle(t *testing.T) {
	locks := NewLocks()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			unlock := locks.Lock("section-" + string(rune('a'+i%4)))
			unlock()
		}(i)
	}
	wg.Wait()
	if n := locks.Len(); n != 0 {
		t.Fatalf("Len() = %d after every unlock, want 0", n)
	}

	unlock := locks.Lock("project-1")
	if n := locks.Len(); n != 1 {
		t.Fatalf("Len() = %d while held, want 1", n)
	}
	unlock()
	if n := locks.Len(); n != 0 {
		t.Fatalf("Len() = %d after unlock, want 0", n)
	}
}
