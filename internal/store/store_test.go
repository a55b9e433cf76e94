package store

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedRepo(t *testing.T, s *Store, hash string) {
	t.Helper()
	err := s.UpsertRepository(&Repository{Hash: hash, Root: "/tmp/" + hash, EntryPoints: []string{"main.py:main"}})
	if err != nil {
		t.Fatalf("UpsertRepository: %v", err)
	}
}

func TestOpenMemory(t *testing.T) {
	s, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	s.Close()
}

func TestRepositoryRoundTrip(t *testing.T) {
	s := openTestStore(t)
	seedRepo(t, s, "r1")

	r, err := s.GetRepository("r1")
	if err != nil {
		t.Fatalf("GetRepository: %v", err)
	}
	if r == nil {
		t.Fatal("expected repository, got nil")
	}
	if len(r.EntryPoints) != 1 || r.EntryPoints[0] != "main.py:main" {
		t.Errorf("unexpected entry points: %v", r.EntryPoints)
	}

	missing, err := s.GetRepository("nope")
	if err != nil {
		t.Fatalf("GetRepository(nope): %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing repository, got %v", missing)
	}
}

func TestInsertFunction(t *testing.T) {
	s := openTestStore(t)
	seedRepo(t, s, "r1")

	f := &Function{
		Repo:          "r1",
		Name:          "run",
		QualifiedName: "DemoApp.run",
		FilePath:      "app/demo.py",
		ModuleName:    "app.demo",
		ClassName:     "DemoApp",
		Lineno:        10,
		EndLineno:     20,
	}
	id, err := s.InsertFunction(f)
	if err != nil {
		t.Fatalf("InsertFunction: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero id")
	}

	found, err := s.FindFunctionByFullName("r1", "app.demo.DemoApp.run")
	if err != nil {
		t.Fatalf("FindFunctionByFullName: %v", err)
	}
	if found == nil {
		t.Fatal("expected function, got nil")
	}
	if found.ClassName != "DemoApp" {
		t.Errorf("expected DemoApp, got %s", found.ClassName)
	}

	// Upsert keeps the id stable
	f.EndLineno = 25
	id2, err := s.InsertFunction(f)
	if err != nil {
		t.Fatalf("InsertFunction upsert: %v", err)
	}
	if id2 != id {
		t.Errorf("upsert changed id: %d -> %d", id, id2)
	}
}

func TestInsertFunctionBatch(t *testing.T) {
	s := openTestStore(t)
	seedRepo(t, s, "r1")

	var fns []*Function
	for i := 0; i < 250; i++ {
		fns = append(fns, &Function{
			Repo:          "r1",
			Name:          fmt.Sprintf("f%d", i),
			QualifiedName: fmt.Sprintf("f%d", i),
			FilePath:      "big.py",
			ModuleName:    "big",
			Lineno:        i*3 + 1,
			EndLineno:     i*3 + 2,
		})
	}
	idMap, err := s.InsertFunctionBatch(fns)
	if err != nil {
		t.Fatalf("InsertFunctionBatch: %v", err)
	}
	if len(idMap) != 250 {
		t.Fatalf("expected 250 ids, got %d", len(idMap))
	}
	for _, f := range fns {
		if f.ID == 0 {
			t.Fatalf("function %s has no id after batch insert", f.QualifiedName)
		}
	}

	count, err := s.CountFunctions("r1")
	if err != nil {
		t.Fatalf("CountFunctions: %v", err)
	}
	if count != 250 {
		t.Errorf("expected 250 functions, got %d", count)
	}
}

func TestValidateSegments(t *testing.T) {
	ok := []*Segment{
		{Ordinal: 0, Kind: SegmentCode, Lineno: 1, EndLineno: 2},
		{Ordinal: 1, Kind: SegmentCall, Lineno: 3, EndLineno: 3},
		{Ordinal: 2, Kind: SegmentComment, Lineno: 4, EndLineno: 5},
	}
	if err := ValidateSegments(1, 5, ok); err != nil {
		t.Errorf("valid segments rejected: %v", err)
	}

	gap := []*Segment{
		{Ordinal: 0, Kind: SegmentCode, Lineno: 1, EndLineno: 2},
		{Ordinal: 1, Kind: SegmentCode, Lineno: 4, EndLineno: 5},
	}
	if err := ValidateSegments(1, 5, gap); err == nil {
		t.Error("gap not detected")
	}

	overlap := []*Segment{
		{Ordinal: 0, Kind: SegmentCode, Lineno: 1, EndLineno: 3},
		{Ordinal: 1, Kind: SegmentCode, Lineno: 3, EndLineno: 5},
	}
	if err := ValidateSegments(1, 5, overlap); err == nil {
		t.Error("overlap not detected")
	}

	short := []*Segment{
		{Ordinal: 0, Kind: SegmentCode, Lineno: 1, EndLineno: 3},
	}
	if err := ValidateSegments(1, 5, short); err == nil {
		t.Error("undercoverage not detected")
	}

	var covErr *ErrSegmentCoverage
	err := ValidateSegments(7, 5, gap)
	if !errors.As(err, &covErr) {
		t.Fatalf("expected ErrSegmentCoverage, got %T", err)
	}
	if covErr.FunctionID != 7 {
		t.Errorf("expected function id 7, got %d", covErr.FunctionID)
	}
}

func TestReplaceSegments(t *testing.T) {
	s := openTestStore(t)
	seedRepo(t, s, "r1")

	f := &Function{Repo: "r1", Name: "main", QualifiedName: "main", FilePath: "main.py", ModuleName: "main", Lineno: 1, EndLineno: 4}
	if _, err := s.InsertFunction(f); err != nil {
		t.Fatal(err)
	}

	segs := []*Segment{
		{Ordinal: 0, Kind: SegmentCode, Lineno: 1, EndLineno: 1, Content: "def main():"},
		{Ordinal: 1, Kind: SegmentComment, Lineno: 2, EndLineno: 2, Content: "    # setup"},
		{Ordinal: 2, Kind: SegmentCall, Lineno: 3, EndLineno: 4, Content: "    helper()"},
	}
	if err := s.ReplaceSegments(f.ID, 4, segs); err != nil {
		t.Fatalf("ReplaceSegments: %v", err)
	}

	got, err := s.SegmentsByFunction(f.ID)
	if err != nil {
		t.Fatalf("SegmentsByFunction: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(got))
	}
	if got[2].Kind != SegmentCall {
		t.Errorf("expected call segment, got %s", got[2].Kind)
	}

	calls, err := s.CallSegments(f.ID)
	if err != nil {
		t.Fatalf("CallSegments: %v", err)
	}
	if len(calls) != 1 || calls[0].Ordinal != 2 {
		t.Errorf("unexpected call segments: %+v", calls)
	}
}

func TestValidateComponents(t *testing.T) {
	ok := []*Component{
		{Ordinal: 0, StartLineno: 10, EndLineno: 14},
		{Ordinal: 1, StartLineno: 15, EndLineno: 20},
	}
	if err := ValidateComponents(1, ok); err != nil {
		t.Errorf("valid components rejected: %v", err)
	}

	bad := []*Component{
		{Ordinal: 0, StartLineno: 10, EndLineno: 15},
		{Ordinal: 1, StartLineno: 14, EndLineno: 20},
	}
	if err := ValidateComponents(1, bad); err == nil {
		t.Error("overlap not detected")
	}

	if err := ValidateComponents(1, nil); err != nil {
		t.Errorf("zero components should be legal: %v", err)
	}
}

func TestCallEdgesAndSelfEdge(t *testing.T) {
	s := openTestStore(t)
	seedRepo(t, s, "r1")

	caller := &Function{Repo: "r1", Name: "main", QualifiedName: "main", FilePath: "main.py", ModuleName: "main", Lineno: 1, EndLineno: 5}
	callee := &Function{Repo: "r1", Name: "helper", QualifiedName: "helper", FilePath: "main.py", ModuleName: "main", Lineno: 7, EndLineno: 9}
	recur := &Function{Repo: "r1", Name: "fact", QualifiedName: "fact", FilePath: "main.py", ModuleName: "main", Lineno: 11, EndLineno: 15}
	for _, f := range []*Function{caller, callee, recur} {
		if _, err := s.InsertFunction(f); err != nil {
			t.Fatal(err)
		}
	}

	edges := []*CallEdge{
		{CallerID: caller.ID, SegmentOrdinal: 1, CalleeID: callee.ID},
		{CallerID: recur.ID, SegmentOrdinal: 0, CalleeID: recur.ID}, // recursion
	}
	if err := s.InsertCallEdgeBatch(edges); err != nil {
		t.Fatalf("InsertCallEdgeBatch: %v", err)
	}
	if err := s.ValidateEdgeEndpoints("r1"); err != nil {
		t.Fatalf("ValidateEdgeEndpoints: %v", err)
	}

	callees, err := s.Callees(caller.ID)
	if err != nil {
		t.Fatalf("Callees: %v", err)
	}
	if len(callees) != 1 || callees[0].Name != "helper" {
		t.Errorf("expected [helper], got %+v", callees)
	}

	selfCallees, err := s.Callees(recur.ID)
	if err != nil {
		t.Fatalf("Callees(recur): %v", err)
	}
	if len(selfCallees) != 1 || selfCallees[0].ID != recur.ID {
		t.Errorf("expected self edge, got %+v", selfCallees)
	}

	callers, err := s.Callers(callee.ID)
	if err != nil {
		t.Fatalf("Callers: %v", err)
	}
	if len(callers) != 1 || callers[0].Name != "main" {
		t.Errorf("expected [main], got %+v", callers)
	}
}

func TestBFSTerminatesOnCycle(t *testing.T) {
	s := openTestStore(t)
	seedRepo(t, s, "r1")

	a := &Function{Repo: "r1", Name: "a", QualifiedName: "a", FilePath: "m.py", ModuleName: "m", Lineno: 1, EndLineno: 2}
	b := &Function{Repo: "r1", Name: "b", QualifiedName: "b", FilePath: "m.py", ModuleName: "m", Lineno: 4, EndLineno: 5}
	for _, f := range []*Function{a, b} {
		if _, err := s.InsertFunction(f); err != nil {
			t.Fatal(err)
		}
	}
	// mutual recursion: a -> b -> a
	edges := []*CallEdge{
		{CallerID: a.ID, SegmentOrdinal: 0, CalleeID: b.ID},
		{CallerID: b.ID, SegmentOrdinal: 0, CalleeID: a.ID},
	}
	if err := s.InsertCallEdgeBatch(edges); err != nil {
		t.Fatal(err)
	}

	result, err := s.BFS(a.ID, DirectionCallees, 10, 100)
	if err != nil {
		t.Fatalf("BFS: %v", err)
	}
	if len(result.Visited) != 1 {
		t.Errorf("expected 1 visited function, got %d", len(result.Visited))
	}
	if result.Visited[0].Function.Name != "b" {
		t.Errorf("expected b, got %s", result.Visited[0].Function.Name)
	}
}

func TestRegistryEntries(t *testing.T) {
	s := openTestStore(t)

	e := &RegistryEntry{FileHash: "fh1", SigHash: "sh1", Layer: "parse", Payload: `{"x":1}`, Version: 1}
	if err := s.PutRegistryEntry(e); err != nil {
		t.Fatalf("PutRegistryEntry: %v", err)
	}

	got, err := s.GetRegistryEntry("fh1", "sh1", "parse")
	if err != nil {
		t.Fatalf("GetRegistryEntry: %v", err)
	}
	if got == nil || got.Payload != `{"x":1}` {
		t.Fatalf("unexpected entry: %+v", got)
	}

	miss, err := s.GetRegistryEntry("fh1", "sh1", "resolve")
	if err != nil {
		t.Fatalf("GetRegistryEntry miss: %v", err)
	}
	if miss != nil {
		t.Errorf("expected miss, got %+v", miss)
	}

	// Last writer wins
	e.Payload = `{"x":2}`
	if err := s.PutRegistryEntry(e); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetRegistryEntry("fh1", "sh1", "parse")
	if got.Payload != `{"x":2}` {
		t.Errorf("expected updated payload, got %s", got.Payload)
	}

	if err := s.ClearRegistry(); err != nil {
		t.Fatal(err)
	}
	count, _ := s.CountRegistryEntries()
	if count != 0 {
		t.Errorf("expected empty registry, got %d entries", count)
	}
}

func TestQADocs(t *testing.T) {
	s := openTestStore(t)
	seedRepo(t, s, "r1")

	f := &Function{Repo: "r1", Name: "main", QualifiedName: "main", FilePath: "main.py", ModuleName: "main", Lineno: 1, EndLineno: 2}
	if _, err := s.InsertFunction(f); err != nil {
		t.Fatal(err)
	}

	docs := []*QADoc{{FunctionID: f.ID, Repo: "r1", Content: "Function: main.main\nloads config"}}
	if err := s.ReplaceQADocs("r1", docs); err != nil {
		t.Fatalf("ReplaceQADocs: %v", err)
	}

	got, err := s.QADocs("r1")
	if err != nil {
		t.Fatalf("QADocs: %v", err)
	}
	if len(got) != 1 || got[0].FunctionID != f.ID {
		t.Fatalf("unexpected docs: %+v", got)
	}
}

func TestWithTransactionRollback(t *testing.T) {
	s := openTestStore(t)
	seedRepo(t, s, "r1")

	sentinel := errors.New("boom")
	err := s.WithTransaction(func(tx *Store) error {
		f := &Function{Repo: "r1", Name: "ghost", QualifiedName: "ghost", FilePath: "g.py", ModuleName: "g", Lineno: 1, EndLineno: 2}
		if _, err := tx.InsertFunction(f); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}

	count, err := s.CountFunctions("r1")
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("rollback left %d functions visible", count)
	}
}

func TestRebuildSupersedes(t *testing.T) {
	s := openTestStore(t)
	seedRepo(t, s, "r1")

	f := &Function{Repo: "r1", Name: "old", QualifiedName: "old", FilePath: "m.py", ModuleName: "m", Lineno: 1, EndLineno: 2}
	if _, err := s.InsertFunction(f); err != nil {
		t.Fatal(err)
	}

	err := s.WithTransaction(func(tx *Store) error {
		if err := tx.DeleteRepository("r1"); err != nil {
			return err
		}
		if err := tx.UpsertRepository(&Repository{Hash: "r1", Root: "/tmp/r1"}); err != nil {
			return err
		}
		nf := &Function{Repo: "r1", Name: "new", QualifiedName: "new", FilePath: "m.py", ModuleName: "m", Lineno: 1, EndLineno: 2}
		_, err := tx.InsertFunction(nf)
		return err
	})
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	fns, err := s.AllFunctions("r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(fns) != 1 || fns[0].Name != "new" {
		t.Errorf("expected only the new function, got %+v", fns)
	}
}

func TestSearchFunctions(t *testing.T) {
	s := openTestStore(t)
	seedRepo(t, s, "r1")

	fns := []*Function{
		{Repo: "r1", Name: "load", QualifiedName: "Config.load", FilePath: "cfg.py", ModuleName: "cfg", ClassName: "Config", Lineno: 1, EndLineno: 3},
		{Repo: "r1", Name: "save", QualifiedName: "Config.save", FilePath: "cfg.py", ModuleName: "cfg", ClassName: "Config", Lineno: 5, EndLineno: 7},
		{Repo: "r1", Name: "main", QualifiedName: "main", FilePath: "main.py", ModuleName: "main", Lineno: 1, EndLineno: 4},
	}
	if _, err := s.InsertFunctionBatch(fns); err != nil {
		t.Fatal(err)
	}

	got, err := s.SearchFunctions("r1", "cfg.Config.*", 0)
	if err != nil {
		t.Fatalf("SearchFunctions: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 matches, got %d", len(got))
	}
}

func TestSegmentTargetNullable(t *testing.T) {
	s := openTestStore(t)
	seedRepo(t, s, "r1")

	f := &Function{Repo: "r1", Name: "main", QualifiedName: "main", FilePath: "main.py", ModuleName: "main", Lineno: 1, EndLineno: 2}
	if _, err := s.InsertFunction(f); err != nil {
		t.Fatal(err)
	}

	// An unresolved external call keeps kind=call with a NULL target.
	segs := []*Segment{
		{Ordinal: 0, Kind: SegmentCode, Lineno: 1, EndLineno: 1, Content: "def main():"},
		{Ordinal: 1, Kind: SegmentCall, Lineno: 2, EndLineno: 2, Content: "    print('x')"},
	}
	if err := s.ReplaceSegments(f.ID, 2, segs); err != nil {
		t.Fatal(err)
	}

	got, err := s.SegmentsByFunction(f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got[1].TargetID.Valid {
		t.Errorf("expected NULL target, got %v", got[1].TargetID)
	}

	// Resolved call carries the callee id.
	segs[1].TargetID = sql.NullInt64{Int64: f.ID, Valid: true}
	if err := s.ReplaceSegments(f.ID, 2, segs); err != nil {
		t.Fatal(err)
	}
	got, _ = s.SegmentsByFunction(f.ID)
	if !got[1].TargetID.Valid || got[1].TargetID.Int64 != f.ID {
		t.Errorf("expected resolved target, got %v", got[1].TargetID)
	}
}
