package framework

import (
	"sync"
	"testing"
)

func TestPipelineContextAppendIsPermanent(t *testing.T) {
	pc := NewPipelineContext()
	if err := pc.Append("normalizer", "first"); err != nil {
		t.Fatalf("Append returned error: %v", err)
	}
	if err := pc.Append("normalizer", "second"); err == nil {
		t.Fatal("expected overwrite to be rejected")
	}
	got, ok := pc.Get("normalizer")
	if !ok || got != "first" {
		t.Fatalf("expected original output to survive, got %q", got)
	}
	if err := pc.Append("  ", "x"); err == nil {
		t.Fatal("expected blank stage name to be rejected")
	}
}

func TestPipelineContextKeepsInsertionOrder(t *testing.T) {
	pc := NewPipelineContext()
	for _, name := range []string{"c", "a", "b"} {
		if err := pc.Append(name, name+"-out"); err != nil {
			t.Fatal(err)
		}
	}
	names := pc.Names()
	if len(names) != 3 || names[0] != "c" || names[1] != "a" || names[2] != "b" {
		t.Fatalf("unexpected order %v", names)
	}
	names[0] = "mutated"
	if pc.Names()[0] != "c" {
		t.Fatal("Names must return a copy")
	}
	entries := pc.Entries()
	if entries[2].Stage != "b" || entries[2].Output != "b-out" {
		t.Fatalf("unexpected entry %+v", entries[2])
	}
}

func TestPipelineContextRender(t *testing.T) {
	pc := NewPipelineContext()
	_ = pc.Append("normalizer", "  profile summary \n")
	_ = pc.Append("ranker", "1. MIT")
	out := pc.Render(map[string]string{"normalizer": "Student Profile"})
	want := "## Student Profile\nprofile summary\n\n## ranker\n1. MIT"
	if out != want {
		t.Fatalf("Render mismatch:\n%s\nwant:\n%s", out, want)
	}
}

func TestPipelineContextConcurrentReaders(t *testing.T) {
	pc := NewPipelineContext()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = pc.Len()
				_ = pc.Entries()
			}
		}()
	}
	for _, name := range []string{"a", "b", "c", "d"} {
		_ = pc.Append(name, name)
	}
	wg.Wait()
	if pc.Len() != 4 {
		t.Fatalf("expected 4 entries, got %d", pc.Len())
	}
}
