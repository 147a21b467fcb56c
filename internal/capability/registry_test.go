package capability

import "testing"

func TestNamespaceRoundTrip(t *testing.T) {
	ns := Namespace("serverA", "read_file")
	if ns != "serverA__read_file" {
		t.Fatalf("unexpected namespaced name %q", ns)
	}

	backend, local, ok := SplitNamespace(ns)
	if !ok || backend != "serverA" || local != "read_file" {
		t.Fatalf("SplitNamespace(%q) = (%q, %q, %v)", ns, backend, local, ok)
	}
}

func TestSplitNamespaceRejectsNamesWithoutSeparator(t *testing.T) {
	if _, _, ok := SplitNamespace("server_list"); ok {
		t.Error("expected a name without the __ separator to not split")
	}
}

func TestSplitNamespaceKeepsFirstSeparatorOnly(t *testing.T) {
	backend, local, ok := SplitNamespace("serverA__nested__name")
	if !ok {
		t.Fatal("expected split to succeed")
	}
	if backend != "serverA" || local != "nested__name" {
		t.Errorf("expected backend=serverA local=nested__name, got backend=%q local=%q", backend, local)
	}
}
