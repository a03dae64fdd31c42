package identity

import (
	"strings"
	"testing"
)

func TestSlugify(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Senior Research Analyst", "senior_research_analyst"},
		{"New-Agent@ID", "new_agent_id"},
		{"  spaced   out  ", "spaced_out"},
		{"already_a_slug", "already_a_slug"},
		{"!!!", "entity"},
		{"", "entity"},
		{"Data2Insights", "data2insights"},
	}
	for _, tc := range cases {
		if got := Slugify(tc.in); got != tc.want {
			t.Fatalf("Slugify(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestIssuerDraftLifecycle(t *testing.T) {
	issuer := NewIssuer("agent")

	id := issuer.Draft()
	if !strings.HasPrefix(id, "new_agent_") {
		t.Fatalf("draft id %q missing prefix", id)
	}
	if !issuer.IsDraft(id) {
		t.Fatalf("freshly minted draft not recognized")
	}

	other := issuer.Draft()
	if other == id {
		t.Fatalf("duplicate draft ids")
	}

	issuer.Promote(id)
	if issuer.IsDraft(id) {
		t.Fatalf("promoted draft still reported as draft")
	}
	if !issuer.IsDraft(other) {
		t.Fatalf("promotion leaked to other drafts")
	}
}

// A persisted slug that happens to share the draft prefix must never be
// treated as an unsaved draft.
func TestSlugWithDraftPrefixIsNotDraft(t *testing.T) {
	issuer := NewIssuer("agent")

	slug := Slugify("New-Agent@ID")
	if slug != "new_agent_id" {
		t.Fatalf("unexpected slug %q", slug)
	}
	if issuer.IsDraft(slug) {
		t.Fatalf("persisted slug %q misread as draft", slug)
	}
}

// An entity that was never persisted may reach the save path with no id at
// all; the empty id must route to create, never update.
func TestEmptyIDIsDraft(t *testing.T) {
	if !NewIssuer("agent").IsDraft("") {
		t.Fatalf("empty id not treated as draft")
	}
}

// A draft id minted by a different issuer instance (e.g. after a reload) is
// still recognized by its shape.
func TestForeignMintedDraftRecognizedByShape(t *testing.T) {
	minted := NewIssuer("agent").Draft()

	fresh := NewIssuer("agent")
	if !fresh.IsDraft(minted) {
		t.Fatalf("minted draft id %q not recognized across issuers", minted)
	}
	if fresh.IsDraft("new_task_deadbeef") {
		t.Fatalf("other entity kind's draft id accepted")
	}
	if fresh.IsDraft("new_agent_notahexx") {
		t.Fatalf("non-hex fragment accepted as draft")
	}
	if fresh.IsDraft("new_agent_abc") {
		t.Fatalf("short fragment accepted as draft")
	}
}
