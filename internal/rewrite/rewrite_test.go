package rewrite

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dokuprime/helpdesk-assistant/internal/classify"
	"github.com/dokuprime/helpdesk-assistant/internal/config"
	"github.com/dokuprime/helpdesk-assistant/internal/llm/llmtest"
)

type fixedRelatedness struct {
	label classify.Relatedness
	calls int
}

func (f *fixedRelatedness) Relatedness(context.Context, string, string) (classify.Relatedness, error) {
	f.calls++
	return f.label, nil
}

func testPrompts() config.Prompts {
	return config.Prompts{
		Rewrite:      "WITHCTX keep %s",
		RewriteNoCtx: "NOCTX keep %s",
	}
}

var acronyms = []string{"OSS", "NIB", "KBLI", "PB", "PB-UMKU"}

const history = "1. human: bagaimana cara mengurus izin restoran di Bandung?\n2. ai: Izin restoran diurus melalui OSS."

func TestRewriteFirstTurnNeverConsultsContext(t *testing.T) {
	rel := &fixedRelatedness{label: classify.Related}
	fake := llmtest.New().On("NOCTX", "Apa itu KBLI?")
	r := New(fake, rel, testPrompts(), acronyms)

	res, err := r.Rewrite(context.Background(), "apa itu kbli", "")
	if err != nil {
		t.Fatal(err)
	}
	if rel.calls != 0 {
		t.Errorf("relatedness consulted %d times on empty history", rel.calls)
	}
	if res.UsedContext {
		t.Error("UsedContext = true on first turn")
	}
	if res.Query != "Apa itu KBLI?" {
		t.Errorf("Query = %q", res.Query)
	}
}

func TestRewriteRelatedUsesContext(t *testing.T) {
	rel := &fixedRelatedness{label: classify.Related}
	fake := llmtest.New().On("WITHCTX", "Berapa biaya izin restoran di Bandung melalui oss?")
	r := New(fake, rel, testPrompts(), acronyms)

	res, err := r.Rewrite(context.Background(), "berapa biayanya?", history)
	if err != nil {
		t.Fatal(err)
	}
	if !res.UsedContext {
		t.Error("UsedContext = false for related query")
	}
	if !strings.Contains(res.Query, "OSS") {
		t.Errorf("acronym not restored: %q", res.Query)
	}
	if !strings.Contains(fake.Requests[0].Messages[0].Content, "restoran") {
		t.Error("history not passed to the rewrite prompt")
	}
}

func TestRewriteUnrelatedIsolatesContext(t *testing.T) {
	rel := &fixedRelatedness{label: classify.Unrelated}
	// The backend misbehaves and drags context terms into the rewrite.
	fake := llmtest.New().On("NOCTX", "Bagaimana cara membuat NIB untuk restoran di Bandung?")
	r := New(fake, rel, testPrompts(), acronyms)

	query := "bagaimana cara membuat nib"
	res, err := r.Rewrite(context.Background(), query, history)
	if err != nil {
		t.Fatal(err)
	}
	if res.UsedContext {
		t.Error("UsedContext = true for unrelated query")
	}
	if LeaksContext(query, res.Query, history) {
		t.Errorf("rewrite leaks context keywords: %q", res.Query)
	}
	if strings.Contains(fake.Requests[0].Messages[0].Content, "restoran") {
		t.Error("history sent to the backend for an unrelated query")
	}
}

func TestRewriteFailureReturnsRawQuery(t *testing.T) {
	rel := &fixedRelatedness{label: classify.Unrelated}
	fake := llmtest.New().OnError("NOCTX", errors.New("timeout"))
	r := New(fake, rel, testPrompts(), acronyms)

	res, err := r.Rewrite(context.Background(), "  cek status NIB  ", "")
	if err == nil {
		t.Fatal("expected error")
	}
	if res.Query != "cek status NIB" {
		t.Errorf("Query = %q, want raw query", res.Query)
	}
}

func TestRestoreAcronyms(t *testing.T) {
	r := New(llmtest.New(), &fixedRelatedness{}, testPrompts(), acronyms)
	got := r.restoreAcronyms("syarat pb-umku dan nib di oss untuk kbli 56101")
	want := "syarat PB-UMKU dan NIB di OSS untuk KBLI 56101"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestLeaksContext(t *testing.T) {
	tests := []struct {
		query, rewritten string
		want             bool
	}{
		{"apa itu NIB", "Apa itu NIB?", false},
		{"apa itu NIB", "Apa itu NIB untuk restoran?", true},
		{"izin restoran", "Izin restoran", false},
	}
	for _, tt := range tests {
		if got := LeaksContext(tt.query, tt.rewritten, history); got != tt.want {
			t.Errorf("LeaksContext(%q, %q) = %v, want %v", tt.query, tt.rewritten, got, tt.want)
		}
	}
}
