package budget

import (
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
)

func Test_Estimate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"a", 1},        // < 4 chars → 1
		{"abcd", 1},     // exactly 4 chars → 1
		{"abcde", 1},    // 5 chars → 1
		{"abcdefgh", 2}, // 8 chars → 2
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		got := Estimate(tc.input)
		if got != tc.want {
			t.Errorf("Estimate(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}
}

func Test_EstimateMessages(t *testing.T) {
	t.Parallel()
	msgs := []*schema.Message{
		schema.UserMessage("hello world"),
		schema.UserMessage("hello world"),
	}
	// Each message: 4 overhead + Estimate("user")=1 + Estimate("hello world")=2 = 7
	if got := EstimateMessages(msgs); got != 14 {
		t.Errorf("EstimateMessages = %d, want 14", got)
	}
}

func Test_FitPassages_NoTrimNeeded(t *testing.T) {
	t.Parallel()
	fixed := []*schema.Message{schema.SystemMessage("sys")}
	got := FitPassages(fixed, []string{"first.", "second."}, "\n", DefaultMaxContextTokens)
	if len(got) != 2 {
		t.Errorf("want 2 passages, got %d", len(got))
	}
}

func Test_FitPassages_DropsLowestRanked(t *testing.T) {
	t.Parallel()
	passages := []string{
		strings.Repeat("a", 40), // 10 tokens
		strings.Repeat("b", 40),
		strings.Repeat("c", 40),
	}
	// Two passages joined by "\n" are 81 chars = 20 tokens; three are 122 = 30.
	got := FitPassages(nil, passages, "\n", 25)
	if len(got) != 2 {
		t.Fatalf("want 2 passages, got %d", len(got))
	}
	if got[0] != passages[0] || got[1] != passages[1] {
		t.Errorf("want the two highest-ranked passages kept in order, got %v", got)
	}
}

func Test_FitPassages_KeepsTopPassage(t *testing.T) {
	t.Parallel()
	fixed := []*schema.Message{
		schema.SystemMessage(strings.Repeat("x", 4*7000)), // ~7000 tokens
	}
	got := FitPassages(fixed, []string{"top", "next"}, "\n", 6000)
	if len(got) != 1 || got[0] != "top" {
		t.Errorf("want only the top passage, got %v", got)
	}
}

func Test_FitPassages_Unbounded(t *testing.T) {
	t.Parallel()
	passages := []string{strings.Repeat("x", 1<<16), "y"}
	if got := FitPassages(nil, passages, "\n", 0); len(got) != 2 {
		t.Errorf("want all passages with no budget, got %d", len(got))
	}
}

func Test_FitPassages_Empty(t *testing.T) {
	t.Parallel()
	if got := FitPassages(nil, nil, "\n", 10); len(got) != 0 {
		t.Errorf("want empty, got %v", got)
	}
}
