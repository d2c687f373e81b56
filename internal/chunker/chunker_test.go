package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func Test_Split_SingleShortManual(t *testing.T) {
	t.Parallel()

	got := Split("A. B. C.", 1000)
	if len(got) != 1 {
		t.Fatalf("want 1 passage, got %d: %+v", len(got), got)
	}
	if got[0].Text != "A. B. C." {
		t.Errorf("text: want %q, got %q", "A. B. C.", got[0].Text)
	}
	if got[0].Offset != 0 {
		t.Errorf("offset: want 0, got %d", got[0].Offset)
	}
}

func Test_Split_EmptyInput(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "   ", "...", " . \n . "} {
		got := Split(in, 1000)
		if got == nil {
			t.Errorf("Split(%q) returned nil, want empty slice", in)
		}
		if len(got) != 0 {
			t.Errorf("Split(%q): want 0 passages, got %d", in, len(got))
		}
	}
}

func Test_Split_OversizedSentenceNotSplit(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 2000)
	got := Split(long, 1000)
	if len(got) != 1 {
		t.Fatalf("want 1 oversized passage, got %d", len(got))
	}
	if got[0].Text != long+"." {
		t.Errorf("oversized passage was altered: len=%d", len(got[0].Text))
	}
}

func Test_Split_DefaultSizeForNonPositive(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("word word word. ", 200)
	a := Split(text, 0)
	b := Split(text, DefaultMaxChunkSize)
	if len(a) != len(b) {
		t.Fatalf("size 0 should use default: got %d vs %d passages", len(a), len(b))
	}
}

func Test_Split_BudgetBoundary(t *testing.T) {
	t.Parallel()

	// Each sentence is 5 runes ("abcd."). Two fit in 10, the third does not.
	got := Split("abcd. efgh. ijkl.", 10)
	if len(got) != 2 {
		t.Fatalf("want 2 passages, got %d: %+v", len(got), got)
	}
	if got[0].Text != "abcd. efgh." || got[0].Offset != 0 {
		t.Errorf("passage 0: got %+v", got[0])
	}
	// len("abcd. efgh.") = 11, plus one separator.
	if got[1].Text != "ijkl." || got[1].Offset != 12 {
		t.Errorf("passage 1: got %+v", got[1])
	}
}

func Test_Split_OffsetsTrackJoinedText(t *testing.T) {
	t.Parallel()

	text := "Check the guards.  Verify the stop button.\n\nPress start. Wait thirty seconds. Done"
	got := Split(text, 30)

	var joined []string
	for _, p := range got {
		joined = append(joined, p.Text)
	}
	reconstructed := strings.Join(joined, " ")

	for i, p := range got {
		runes := []rune(reconstructed)
		end := p.Offset + utf8.RuneCountInString(p.Text)
		if end > len(runes) {
			t.Fatalf("passage %d overruns reconstructed text", i)
		}
		if string(runes[p.Offset:end]) != p.Text {
			t.Errorf("passage %d: offset %d does not index its text", i, p.Offset)
		}
	}
}

func Test_Split_OffsetsIncreaseFromZero(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 120)
	got := Split(text, 200)
	if len(got) < 2 {
		t.Fatalf("expected several passages, got %d", len(got))
	}
	if got[0].Offset != 0 {
		t.Errorf("first offset: want 0, got %d", got[0].Offset)
	}
	for i := 1; i < len(got); i++ {
		if got[i].Offset <= got[i-1].Offset {
			t.Errorf("offset %d (%d) not greater than offset %d (%d)", i, got[i].Offset, i-1, got[i-1].Offset)
		}
	}
}

func Test_Split_EverySentenceOnce(t *testing.T) {
	t.Parallel()

	texts := []string{
		"One. Two. Three. Four.",
		"Pre-operation checks. Disconnect power. Check the safety guards are in place. " +
			"Verify the emergency stop button is accessible. Connect the power supply.",
		strings.Repeat("Lorem ipsum dolor sit amet. ", 90),
		"no terminator at all",
		"Über straße. Ünïcödé sentence. 日本語の文.",
	}

	for _, text := range texts {
		for _, size := range []int{1, 20, 100, 1000} {
			sentences := Sentences(text)
			passages := Split(text, size)

			var joined []string
			total := 0
			for _, p := range passages {
				joined = append(joined, p.Text)
				total += utf8.RuneCountInString(p.Text)
			}
			if got, want := strings.Join(joined, " "), strings.Join(sentences, " "); got != want {
				t.Errorf("size=%d: passages do not cover sentences exactly once\n got: %q\nwant: %q", size, got, want)
			}

			want := 0
			for _, s := range sentences {
				want += utf8.RuneCountInString(s)
			}
			// Inner separators account for the difference.
			want += len(sentences) - len(passages)
			if total != want {
				t.Errorf("size=%d: total passage length %d, want %d", size, total, want)
			}
		}
	}
}

func Test_Split_Deterministic(t *testing.T) {
	t.Parallel()

	text := strings.Repeat("Repeatable chunk boundaries matter. ", 50)
	a := Split(text, 128)
	b := Split(text, 128)
	if len(a) != len(b) {
		t.Fatalf("non-deterministic passage count: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("passage %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestSentences(t *testing.T) {
	t.Parallel()

	got := Sentences("  First sentence.Second  . . third")
	want := []string{"First sentence.", "Second.", "third."}
	if len(got) != len(want) {
		t.Fatalf("want %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d: want %q, got %q", i, want[i], got[i])
		}
	}
}
