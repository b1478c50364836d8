package chunker

import (
	"errors"
	"slices"
	"strings"
	"testing"
)

// wordCounter counts whitespace-separated words.
var wordCounter = CounterFunc(func(text string) (int, error) {
	return len(strings.Fields(text)), nil
})

func TestChunk_PacksSentencesUnderBudget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		max  int
		want []string
	}{
		{
			name: "all fit in one chunk",
			text: "The sky is blue. Water is wet.",
			max:  10,
			want: []string{"The sky is blue. Water is wet."},
		},
		{
			name: "split at budget",
			text: "One two three. Four five. Six seven eight!",
			max:  5,
			want: []string{"One two three. Four five.", "Six seven eight."},
		},
		{
			name: "exact budget stays together",
			text: "a b. c d.",
			max:  4,
			want: []string{"a b. c d."},
		},
		{
			name: "question and newline handling",
			text: "Is it\nraining? Yes\r\nit is.",
			max:  3,
			want: []string{"Is it raining.", "Yes it is."},
		},
		{
			name: "final chunk is emitted",
			text: "alpha. beta",
			max:  1,
			want: []string{"alpha.", "beta."},
		},
		{
			name: "empty text",
			text: "",
			max:  5,
			want: nil,
		},
		{
			name: "only terminators",
			text: "...?!  .",
			max:  5,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, _, err := Chunk(tt.text, tt.max, wordCounter)
			if err != nil {
				t.Fatalf("chunk: %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("want %q, got %q", tt.want, got)
			}
		})
	}
}

func TestChunk_OverlongSentenceIsOwnChunk(t *testing.T) {
	t.Parallel()

	got, _, err := Chunk("short. one two three four five six. tail.", 3, wordCounter)
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	want := []string{"short.", "one two three four five six.", "tail."}
	if !slices.Equal(got, want) {
		t.Errorf("want %q, got %q", want, got)
	}
}

func TestChunk_SkipsZeroTokenSentences(t *testing.T) {
	t.Parallel()

	// Treat "um" as producing no tokens.
	counter := CounterFunc(func(text string) (int, error) {
		if text == "um" {
			return 0, nil
		}
		return len(strings.Fields(text)), nil
	})
	got, _, err := Chunk("um. hello there. um!", 10, counter)
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if want := []string{"hello there."}; !slices.Equal(got, want) {
		t.Errorf("want %q, got %q", want, got)
	}
}

func TestChunk_NeverDropsSentencesOrExceedsBudget(t *testing.T) {
	t.Parallel()

	text := "Go is fun. Channels carry values between goroutines! " +
		"Do interfaces compose? Yes. The runtime schedules goroutines onto threads. " +
		"A. B c. D e f g h i j k l m n o p."
	for max := 1; max <= 12; max++ {
		chunks, skipped, err := Chunk(text, max, wordCounter)
		if err != nil {
			t.Fatalf("max=%d: %v", max, err)
		}
		if len(skipped) != 0 {
			t.Fatalf("max=%d: unexpected skipped sentences: %v", max, skipped)
		}

		var rejoined []string
		for _, c := range chunks {
			if !strings.HasSuffix(c, ".") {
				t.Errorf("max=%d: chunk %q does not end with a period", max, c)
			}
			sentences := strings.Split(strings.TrimSuffix(c, "."), ". ")
			total := 0
			for _, s := range sentences {
				total += len(strings.Fields(s))
			}
			if total > max && len(sentences) > 1 {
				t.Errorf("max=%d: multi-sentence chunk %q has %d tokens", max, c, total)
			}
			rejoined = append(rejoined, sentences...)
		}

		want := []string{
			"Go is fun", "Channels carry values between goroutines",
			"Do interfaces compose", "Yes", "The runtime schedules goroutines onto threads",
			"A", "B c", "D e f g h i j k l m n o p",
		}
		if !slices.Equal(rejoined, want) {
			t.Errorf("max=%d: sentences lost or reordered:\nwant %q\n got %q", max, want, rejoined)
		}
	}
}

func TestChunk_SkipsSentencesTheCounterRejects(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	counter := CounterFunc(func(text string) (int, error) {
		if strings.Contains(text, "bad") {
			return 0, boom
		}
		return len(strings.Fields(text)), nil
	})

	got, skipped, err := Chunk("one two. a bad one. three!", 10, counter)
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if want := []string{"one two. three."}; !slices.Equal(got, want) {
		t.Errorf("want %q, got %q", want, got)
	}
	if len(skipped) != 1 || !errors.Is(skipped[0], boom) {
		t.Fatalf("skipped: want one wrapped counter error, got %v", skipped)
	}
	if !strings.Contains(skipped[0].Error(), "sentence 2") {
		t.Errorf("skipped error should name the sentence: %v", skipped[0])
	}
}

func TestChunk_AllSentencesRejected(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	got, skipped, err := Chunk("one. two.", 5, CounterFunc(func(string) (int, error) { return 0, boom }))
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if got != nil || len(skipped) != 2 {
		t.Errorf("want no chunks and 2 skipped, got %q / %v", got, skipped)
	}
}

func TestChunk_RejectsNonPositiveBudget(t *testing.T) {
	t.Parallel()

	if _, _, err := Chunk("a.", 0, wordCounter); err == nil {
		t.Error("expected error for max 0")
	}
}
