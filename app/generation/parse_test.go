package generation

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/lysyi3m/stoa/app/model"
)

func TestParseThreadNumbered(t *testing.T) {
	raw := `1/ You can't control the traffic.
2/ You can control what you do with the wait.
3/ "Put on a podcast, call your mother, breathe."
4/ The delay is the same either way.
5/ Only one version of you arrives calm. #stoicism`

	content, tweets := ParseOutput(model.FormatThread, raw)

	if len(tweets) != 5 {
		t.Fatalf("Expected 5 tweets, got %d: %q", len(tweets), tweets)
	}
	if tweets[0] != "You can't control the traffic." {
		t.Errorf("Expected marker stripped, got %q", tweets[0])
	}
	if tweets[2] != "Put on a podcast, call your mother, breathe." {
		t.Errorf("Expected quotes stripped, got %q", tweets[2])
	}
	if got := (&model.Post{Content: content, FormatType: model.FormatThread}).Segments(); len(got) != 5 {
		t.Errorf("Stored content should split back into 5 segments, got %d", len(got))
	}
}

func TestParseThreadMixedMarkers(t *testing.T) {
	raw := "Here is your thread:\n\n1. First point\n2) Second point\n\n3/ Third point"

	_, tweets := ParseOutput(model.FormatThread, raw)

	want := []string{"First point", "Second point", "Third point"}
	if len(tweets) != len(want) {
		t.Fatalf("Expected %d tweets, got %q", len(want), tweets)
	}
	for i := range want {
		if tweets[i] != want[i] {
			t.Errorf("Tweet %d: expected %q, got %q", i+1, want[i], tweets[i])
		}
	}
}

func TestParseThreadWithoutNumbers(t *testing.T) {
	_, tweets := ParseOutput(model.FormatThread, "Just one thought with no markers")

	if len(tweets) != 1 || tweets[0] != "Just one thought with no markers" {
		t.Errorf("Expected the whole output as one tweet, got %q", tweets)
	}
}

func TestParseThreadTruncatesLongTweets(t *testing.T) {
	raw := "1/ " + strings.Repeat("a", 300) + "\n2/ short"

	_, tweets := ParseOutput(model.FormatThread, raw)

	if n := utf8.RuneCountInString(tweets[0]); n != model.MaxTweetLength {
		t.Errorf("Expected %d characters, got %d", model.MaxTweetLength, n)
	}
	if !strings.HasSuffix(tweets[0], "...") {
		t.Errorf("Expected ellipsis, got %q", tweets[0][len(tweets[0])-5:])
	}
}

func TestParseShort(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"quoted", `"Waste no more time arguing what a good man should be. Be one."`, "Waste no more time arguing what a good man should be. Be one."},
		{"numbered", "1. The obstacle is the way.", "The obstacle is the way."},
		{"whitespace", "\n  Memento mori.  \n", "Memento mori."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, tweets := ParseOutput(model.FormatShort, tt.raw)
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
			if len(tweets) != 1 {
				t.Errorf("Expected a single tweet, got %d", len(tweets))
			}
		})
	}
}

func TestParseShortTruncatesByRunes(t *testing.T) {
	raw := strings.Repeat("é", 300)

	got, _ := ParseOutput(model.FormatShort, raw)

	if n := utf8.RuneCountInString(got); n != model.MaxTweetLength {
		t.Errorf("Expected %d runes, got %d", model.MaxTweetLength, n)
	}
}

func TestParseLongCollapsesBlankLines(t *testing.T) {
	got, _ := ParseOutput(model.FormatLong, "'First paragraph.\n\n\n\nSecond paragraph.'")

	if got != "First paragraph.\n\nSecond paragraph." {
		t.Errorf("Unexpected long content %q", got)
	}
}

func TestCleanReply(t *testing.T) {
	if got := cleanReply(`"1) Well said. Focus on the next right action."`); got != "Well said. Focus on the next right action." {
		t.Errorf("Unexpected reply %q", got)
	}
}
