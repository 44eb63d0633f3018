package generation

import (
	"regexp"
	"strings"

	"github.com/lysyi3m/stoa/app/model"
)

var (
	leadingNumbering = regexp.MustCompile(`^[\d.\-)\s]+`)
	lineNumbering    = regexp.MustCompile(`^[\d.\-/)\s]+`)
	threadMarker     = regexp.MustCompile(`(?:^|\n)\s*(\d+)[/.)]\s*`)
	blankLines       = regexp.MustCompile(`\n{3,}`)
	innerBreaks      = regexp.MustCompile(`\n\s*\n`)
)

const quoteChars = `"'`

// ParseOutput cleans raw model output for a format and returns the stored
// content with its segments.
func ParseOutput(format model.FormatType, raw string) (string, []string) {
	raw = strings.TrimSpace(raw)

	switch format {
	case model.FormatThread:
		tweets := parseThread(raw)
		return strings.Join(tweets, model.ThreadSeparator), tweets
	case model.FormatLong:
		content := cleanLong(raw)
		return content, []string{content}
	default:
		content := cleanShort(raw)
		return content, []string{content}
	}
}

func cleanShort(s string) string {
	s = leadingNumbering.ReplaceAllString(s, "")
	s = strings.Trim(s, quoteChars)
	return strings.TrimSpace(truncate(s, model.MaxTweetLength))
}

func cleanReply(s string) string {
	s = strings.Trim(strings.TrimSpace(s), quoteChars)
	s = leadingNumbering.ReplaceAllString(s, "")
	return strings.TrimSpace(truncate(s, model.MaxTweetLength))
}

func cleanLong(s string) string {
	s = strings.Trim(s, quoteChars)
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func cleanRefined(s string) string {
	return strings.Trim(strings.TrimSpace(s), quoteChars)
}

// parseThread splits numbered output ("1/ ...", "2. ...", "3) ...") into
// tweets. Unnumbered output falls back to bulleted lines, then to one tweet.
func parseThread(s string) []string {
	var tweets []string

	markers := threadMarker.FindAllStringIndex(s, -1)
	for i, m := range markers {
		end := len(s)
		if i+1 < len(markers) {
			end = markers[i+1][0]
		}
		if tweet := cleanThreadTweet(s[m[1]:end]); tweet != "" {
			tweets = append(tweets, tweet)
		}
	}

	if len(tweets) == 0 {
		for _, line := range strings.Split(s, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || !(line[0] >= '0' && line[0] <= '9' || line[0] == '-') {
				continue
			}
			if tweet := strings.TrimSpace(lineNumbering.ReplaceAllString(line, "")); tweet != "" {
				tweets = append(tweets, tweet)
			}
		}
	}

	if len(tweets) == 0 {
		if tweet := cleanThreadTweet(s); tweet != "" {
			tweets = []string{tweet}
		}
	}
	return tweets
}

func cleanThreadTweet(s string) string {
	s = strings.Trim(strings.TrimSpace(s), quoteChars)
	// Tweets are joined by blank lines, so none may contain one.
	s = innerBreaks.ReplaceAllString(s, "\n")
	return strings.TrimSpace(truncate(s, model.MaxTweetLength))
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-3]) + "..."
}
