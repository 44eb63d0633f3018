package trending

import (
	"fmt"
	"strings"

	"github.com/lysyi3m/stoa/app/model"
	"github.com/lysyi3m/stoa/app/settings"
	"github.com/samber/lo"
)

// Filter applies the configured keyword rules to fetched tweets.
type Filter struct {
	rules []settings.TrendingFilter
}

func NewFilter(rules []settings.TrendingFilter) *Filter {
	return &Filter{rules: rules}
}

// Apply returns the tweets that pass every rule, plus the reason each
// dropped tweet was filtered, keyed by tweet id.
func (f *Filter) Apply(tweets []model.TrendingTweet) ([]model.TrendingTweet, map[string]string) {
	if len(f.rules) == 0 {
		return tweets, nil
	}

	reasons := make(map[string]string)
	kept := lo.Filter(tweets, func(tweet model.TrendingTweet, _ int) bool {
		reason, dropped := f.check(tweet)
		if dropped {
			reasons[tweet.TweetID] = reason
		}
		return !dropped
	})
	return kept, reasons
}

func (f *Filter) check(tweet model.TrendingTweet) (string, bool) {
	for _, rule := range f.rules {
		value := strings.ToLower(fieldValue(tweet, rule.Field))
		matches := func(keyword string) bool {
			return strings.Contains(value, strings.ToLower(keyword))
		}

		if hit, ok := lo.Find(rule.Excludes, matches); ok {
			return fmt.Sprintf("%s contains %q", rule.Field, hit), true
		}
		if len(rule.Includes) > 0 && !lo.SomeBy(rule.Includes, matches) {
			return fmt.Sprintf("%s matches none of %v", rule.Field, rule.Includes), true
		}
	}
	return "", false
}

func fieldValue(tweet model.TrendingTweet, field string) string {
	switch field {
	case "content":
		return tweet.Content
	case "username":
		return tweet.Username
	case "url":
		return tweet.URL
	}
	return ""
}
