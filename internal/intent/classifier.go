// Package intent classifies inbound requests into coarse categories used by
// admission risk scoring, routing complexity weights, and anomaly pattern
// detection. Classification is an ordered rule list: the first matching rule
// wins.
package intent

import (
	"regexp"
	"strings"

	"github.com/gatewaykit/inference-gateway/internal/domain"
)

// Classifier assigns an intent to a request. Implementations must be safe
// for concurrent use. The rule-based classifier is the default; a
// model-based classifier can replace it without touching callers.
type Classifier interface {
	Classify(envelope domain.RequestEnvelope) domain.Intent
}

type rule struct {
	pattern *regexp.Regexp
	intent  domain.Intent
}

// RuleClassifier classifies via ordered regular expressions over the
// concatenated message content.
type RuleClassifier struct {
	rules []rule
	// Unmatched content longer than this is treated as summarization input.
	longContentThreshold int
}

// NewRuleClassifier builds the default ordered rule set.
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{
		longContentThreshold: 2000,
		rules: []rule{
			{regexp.MustCompile(`(?i)\b(write|generate|create|implement|fix|debug|refactor)\b.*\b(code|function|class|script|program|method|api|endpoint)\b`), domain.IntentCodeGeneration},
			{regexp.MustCompile("(?i)```|\\bdef |\\bfunc |\\bclass |\\bimport |\\bpublic static\\b"), domain.IntentCodeGeneration},
			{regexp.MustCompile(`(?i)\b(write|compose|create)\b.*\b(story|poem|essay|song|novel|lyrics|fiction)\b`), domain.IntentCreativeWriting},
			{regexp.MustCompile(`(?i)\b(summarize|summary|tldr|tl;dr|condense|key points)\b`), domain.IntentSummarization},
			{regexp.MustCompile(`(?i)\b(classify|categorize|label|which category|what type of)\b`), domain.IntentClassification},
			{regexp.MustCompile(`(?i)\b(analyze|analysis|compare|evaluate|assess|pros and cons|trade-?offs)\b`), domain.IntentAnalysis},
			{regexp.MustCompile(`(?i)\b(write|generate)\b.*\b(report|article|documentation|chapter|whitepaper)\b`), domain.IntentLongGeneration},
			{regexp.MustCompile(`(?i)\b(detailed|comprehensive|in-depth|exhaustive|complete) (guide|explanation|overview|breakdown)\b`), domain.IntentLongGeneration},
		},
	}
}

// Classify applies the rules in order. Unmatched requests fall back on
// content length (summarization input) and turn count (conversational).
func (c *RuleClassifier) Classify(envelope domain.RequestEnvelope) domain.Intent {
	content := joinContent(envelope.Messages)

	for _, r := range c.rules {
		if r.pattern.MatchString(content) {
			return r.intent
		}
	}

	if len(content) > c.longContentThreshold {
		return domain.IntentSummarization
	}
	if envelope.Turns() > 2 {
		return domain.IntentConversational
	}
	return domain.IntentUnknown
}

func joinContent(messages []domain.Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Content)
	}
	return b.String()
}
