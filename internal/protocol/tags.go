// Package protocol holds the tagged text protocol spoken with the workers:
// prompt builders on the way out and total, fallback-driven parsers on the
// way back.
package protocol

import (
	"regexp"
	"strings"
)

type Tag string

const (
	TagPlan                  Tag = "plan"
	TagStatus                Tag = "status"
	TagSummary               Tag = "summary"
	TagChanges               Tag = "changes"
	TagQuestionsForNavigator Tag = "questions_for_navigator"
	TagPrivateReflection     Tag = "private_reflection"
	TagPublicFeedback        Tag = "public_feedback"
	TagDriverRecommendation  Tag = "driver_recommendation"
	TagDecision              Tag = "decision"
	TagJustification         Tag = "justification"
	TagJointVerdict          Tag = "joint_verdict"
	TagRationale             Tag = "rationale"
	TagNextSteps             Tag = "next_steps"
)

var vocabulary = []Tag{
	TagPlan, TagStatus, TagSummary, TagChanges, TagQuestionsForNavigator,
	TagPrivateReflection, TagPublicFeedback, TagDriverRecommendation,
	TagDecision, TagJustification, TagJointVerdict, TagRationale, TagNextSteps,
}

var tagPatterns = func() map[Tag]*regexp.Regexp {
	m := make(map[Tag]*regexp.Regexp, len(vocabulary))
	for _, t := range vocabulary {
		m[t] = compileTag(t)
	}
	return m
}()

func compileTag(t Tag) *regexp.Regexp {
	name := regexp.QuoteMeta(string(t))
	return regexp.MustCompile(`(?is)<` + name + `>(.*?)</` + name + `>`)
}

// Extract returns the trimmed content of the first <tag>...</tag> in text.
// A missing or blank tag reports false.
func Extract(text string, tag Tag) (string, bool) {
	re, ok := tagPatterns[tag]
	if !ok {
		re = compileTag(tag)
	}
	m := re.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	v := strings.TrimSpace(m[1])
	if v == "" {
		return "", false
	}
	return v, true
}

// ExtractOr returns the tag content, or def when the tag is absent.
func ExtractOr(text string, tag Tag, def string) string {
	if v, ok := Extract(text, tag); ok {
		return v
	}
	return def
}

// token folds a short protocol value for comparison: trimmed, lower-cased,
// trailing '.' and '!' removed.
func token(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ".!")
	return strings.ToLower(strings.TrimSpace(s))
}
