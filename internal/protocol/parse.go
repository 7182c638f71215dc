package protocol

import (
	"strings"

	"github.com/mpataki/tandem/internal/models"
)

// NoFeedback is the literal a reviewer uses to say it has nothing to add.
const NoFeedback = "NONE"

func ParseDriverReport(text string) models.DriverReport {
	status := models.StatusContinue
	if token(ExtractOr(text, TagStatus, "")) == string(models.StatusDone) {
		status = models.StatusDone
	}
	return models.DriverReport{
		Status:                status,
		Summary:               ExtractOr(text, TagSummary, strings.TrimSpace(text)),
		Changes:               ExtractOr(text, TagChanges, ""),
		QuestionsForNavigator: ExtractOr(text, TagQuestionsForNavigator, ""),
		Raw:                   text,
	}
}

// HasFeedback reports whether feedback is anything other than NONE, ignoring
// case and trailing '.'/'!'.
func HasFeedback(feedback string) bool {
	return strings.ToUpper(token(feedback)) != NoFeedback
}

func ParseNavigatorReview(text string) models.NavigatorReview {
	feedback := ExtractOr(text, TagPublicFeedback, NoFeedback)
	rec := models.RecommendContinue
	switch token(ExtractOr(text, TagDriverRecommendation, "")) {
	case "handoff", "hand_off", "hand off", "hand-off", "swap":
		rec = models.RecommendHandoff
	}
	return models.NavigatorReview{
		PrivateReflection:    ExtractOr(text, TagPrivateReflection, ""),
		PublicFeedback:       feedback,
		HasFeedback:          HasFeedback(feedback),
		DriverRecommendation: rec,
		Raw:                  text,
	}
}

func ParseDriverDecision(text string) models.DriverDecision {
	decision := models.DecisionPartial
	switch models.Decision(token(ExtractOr(text, TagDecision, ""))) {
	case models.DecisionAccept:
		decision = models.DecisionAccept
	case models.DecisionReject:
		decision = models.DecisionReject
	}
	return models.DriverDecision{
		Decision:      decision,
		Justification: ExtractOr(text, TagJustification, strings.TrimSpace(text)),
		Raw:           text,
	}
}

// ParseReviewNotes splits a final review into its private and public parts
// with the same fallbacks as a navigator review.
func ParseReviewNotes(text string) models.ReviewNotes {
	return models.ReviewNotes{
		PrivateReflection: ExtractOr(text, TagPrivateReflection, ""),
		PublicFeedback:    ExtractOr(text, TagPublicFeedback, NoFeedback),
		Raw:               text,
	}
}

func ParseJointVerdict(text, reviewA, reviewB string) models.FinalReview {
	verdict := models.VerdictNeedsMoreWork
	v := strings.ToUpper(token(ExtractOr(text, TagJointVerdict, "")))
	v = strings.NewReplacer(" ", "_", "-", "_").Replace(v)
	if v == string(models.VerdictApproved) {
		verdict = models.VerdictApproved
	}
	return models.FinalReview{
		ReviewA:      reviewA,
		ReviewB:      reviewB,
		JointVerdict: verdict,
		Rationale:    ExtractOr(text, TagRationale, strings.TrimSpace(text)),
		NextSteps:    ExtractOr(text, TagNextSteps, ""),
		Raw:          text,
	}
}
