package models

type DriverStatus string

const (
	StatusContinue DriverStatus = "continue"
	StatusDone     DriverStatus = "done"
)

type DriverReport struct {
	Status                DriverStatus `json:"status"`
	Summary               string       `json:"summary"`
	Changes               string       `json:"changes"`
	QuestionsForNavigator string       `json:"questions_for_navigator"`
	Raw                   string       `json:"raw"`
}

type Recommendation string

const (
	RecommendContinue Recommendation = "continue"
	RecommendHandoff  Recommendation = "handoff"
)

type NavigatorReview struct {
	PrivateReflection    string         `json:"private_reflection"`
	PublicFeedback       string         `json:"public_feedback"`
	HasFeedback          bool           `json:"has_feedback"`
	DriverRecommendation Recommendation `json:"driver_recommendation"`
	Raw                  string         `json:"raw"`
}

type Decision string

const (
	DecisionAccept  Decision = "accept"
	DecisionPartial Decision = "partial"
	DecisionReject  Decision = "reject"
)

type DriverDecision struct {
	Decision      Decision `json:"decision"`
	Justification string   `json:"justification"`
	Raw           string   `json:"raw"`
}

type Verdict string

const (
	VerdictApproved      Verdict = "APPROVED"
	VerdictNeedsMoreWork Verdict = "NEEDS_MORE_WORK"
)

// ReviewNotes is one worker's final review split into its private and public parts.
type ReviewNotes struct {
	PrivateReflection string `json:"private_reflection"`
	PublicFeedback    string `json:"public_feedback"`
	Raw               string `json:"raw"`
}

type FinalReview struct {
	ReviewA      string  `json:"review_a"`
	ReviewB      string  `json:"review_b"`
	JointVerdict Verdict `json:"joint_verdict"`
	Rationale    string  `json:"rationale"`
	NextSteps    string  `json:"next_steps"`
	Raw          string  `json:"raw"`
}
