package protocol

import (
	"fmt"
	"strings"

	"github.com/mpataki/tandem/internal/models"
)

// RoleBriefing is prepended when a worker's role changes.
func RoleBriefing(self models.AgentID, role models.Role) string {
	if role == models.RoleDriver {
		return fmt.Sprintf("You are agent %s and you are now the DRIVER. You have full tool access "+
			"(read, edit, write, shell). Agent %s is navigating and will review your work.", self, self.Other())
	}
	return fmt.Sprintf("You are agent %s and you are now the NAVIGATOR. Your tools are read-only "+
		"(read, grep, find, ls): inspect, do not modify. Agent %s is driving.", self, self.Other())
}

func PlanDraft(task string, counterpart models.AgentID) string {
	var b strings.Builder
	b.WriteString("You are starting a pair-programming session.\n\n")
	fmt.Fprintf(&b, "Task:\n%s\n\n", task)
	fmt.Fprintf(&b, "Draft an implementation plan. Agent %s will critique it before you revise it into the agreed plan. ", counterpart)
	b.WriteString("Inspect the workspace first; do not modify anything yet.\n\n")
	b.WriteString("Reply with the plan inside <plan>...</plan>.")
	return b.String()
}

func PlanCritique(task, draft string, author models.AgentID) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Agent %s drafted a plan for this task:\n%s\n\n", author, task)
	fmt.Fprintf(&b, "Draft plan:\n%s\n\n", draft)
	b.WriteString("Critique it: missing steps, risky assumptions, ordering problems, test gaps. ")
	b.WriteString("Inspect the workspace if needed; do not modify anything.\n\n")
	b.WriteString("Reply with your critique inside <public_feedback>...</public_feedback>.")
	return b.String()
}

func PlanRevise(task, critique string, critic models.AgentID) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Agent %s critiqued your draft plan:\n%s\n\n", critic, critique)
	fmt.Fprintf(&b, "Task:\n%s\n\n", task)
	b.WriteString("Revise the draft into the agreed plan both of you will follow.\n\n")
	b.WriteString("Reply with the final plan inside <plan>...</plan>.")
	return b.String()
}

func SoloPlan(task string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task:\n%s\n\n", task)
	b.WriteString("Inspect the workspace and write the implementation plan you will follow. ")
	b.WriteString("Do not modify anything yet.\n\n")
	b.WriteString("Reply with the plan inside <plan>...</plan>.")
	return b.String()
}

type DriverTurn struct {
	Task        string
	Plan        string
	Round       int
	Counterpart models.AgentID
	PausePolicy string
	TurnPolicy  string
}

func DriverTurnPrompt(in DriverTurn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Round %d: you are driving. Agent %s is navigating.\n\n", in.Round, in.Counterpart)
	fmt.Fprintf(&b, "Task:\n%s\n\n", in.Task)
	fmt.Fprintf(&b, "Agreed plan:\n%s\n\n", in.Plan)
	fmt.Fprintf(&b, "Checkpoints: %s\n", in.PausePolicy)
	fmt.Fprintf(&b, "Turn policy: %s\n\n", in.TurnPolicy)
	b.WriteString("Implement the next meaningful slice of the plan. When you stop, report:\n")
	b.WriteString("<status>continue|done</status> (done only when the whole task is complete)\n")
	b.WriteString("<summary>what you did</summary>\n")
	b.WriteString("<changes>files and changes</changes>\n")
	b.WriteString("<questions_for_navigator>anything you want checked, or none</questions_for_navigator>")
	return b.String()
}

type NavigatorTurn struct {
	Task            string
	Plan            string
	Round           int
	Driver          models.AgentID
	Report          models.DriverReport
	PauseTriggered  bool
	CheckpointCount int
	TurnPolicy      string
}

func NavigatorReviewPrompt(in NavigatorTurn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Round %d: agent %s finished a driving turn. You are navigating.\n\n", in.Round, in.Driver)
	if in.PauseTriggered {
		fmt.Fprintf(&b, "The turn was cut short by %d automatic checkpoint(s); work may be mid-flight.\n\n", in.CheckpointCount)
	}
	fmt.Fprintf(&b, "Agreed plan:\n%s\n\n", in.Plan)
	fmt.Fprintf(&b, "Driver status: %s\n", in.Report.Status)
	fmt.Fprintf(&b, "Driver summary:\n%s\n\n", in.Report.Summary)
	if in.Report.Changes != "" {
		fmt.Fprintf(&b, "Reported changes:\n%s\n\n", in.Report.Changes)
	}
	if in.Report.QuestionsForNavigator != "" {
		fmt.Fprintf(&b, "Questions for you:\n%s\n\n", in.Report.QuestionsForNavigator)
	}
	fmt.Fprintf(&b, "Turn policy: %s\n\n", in.TurnPolicy)
	b.WriteString("Review the actual workspace, not just the summary. Reply with:\n")
	b.WriteString("<private_reflection>notes only you will see</private_reflection>\n")
	b.WriteString("<public_feedback>concrete feedback for the driver, or NONE</public_feedback>\n")
	b.WriteString("<driver_recommendation>continue|handoff</driver_recommendation>")
	return b.String()
}

func DriverDecisionPrompt(round int, navigator models.AgentID, feedback string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Round %d: agent %s reviewed your turn and left feedback:\n%s\n\n", round, navigator, feedback)
	b.WriteString("Address what you agree with (you still have full tool access), then reply with:\n")
	b.WriteString("<decision>accept|partial|reject</decision>\n")
	b.WriteString("<justification>why, and what you changed</justification>")
	return b.String()
}

// CheckpointMessage is injected into the driver's live turn when a checkpoint fires.
func CheckpointMessage(resolvingFeedback bool, checkpoint int) string {
	if resolvingFeedback {
		return fmt.Sprintf("Checkpoint %d reached while addressing navigator feedback. Stop editing now and "+
			"reply with your <decision> and <justification> for the changes so far.", checkpoint)
	}
	return fmt.Sprintf("Checkpoint %d reached. Stop editing now and end your turn with the "+
		"<status>, <summary>, <changes> and <questions_for_navigator> report so the navigator can review.", checkpoint)
}

func FinalReviewPrompt(task, plan string, counterpart models.AgentID) string {
	var b strings.Builder
	b.WriteString("Implementation is finished. Perform an independent final review of the workspace ")
	fmt.Fprintf(&b, "against the agreed plan. Agent %s is reviewing separately.\n\n", counterpart)
	fmt.Fprintf(&b, "Task:\n%s\n\n", task)
	fmt.Fprintf(&b, "Agreed plan:\n%s\n\n", plan)
	b.WriteString("Reply with:\n")
	b.WriteString("<private_reflection>notes only you will see</private_reflection>\n")
	b.WriteString("<public_feedback>your review: what is done, what is missing, or NONE</public_feedback>")
	return b.String()
}

func JointVerdictPrompt(task, plan, reviewA, reviewB string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task:\n%s\n\n", task)
	fmt.Fprintf(&b, "Agreed plan:\n%s\n\n", plan)
	fmt.Fprintf(&b, "Final review by agent A:\n%s\n\n", reviewA)
	fmt.Fprintf(&b, "Final review by agent B:\n%s\n\n", reviewB)
	b.WriteString("Synthesize both reviews into the joint sign-off. Reply with:\n")
	b.WriteString("<joint_verdict>APPROVED|NEEDS_MORE_WORK</joint_verdict>\n")
	b.WriteString("<rationale>why</rationale>\n")
	b.WriteString("<next_steps>remaining work, or none</next_steps>")
	return b.String()
}

// FormatDriverReport is the journal rendering of a driving turn.
func FormatDriverReport(round int, r models.DriverReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Round %d driver report (status: %s)\n", round, r.Status)
	fmt.Fprintf(&b, "Summary: %s", r.Summary)
	if r.Changes != "" {
		fmt.Fprintf(&b, "\nChanges: %s", r.Changes)
	}
	if r.QuestionsForNavigator != "" {
		fmt.Fprintf(&b, "\nQuestions: %s", r.QuestionsForNavigator)
	}
	return b.String()
}

func FormatNavigatorReview(round int, r models.NavigatorReview) string {
	return fmt.Sprintf("Round %d navigator feedback: %s\nRecommendation: %s", round, r.PublicFeedback, r.DriverRecommendation)
}

func FormatDriverDecision(round int, d models.DriverDecision) string {
	return fmt.Sprintf("Round %d driver decision: %s\nJustification: %s", round, d.Decision, d.Justification)
}

func FormatFinalReview(r models.FinalReview) string {
	s := fmt.Sprintf("Joint verdict: %s\nRationale: %s", r.JointVerdict, r.Rationale)
	if r.NextSteps != "" {
		s += "\nNext steps: " + r.NextSteps
	}
	return s
}

// RenderEntry is the text a worker sees for one shared journal entry.
func RenderEntry(e models.JournalEntry) string {
	return fmt.Sprintf("[%s] %s: %s", e.Stage, e.Actor, e.Content)
}
