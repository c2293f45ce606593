// Package scoring computes correctness and point awards for quiz answers.
// It is pure and side-effect free so the coordinator's scoring policy can be
// unit-tested in isolation.
package scoring

const (
	// BasePoints is awarded for any correct answer.
	BasePoints = 100
	// BonusCap limits the additional points earned by answering quickly.
	BonusCap = 50
)

// Outcome is the result of scoring a single submission.
type Outcome struct {
	Correct bool
	Points  int
}

// Score evaluates a submitted option against the correct answer. An empty
// selection (auto-submitted on timeout) is always incorrect. Correct answers
// earn BasePoints plus a time bonus proportional to the fraction of the time
// budget remaining, capped at BonusCap.
func Score(correctAnswer, selected string, timeLeft, timePerQuestion int) Outcome {
	if selected == "" || selected != correctAnswer {
		return Outcome{}
	}
	if timePerQuestion <= 0 {
		return Outcome{Correct: true, Points: BasePoints}
	}
	if timeLeft < 0 {
		timeLeft = 0
	}
	if timeLeft > timePerQuestion {
		timeLeft = timePerQuestion
	}
	bonus := timeLeft * BonusCap / timePerQuestion
	return Outcome{Correct: true, Points: BasePoints + bonus}
}
