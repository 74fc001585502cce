package plan

import "github.com/ashureev/goalcoach/internal/domain"

// DefaultPlanID identifies the fallback plan.
const DefaultPlanID = "default-social-confidence"

// Default returns the fixed fallback plan: three steps, thirty days,
// feasibility 85. It is the same for every persona.
func Default() domain.Plan {
	return domain.Plan{
		ID:               DefaultPlanID,
		Title:            "Social Skills Confidence Builder",
		Description:      "A personalized plan to boost your social confidence using proven techniques",
		TotalDuration:    30,
		FeasibilityScore: 85,
		Steps: []domain.PlanStep{
			{
				ID:            "1",
				Title:         "Foundation: Self-Assessment & Mindset",
				Description:   "Evaluate your current social skills and establish a growth mindset. Practice daily affirmations and identify your social strengths.",
				EstimatedDays: 7,
				Difficulty:    domain.DifficultyEasy,
			},
			{
				ID:            "2",
				Title:         "Active Listening Mastery",
				Description:   "Master the art of genuine listening. Practice giving full attention, asking follow-up questions, and showing genuine interest in others.",
				EstimatedDays: 10,
				Difficulty:    domain.DifficultyMedium,
			},
			{
				ID:            "3",
				Title:         "Conversation Confidence",
				Description:   "Build confidence in starting and maintaining conversations. Practice conversation starters and learn to find common ground with others.",
				EstimatedDays: 13,
				Difficulty:    domain.DifficultyMedium,
			},
		},
	}
}
