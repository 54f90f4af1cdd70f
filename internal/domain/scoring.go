package domain

import "time"

type Scoring struct {
	BasePoints   int64
	BonusCeiling int64
}

var DefaultScoring = Scoring{BasePoints: 100, BonusCeiling: 30}

// SpeedBonus loses one point per whole elapsed second and never goes negative.
func (s Scoring) SpeedBonus(responseTimeMs int64) int64 {
	if responseTimeMs < 0 {
		responseTimeMs = 0
	}
	bonus := s.BonusCeiling - responseTimeMs/1000
	if bonus < 0 {
		return 0
	}
	return bonus
}

// Points returns the speed bonus and the total awarded for one answer.
func (s Scoring) Points(correct bool, responseTimeMs int64) (bonus, awarded int64) {
	if !correct {
		return 0, 0
	}
	bonus = s.SpeedBonus(responseTimeMs)
	return bonus, s.BasePoints + bonus
}

func ResponseTime(roundStartedAt *time.Time, submittedAt time.Time) int64 {
	if roundStartedAt == nil {
		return 0
	}
	ms := submittedAt.Sub(*roundStartedAt).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}

// Winner returns the single participant holding the strictly highest score.
// A shared top score is a draw.
func Winner(participants []string, scores map[string]int64) (winnerID string, draw bool) {
	var (
		best  int64
		count int
	)
	for i, id := range participants {
		s := scores[id]
		switch {
		case i == 0 || s > best:
			best = s
			winnerID = id
			count = 1
		case s == best:
			count++
		}
	}
	if count != 1 {
		return "", true
	}
	return winnerID, false
}
