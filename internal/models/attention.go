package models

// UnknownLabel is used for readings and demographics that could not be derived.
const UnknownLabel = "Unknown"

// Demographics are coarse labels derived from the first detected face.
type Demographics struct {
	AgeRange string `json:"ageRange"`
	Gender   string `json:"gender"`
}

// AttentionReading is the result of one attentiveness poll. It is not retained between ticks.
type AttentionReading struct {
	DominantEmotion string             `json:"dominantEmotion"`
	EmotionScores   map[string]float64 `json:"emotionScores"`
	IsAttentive     bool               `json:"isAttentive"`
	PeopleCount     int                `json:"peopleCount"`
	Demographics    Demographics       `json:"demographics"`
}

// NeutralReading is shown while no face is visible.
func NeutralReading() AttentionReading {
	return AttentionReading{
		DominantEmotion: UnknownLabel,
		EmotionScores:   map[string]float64{},
		Demographics:    Demographics{AgeRange: UnknownLabel, Gender: UnknownLabel},
	}
}
