package attention

import (
	"fmt"
	"math"

	"github.com/educonnect/videocall/internal/models"
)

// MaxHeadAngle is the largest pitch, yaw or roll (degrees) still considered facing the screen.
const MaxHeadAngle = 20.0

// Emotion is one emotion estimate with confidence 0-100.
type Emotion struct {
	Type       string
	Confidence float64
}

// Pose is the head orientation in degrees.
type Pose struct {
	Pitch, Yaw, Roll float64
}

// AgeRange is an estimated age interval.
type AgeRange struct {
	Low, High int
}

// FaceDetail is one face returned by an Analyzer.
type FaceDetail struct {
	Emotions []Emotion
	Pose     *Pose
	AgeRange *AgeRange
	Gender   string
}

// IsAttentive reports whether every head angle is within MaxHeadAngle of forward.
func IsAttentive(p Pose) bool {
	return math.Abs(p.Pitch) <= MaxHeadAngle &&
		math.Abs(p.Yaw) <= MaxHeadAngle &&
		math.Abs(p.Roll) <= MaxHeadAngle
}

// Classify derives a reading from detected faces. Emotions, pose and demographics come from
// the first face; an empty slice yields the neutral reading.
func Classify(faces []FaceDetail) models.AttentionReading {
	if len(faces) == 0 {
		return models.NeutralReading()
	}
	first := faces[0]
	reading := models.AttentionReading{
		DominantEmotion: models.UnknownLabel,
		EmotionScores:   make(map[string]float64, len(first.Emotions)),
		PeopleCount:     len(faces),
		Demographics:    models.Demographics{AgeRange: models.UnknownLabel, Gender: models.UnknownLabel},
	}

	best := -1.0
	for _, e := range first.Emotions {
		reading.EmotionScores[e.Type] = e.Confidence
		if e.Confidence > best {
			best = e.Confidence
			reading.DominantEmotion = e.Type
		}
	}
	if first.Pose != nil {
		reading.IsAttentive = IsAttentive(*first.Pose)
	}
	if first.AgeRange != nil {
		reading.Demographics.AgeRange = fmt.Sprintf("%d-%d", first.AgeRange.Low, first.AgeRange.High)
	}
	if first.Gender != "" {
		reading.Demographics.Gender = first.Gender
	}
	return reading
}
