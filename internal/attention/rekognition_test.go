package attention

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRekognition struct {
	input *rekognition.DetectFacesInput
	out   *rekognition.DetectFacesOutput
	err   error
}

func (f *fakeRekognition) DetectFaces(ctx context.Context, in *rekognition.DetectFacesInput, _ ...func(*rekognition.Options)) (*rekognition.DetectFacesOutput, error) {
	f.input = in
	return f.out, f.err
}

func TestRekognitionAnalyzerMapsFaces(t *testing.T) {
	fake := &fakeRekognition{out: &rekognition.DetectFacesOutput{FaceDetails: []types.FaceDetail{
		{
			Emotions: []types.Emotion{
				{Type: types.EmotionNameCalm, Confidence: aws.Float32(70)},
				{Type: types.EmotionNameSad, Confidence: aws.Float32(20)},
			},
			Pose:     &types.Pose{Pitch: aws.Float32(25), Yaw: aws.Float32(0), Roll: aws.Float32(0)},
			AgeRange: &types.AgeRange{Low: aws.Int32(18), High: aws.Int32(24)},
			Gender:   &types.Gender{Value: types.GenderTypeMale, Confidence: aws.Float32(99)},
		},
		{},
	}}}

	faces, err := NewRekognitionAnalyzer(fake).DetectFaces(context.Background(), []byte("jpeg"))
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), fake.input.Image.Bytes)
	assert.Equal(t, []types.Attribute{types.AttributeAll}, fake.input.Attributes)

	require.Len(t, faces, 2)
	assert.Equal(t, []Emotion{{"CALM", 70}, {"SAD", 20}}, faces[0].Emotions)
	assert.Equal(t, &Pose{Pitch: 25}, faces[0].Pose)
	assert.Equal(t, &AgeRange{Low: 18, High: 24}, faces[0].AgeRange)
	assert.Equal(t, "Male", faces[0].Gender)

	r := Classify(faces)
	assert.Equal(t, "CALM", r.DominantEmotion)
	assert.False(t, r.IsAttentive)
	assert.Equal(t, 2, r.PeopleCount)
	assert.Equal(t, "18-24", r.Demographics.AgeRange)
}

func TestRekognitionAnalyzerError(t *testing.T) {
	boom := errors.New("InvalidImageFormatException")
	_, err := NewRekognitionAnalyzer(&fakeRekognition{err: boom}).DetectFaces(context.Background(), nil)
	assert.ErrorIs(t, err, boom)
}
