package attention

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
)

// DetectFacesAPI is the subset of the Rekognition client used by RekognitionAnalyzer.
type DetectFacesAPI interface {
	DetectFaces(ctx context.Context, params *rekognition.DetectFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectFacesOutput, error)
}

// RekognitionAnalyzer detects faces with Amazon Rekognition, requesting all facial attributes.
type RekognitionAnalyzer struct {
	client DetectFacesAPI
}

// NewRekognitionAnalyzer wraps a Rekognition client.
func NewRekognitionAnalyzer(client DetectFacesAPI) *RekognitionAnalyzer {
	return &RekognitionAnalyzer{client: client}
}

// NewRekognitionAnalyzerFromConfig builds the client from an AWS config.
func NewRekognitionAnalyzerFromConfig(cfg aws.Config) *RekognitionAnalyzer {
	return NewRekognitionAnalyzer(rekognition.NewFromConfig(cfg))
}

// DetectFaces implements Analyzer.
func (a *RekognitionAnalyzer) DetectFaces(ctx context.Context, image []byte) ([]FaceDetail, error) {
	out, err := a.client.DetectFaces(ctx, &rekognition.DetectFacesInput{
		Image:      &types.Image{Bytes: image},
		Attributes: []types.Attribute{types.AttributeAll},
	})
	if err != nil {
		return nil, fmt.Errorf("rekognition detect faces: %w", err)
	}
	faces := make([]FaceDetail, 0, len(out.FaceDetails))
	for _, fd := range out.FaceDetails {
		faces = append(faces, toFaceDetail(fd))
	}
	return faces, nil
}

func toFaceDetail(fd types.FaceDetail) FaceDetail {
	face := FaceDetail{Emotions: make([]Emotion, 0, len(fd.Emotions))}
	for _, e := range fd.Emotions {
		face.Emotions = append(face.Emotions, Emotion{
			Type:       string(e.Type),
			Confidence: float64(aws.ToFloat32(e.Confidence)),
		})
	}
	if fd.Pose != nil {
		face.Pose = &Pose{
			Pitch: float64(aws.ToFloat32(fd.Pose.Pitch)),
			Yaw:   float64(aws.ToFloat32(fd.Pose.Yaw)),
			Roll:  float64(aws.ToFloat32(fd.Pose.Roll)),
		}
	}
	if fd.AgeRange != nil && fd.AgeRange.Low != nil && fd.AgeRange.High != nil {
		face.AgeRange = &AgeRange{Low: int(*fd.AgeRange.Low), High: int(*fd.AgeRange.High)}
	}
	if fd.Gender != nil {
		face.Gender = string(fd.Gender.Value)
	}
	return face
}
