package attention

import "fmt"

// CaptureError reports that no frame could be taken from local video.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string { return fmt.Sprintf("capture frame: %v", e.Err) }

func (e *CaptureError) Unwrap() error { return e.Err }

// AnalysisError reports that the face-analysis service failed on a frame.
type AnalysisError struct {
	Err error
}

func (e *AnalysisError) Error() string { return fmt.Sprintf("analyze frame: %v", e.Err) }

func (e *AnalysisError) Unwrap() error { return e.Err }
