package models

// Stage is a narration phase shown to the user. Stage names are a UI
// vocabulary and are independent of ProcessingStatus.
type Stage string

const (
	StageValidating Stage = "validating"
	StageReading    Stage = "reading"
	StageExtracting Stage = "extracting"
	StageAnalyzing  Stage = "analyzing"
	StageGenerating Stage = "generating"
	StageFinalizing Stage = "finalizing"
	StageCompleted  Stage = "completed"
)

// StageOrder is the canonical narration order.
var StageOrder = []Stage{
	StageValidating,
	StageReading,
	StageExtracting,
	StageAnalyzing,
	StageGenerating,
	StageFinalizing,
	StageCompleted,
}

// Index returns the position of s in StageOrder, or -1.
func (s Stage) Index() int {
	for i, st := range StageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// stageTargets are non-decreasing along StageOrder; completed is always 1.
var stageTargets = map[Stage]float64{
	StageValidating: 0.05,
	StageReading:    0.15,
	StageExtracting: 0.35,
	StageAnalyzing:  0.45,
	StageGenerating: 0.85,
	StageFinalizing: 0.95,
	StageCompleted:  1.0,
}

// Target is the progress fraction reached when s is fully done.
func (s Stage) Target() float64 {
	return stageTargets[s]
}

// StageItem is one raw narration signal from the pipeline.
type StageItem struct {
	Stage   Stage   `json:"stage"`
	Message string  `json:"message"`
	Target  float64 `json:"target"`
	Step    int     `json:"step"`
}

// NewStageItem builds an item at the stage's default target.
func NewStageItem(stage Stage, message string) StageItem {
	return StageItem{
		Stage:   stage,
		Message: message,
		Target:  stage.Target(),
		Step:    stage.Index() + 1,
	}
}

// WithTarget returns a copy of it with target clamped to [0,1].
func (it StageItem) WithTarget(target float64) StageItem {
	if target < 0 {
		target = 0
	}
	if target > 1 {
		target = 1
	}
	it.Target = target
	return it
}
