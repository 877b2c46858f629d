package model

// Threshold separates label 0 from label 1. Scores equal to it map to 0.
const Threshold float32 = 0.5

const (
	LabelReal      = 0
	LabelGenerated = 1
)

type Metadata struct {
	InputName   string   `json:"input_name"`
	OutputName  string   `json:"output_name"`
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
}

// Tensor is a dense NHWC float32 batch ready for the inference session.
type Tensor struct {
	Shape []int64
	Data  []float32
}

type Prediction struct {
	Score float32
	Label int
	Class string
}

type PredictionResponse struct {
	Result int `json:"result"`
}

// Label maps a classifier score to the binary label.
func Label(score float32) int {
	if score > Threshold {
		return LabelGenerated
	}
	return LabelReal
}
