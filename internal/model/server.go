package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"

	jsoniter "github.com/json-iterator/go"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/realfake-api/pkg/log"
)

type ServerConfig struct {
	ModelPath         string
	MetadataPath      string
	SharedLibraryPath string
	// MaxImagePixels caps decoded uploads; zero means DefaultMaxImagePixels.
	MaxImagePixels int64
}

// engine runs one forward pass over a prepared tensor.
type engine interface {
	Run(input *Tensor, outputShape []int64) ([]float32, error)
	Close()
}

// Server owns the loaded classifier. It is safe for concurrent use: the
// session is never mutated after NewServer returns.
type Server struct {
	engine    engine
	maxPixels int64
	Metadata  Metadata
}

func DefaultMetadata() Metadata {
	return Metadata{
		InputName:   "input",
		OutputName:  "output",
		InputShape:  []int64{1, 224, 224, 3},
		OutputShape: []int64{1, 1},
		Classes:     []string{"real", "generated"},
		ImageSize:   224,
	}
}

// LoadMetadata reads the metadata file next to the artifact. A missing file
// yields DefaultMetadata; unset fields in a present file are defaulted.
func LoadMetadata(path string) (Metadata, error) {
	metadata := DefaultMetadata()

	metaFile, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn(log.Fields{"path": path}, "Model metadata not found, using defaults")
		return metadata, nil
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var parsed Metadata
	if err := jsoniter.Unmarshal(metaFile, &parsed); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}

	if parsed.InputName != "" {
		metadata.InputName = parsed.InputName
	}
	if parsed.OutputName != "" {
		metadata.OutputName = parsed.OutputName
	}
	if len(parsed.InputShape) > 0 {
		metadata.InputShape = parsed.InputShape
	}
	if len(parsed.OutputShape) > 0 {
		metadata.OutputShape = parsed.OutputShape
	}
	if len(parsed.Classes) > 0 {
		metadata.Classes = parsed.Classes
	}
	if parsed.ImageSize > 0 {
		metadata.ImageSize = parsed.ImageSize
	} else if len(parsed.InputShape) == 4 {
		metadata.ImageSize = int(parsed.InputShape[1])
	}

	if err := metadata.validate(); err != nil {
		return Metadata{}, err
	}
	return metadata, nil
}

func (m Metadata) validate() error {
	if len(m.InputShape) != 4 || m.InputShape[0] != 1 || m.InputShape[3] != channels {
		return fmt.Errorf("%w: input shape %v, want [1 H W 3]", errInvalidMetadata, m.InputShape)
	}
	if m.ImageSize < 1 {
		return fmt.Errorf("%w: image size %d", errInvalidMetadata, m.ImageSize)
	}
	if m.InputShape[1] != int64(m.ImageSize) || m.InputShape[2] != int64(m.ImageSize) {
		return fmt.Errorf("%w: input shape %v does not match image size %d", errInvalidMetadata, m.InputShape, m.ImageSize)
	}
	size := int64(1)
	for _, dim := range m.OutputShape {
		if dim < 1 {
			return fmt.Errorf("%w: output shape %v has a non-positive dimension", errInvalidMetadata, m.OutputShape)
		}
		size *= dim
	}
	if len(m.OutputShape) == 0 || size != 1 {
		return fmt.Errorf("%w: output shape %v, want a single score", errInvalidMetadata, m.OutputShape)
	}
	return nil
}

func NewServer(cfg ServerConfig) (*Server, error) {
	metadata, err := LoadMetadata(cfg.MetadataPath)
	if err != nil {
		return nil, err
	}

	eng, err := newOnnxEngine(cfg.ModelPath, cfg.SharedLibraryPath, metadata)
	if err != nil {
		return nil, err
	}

	return &Server{
		engine:    eng,
		maxPixels: cfg.MaxImagePixels,
		Metadata:  metadata,
	}, nil
}

// Predict returns the classifier score for raw image bytes.
func (s *Server) Predict(ctx context.Context, data []byte) (float32, error) {
	tensor, err := PreprocessWithLimit(data, s.Metadata.ImageSize, s.maxPixels)
	if err != nil {
		return 0, err
	}

	out, err := s.engine.Run(tensor, s.Metadata.OutputShape)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInference, err)
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("%w: empty output", ErrInference)
	}

	score := out[0]
	if math.IsNaN(float64(score)) || math.IsInf(float64(score), 0) {
		return 0, fmt.Errorf("%w: score is %v", ErrInference, score)
	}

	log.WithRequestID(ctx).WithField("score", score).Debug("inference finished")
	return score, nil
}

func (s *Server) Classify(ctx context.Context, data []byte) (*Prediction, error) {
	score, err := s.Predict(ctx, data)
	if err != nil {
		return nil, err
	}

	label := Label(score)
	class := ""
	if label < len(s.Metadata.Classes) {
		class = s.Metadata.Classes[label]
	}

	return &Prediction{
		Score: score,
		Label: label,
		Class: class,
	}, nil
}

func (s *Server) Close() {
	if s.engine != nil {
		s.engine.Close()
	}
}

type onnxEngine struct {
	session *ort.DynamicAdvancedSession
}

func newOnnxEngine(modelPath, sharedLibraryPath string, metadata Metadata) (*onnxEngine, error) {
	if sharedLibraryPath != "" {
		ort.SetSharedLibraryPath(sharedLibraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName}, nil)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &onnxEngine{session: session}, nil
}

// Run allocates tensors per call so concurrent requests share only the session.
func (e *onnxEngine) Run(input *Tensor, outputShape []int64) ([]float32, error) {
	inputTensor, err := ort.NewTensor(ort.NewShape(input.Shape...), input.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(outputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := e.session.Run([]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor}); err != nil {
		return nil, err
	}

	out := make([]float32, len(outputTensor.GetData()))
	copy(out, outputTensor.GetData())
	return out, nil
}

func (e *onnxEngine) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	ort.DestroyEnvironment()
}
