package image

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
)

// ImagePreprocessor transforms an image before OCR.
type ImagePreprocessor interface {
	Process(img image.Image) (image.Image, error)
}

type PreprocessConfig struct {
	AdaptiveBlockSize int
	AdaptiveConstant  float64
	Denoise           bool
	DenoiseStrength   float64
	Sharpen           bool
	SharpenStrength   float64
	ContrastNormalize bool
	ContrastAmount    float64
	Threshold         bool
}

func DefaultPreprocessConfig() *PreprocessConfig {
	return &PreprocessConfig{
		AdaptiveBlockSize: 11,
		AdaptiveConstant:  2,
		Denoise:           true,
		DenoiseStrength:   0.5,
		Sharpen:           true,
		SharpenStrength:   0.5,
		ContrastNormalize: true,
		ContrastAmount:    20,
	}
}

// Pipeline builds the preprocessing chain for cfg. Grayscale always runs.
func Pipeline(cfg *PreprocessConfig) []ImagePreprocessor {
	steps := []ImagePreprocessor{NewGrayscaleProcessor()}
	if cfg.Denoise {
		steps = append(steps, NewDenoiseProcessor(cfg.DenoiseStrength))
	}
	if cfg.ContrastNormalize {
		steps = append(steps, NewContrastProcessor(cfg.ContrastAmount))
	}
	if cfg.Threshold {
		steps = append(steps, NewAdaptiveThresholdProcessor(cfg.AdaptiveBlockSize, cfg.AdaptiveConstant))
	}
	if cfg.Sharpen {
		steps = append(steps, NewSharpenProcessor(cfg.SharpenStrength))
	}
	return steps
}

// Apply runs img through every step in order.
func Apply(img image.Image, steps []ImagePreprocessor) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}
	var err error
	for _, step := range steps {
		img, err = step.Process(img)
		if err != nil {
			return nil, fmt.Errorf("preprocessing failed: %w", err)
		}
		if img == nil {
			return nil, fmt.Errorf("preprocessor returned nil image")
		}
	}
	return img, nil
}

// 灰度处理器
type GrayscaleProcessor struct{}

func NewGrayscaleProcessor() *GrayscaleProcessor {
	return &GrayscaleProcessor{}
}

func (p *GrayscaleProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.Grayscale(img), nil
}

// 降噪处理器
type DenoiseProcessor struct {
	strength float64
}

func NewDenoiseProcessor(strength float64) *DenoiseProcessor {
	return &DenoiseProcessor{strength: strength}
}

func (p *DenoiseProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.Blur(img, p.strength), nil
}

// 锐化处理器
type SharpenProcessor struct {
	strength float64
}

func NewSharpenProcessor(strength float64) *SharpenProcessor {
	return &SharpenProcessor{strength: strength}
}

func (p *SharpenProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.Sharpen(img, p.strength), nil
}

// 对比度处理器
type ContrastProcessor struct {
	amount float64
}

func NewContrastProcessor(amount float64) *ContrastProcessor {
	return &ContrastProcessor{amount: amount}
}

func (p *ContrastProcessor) Process(img image.Image) (image.Image, error) {
	return imaging.AdjustContrast(img, p.amount), nil
}

// 自适应阈值处理器
type AdaptiveThresholdProcessor struct {
	blockSize int
	constant  float64
}

func NewAdaptiveThresholdProcessor(blockSize int, constant float64) *AdaptiveThresholdProcessor {
	return &AdaptiveThresholdProcessor{
		blockSize: blockSize,
		constant:  constant,
	}
}

// Process darkens a pixel when it is below its neighbourhood mean minus the
// constant. Uses an integral image so the cost is independent of block size.
func (p *AdaptiveThresholdProcessor) Process(img image.Image) (image.Image, error) {
	if img == nil {
		return nil, fmt.Errorf("input image is nil")
	}

	gray := imaging.Grayscale(img)
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	lum := func(x, y int) int {
		return int(color.GrayModel.Convert(gray.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray).Y)
	}

	// integral[y+1][x+1] = sum of lum over [0..x]x[0..y]
	integral := make([][]int, h+1)
	for i := range integral {
		integral[i] = make([]int, w+1)
	}
	for y := 0; y < h; y++ {
		row := 0
		for x := 0; x < w; x++ {
			row += lum(x, y)
			integral[y+1][x+1] = integral[y][x+1] + row
		}
	}

	result := image.NewGray(bounds)
	draw.Draw(result, bounds, &image.Uniform{color.White}, image.Point{}, draw.Src)

	half := p.blockSize / 2
	for y := 0; y < h; y++ {
		y0, y1 := max(0, y-half), min(h-1, y+half)
		for x := 0; x < w; x++ {
			x0, x1 := max(0, x-half), min(w-1, x+half)
			count := (x1 - x0 + 1) * (y1 - y0 + 1)
			sum := integral[y1+1][x1+1] - integral[y0][x1+1] - integral[y1+1][x0] + integral[y0][x0]
			mean := float64(sum) / float64(count)
			if float64(lum(x, y)) < mean-p.constant {
				result.SetGray(bounds.Min.X+x, bounds.Min.Y+y, color.Gray{Y: 0})
			}
		}
	}
	return result, nil
}
