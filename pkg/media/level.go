package media

import (
	"math"

	"github.com/zaf/g711"
)

// SilenceLevel уровень пустого или нулевого кадра, dBFS
const SilenceLevel = -96.0

// FrameLevel среднеквадратичный уровень кадра μ-law в dBFS
func FrameLevel(frame []byte) float64 {
	if len(frame) == 0 {
		return SilenceLevel
	}
	var sum float64
	for _, b := range frame {
		v := float64(g711.DecodeUlawFrame(b))
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	if rms < 1 {
		return SilenceLevel
	}
	return 20 * math.Log10(rms/math.MaxInt16)
}
