// Package classifier adapts the external face and text emotion models.
package classifier

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/z-therapist/backend/internal/analysis/emotion"
	"github.com/zhouzirui/z-therapist/backend/internal/imaging"
	"github.com/zhouzirui/z-therapist/backend/internal/metrics"
)

var (
	// ErrUnavailable 表示分类服务不可达、超时或返回了无法解析的结果。
	ErrUnavailable = errors.New("classifier unavailable")
	// ErrNoFaceDetected 表示帧中没有检测到人脸。
	ErrNoFaceDetected = errors.New("no face detected")
)

// FaceClassifier labels the dominant facial emotion of a conditioned frame.
type FaceClassifier interface {
	ClassifyFace(ctx context.Context, frame *imaging.Frame) (emotion.Reading, error)
}

// TextClassifier labels the emotion expressed by an utterance.
type TextClassifier interface {
	ClassifyText(ctx context.Context, text string) (emotion.Reading, error)
}

// Guard 为分类器加上超时，并把任何失败降级为 neutral/0，保证上游流程不中断。
type Guard struct {
	face    FaceClassifier
	text    TextClassifier
	timeout time.Duration
	metrics *metrics.Metrics
	log     *logrus.Entry
}

// NewGuard wraps the two classifiers. Either may be nil, in which case every
// call degrades to neutral.
func NewGuard(face FaceClassifier, text TextClassifier, timeout time.Duration, m *metrics.Metrics) *Guard {
	return &Guard{
		face:    face,
		text:    text,
		timeout: timeout,
		metrics: m,
		log:     logrus.WithField("component", "classifier"),
	}
}

// ClassifyFace never fails.
func (g *Guard) ClassifyFace(ctx context.Context, frame *imaging.Frame) emotion.Reading {
	if g.face == nil {
		return g.degrade("face", ErrUnavailable, 0)
	}
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	reading, err := g.face.ClassifyFace(ctx, frame)
	elapsed := time.Since(start)
	if errors.Is(err, ErrNoFaceDetected) {
		g.metrics.ObserveClassifier("face", metrics.StatusNoFace, elapsed)
		return emotion.NeutralReading()
	}
	if err != nil {
		return g.degrade("face", err, elapsed)
	}
	g.metrics.ObserveClassifier("face", metrics.StatusOK, elapsed)
	return reading.Normalized()
}

// ClassifyText never fails.
func (g *Guard) ClassifyText(ctx context.Context, text string) emotion.Reading {
	if g.text == nil {
		return g.degrade("text", ErrUnavailable, 0)
	}
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	reading, err := g.text.ClassifyText(ctx, text)
	elapsed := time.Since(start)
	if err != nil {
		return g.degrade("text", err, elapsed)
	}
	g.metrics.ObserveClassifier("text", metrics.StatusOK, elapsed)
	return reading.Normalized()
}

func (g *Guard) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

func (g *Guard) degrade(kind string, err error, elapsed time.Duration) emotion.Reading {
	g.metrics.ObserveClassifier(kind, metrics.StatusUnavailable, elapsed)
	g.log.WithError(err).WithField("classifier", kind).Warn("classifier unavailable, using neutral")
	return emotion.NeutralReading()
}
