package captcha

import (
	"context"
	"log/slog"
	"strings"
	"tradereg/lib/ocr"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("lib/captcha")

const (
	DefaultMinLength = 3
	DefaultMaxLength = 4
)

// Solver reads the digits of a captcha image. It always produces an answer,
// a poor reading only costs one form attempt.
type Solver struct {
	Recognizer ocr.Recognizer
	MinLength  int
	MaxLength  int
}

func NewSolver(recognizer ocr.Recognizer, minLength, maxLength int) Solver {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	if maxLength < minLength {
		maxLength = max(minLength, DefaultMaxLength)
	}
	return Solver{
		Recognizer: recognizer,
		MinLength:  minLength,
		MaxLength:  maxLength,
	}
}

func digitsOnly(s string) string {
	var out strings.Builder
	for _, c := range s {
		if c >= '0' && c <= '9' {
			out.WriteRune(c)
		}
	}
	return out.String()
}

func (s Solver) read(ctx context.Context, image []byte) string {
	if s.Recognizer == nil || len(image) == 0 {
		return ""
	}
	text, err := s.Recognizer.Classify(ctx, image)
	if err != nil {
		slog.WarnContext(ctx, "captcha recognition failed", "err", err)
		return ""
	}
	return digitsOnly(text)
}

func (s Solver) bounds() (int, int) {
	minLength := s.MinLength
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	maxLength := s.MaxLength
	if maxLength < minLength {
		maxLength = minLength
	}
	return minLength, maxLength
}

func fit(code string, minLength, maxLength int) string {
	if len(code) > maxLength {
		code = code[:maxLength]
	}
	if len(code) < minLength {
		code += strings.Repeat("0", minLength-len(code))
	}
	return code
}

// Solve returns a digit string whose length lies between MinLength and
// MaxLength.
func (s Solver) Solve(ctx context.Context, image []byte) (code string) {
	ctx, span := tracer.Start(ctx, "solver:Solve")
	defer span.End()

	minLength, maxLength := s.bounds()
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "captcha solver panicked", "panic", r)
			code = fit("", minLength, maxLength)
		}
		span.SetAttributes(attribute.String("code", code))
	}()

	first := s.read(ctx, image)
	if len(first) >= minLength {
		span.SetAttributes(attribute.String("pass", "raw"))
		return fit(first, minLength, maxLength)
	}

	var second string
	processed, err := Preprocess(image)
	if err != nil {
		slog.WarnContext(ctx, "failed to preprocess captcha", "err", err)
	} else {
		second = s.read(ctx, processed)
	}
	span.SetAttributes(attribute.String("pass", "preprocessed"))

	best := first
	if len(second) > len(first) {
		best = second
	}
	return fit(best, minLength, maxLength)
}
