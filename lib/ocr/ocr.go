package ocr

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"
	"tradereg/internal/components/telemetry"
	"tradereg/lib/restyutil"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("lib/ocr")

var restyInstrumentOutput restyutil.InstrumentOutput

// SetRestyInstrumentOutput dumps every request and response of recognizers
// created afterwards to out.
func SetRestyInstrumentOutput(out restyutil.InstrumentOutput) {
	restyInstrumentOutput = out
}

// Recognizer reads the characters in an image. The result may contain noise,
// callers filter what they need.
type Recognizer interface {
	Classify(ctx context.Context, image []byte) (string, error)
}

// RecognizerFunc adapts a function to Recognizer.
type RecognizerFunc func(ctx context.Context, image []byte) (string, error)

func (f RecognizerFunc) Classify(ctx context.Context, image []byte) (string, error) {
	return f(ctx, image)
}

type Config struct {
	// Endpoint of a ddddocr compatible classification service,
	// ex. http://localhost:9898/ocr
	Endpoint       string  `json:"endpoint"`
	TimeoutSeconds float64 `json:"timeout_seconds"`
}

// HTTPRecognizer posts images to an OCR service.
type HTTPRecognizer struct {
	endpoint string
	http     *resty.Client
}

func NewHTTPRecognizer(cfg Config, tel telemetry.API) (HTTPRecognizer, error) {
	if cfg.Endpoint == "" {
		return HTTPRecognizer{}, fmt.Errorf("ocr endpoint is not configured")
	}
	timeout := time.Duration(cfg.TimeoutSeconds * float64(time.Second))
	if timeout <= 0 {
		timeout = time.Second * 10
	}

	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("content-type", "application/json")
	restyutil.InstrumentClient(client, tracer, restyInstrumentOutput)
	if tel != nil {
		telemetry.InstrumentResty(client, telemetry.NewScopedAPI("ocr", tel))
	}

	return HTTPRecognizer{
		endpoint: cfg.Endpoint,
		http:     client,
	}, nil
}

type classifyRequest struct {
	Image string `json:"image"`
}

type classifyResponse struct {
	Result string `json:"result"`
	Error  string `json:"error"`
}

func (r HTTPRecognizer) Classify(ctx context.Context, image []byte) (string, error) {
	ctx, span := tracer.Start(ctx, "recognizer:Classify")
	defer span.End()

	span.SetAttributes(attribute.Int("image_bytes", len(image)))

	var out classifyResponse
	res, err := r.http.R().
		SetContext(ctx).
		SetBody(classifyRequest{
			Image: base64.StdEncoding.EncodeToString(image),
		}).
		SetResult(&out).
		Post(r.endpoint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to reach ocr service")
		return "", err
	}
	if res.IsError() {
		err = fmt.Errorf("ocr service responded with %s", res.Status())
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad ocr response status")
		return "", err
	}
	if out.Error != "" {
		err = fmt.Errorf("ocr service: %s", out.Error)
		span.RecordError(err)
		span.SetStatus(codes.Error, "ocr service reported an error")
		return "", err
	}

	span.SetAttributes(attribute.String("result", out.Result))
	return out.Result, nil
}
