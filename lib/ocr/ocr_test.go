package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
	"tradereg/internal/components/telemetry"

	"github.com/stretchr/testify/require"
)

func TestHTTPRecognizer(t *testing.T) {
	image := []byte{0x89, 'P', 'N', 'G', 1, 2, 3}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req classifyRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		require.NoError(t, err)

		decoded, err := base64.StdEncoding.DecodeString(req.Image)
		require.NoError(t, err)
		require.Equal(t, image, decoded)

		w.Header().Set("content-type", "application/json")
		json.NewEncoder(w).Encode(classifyResponse{Result: "4a27"})
	}))
	defer server.Close()

	tel := telemetry.NewMemoryAPI()
	recognizer, err := NewHTTPRecognizer(Config{Endpoint: server.URL, TimeoutSeconds: 2}, tel)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	text, err := recognizer.Classify(ctx, image)
	require.NoError(t, err)
	require.Equal(t, "4a27", text)

	require.Len(t, tel.Find(telemetry.REPORT_DEBUG, "resty.request"), 1)
	require.Len(t, tel.Find(telemetry.REPORT_DEBUG, "resty.response"), 1)
}

func TestHTTPRecognizerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("content-type", "application/json")
		json.NewEncoder(w).Encode(classifyResponse{Error: "model not loaded"})
	}))
	defer server.Close()

	{
		recognizer, err := NewHTTPRecognizer(Config{Endpoint: server.URL + "/broken"}, telemetry.NewMemoryAPI())
		require.NoError(t, err)
		_, err = recognizer.Classify(context.Background(), []byte{1})
		require.Error(t, err)
	}
	{
		recognizer, err := NewHTTPRecognizer(Config{Endpoint: server.URL + "/ocr"}, telemetry.NewMemoryAPI())
		require.NoError(t, err)
		_, err = recognizer.Classify(context.Background(), []byte{1})
		require.ErrorContains(t, err, "model not loaded")
	}

	_, err := NewHTTPRecognizer(Config{}, telemetry.NewMemoryAPI())
	require.Error(t, err)
}
