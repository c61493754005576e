// Package encoder extracts face feature vectors from uploaded photos by
// calling the external encoding service.
package encoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/skylinezone/skyctl/internal/skzerrors"
)

// Encoder turns one photo into one feature vector of the configured width.
type Encoder interface {
	Encode(ctx context.Context, filename string, image io.Reader) ([]float32, error)
}

var supportedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
}

// CheckImageFilename rejects formats the encoding service cannot decode.
func CheckImageFilename(filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if !supportedExtensions[ext] {
		return fmt.Errorf("extension %q: %w", ext, skzerrors.ErrUnsupportedImage)
	}
	return nil
}

type httpEncoder struct {
	baseURL    string
	featureDim int
	client     *http.Client
	log        logrus.FieldLogger
}

func NewHTTP(baseURL string, featureDim int, log logrus.FieldLogger) Encoder {
	return &httpEncoder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		featureDim: featureDim,
		client:     &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
}

type encodeResponse struct {
	Faces [][]float32 `json:"faces"`
	Error string      `json:"error,omitempty"`
}

func (e *httpEncoder) Encode(ctx context.Context, filename string, image io.Reader) ([]float32, error) {
	if err := CheckImageFilename(filename); err != nil {
		return nil, err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filepath.Base(filename))
	if err != nil {
		return nil, fmt.Errorf("building encode request: %w", err)
	}
	if _, err := io.Copy(part, image); err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("building encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/encode", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("encoding service: %w", skzerrors.ErrUnavailable)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnprocessableEntity:
		return nil, skzerrors.ErrNoFaceDetected
	case http.StatusUnsupportedMediaType:
		return nil, skzerrors.ErrUnsupportedImage
	default:
		return nil, fmt.Errorf("encoding service returned %d: %w", resp.StatusCode, skzerrors.ErrUnavailable)
	}

	var decoded encodeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding encode response: %w", err)
	}
	return e.pickFace(filename, decoded.Faces)
}

// pickFace applies the single-face policy: zero faces fails, more than one
// logs a warning and keeps the first (largest, per service contract).
func (e *httpEncoder) pickFace(filename string, faces [][]float32) ([]float32, error) {
	if len(faces) == 0 {
		return nil, skzerrors.ErrNoFaceDetected
	}
	if len(faces) > 1 {
		e.log.WithFields(logrus.Fields{
			"filename": filepath.Base(filename),
			"faces":    len(faces),
		}).Warn("photo contains multiple faces, using the first")
	}
	vec := faces[0]
	if len(vec) != e.featureDim {
		return nil, fmt.Errorf("got %d components, want %d: %w",
			len(vec), e.featureDim, skzerrors.ErrVectorDimension)
	}
	return vec, nil
}
