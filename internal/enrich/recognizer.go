// Package enrich implements the detached post-acquisition enrichment
// pipeline: audio recognition of a clip's media, retrieval of the
// recognized track as a standalone audio file, and the task registry
// callers poll for completion.
package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/hbomb79/Vidra/internal/clip"
)

const recognizeTemplate = "%s/v1/recognize?api_key=%s"

// recognitionSampleSize caps how much of the media file is submitted
// for fingerprinting; the recognition service only needs the first few
// seconds of audio.
const recognitionSampleSize = 2 << 20

type (
	RecognizerConfig struct {
		BaseURL string
		ApiKey  string
	}

	// Recognizer submits clip media to the audio-recognition service
	// and reports any track match as a fingerprint.
	Recognizer struct {
		config RecognizerConfig
		client *http.Client
	}

	recognizeResponse struct {
		Matches []struct {
			Title  string `json:"title"`
			Artist string `json:"subtitle"`
		} `json:"matches"`
	}

	recognizerError struct {
		StatusCode    int    `json:"status_code"`
		StatusMessage string `json:"status_message"`
	}

	FailedRecognitionError struct {
		httpCode int
		message  string
	}
	UnknownRecognitionError struct{ reason string }
)

func NewRecognizer(config RecognizerConfig) *Recognizer {
	return &Recognizer{
		config: config,
		client: &http.Client{Timeout: time.Second * 30},
	}
}

// Recognize submits a sample of the media file at the path provided and
// returns the matched fingerprint, or nil when the service finds no
// match. A no-match is an expected outcome, not an error.
func (recognizer *Recognizer) Recognize(ctx context.Context, mediaPath string) (*clip.Fingerprint, error) {
	sample, err := readSample(mediaPath)
	if err != nil {
		return nil, &UnknownRecognitionError{fmt.Sprintf("failed to read media sample: %s", err.Error())}
	}

	path := fmt.Sprintf(recognizeTemplate, recognizer.config.BaseURL, recognizer.config.ApiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, bytes.NewReader(sample))
	if err != nil {
		return nil, &UnknownRecognitionError{fmt.Sprintf("failed to construct recognition request: %s", err.Error())}
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := recognizer.client.Do(req)
	if err != nil {
		return nil, &UnknownRecognitionError{fmt.Sprintf("failed to perform POST(%s): %s", path, err.Error())}
	}

	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		var serviceError recognizerError
		if err := json.Unmarshal(respBody, &serviceError); err != nil {
			return nil, &FailedRecognitionError{httpCode: resp.StatusCode, message: "non-OK response could not be unmarshalled"}
		}

		return nil, &FailedRecognitionError{httpCode: resp.StatusCode, message: serviceError.StatusMessage}
	}

	if err != nil {
		return nil, &UnknownRecognitionError{fmt.Sprintf("failed to read response body: %s", err.Error())}
	}

	var result recognizeResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &UnknownRecognitionError{fmt.Sprintf("response JSON could not be unmarshalled: %s", err.Error())}
	}

	if len(result.Matches) == 0 {
		return nil, nil
	}

	match := result.Matches[0]
	if match.Title == "" && match.Artist == "" {
		return nil, nil
	}

	return &clip.Fingerprint{Artist: match.Artist, Title: match.Title}, nil
}

func readSample(mediaPath string) ([]byte, error) {
	file, err := os.Open(mediaPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	sample := make([]byte, recognitionSampleSize)
	read, err := io.ReadFull(file, sample)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}

	return sample[:read], nil
}

func (err *FailedRecognitionError) Error() string {
	return fmt.Sprintf("Recognition request failure (HTTP %d): %s", err.httpCode, err.message)
}

func (err *UnknownRecognitionError) Error() string {
	return fmt.Sprintf("unknown error occurred while communicating with recognition service: %s", err.reason)
}
