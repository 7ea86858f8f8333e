// Package transcribe converts voice artifacts to text through a
// Whisper-compatible HTTP transcription API.
package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/reliefnet/beacon/internal/artifact"
)

// MaxAudioBytes is the largest artifact the transcription API accepts.
const MaxAudioBytes = 25 << 20

// ErrKind classifies transcription failures.
type ErrKind string

const (
	KindNotFound          ErrKind = "not_found"
	KindUnauthorized      ErrKind = "unauthorized"
	KindTooLarge          ErrKind = "too_large"
	KindUnsupportedFormat ErrKind = "unsupported_format"
	KindServiceError      ErrKind = "service_error"
)

// Error carries the failure classification alongside the message.
type Error struct {
	Kind ErrKind
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("transcribe: %s: %s", e.Kind, e.Msg)
}

var supportedExts = map[string]bool{
	".mp3":  true,
	".mp4":  true,
	".mpeg": true,
	".mpga": true,
	".m4a":  true,
	".wav":  true,
	".webm": true,
}

// Client calls a Whisper-compatible transcription endpoint. Audio bytes
// are fetched from the artifact store, never held by callers.
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	artifacts  artifact.Store
	httpClient *http.Client
}

// New builds a Client. endpoint is the full transcription URL.
func New(endpoint, apiKey, model string, artifacts artifact.Store) *Client {
	return &Client{
		endpoint:  endpoint,
		apiKey:    apiKey,
		model:     model,
		artifacts: artifacts,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Validate checks that the referenced artifact exists, fits the size
// limit, and has a supported audio format. It performs no network calls
// to the transcription API.
func (c *Client) Validate(ctx context.Context, audioRef string) error {
	ext := strings.ToLower(path.Ext(audioRef))
	if !supportedExts[ext] {
		return &Error{Kind: KindUnsupportedFormat, Msg: fmt.Sprintf("unsupported audio format %q", ext)}
	}
	info, err := c.artifacts.Stat(ctx, audioRef)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			return &Error{Kind: KindNotFound, Msg: fmt.Sprintf("audio artifact %s not found", audioRef)}
		}
		return &Error{Kind: KindServiceError, Msg: err.Error()}
	}
	if info.Size > MaxAudioBytes {
		return &Error{Kind: KindTooLarge, Msg: fmt.Sprintf("audio is %d bytes, limit is %d", info.Size, MaxAudioBytes)}
	}
	return nil
}

// Transcribe fetches the artifact and submits it for transcription.
// language is an optional BCP-47 hint passed through to the API.
func (c *Client) Transcribe(ctx context.Context, audioRef, language string) (string, error) {
	if err := c.Validate(ctx, audioRef); err != nil {
		return "", err
	}

	rc, _, err := c.artifacts.Open(ctx, audioRef)
	if err != nil {
		if errors.Is(err, artifact.ErrNotFound) {
			return "", &Error{Kind: KindNotFound, Msg: fmt.Sprintf("audio artifact %s not found", audioRef)}
		}
		return "", &Error{Kind: KindServiceError, Msg: err.Error()}
	}
	defer rc.Close()

	body, contentType := c.buildForm(audioRef, language, rc)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return "", &Error{Kind: KindServiceError, Msg: err.Error()}
	}
	req.Header.Set("Content-Type", contentType)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &Error{Kind: KindServiceError, Msg: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp)
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &Error{Kind: KindServiceError, Msg: fmt.Sprintf("decode response: %v", err)}
	}
	return strings.TrimSpace(out.Text), nil
}

func (c *Client) buildForm(audioRef, language string, r io.Reader) (io.Reader, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := func() error {
			if err := mw.WriteField("model", c.model); err != nil {
				return err
			}
			if language != "" {
				if err := mw.WriteField("language", language); err != nil {
					return err
				}
			}
			part, err := mw.CreateFormFile("file", path.Base(audioRef))
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, io.LimitReader(r, MaxAudioBytes+1)); err != nil {
				return err
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	return pr, mw.FormDataContentType()
}

func classifyStatus(resp *http.Response) *Error {
	msg := readErrorBody(resp.Body)
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &Error{Kind: KindUnauthorized, Msg: msg}
	case http.StatusRequestEntityTooLarge:
		return &Error{Kind: KindTooLarge, Msg: msg}
	case http.StatusUnsupportedMediaType:
		return &Error{Kind: KindUnsupportedFormat, Msg: msg}
	default:
		return &Error{Kind: KindServiceError, Msg: fmt.Sprintf("status %d: %s", resp.StatusCode, msg)}
	}
}

func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(data) == 0 {
		return "transcription request failed"
	}
	var apiErr struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
		return apiErr.Error.Message
	}
	return strings.TrimSpace(string(data))
}
