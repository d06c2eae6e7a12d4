package camera

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"mime"
	"mime/multipart"
	"net/http"
	"sync"
)

// StreamSource pulls frames from an MJPEG-over-HTTP stream at
// CAMERA_STREAM_URI, decoding one JPEG per multipart part.
type StreamSource struct {
	uri string

	mu     sync.Mutex
	client *http.Client
	resp   *http.Response
	reader *multipart.Reader
}

func NewStreamSource(uri string) *StreamSource {
	return &StreamSource{uri: uri, client: &http.Client{}}
}

func (s *StreamSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.uri, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	_, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		resp.Body.Close()
		return fmt.Errorf("camera stream: unexpected content-type: %w", err)
	}
	boundary := params["boundary"]
	if boundary == "" {
		resp.Body.Close()
		return fmt.Errorf("camera stream: missing multipart boundary")
	}
	s.resp = resp
	s.reader = multipart.NewReader(bufio.NewReader(resp.Body), boundary)
	return nil
}

func (s *StreamSource) Next(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reader == nil {
		return nil, fmt.Errorf("camera stream: not open")
	}
	part, err := s.reader.NextPart()
	if err != nil {
		return nil, err
	}
	defer part.Close()
	return jpeg.Decode(part)
}

func (s *StreamSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reader = nil
	if s.resp != nil {
		err := s.resp.Body.Close()
		s.resp = nil
		return err
	}
	return nil
}
