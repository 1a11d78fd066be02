// Package pinner uploads coin images to decentralized storage and returns a
// content-addressed reference.
package pinner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Uploader stores a blob and returns its content reference (ipfs://<cid>).
type Uploader interface {
	Upload(ctx context.Context, data []byte) (string, error)
}

// IPFSClient talks to an IPFS pinning service's HTTP add endpoint.
type IPFSClient struct {
	endpoint string
	token    string
	client   *http.Client
}

var _ Uploader = (*IPFSClient)(nil)

// NewIPFS builds a pinning client. endpoint is the service base URL.
func NewIPFS(endpoint, token string) *IPFSClient {
	return &IPFSClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		token:    token,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

type pinResponse struct {
	Hash string `json:"Hash"`
	CID  string `json:"cid"`
}

// Upload pins data and returns an ipfs:// reference.
func (c *IPFSClient) Upload(ctx context.Context, data []byte) (string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "upload")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/v0/add", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("pinner: upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("pinner: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed pinResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("pinner: decode response: %w", err)
	}
	cid := parsed.Hash
	if cid == "" {
		cid = parsed.CID
	}
	if cid == "" {
		return "", fmt.Errorf("pinner: response carried no content hash")
	}
	return "ipfs://" + cid, nil
}
