package uploads

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

// Pinner defines what we need from the IPFS pinning provider.
type Pinner interface {
	PinFile(ctx context.Context, fileName string, content []byte) (string, error)
}

// PinataClient is a Pinner backed by the Pinata HTTP API.
type PinataClient struct {
	BaseURL string
	JWT     string
	Client  *http.Client
}

type pinataPinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int64  `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

// PinFile uploads the file to pinFileToIPFS and returns the CID.
func (c *PinataClient) PinFile(ctx context.Context, fileName string, content []byte) (string, error) {
	if c.Client == nil {
		c.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if c.JWT == "" {
		return "", fmt.Errorf("pinata: PINATA_JWT is not set")
	}
	base := c.BaseURL
	if base == "" {
		base = "https://api.pinata.cloud"
	}
	url := strings.TrimRight(base, "/") + "/pinning/pinFileToIPFS"

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(content); err != nil {
		return "", err
	}
	meta, _ := json.Marshal(map[string]interface{}{"name": fileName})
	_ = mw.WriteField("pinataMetadata", string(meta))
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.JWT)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("pinata request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == 401 || resp.StatusCode == 403 {
			return "", fmt.Errorf("pinata rejected the JWT: set PINATA_JWT to a key with pinFileToIPFS scope (raw body: %s)", string(respBody))
		}
		return "", fmt.Errorf("pinata error: status %d body: %s", resp.StatusCode, string(respBody))
	}

	var data pinataPinResponse
	if err := json.Unmarshal(respBody, &data); err != nil {
		return "", fmt.Errorf("pinata response decode: %w", err)
	}
	if data.IpfsHash == "" {
		return "", fmt.Errorf("pinata returned no CID, body: %s", string(respBody))
	}
	return data.IpfsHash, nil
}

// Service encapsulates document pinning. Only the CID is persisted; the
// document itself lives on IPFS.
type Service struct {
	Client     Pinner
	GatewayURL string
}

// PinResult is returned to the client after a successful pin.
type PinResult struct {
	CID        string `json:"cid"`
	GatewayURL string `json:"gateway_url"`
}

// MaxDocumentBytes caps uploads at 10 MiB.
const MaxDocumentBytes = 10 << 20

// PinDocument pins a document and returns its CID plus a gateway URL for
// convenience.
func (s *Service) PinDocument(ctx context.Context, fileName string, content []byte) (*PinResult, error) {
	if fileName == "" {
		return nil, fmt.Errorf("file name is required")
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("file content is empty")
	}
	if len(content) > MaxDocumentBytes {
		return nil, fmt.Errorf("file exceeds the %d byte limit", MaxDocumentBytes)
	}

	cid, err := s.Client.PinFile(ctx, fileName, content)
	if err != nil {
		return nil, err
	}

	gateway := strings.TrimRight(s.GatewayURL, "/")
	if gateway == "" {
		gateway = "https://gateway.pinata.cloud"
	}
	return &PinResult{
		CID:        cid,
		GatewayURL: fmt.Sprintf("%s/ipfs/%s", gateway, cid),
	}, nil
}
