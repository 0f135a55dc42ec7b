// internal/classify/client.go
// Package classify provides a client for the external species classifier.
// The vault treats the classifier's scores as opaque; when no classifier
// is configured a deterministic stub keeps catch logging functional.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/fishnetapp/fishnet-vault-go/internal/model"
)

// Classifier produces a species prediction from a raw photo payload.
type Classifier interface {
	Predict(ctx context.Context, image []byte) (model.Prediction, error)
}

// Client calls a remote classifier service over HTTP.
type Client struct {
	base string       // Base URL of the classifier service
	hc   *http.Client // HTTP client with custom configuration
}

// New creates a classifier client with the specified base URL.
// It configures appropriate timeouts for classifier requests.
// Parameters:
//   - baseURL: Base URL of the classifier service
// Returns:
//   - *Client: Initialized classifier client
func New(baseURL string) *Client {
	// Model inference can be slow, so the request timeout is generous
	// compared to the dial timeout.
	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: 2 * time.Second}).DialContext,
	}

	return &Client{
		base: baseURL,
		hc:   &http.Client{Transport: transport, Timeout: 15 * time.Second},
	}
}

// Predict submits the photo to the classifier and returns its prediction.
// Parameters:
//   - ctx: Context for the request
//   - image: Raw photo bytes
// Returns:
//   - Prediction: Classifier scores for the photo
//   - error: Any transport or non-2xx response error
func (c *Client) Predict(ctx context.Context, image []byte) (model.Prediction, error) {
	u, _ := url.Parse(c.base)
	u.Path = "/v1/predict"

	req, _ := http.NewRequestWithContext(ctx, "POST", u.String(), bytes.NewReader(image))
	req.Header.Set("Content-Type", http.DetectContentType(image))

	resp, err := c.hc.Do(req)
	if err != nil {
		return model.Prediction{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.Prediction{}, fmt.Errorf("classifier predict failed: %s", resp.Status)
	}

	var pred model.Prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return model.Prediction{}, err
	}
	return pred, nil
}

// stubSpecies is the label pool the stub classifier draws from.
var stubSpecies = []string{
	"Largemouth Bass",
	"Rainbow Trout",
	"Northern Pike",
	"Bluegill",
	"Channel Catfish",
	"Walleye",
}

// Stub is a deterministic offline classifier. The same photo always yields
// the same prediction, which keeps tests and air-gapped deployments stable.
type Stub struct{}

// NewStub creates the deterministic stub classifier.
func NewStub() *Stub { return &Stub{} }

// Predict derives a prediction from a hash of the photo bytes.
func (s *Stub) Predict(ctx context.Context, image []byte) (model.Prediction, error) {
	h := fnv.New64a()
	h.Write(image)
	sum := h.Sum64()

	return model.Prediction{
		Species:         stubSpecies[sum%uint64(len(stubSpecies))],
		Confidence:      70 + float64(sum%25),
		HealthScore:     60 + float64((sum>>8)%40),
		EstimatedWeight: 0.5 + float64((sum>>16)%80)/10,
		EstimatedCount:  1 + int((sum>>24)%3),
	}, nil
}
