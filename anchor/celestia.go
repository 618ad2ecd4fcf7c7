package anchor

import (
	"context"
	"fmt"
	"time"

	client "github.com/celestiaorg/celestia-openrpc"
	"github.com/celestiaorg/celestia-openrpc/types/blob"
	"github.com/celestiaorg/celestia-openrpc/types/share"
	"github.com/sirupsen/logrus"
)

const celestiaAttempts = 5

// NewCelestiaClient initializes a Celestia anchoring client
func NewCelestiaClient(nodeAddr, authToken, namespace string, log *logrus.Logger) (*CelestiaClient, error) {
	celestiaClient, err := client.NewClient(context.Background(), nodeAddr, authToken)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Celestia client: %v", err)
	}
	ns, err := share.NewBlobNamespaceV0([]byte(namespace))
	if err != nil {
		return nil, fmt.Errorf("failed to create namespace: %v", err)
	}

	log.Infof("Initialized Celestia anchor client for node %s with namespace %s", nodeAddr, ns)

	return &CelestiaClient{
		Client:    celestiaClient,
		Namespace: ns,
	}, nil
}

// Close closes the Celestia client connection
func (c *CelestiaClient) Close() {
	c.Client.Close()
}

// Submit posts an anchor blob to Celestia, retrying with capped backoff. A
// failed span is retried by the anchor loop on its next tick.
func (c *CelestiaClient) Submit(data []byte) (string, string, error) {
	blobData, err := blob.NewBlobV0(c.Namespace, data)
	if err != nil {
		return "", "", fmt.Errorf("failed to create Celestia blob: %v", err)
	}

	backoff := 1 * time.Second
	var lastErr error
	for attempt := 0; attempt < celestiaAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		height, err := c.Client.Blob.Submit(ctx, []*blob.Blob{blobData}, blob.NewSubmitOptions())
		cancel()
		if err == nil {
			return fmt.Sprintf("%d", height), fmt.Sprintf("%x", blobData.Commitment), nil
		}
		lastErr = err
		time.Sleep(backoff)
		if backoff < 1*time.Minute {
			backoff *= 2
		}
	}
	return "", "", fmt.Errorf("celestia submission failed after %d attempts: %v", celestiaAttempts, lastErr)
}
