package anchor

import (
	"fmt"
	"time"

	SDK "github.com/availproject/avail-go-sdk/sdk"
	"github.com/sirupsen/logrus"
)

const availAttempts = 5

// NewAvailClient initializes an Avail anchoring client
func NewAvailClient(nodeAddr, seed string, appID uint32, log *logrus.Logger) (*AvailClient, error) {
	acc, err := SDK.Account.NewKeyPair(seed)
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %v", err)
	}
	log.Infof("Created Avail account with address: %s", acc.SS58Address(42))

	sdk, err := SDK.NewSDK(nodeAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Avail SDK: %v", err)
	}

	log.Infof("Initialized Avail anchor client for node %s with AppID %d", nodeAddr, appID)

	return &AvailClient{
		Client:    sdk,
		Namespace: appID,
		Account:   acc,
	}, nil
}

// Submit posts an anchor blob to Avail, retrying with capped backoff
func (c *AvailClient) Submit(data []byte) (string, string, error) {
	backoff := 1 * time.Second
	var lastErr error
	for attempt := 0; attempt < availAttempts; attempt++ {
		tx := c.Client.Tx.DataAvailability.SubmitData(data)
		res, err := tx.ExecuteAndWatchInclusion(c.Account, SDK.NewTransactionOptions().WithAppId(c.Namespace))
		if err == nil && res.IsSuccessful().UnsafeUnwrap() {
			return fmt.Sprintf("%d", res.BlockNumber), res.TxHash.ToHexWith0x(), nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("transaction was not successful")
		}
		time.Sleep(backoff)
		if backoff < 1*time.Minute {
			backoff *= 2
		}
	}
	return "", "", fmt.Errorf("avail submission failed after %d attempts: %v", availAttempts, lastErr)
}
