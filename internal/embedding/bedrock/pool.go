package bedrock

import (
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// poolKey identifies a client by everything that changes its requests. The
// credentials provider is compared by address since some providers are not
// comparable values.
type poolKey struct {
	region     string
	modelID    string
	dimensions int
	creds      string
}

var (
	poolMu sync.Mutex
	pool   = map[poolKey]*BedrockClient{}
)

// GetSharedBedrockClient returns a process-wide client for the region, model
// and dimensionality. The embedder and the chat parser share connections when
// they resolve to the same key.
func GetSharedBedrockClient(cfg aws.Config, modelID string, dimensions int) *BedrockClient {
	key := poolKey{region: cfg.Region, modelID: modelID, dimensions: dimensions}
	if cfg.Credentials != nil {
		key.creds = fmt.Sprintf("%T@%p", cfg.Credentials, cfg.Credentials)
	}

	poolMu.Lock()
	defer poolMu.Unlock()
	if client, ok := pool[key]; ok {
		return client
	}
	client := NewBedrockClient(cfg, modelID, dimensions)
	pool[key] = client
	return client
}
