package directory

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pqtor/tor-pq/descriptor"
)

const maxNodeListBytes = 1 << 20

// FetchNodes retrieves the node list from a directory's GET /nodes
// endpoint at baseURL (e.g. "http://127.0.0.1:9030") and parses it into
// descriptor.NodeInfo values.
func FetchNodes(baseURL string) ([]descriptor.NodeInfo, error) {
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			DisableCompression: true,
		},
	}

	resp, err := client.Get(baseURL + "/nodes")
	if err != nil {
		return nil, fmt.Errorf("fetch node list: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch node list: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxNodeListBytes))
	if err != nil {
		return nil, fmt.Errorf("read node list body: %w", err)
	}

	var doc NodeList
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDocument, err)
	}
	if doc.Version != "1.0" {
		return nil, fmt.Errorf("%w: unsupported version %q", ErrBadDocument, doc.Version)
	}

	nodes := make([]descriptor.NodeInfo, 0, len(doc.Nodes))
	for _, n := range doc.Nodes {
		role, err := descriptor.ParseRole(n.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadDocument, err)
		}
		idBytes, err := hex.DecodeString(n.Identity)
		if err != nil || len(idBytes) != 20 {
			return nil, fmt.Errorf("%w: identity must be 40 hex characters", ErrBadDocument)
		}
		var id [20]byte
		copy(id[:], idBytes)
		nodes = append(nodes, descriptor.NodeInfo{
			Hostname: n.Hostname,
			Port:     n.Port,
			Role:     role,
			Identity: id,
		})
	}
	return nodes, nil
}
