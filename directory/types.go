package directory

import "github.com/pqtor/tor-pq/descriptor"

// NodeList is the JSON document a directory serves at GET /nodes
// (spec §4.6): { "version": "1.0", "nodes": [ {...}, ... ] }.
type NodeList struct {
	Version string     `json:"version"`
	Nodes   []nodeJSON `json:"nodes"`
}

// nodeJSON is the wire shape of one entry: hostname/port/type/identity,
// identity hex-encoded to 40 characters.
type nodeJSON struct {
	Hostname string `json:"hostname"`
	Port     uint16 `json:"port"`
	Type     string `json:"type"`
	Identity string `json:"identity"`
}

// registerRequest is the POST /register body used by the local test-mode
// directory to add a node without hand-editing a JSON document.
type registerRequest struct {
	Hostname string `json:"hostname"`
	Port     uint16 `json:"port"`
	Type     uint8  `json:"type"`
}

// registerResponse is returned by POST /register on success.
type registerResponse struct {
	Status string `json:"status"`
	NodeID int    `json:"node_id"`
}

func roleToJSONType(r descriptor.Role) string {
	return r.String()
}

func roleFromRegisterType(t uint8) (descriptor.Role, error) {
	switch t {
	case 1:
		return descriptor.RoleGuard, nil
	case 2:
		return descriptor.RoleMiddle, nil
	case 3:
		return descriptor.RoleExit, nil
	default:
		return 0, errUnknownRegisterType(t)
	}
}
