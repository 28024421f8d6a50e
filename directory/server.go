package directory

import (
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/pqtor/tor-pq/descriptor"
	"github.com/pqtor/tor-pq/primitives"
)

// Server is a local, test-mode directory: an in-memory node list served
// over GET /nodes, with POST /register to add entries without hand-
// editing a JSON document (spec §4.6).
type Server struct {
	mu     sync.Mutex
	nodes  []descriptor.NodeInfo
	logger *slog.Logger
}

// NewServer builds a directory server seeded with an initial node list.
func NewServer(logger *slog.Logger, seed []descriptor.NodeInfo) *Server {
	return &Server{
		nodes:  append([]descriptor.NodeInfo(nil), seed...),
		logger: logger,
	}
}

// Handler returns an http.Handler serving /nodes and /register.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/nodes", s.handleNodes)
	mux.HandleFunc("/register", s.handleRegister)
	return mux
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.mu.Lock()
	doc := NodeList{Version: "1.0", Nodes: make([]nodeJSON, 0, len(s.nodes))}
	for _, n := range s.nodes {
		doc.Nodes = append(doc.Nodes, nodeJSON{
			Hostname: n.Hostname,
			Port:     n.Port,
			Type:     roleToJSONType(n.Role),
			Identity: hex.EncodeToString(n.Identity[:]),
		})
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(doc); err != nil {
		s.logger.Error("encode node list", "error", err)
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	role, err := roleFromRegisterType(req.Type)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var identity [20]byte
	if err := primitives.RandomBytes(identity[:]); err != nil {
		http.Error(w, "identity generation failed", http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	s.nodes = append(s.nodes, descriptor.NodeInfo{
		Hostname: req.Hostname,
		Port:     req.Port,
		Role:     role,
		Identity: identity,
	})
	nodeID := len(s.nodes)
	s.mu.Unlock()

	s.logger.Info("node registered", "hostname", req.Hostname, "port", req.Port, "role", role.String(), "node_id", nodeID)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(registerResponse{Status: "registered", NodeID: nodeID})
}
