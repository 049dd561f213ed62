package httpapi

import (
	"encoding/hex"
	"net/http"
)

// PINProvider supplies the PIN a user has typed into nestream's
// console for an in-progress pairing attempt, per spec.md §4.8's
// "PIN entry is out-of-band". cmd/nestream wires this to a terminal
// prompt; tests can wire a fixed PIN.
type PINProvider func(clientID string) (string, error)

// handlePair dispatches one leg of the four-leg pairing handshake,
// identified by which query parameters are present — mirroring how
// GameStream clients issue four separate /pair requests against a
// single client-chosen uniqueid.
func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clientID := q.Get("uniqueid")
	if clientID == "" {
		http.Error(w, "uniqueid required", http.StatusBadRequest)
		return
	}

	switch {
	case q.Get("phrase") == "getservercert":
		s.pairLeg1(w, clientID, q)
	case q.Get("phrase") == "pairchallenge" || q.Get("clientchallenge") != "":
		s.pairLeg2(w, clientID, q)
	case q.Get("serverchallengeresp") != "":
		s.pairLeg3(w, clientID, q)
	case q.Get("clientpairingsecret") != "":
		s.pairLeg4(w, clientID, q)
	default:
		http.Error(w, "unrecognized pairing leg", http.StatusBadRequest)
	}
}

func (s *Server) pairLeg1(w http.ResponseWriter, clientID string, q urlValues) {
	salt, err := hex.DecodeString(q.Get("salt"))
	if err != nil {
		http.Error(w, "bad salt", http.StatusBadRequest)
		return
	}
	certDER, err := hex.DecodeString(q.Get("clientcert"))
	if err != nil {
		http.Error(w, "bad clientcert", http.StatusBadRequest)
		return
	}
	if s.cfg.PINProvider == nil {
		http.Error(w, "pairing unavailable: no PIN provider configured", http.StatusServiceUnavailable)
		return
	}
	pin, err := s.cfg.PINProvider(clientID)
	if err != nil {
		s.logger.Error("pin prompt failed", "error", err)
		http.Error(w, "pin entry failed", http.StatusInternalServerError)
		return
	}

	sessionID, err := s.cfg.Pairing.BeginWithSalt(pin, salt, certDER)
	if err != nil {
		s.logger.Error("pairing leg 1 failed", "error", err, "client", clientID)
		s.writeXML(w, PairResponse{StatusCode: 200, Paired: 0})
		return
	}

	s.mu.Lock()
	s.pending[clientID] = sessionID
	s.mu.Unlock()

	s.writeXML(w, PairResponse{StatusCode: 200, Paired: 1, PlainCert: hex.EncodeToString(s.cfg.Identity.Cert)})
}

func (s *Server) pairLeg2(w http.ResponseWriter, clientID string, q urlValues) {
	sessionID, ok := s.sessionFor(clientID)
	if !ok {
		http.Error(w, "no pairing in progress", http.StatusBadRequest)
		return
	}
	encChallenge, err := hex.DecodeString(q.Get("clientchallenge"))
	if err != nil {
		http.Error(w, "bad clientchallenge", http.StatusBadRequest)
		return
	}

	resp, err := s.cfg.Pairing.RespondToClientChallenge(sessionID, encChallenge)
	if err != nil {
		s.logger.Error("pairing leg 2 failed", "error", err, "client", clientID)
		s.abort(clientID, sessionID)
		s.writeXML(w, PairResponse{StatusCode: 200, Paired: 0})
		return
	}
	s.writeXML(w, PairResponse{StatusCode: 200, Paired: 1, ChallengeResponse: hex.EncodeToString(resp)})
}

func (s *Server) pairLeg3(w http.ResponseWriter, clientID string, q urlValues) {
	sessionID, ok := s.sessionFor(clientID)
	if !ok {
		http.Error(w, "no pairing in progress", http.StatusBadRequest)
		return
	}
	blob, err := hex.DecodeString(q.Get("serverchallengeresp"))
	if err != nil || len(blob) < 32 {
		http.Error(w, "bad serverchallengeresp", http.StatusBadRequest)
		return
	}
	hash, signature := blob[:32], blob[32:]

	if err := s.cfg.Pairing.VerifyClientResponse(sessionID, hash, signature); err != nil {
		s.logger.Error("pairing leg 3 failed", "error", err, "client", clientID)
		s.abort(clientID, sessionID)
		s.writeXML(w, PairResponse{StatusCode: 200, Paired: 0})
		return
	}
	s.writeXML(w, PairResponse{StatusCode: 200, Paired: 1})
}

func (s *Server) pairLeg4(w http.ResponseWriter, clientID string, q urlValues) {
	sessionID, ok := s.sessionFor(clientID)
	if !ok {
		http.Error(w, "no pairing in progress", http.StatusBadRequest)
		return
	}

	signature, _, err := s.cfg.Pairing.CompleteWithSignedHash(sessionID, s.cfg.Identity.Key)
	if err != nil {
		s.logger.Error("pairing leg 4 failed", "error", err, "client", clientID)
		s.abort(clientID, sessionID)
		s.writeXML(w, PairResponse{StatusCode: 200, Paired: 0})
		return
	}

	s.mu.Lock()
	delete(s.pending, clientID)
	s.mu.Unlock()

	s.writeXML(w, PairResponse{StatusCode: 200, Paired: 1, PairingSecret: hex.EncodeToString(signature)})
}

func (s *Server) sessionFor(clientID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.pending[clientID]
	return id, ok
}

func (s *Server) abort(clientID, sessionID string) {
	s.cfg.Pairing.Abort(sessionID)
	s.mu.Lock()
	delete(s.pending, clientID)
	s.mu.Unlock()
}

// urlValues aliases url.Values so this file doesn't need to import
// net/url solely for a parameter type.
type urlValues interface {
	Get(string) string
}
