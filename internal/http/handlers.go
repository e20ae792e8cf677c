package http

import (
	"errors"
	"net/http"

	"tutorme/tutorchat/internal/command"
	"tutorme/tutorchat/internal/model"
	"tutorme/tutorchat/internal/tutors"
)

// Tutors

func (s *Server) handleRegisterTutor(w http.ResponseWriter, r *http.Request) {
	var req tutors.Profile
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	tutor, err := s.tutors.Register(r.Context(), requestSession(r), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tutor)
}

func (s *Server) handleListTutors(w http.ResponseWriter, r *http.Request) {
	list, err := s.tutors.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tutors": list})
}

func (s *Server) handleGetTutor(w http.ResponseWriter, r *http.Request) {
	tutor, err := s.tutors.Get(r.Context(), pathIdentity(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tutor)
}

func (s *Server) handleRanking(w http.ResponseWriter, r *http.Request) {
	ranking, err := s.votes.Ranking(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ranking": ranking})
}

type castVoteRequest struct {
	Kind string `json:"kind"`
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	var req castVoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	kind, ok := model.ParseVoteKind(req.Kind)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_vote_kind")
		return
	}
	result, err := s.votes.Cast(r.Context(), requestSession(r), pathIdentity(r), kind)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Conversations

func (s *Server) handleContacts(w http.ResponseWriter, r *http.Request) {
	list, err := s.contacts.Contacts(r.Context(), requestSession(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contacts": list})
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.chat.History(r.Context(), requestSession(r), pathIdentity(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

type sendMessageRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	msg, err := s.chat.Send(r.Context(), requestSession(r), pathIdentity(r), req.Text)
	if errors.Is(err, command.ErrEmpty) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

type assistRequest struct {
	Text  string `json:"text"`
	Value string `json:"value"`
}

func (s *Server) handleAssist(w http.ResponseWriter, r *http.Request) {
	var req assistRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	assistance, err := command.Assist(req.Text, req.Value)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, assistance)
}

func (s *Server) handleCertificates(w http.ResponseWriter, r *http.Request) {
	certs, err := s.chat.Certificates(r.Context(), requestSession(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"certificates": certs})
}
