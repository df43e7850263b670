package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"hustl/pkg/domain"
	"hustl/services/api/internal/app"
)

type signinRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.signupLimiter, "signup|"+s.clientIP(r), "too many signup attempts") {
		s.audit(r, "auth.signup", "rate_limited")
		return
	}
	var req app.SignUpInput
	if err := decodeJSON(r, &req); err != nil {
		s.audit(r, "auth.signup", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.app.Auth.SignUp(r.Context(), req)
	if err != nil {
		s.audit(r, "auth.signup", "fail", "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.signup", "success", "user_id", res.Profile.ID)
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleSignin(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.loginLimiter, "signin|"+s.clientIP(r), "too many sign-in attempts") {
		s.audit(r, "auth.signin", "rate_limited")
		return
	}
	var req signinRequest
	if err := decodeJSON(r, &req); err != nil {
		s.audit(r, "auth.signin", "fail", "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.app.Auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		s.audit(r, "auth.signin", "fail", "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.signin", "success", "user_id", res.Profile.ID)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSignout(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "auth.signout", "fail", "reason", "missing_token")
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := s.app.Auth.SignOut(r.Context(), token); err != nil {
		s.audit(r, "auth.signout", "fail", "reason", err.Error())
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.signout", "success")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request, _ string) {
	token, _ := bearerToken(r)
	sess, err := s.app.Auth.GetSession(r.Context(), token)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.app.Categories.List(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeList(w, categories)
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request, _ string) {
	profile, err := s.app.Profiles.GetCurrent(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request, _ string) {
	var patch domain.ProfilePatch
	if err := decodeJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	profile, err := s.app.Profiles.Update(r.Context(), patch)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleAvatar(w http.ResponseWriter, r *http.Request, _ string) {
	file, filename, size, ok := s.readImage(w, r)
	if !ok {
		return
	}
	defer file.Close()
	profile, err := s.app.Profiles.SetAvatar(r.Context(), filename, file, size)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request, _ string) {
	profile, err := s.app.Profiles.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	// phone and email stay private to their owner
	if current, _ := app.UserIDFromContext(r.Context()); current != profile.ID {
		profile.Phone = ""
		profile.Email = ""
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleProfileReviews(w http.ResponseWriter, r *http.Request, _ string) {
	reviews, err := s.app.Profiles.ListReviews(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeList(w, reviews)
}

func (s *Server) handleCreateReview(w http.ResponseWriter, r *http.Request, _ string) {
	var req domain.ReviewInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	review, err := s.app.Reviews.Create(r.Context(), req)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, review)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request, userID string) {
	txs, err := s.app.Transactions.ListForUser(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeList(w, txs)
}

func (s *Server) handleWalletSummary(w http.ResponseWriter, r *http.Request, userID string) {
	summary, err := s.app.Transactions.Summary(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// readImage pulls the "file" part of a multipart upload. It writes the
// error response itself when ok is false.
func (s *Server) readImage(w http.ResponseWriter, r *http.Request) (io.ReadCloser, string, int64, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.app.MaxImageBytes()+1<<20)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return nil, "", 0, false
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return nil, "", 0, false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return nil, "", 0, false
	}
	return file, strings.TrimSpace(header.Filename), header.Size, true
}
