package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
		return
	}
	if body.Password == "" {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "password is required", nil)
		return
	}
	sess, err := s.service.Login(r.Context(), clientIP(r), body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, map[string]any{"token": sess.Token, "filter": sess.Filter})
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.service.Logout(bearerToken(r))
	writeOK(w, nil)
}

func (s *HTTPServer) handleCheck(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	writeOK(w, map[string]any{
		"authenticated": true,
		"isAdmin":       sess.IsAdmin,
		"filter":        sess.Filter,
		"expiresAt":     sess.ExpiresAt,
	})
}

func (s *HTTPServer) handleChangeViewerPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OldPassword string `json:"oldPassword"`
		NewPassword string `json:"newPassword"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
		return
	}
	if err := s.service.ChangeViewerPassword(r.Context(), sessionFromContext(r.Context()), body.OldPassword, body.NewPassword); err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, map[string]any{"message": "Password changed"})
}

func (s *HTTPServer) handleReceive(w http.ResponseWriter, r *http.Request) {
	var body ReceiveInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
		return
	}
	msg, err := s.service.Receive(r.Context(), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, map[string]any{"id": msg.ID})
}

func (s *HTTPServer) handlePending(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.ListPending(r.Context(), r.URL.Query().Get("device_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, map[string]any{"data": entries})
}

func (s *HTTPServer) handleSent(w http.ResponseWriter, r *http.Request) {
	var body ReportInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
		return
	}
	if _, err := s.service.ReportStatus(r.Context(), body); err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, nil)
}

func (s *HTTPServer) handleSend(w http.ResponseWriter, r *http.Request) {
	var body SendInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
		return
	}
	entry, err := s.service.Enqueue(r.Context(), sessionFromContext(r.Context()), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, map[string]any{"id": entry.ID, "recipient": entry.Recipient})
}

func (s *HTTPServer) handleConversations(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListConversations(r.Context(), sessionFromContext(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, map[string]any{"data": items})
}

func (s *HTTPServer) handleThread(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListThread(r.Context(), sessionFromContext(r.Context()), chi.URLParam(r, "phone"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, map[string]any{"data": items})
}

func (s *HTTPServer) handleList(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items, err := s.service.ListMessages(r.Context(), sessionFromContext(r.Context()), limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, map[string]any{"data": items})
}

func (s *HTTPServer) handleOutbox(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items, err := s.service.ListOutbox(r.Context(), sessionFromContext(r.Context()), limit, offset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, map[string]any{"data": items})
}

func pageParams(r *http.Request) (limit, offset int, err error) {
	if limit, err = queryInt(r, "limit"); err != nil {
		return 0, 0, err
	}
	if offset, err = queryInt(r, "offset"); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}

func (s *HTTPServer) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	initialized, err := s.service.AdminInitialized(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, map[string]any{"initialized": initialized})
}

type adminCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *HTTPServer) handleAdminInit(w http.ResponseWriter, r *http.Request) {
	var body adminCredentials
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
		return
	}
	admin, err := s.service.InitAdmin(r.Context(), body.Username, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, map[string]any{"username": admin.Username})
}

func (s *HTTPServer) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var body adminCredentials
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
		return
	}
	if body.Username == "" || body.Password == "" {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "username and password are required", nil)
		return
	}
	sess, admin, err := s.service.AdminLogin(r.Context(), clientIP(r), body.Username, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, map[string]any{"token": sess.Token, "username": admin.Username})
}

func (s *HTTPServer) handleAdminChangePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username    string `json:"username"`
		OldPassword string `json:"oldPassword"`
		NewPassword string `json:"newPassword"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
		return
	}
	if err := s.service.ChangeAdminPassword(r.Context(), sessionFromContext(r.Context()), body.Username, body.OldPassword, body.NewPassword); err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, map[string]any{"message": "Password changed"})
}

func (s *HTTPServer) handleAdminInfo(w http.ResponseWriter, r *http.Request) {
	admin, err := s.service.AdminInfo(r.Context(), sessionFromContext(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, map[string]any{"data": map[string]any{
		"username":  admin.Username,
		"createdAt": admin.CreatedAt,
		"updatedAt": admin.UpdatedAt,
	}})
}

func (s *HTTPServer) handleListSubAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.service.ListSubAccounts(r.Context(), sessionFromContext(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, map[string]any{"data": accounts})
}

func (s *HTTPServer) handleCreateSubAccount(w http.ResponseWriter, r *http.Request) {
	var body SubAccountInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
		return
	}
	account, err := s.service.CreateSubAccount(r.Context(), sessionFromContext(r.Context()), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, map[string]any{"id": account.ID, "data": account})
}

func (s *HTTPServer) handleUpdateSubAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body SubAccountInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error(), nil)
		return
	}
	account, err := s.service.UpdateSubAccount(r.Context(), sessionFromContext(r.Context()), id, body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, map[string]any{"data": account})
}

func (s *HTTPServer) handleDeleteSubAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.service.DeleteSubAccount(r.Context(), sessionFromContext(r.Context()), id); err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w, nil)
}
