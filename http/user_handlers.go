package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"edupredict/db"
)

func (a *API) registerDashboardRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/dashboard/admin", a.handleAdminDashboard)
	mux.HandleFunc("GET /api/dashboard/teacher", a.handleTeacherDashboard)
}

func (a *API) registerUserRoutes(mux *http.ServeMux) {
	for path, role := range map[string]db.Role{
		"/api/students": db.RoleStudent,
		"/api/teachers": db.RoleTeacher,
	} {
		mux.HandleFunc("GET "+path, a.handleListUsers(role))
		mux.HandleFunc("POST "+path, a.handleCreateUser(role))
		mux.HandleFunc("GET "+path+"/{id}", a.handleGetUser(role))
		mux.HandleFunc("PUT "+path+"/{id}", a.handleUpdateUser(role))
		mux.HandleFunc("DELETE "+path+"/{id}", a.handleDeleteUser(role))
	}
	mux.HandleFunc("POST /api/feedback", a.handleFeedback)
}

func (a *API) handleAdminDashboard(w http.ResponseWriter, r *http.Request) {
	students, err := db.CountByRole(db.RoleStudent)
	if err != nil {
		a.writeError(w, r, err, "")
		return
	}
	teachers, err := db.CountByRole(db.RoleTeacher)
	if err != nil {
		a.writeError(w, r, err, "")
		return
	}
	respondJSON(w, map[string]any{
		"students":  students,
		"teachers":  teachers,
		"timestamp": time.Now(),
	})
}

func (a *API) handleTeacherDashboard(w http.ResponseWriter, r *http.Request) {
	students, err := db.CountByRole(db.RoleStudent)
	if err != nil {
		a.writeError(w, r, err, "")
		return
	}
	respondJSON(w, map[string]any{
		"students":  students,
		"timestamp": time.Now(),
	})
}

func (a *API) handleListUsers(role db.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := db.ListUsers(role)
		if err != nil {
			a.writeError(w, r, err, "")
			return
		}
		respondJSON(w, map[string]any{
			"users": users,
			"count": len(users),
		})
	}
}

func (a *API) handleCreateUser(role db.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, password, err := userFromForm(r, role)
		if err != nil {
			a.writeError(w, r, err, "")
			return
		}
		if password == "" {
			a.writeError(w, r, errBadRequest("password is required"), "")
			return
		}
		if err := db.CreateUser(u, password); err != nil {
			a.writeError(w, r, err, "")
			return
		}
		writeJSON(w, http.StatusCreated, u)
	}
}

func (a *API) handleGetUser(role db.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			a.writeError(w, r, err, "")
			return
		}
		u, err := db.GetUser(id, role)
		if err != nil {
			a.writeError(w, r, err, "")
			return
		}
		respondJSON(w, u)
	}
}

func (a *API) handleUpdateUser(role db.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			a.writeError(w, r, err, "")
			return
		}
		u, password, err := userFromForm(r, role)
		if err != nil {
			a.writeError(w, r, err, "")
			return
		}
		u.ID = id
		if err := db.UpdateUser(u, password); err != nil {
			a.writeError(w, r, err, "")
			return
		}
		updated, err := db.GetUser(id, role)
		if err != nil {
			a.writeError(w, r, err, "")
			return
		}
		respondJSON(w, updated)
	}
}

func (a *API) handleDeleteUser(role db.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			a.writeError(w, r, err, "")
			return
		}
		if err := db.DeleteUser(id, role); err != nil {
			a.writeError(w, r, err, "")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *API) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		a.writeError(w, r, errBadRequest("invalid form: %v", err), screenContact)
		return
	}
	userID, err := strconv.ParseInt(r.PostForm.Get("user_id"), 10, 64)
	if err != nil {
		a.writeError(w, r, errBadRequest("user_id must be an integer"), screenContact)
		return
	}
	f := &db.Feedback{
		UserID:  userID,
		Name:    strings.TrimSpace(r.PostForm.Get("name")),
		Email:   strings.TrimSpace(r.PostForm.Get("email")),
		Subject: strings.TrimSpace(r.PostForm.Get("subject")),
		Message: strings.TrimSpace(r.PostForm.Get("message")),
	}
	if f.Message == "" {
		a.writeError(w, r, errBadRequest("message is required"), screenContact)
		return
	}
	if err := db.SaveFeedback(f); err != nil {
		a.writeError(w, r, err, screenContact)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

// userFromForm reads the editable user fields. Class and roll number are
// kept for students, subject and department for teachers.
func userFromForm(r *http.Request, role db.Role) (*db.User, string, error) {
	if err := r.ParseForm(); err != nil {
		return nil, "", errBadRequest("invalid form: %v", err)
	}
	get := func(key string) string { return strings.TrimSpace(r.PostForm.Get(key)) }

	u := &db.User{Name: get("name"), Email: strings.ToLower(get("email")), Role: role}
	if u.Name == "" || u.Email == "" {
		return nil, "", errBadRequest("name and email are required")
	}
	if !strings.Contains(u.Email, "@") {
		return nil, "", errBadRequest("invalid email %q", u.Email)
	}
	switch role {
	case db.RoleStudent:
		u.ClassName = get("class_name")
		u.RollNo = get("roll_no")
	case db.RoleTeacher:
		u.Subject = get("subject")
		u.Department = get("department")
	}
	return u, r.PostForm.Get("password"), nil
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errBadRequest("invalid id %q", r.PathValue("id"))
	}
	return id, nil
}
