package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mcqlabs/examhub/internal/auth/middleware"
	"github.com/mcqlabs/examhub/internal/exam"
	"github.com/mcqlabs/examhub/internal/lti"
)

// POST /sessions  {"exam_id":..., "guest_name":...}
// Authenticated callers sit the exam under their account; anonymous callers
// must supply a guest name.
func StartSessionHandler(store *exam.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ExamID    string `json:"exam_id"`
			GuestName string `json:"guest_name"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		taker := exam.Taker{GuestName: req.GuestName}
		if u, ok := middleware.CurrentUser(r.Context()); ok {
			taker = exam.Taker{UserID: u.ID}
		}
		sess, err := store.StartSession(r.Context(), req.ExamID, taker, exam.LTIRef{})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sess)
	}
}

func sessionAccess(store *exam.SQLStore, w http.ResponseWriter, r *http.Request) (exam.Session, bool) {
	sess, err := store.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return exam.Session{}, false
	}
	// account-bound sessions are off limits to other signed-in users
	if u, ok := middleware.CurrentUser(r.Context()); ok && sess.UserID != "" && sess.UserID != u.ID && !u.IsAdmin {
		writeErrMsg(w, http.StatusForbidden, "forbidden")
		return exam.Session{}, false
	}
	return sess, true
}

// PUT /sessions/{id}/answers  {"answers":[{"question_id":..., "selected_option":...}]}
func SaveAnswersHandler(store *exam.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := sessionAccess(store, w, r)
		if !ok {
			return
		}
		var req struct {
			Answers []exam.Answer `json:"answers"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := store.SaveAnswers(r.Context(), sess.ID, req.Answers); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"saved": len(req.Answers)})
	}
}

// POST /sessions/{id}/submit
// Finalizes the session and, when it came from an LMS launch, pushes the
// grade back after the transaction has committed.
func SubmitSessionHandler(store *exam.SQLStore, grader *lti.Grader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := sessionAccess(store, w, r)
		if !ok {
			return
		}
		done, total, err := store.Submit(r.Context(), sess.ID)
		if err != nil {
			writeErr(w, err)
			return
		}
		if grader != nil {
			grader.SubmitGradeAsync(done, *done.TotalScore, total)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session": done,
			"total":   total,
		})
	}
}

// GET /sessions/{id}/results
func SessionResultsHandler(store *exam.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := sessionAccess(store, w, r)
		if !ok {
			return
		}
		rows, err := store.SessionResults(r.Context(), sess.ID)
		if err != nil {
			writeErr(w, err)
			return
		}
		if rows == nil {
			rows = []exam.ResultRow{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session": sess,
			"results": rows,
		})
	}
}

// GET /sessions/{id}/questions  (answers stripped, exam order)
func SessionQuestionsHandler(store *exam.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := sessionAccess(store, w, r)
		if !ok {
			return
		}
		qs, err := store.SessionQuestions(r.Context(), sess.ID)
		if err != nil {
			writeErr(w, err)
			return
		}
		if qs == nil {
			qs = []exam.Question{}
		}
		writeJSON(w, http.StatusOK, qs)
	}
}
