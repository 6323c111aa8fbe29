package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mcqlabs/examhub/internal/auth/middleware"
	"github.com/mcqlabs/examhub/internal/exam"
)

// POST /exams  {"title":..., "description":..., "question_ids":[...]}
func CreateExamHandler(store *exam.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me, _ := middleware.CurrentUser(r.Context())
		var req struct {
			Title       string   `json:"title"`
			Description string   `json:"description"`
			QuestionIDs []string `json:"question_ids"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Title == "" {
			writeErrMsg(w, http.StatusBadRequest, "title required")
			return
		}
		// the link order in the request becomes the taker-facing order
		for _, qid := range req.QuestionIDs {
			if _, err := store.GetQuestion(r.Context(), qid, me.ID); err != nil {
				writeErr(w, err)
				return
			}
		}
		e, err := store.CreateExam(r.Context(), me.ID, req.Title, req.Description, req.QuestionIDs)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, e)
	}
}

// GET /exams
func ListExamsHandler(store *exam.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me, _ := middleware.CurrentUser(r.Context())
		list, err := store.ListExams(r.Context(), me.ID)
		if err != nil {
			writeErr(w, err)
			return
		}
		if list == nil {
			list = []exam.Exam{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func ownedExam(store *exam.SQLStore, w http.ResponseWriter, r *http.Request) (exam.Exam, bool) {
	me, _ := middleware.CurrentUser(r.Context())
	e, err := store.GetExam(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return exam.Exam{}, false
	}
	if e.OwnerID != me.ID && !me.IsAdmin {
		writeErrMsg(w, http.StatusForbidden, "forbidden")
		return exam.Exam{}, false
	}
	return e, true
}

// GET /exams/{id}
func GetExamHandler(store *exam.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, ok := ownedExam(store, w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, e)
	}
}

// DELETE /exams/{id}
func DeleteExamHandler(store *exam.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, ok := ownedExam(store, w, r)
		if !ok {
			return
		}
		if err := store.DeleteExam(r.Context(), e.ID, e.OwnerID); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// GET /exams/token/{share_token}  (public, answers stripped)
func GetExamByTokenHandler(store *exam.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := store.GetExamByToken(r.Context(), chi.URLParam(r, "share_token"))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, e)
	}
}

// GET /exams/{id}/results
func ExamResultsHandler(store *exam.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, ok := ownedExam(store, w, r)
		if !ok {
			return
		}
		res, err := store.ExamResults(r.Context(), e.ID)
		if err != nil {
			writeErr(w, err)
			return
		}
		if res == nil {
			res = []exam.ExamSessionSummary{}
		}
		writeJSON(w, http.StatusOK, res)
	}
}
