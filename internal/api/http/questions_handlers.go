package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/mcqlabs/examhub/internal/auth/middleware"
	"github.com/mcqlabs/examhub/internal/exam"
)

type questionBody struct {
	QuestionText string            `json:"question_text"`
	Options      map[string]string `json:"options"`
	Answer       string            `json:"answer"`
}

func (b questionBody) validate(w http.ResponseWriter) bool {
	if b.QuestionText == "" || len(b.Options) < 2 {
		writeErrMsg(w, http.StatusBadRequest, "question_text and at least two options required")
		return false
	}
	if _, ok := b.Options[b.Answer]; !ok {
		writeErrMsg(w, http.StatusBadRequest, "answer must be one of the option letters")
		return false
	}
	return true
}

// POST /questions
func CreateQuestionHandler(store *exam.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me, _ := middleware.CurrentUser(r.Context())
		var req questionBody
		if !decodeJSON(w, r, &req) || !req.validate(w) {
			return
		}
		q, err := store.CreateQuestion(r.Context(), me.ID, req.QuestionText, req.Options, req.Answer)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, q)
	}
}

// GET /questions?status=&created_from=&created_to=&search=&search_in=&sort=
func ListQuestionsHandler(store *exam.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me, _ := middleware.CurrentUser(r.Context())
		q := r.URL.Query()
		f := exam.QuestionFilter{
			Status:   q.Get("status"),
			Search:   q.Get("search"),
			SearchIn: q.Get("search_in"),
			Sort:     q.Get("sort"),
		}
		if v, err := strconv.ParseInt(q.Get("created_from"), 10, 64); err == nil {
			f.CreatedFrom = v
		}
		if v, err := strconv.ParseInt(q.Get("created_to"), 10, 64); err == nil {
			f.CreatedTo = v
		}
		list, err := store.ListQuestions(r.Context(), me.ID, f)
		if err != nil {
			writeErr(w, err)
			return
		}
		if list == nil {
			list = []exam.Question{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// GET /questions/{id}
func GetQuestionHandler(store *exam.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me, _ := middleware.CurrentUser(r.Context())
		q, err := store.GetQuestion(r.Context(), chi.URLParam(r, "id"), me.ID)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, q)
	}
}

// PUT /questions/{id}
func UpdateQuestionHandler(store *exam.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me, _ := middleware.CurrentUser(r.Context())
		var req questionBody
		if !decodeJSON(w, r, &req) || !req.validate(w) {
			return
		}
		q, err := store.UpdateQuestion(r.Context(), chi.URLParam(r, "id"), me.ID, req.QuestionText, req.Options, req.Answer)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, q)
	}
}

// DELETE /questions/{id}
func DeleteQuestionHandler(store *exam.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me, _ := middleware.CurrentUser(r.Context())
		if err := store.DeleteQuestion(r.Context(), chi.URLParam(r, "id"), me.ID); err != nil {
			writeErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// POST /questions/{id}/evaluations
// Records a review verdict for the owner's question.
func EvaluateQuestionHandler(store *exam.SQLStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		me, _ := middleware.CurrentUser(r.Context())
		id := chi.URLParam(r, "id")
		if _, err := store.GetQuestion(r.Context(), id, me.ID); err != nil {
			writeErr(w, err)
			return
		}
		var req struct {
			ModelVersion    string  `json:"model_version"`
			TotalScore      float64 `json:"total_score"`
			AccuracyScore   float64 `json:"accuracy_score"`
			AlignmentScore  float64 `json:"alignment_score"`
			DistractorScore float64 `json:"distractors_score"`
			ClarityScore    float64 `json:"clarity_score"`
			StatusByAgent   string  `json:"status_by_agent"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		ev, err := store.SaveEvaluation(r.Context(), exam.Evaluation{
			QuestionID:      id,
			ModelVersion:    req.ModelVersion,
			TotalScore:      req.TotalScore,
			AccuracyScore:   req.AccuracyScore,
			AlignmentScore:  req.AlignmentScore,
			DistractorScore: req.DistractorScore,
			ClarityScore:    req.ClarityScore,
			StatusByAgent:   req.StatusByAgent,
		})
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, ev)
	}
}
