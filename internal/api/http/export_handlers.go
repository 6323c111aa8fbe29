package api

import (
	"bytes"
	"net/http"

	"github.com/mcqlabs/examhub/internal/exam"
	"github.com/mcqlabs/examhub/internal/export"
)

// POST /export/pdf
// Renders an ad-hoc question list to PDF; the frontend uses this for both
// printable exams and answer sheets.
func ExportPDFHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Title          string `json:"title"`
			IncludeAnswers bool   `json:"include_answers"`
			Questions      []struct {
				QuestionText string            `json:"question_text"`
				Options      map[string]string `json:"options"`
				Answer       string            `json:"answer"`
			} `json:"questions"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Title == "" {
			req.Title = "Exam"
		}
		qs := make([]exam.Question, 0, len(req.Questions))
		for _, q := range req.Questions {
			qs = append(qs, exam.Question{
				QuestionText: q.QuestionText,
				Options:      q.Options,
				AnswerLetter: q.Answer,
			})
		}

		var buf bytes.Buffer
		if err := export.QuestionsPDF(&buf, req.Title, qs, req.IncludeAnswers); err != nil {
			writeErrMsg(w, http.StatusInternalServerError, "pdf rendering failed")
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="exam.pdf"`)
		_, _ = buf.WriteTo(w)
	}
}
