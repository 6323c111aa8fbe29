package export

import (
	"fmt"
	"io"
	"sort"

	"github.com/go-pdf/fpdf"

	"github.com/mcqlabs/examhub/internal/exam"
)

// QuestionsPDF renders a numbered question list to PDF. When includeAnswers is
// set, the correct option is marked so the document works as an answer sheet.
func QuestionsPDF(w io.Writer, title string, questions []exam.Question, includeAnswers bool) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.MultiCell(0, 9, title, "", "C", false)
	pdf.Ln(4)

	for i, q := range questions {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.MultiCell(0, 6, fmt.Sprintf("%d. %s", i+1, q.QuestionText), "", "L", false)

		for _, letter := range sortedLetters(q.Options) {
			label := fmt.Sprintf("   %s) %s", letter, q.Options[letter])
			if includeAnswers && letter == q.AnswerLetter {
				pdf.SetFont("Helvetica", "B", 10)
				label += "   [correct]"
			} else {
				pdf.SetFont("Helvetica", "", 10)
			}
			pdf.MultiCell(0, 5.5, label, "", "L", false)
		}
		pdf.Ln(3)
	}

	return pdf.Output(w)
}

func sortedLetters(options map[string]string) []string {
	out := make([]string, 0, len(options))
	for k := range options {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
