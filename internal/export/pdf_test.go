package export

import (
	"bytes"
	"testing"

	"github.com/mcqlabs/examhub/internal/exam"
)

func TestQuestionsPDF(t *testing.T) {
	questions := []exam.Question{
		{
			QuestionText: "Closest planet to the sun?",
			Options:      map[string]string{"A": "Mercury", "B": "Venus", "C": "Earth", "D": "Mars"},
			AnswerLetter: "A",
		},
		{
			QuestionText: "Largest ocean?",
			Options:      map[string]string{"A": "Atlantic", "B": "Pacific"},
			AnswerLetter: "B",
		},
	}

	var buf bytes.Buffer
	if err := QuestionsPDF(&buf, "Sample Quiz", questions, true); err != nil {
		t.Fatalf("render: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("empty output")
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF")) {
		t.Fatalf("not a PDF: %q", buf.Bytes()[:8])
	}
}

func TestQuestionsPDFEmptyList(t *testing.T) {
	var buf bytes.Buffer
	if err := QuestionsPDF(&buf, "Empty", nil, false); err != nil {
		t.Fatalf("render: %v", err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF")) {
		t.Fatal("not a PDF")
	}
}
