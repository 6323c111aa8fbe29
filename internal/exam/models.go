package exam

import "errors"

// Sentinel errors the HTTP layer maps to statuses.
var (
	ErrNotFound         = errors.New("not found")
	ErrNoTaker          = errors.New("session needs exactly one of user or guest name")
	ErrAlreadySubmitted = errors.New("session already submitted")
)

// Question statuses follow the review lifecycle: TEMP until evaluated,
// then APPROVED or REJECTED by the latest evaluation.
const (
	StatusTemp     = "TEMP"
	StatusApproved = "APPROVED"
	StatusRejected = "REJECTED"
)

type Question struct {
	ID           string            `json:"question_id"`
	CreatorID    string            `json:"creator_id"`
	QuestionText string            `json:"question_text"`
	Options      map[string]string `json:"options"`
	AnswerLetter string            `json:"answer,omitempty"`
	Status       string            `json:"status"`
	Evaluation   *Evaluation       `json:"evaluation,omitempty"`
	CreatedAt    int64             `json:"created_at"`
	UpdatedAt    int64             `json:"updated_at"`
}

type Evaluation struct {
	ID              string  `json:"evaluation_id"`
	QuestionID      string  `json:"question_id"`
	ModelVersion    string  `json:"model_version"`
	TotalScore      float64 `json:"total_score"`
	AccuracyScore   float64 `json:"accuracy_score"`
	AlignmentScore  float64 `json:"alignment_score"`
	DistractorScore float64 `json:"distractors_score"`
	ClarityScore    float64 `json:"clarity_score"`
	StatusByAgent   string  `json:"status_by_agent"`
	RawResponse     string  `json:"-"`
	CreatedAt       int64   `json:"created_at"`
}

type Exam struct {
	ID          string     `json:"exam_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	OwnerID     string     `json:"owner_id"`
	ShareToken  string     `json:"share_token"`
	CreatedAt   int64      `json:"created_at"`
	Questions   []Question `json:"questions,omitempty"`
}

// Taker identifies who sits a session. Exactly one field must be set.
type Taker struct {
	UserID    string
	GuestName string
}

// LTIRef links a session to its launch so the score can be pushed back.
// Zero value means the session was started outside an LMS.
type LTIRef struct {
	LineItemURL string
	UserSub     string
	Issuer      string
}

type Session struct {
	ID          string `json:"session_id"`
	ExamID      string `json:"exam_id"`
	UserID      string `json:"user_id,omitempty"`
	GuestName   string `json:"guest_name,omitempty"`
	StartTime   int64  `json:"start_time"`
	EndTime     *int64 `json:"end_time,omitempty"`
	TotalScore  *int   `json:"total_score,omitempty"`
	LineItemURL string `json:"-"`
	LTIUserSub  string `json:"-"`
	LTIIssuer   string `json:"-"`
}

// Submitted reports whether the session has been finalized.
func (s Session) Submitted() bool { return s.EndTime != nil }

type Answer struct {
	QuestionID     string `json:"question_id"`
	SelectedOption string `json:"selected_option"`
}

// ResultRow is one graded answer in a taker-facing result view.
type ResultRow struct {
	QuestionID     string            `json:"question_id"`
	QuestionText   string            `json:"question_text"`
	Options        map[string]string `json:"options"`
	CorrectOption  string            `json:"correct_option"`
	SelectedOption string            `json:"selected_option"`
	IsCorrect      bool              `json:"is_correct"`
}

// ExamSessionSummary is one submitted session in the owner-facing results list.
type ExamSessionSummary struct {
	SessionID   string `json:"session_id"`
	TakerName   string `json:"taker_name"`
	Score       int    `json:"score"`
	Total       int    `json:"total"`
	SubmittedAt int64  `json:"submitted_at"`
}

// QuestionFilter narrows and orders a question listing. Zero values are "no filter".
type QuestionFilter struct {
	Status      string
	CreatedFrom int64
	CreatedTo   int64
	Search      string
	SearchIn    string // "text", "options", or "" for both
	Sort        string // "newest" (default), "oldest", "score_high", "score_low"
}
