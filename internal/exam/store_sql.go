package exam

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQLStore persists questions, exams and sessions through database/sql.
// All statements use $n placeholders, which both supported drivers accept.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore { return &SQLStore{db: db} }

func randHex(n int) string {
	b := make([]byte, n)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// ---------- questions ----------

func (s *SQLStore) CreateQuestion(ctx context.Context, creatorID, text string, options map[string]string, answer string) (Question, error) {
	opts, err := json.Marshal(options)
	if err != nil {
		return Question{}, err
	}
	now := time.Now().Unix()
	q := Question{
		ID:           uuid.New().String(),
		CreatorID:    creatorID,
		QuestionText: text,
		Options:      options,
		AnswerLetter: answer,
		Status:       StatusTemp,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO questions (id, creator_id, question_text, options_json, answer_letter, status, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		q.ID, q.CreatorID, q.QuestionText, string(opts), q.AnswerLetter, q.Status, q.CreatedAt, q.UpdatedAt)
	if err != nil {
		return Question{}, err
	}
	return q, nil
}

func scanQuestion(row interface{ Scan(...any) error }) (Question, error) {
	var (
		q     Question
		opts  string
		evID  sql.NullString
	)
	if err := row.Scan(&q.ID, &q.CreatorID, &q.QuestionText, &opts, &q.AnswerLetter, &q.Status, &evID, &q.CreatedAt, &q.UpdatedAt); err != nil {
		return Question{}, err
	}
	if err := json.Unmarshal([]byte(opts), &q.Options); err != nil {
		return Question{}, fmt.Errorf("decode options for %s: %w", q.ID, err)
	}
	return q, nil
}

const questionCols = `id, creator_id, question_text, options_json, answer_letter, status, latest_evaluation_id, created_at, updated_at`

// GetQuestion returns a question with its latest evaluation attached, if any.
// Only the creator sees it; ownerID "" skips the ownership check.
func (s *SQLStore) GetQuestion(ctx context.Context, id, ownerID string) (Question, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+questionCols+` FROM questions WHERE id=$1`, id)
	q, err := scanQuestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Question{}, ErrNotFound
	}
	if err != nil {
		return Question{}, err
	}
	if ownerID != "" && q.CreatorID != ownerID {
		return Question{}, ErrNotFound
	}
	ev, err := s.latestEvaluation(ctx, q.ID)
	if err != nil {
		return Question{}, err
	}
	q.Evaluation = ev
	return q, nil
}

func (s *SQLStore) latestEvaluation(ctx context.Context, questionID string) (*Evaluation, error) {
	var e Evaluation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, question_id, model_version, total_score, accuracy_score, alignment_score,
		        distractors_score, clarity_score, status_by_agent, raw_response_json, created_at
		 FROM question_evaluations WHERE question_id=$1 ORDER BY created_at DESC LIMIT 1`, questionID).
		Scan(&e.ID, &e.QuestionID, &e.ModelVersion, &e.TotalScore, &e.AccuracyScore, &e.AlignmentScore,
			&e.DistractorScore, &e.ClarityScore, &e.StatusByAgent, &e.RawResponse, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// ListQuestions returns the owner's questions narrowed by the filter.
func (s *SQLStore) ListQuestions(ctx context.Context, ownerID string, f QuestionFilter) ([]Question, error) {
	args := []any{ownerID}
	where := []string{"q.creator_id=$1"}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Status != "" {
		where = append(where, "q.status="+arg(f.Status))
	}
	if f.CreatedFrom > 0 {
		where = append(where, "q.created_at>="+arg(f.CreatedFrom))
	}
	if f.CreatedTo > 0 {
		where = append(where, "q.created_at<="+arg(f.CreatedTo))
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		switch f.SearchIn {
		case "text":
			where = append(where, "q.question_text LIKE "+arg(like))
		case "options":
			where = append(where, "q.options_json LIKE "+arg(like))
		default:
			p1, p2 := arg(like), arg(like)
			where = append(where, "(q.question_text LIKE "+p1+" OR q.options_json LIKE "+p2+")")
		}
	}

	order := "q.created_at DESC"
	join := ""
	switch f.Sort {
	case "oldest":
		order = "q.created_at ASC"
	case "score_high":
		join = ` LEFT JOIN question_evaluations e ON e.id = q.latest_evaluation_id`
		order = "e.total_score DESC"
	case "score_low":
		join = ` LEFT JOIN question_evaluations e ON e.id = q.latest_evaluation_id`
		order = "e.total_score ASC"
	}

	query := `SELECT q.id, q.creator_id, q.question_text, q.options_json, q.answer_letter, q.status,
	                 q.latest_evaluation_id, q.created_at, q.updated_at
	          FROM questions q` + join + `
	          WHERE ` + strings.Join(where, " AND ") + `
	          ORDER BY ` + order

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *SQLStore) UpdateQuestion(ctx context.Context, id, ownerID, text string, options map[string]string, answer string) (Question, error) {
	opts, err := json.Marshal(options)
	if err != nil {
		return Question{}, err
	}
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx,
		`UPDATE questions SET question_text=$1, options_json=$2, answer_letter=$3, updated_at=$4
		 WHERE id=$5 AND creator_id=$6`,
		text, string(opts), answer, now, id, ownerID)
	if err != nil {
		return Question{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Question{}, ErrNotFound
	}
	return s.GetQuestion(ctx, id, ownerID)
}

func (s *SQLStore) DeleteQuestion(ctx context.Context, id, ownerID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM questions WHERE id=$1 AND creator_id=$2`, id, ownerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveEvaluation records a review verdict and promotes it to the question's
// latest evaluation, updating the question status from the agent verdict.
func (s *SQLStore) SaveEvaluation(ctx context.Context, e Evaluation) (Evaluation, error) {
	e.ID = uuid.New().String()
	e.CreatedAt = time.Now().Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Evaluation{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO question_evaluations
		   (id, question_id, model_version, total_score, accuracy_score, alignment_score,
		    distractors_score, clarity_score, status_by_agent, raw_response_json, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		e.ID, e.QuestionID, e.ModelVersion, e.TotalScore, e.AccuracyScore, e.AlignmentScore,
		e.DistractorScore, e.ClarityScore, e.StatusByAgent, e.RawResponse, e.CreatedAt)
	if err != nil {
		return Evaluation{}, err
	}

	status := StatusTemp
	switch e.StatusByAgent {
	case StatusApproved, StatusRejected:
		status = e.StatusByAgent
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE questions SET latest_evaluation_id=$1, status=$2, updated_at=$3 WHERE id=$4`,
		e.ID, status, e.CreatedAt, e.QuestionID)
	if err != nil {
		return Evaluation{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Evaluation{}, ErrNotFound
	}
	return e, tx.Commit()
}

// ---------- exams ----------

// CreateExam links the given questions in list order and mints a unique share token.
func (s *SQLStore) CreateExam(ctx context.Context, ownerID, title, description string, questionIDs []string) (Exam, error) {
	token, err := s.uniqueShareToken(ctx)
	if err != nil {
		return Exam{}, err
	}
	e := Exam{
		ID:          uuid.New().String(),
		Title:       title,
		Description: description,
		OwnerID:     ownerID,
		ShareToken:  token,
		CreatedAt:   time.Now().Unix(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Exam{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO exams (id, title, description, owner_id, share_token, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		e.ID, e.Title, e.Description, e.OwnerID, e.ShareToken, e.CreatedAt)
	if err != nil {
		return Exam{}, err
	}
	for i, qid := range questionIDs {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO exam_questions (exam_id, question_id, order_index) VALUES ($1,$2,$3)`,
			e.ID, qid, i)
		if err != nil {
			return Exam{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return Exam{}, err
	}
	return e, nil
}

func (s *SQLStore) uniqueShareToken(ctx context.Context) (string, error) {
	for i := 0; i < 10; i++ {
		token := randHex(8)
		var one int
		err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM exams WHERE share_token=$1`, token).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return token, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", errors.New("could not mint a unique share token")
}

func (s *SQLStore) ListExams(ctx context.Context, ownerID string) ([]Exam, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, description, owner_id, share_token, created_at
		 FROM exams WHERE owner_id=$1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Exam
	for rows.Next() {
		var e Exam
		if err := rows.Scan(&e.ID, &e.Title, &e.Description, &e.OwnerID, &e.ShareToken, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStore) getExam(ctx context.Context, where string, arg any) (Exam, error) {
	var e Exam
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, owner_id, share_token, created_at FROM exams `+where, arg).
		Scan(&e.ID, &e.Title, &e.Description, &e.OwnerID, &e.ShareToken, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Exam{}, ErrNotFound
	}
	return e, err
}

// GetExam returns the exam with its questions in order, answers included.
// Intended for the owner view; handlers enforce ownership.
func (s *SQLStore) GetExam(ctx context.Context, id string) (Exam, error) {
	e, err := s.getExam(ctx, `WHERE id=$1`, id)
	if err != nil {
		return Exam{}, err
	}
	e.Questions, err = s.examQuestions(ctx, e.ID, true)
	return e, err
}

// GetExamByToken resolves a share link. The answer letters are stripped so the
// payload is safe to hand to a taker.
func (s *SQLStore) GetExamByToken(ctx context.Context, token string) (Exam, error) {
	e, err := s.getExam(ctx, `WHERE share_token=$1`, token)
	if err != nil {
		return Exam{}, err
	}
	e.Questions, err = s.examQuestions(ctx, e.ID, false)
	return e, err
}

func (s *SQLStore) examQuestions(ctx context.Context, examID string, withAnswers bool) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT q.id, q.creator_id, q.question_text, q.options_json, q.answer_letter, q.status,
		        q.latest_evaluation_id, q.created_at, q.updated_at
		 FROM exam_questions eq
		 JOIN questions q ON q.id = eq.question_id
		 WHERE eq.exam_id=$1
		 ORDER BY eq.order_index`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		if !withAnswers {
			q.AnswerLetter = ""
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *SQLStore) DeleteExam(ctx context.Context, id, ownerID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM exams WHERE id=$1 AND owner_id=$2`, id, ownerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ExamResults lists submitted sessions for the owner dashboard, with the
// taker's display name and the exam's question count.
func (s *SQLStore) ExamResults(ctx context.Context, examID string) ([]ExamSessionSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT es.id, COALESCE(u.username, es.guest_name, 'anonymous'),
		        COALESCE(es.total_score, 0), es.end_time,
		        (SELECT COUNT(*) FROM exam_questions eq WHERE eq.exam_id = es.exam_id)
		 FROM exam_sessions es
		 LEFT JOIN users u ON u.id = es.user_id
		 WHERE es.exam_id=$1 AND es.end_time IS NOT NULL
		 ORDER BY es.end_time DESC`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExamSessionSummary
	for rows.Next() {
		var r ExamSessionSummary
		if err := rows.Scan(&r.SessionID, &r.TakerName, &r.Score, &r.SubmittedAt, &r.Total); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---------- sessions ----------

func (s *SQLStore) StartSession(ctx context.Context, examID string, taker Taker, ref LTIRef) (Session, error) {
	if (taker.UserID == "") == (taker.GuestName == "") {
		return Session{}, ErrNoTaker
	}
	if _, err := s.getExam(ctx, `WHERE id=$1`, examID); err != nil {
		return Session{}, err
	}

	sess := Session{
		ID:          uuid.New().String(),
		ExamID:      examID,
		UserID:      taker.UserID,
		GuestName:   taker.GuestName,
		StartTime:   time.Now().Unix(),
		LineItemURL: ref.LineItemURL,
		LTIUserSub:  ref.UserSub,
		LTIIssuer:   ref.Issuer,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exam_sessions
		   (id, exam_id, user_id, guest_name, start_time, lti_lineitem_url, lti_user_sub, lti_iss)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		sess.ID, sess.ExamID, nullable(sess.UserID), nullable(sess.GuestName),
		sess.StartTime, nullable(sess.LineItemURL), nullable(sess.LTIUserSub), nullable(sess.LTIIssuer))
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *SQLStore) GetSession(ctx context.Context, id string) (Session, error) {
	var (
		sess                   Session
		userID, guest          sql.NullString
		endTime                sql.NullInt64
		score                  sql.NullInt64
		lineitem, ltiSub, iss  sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, exam_id, user_id, guest_name, start_time, end_time, total_score,
		        lti_lineitem_url, lti_user_sub, lti_iss
		 FROM exam_sessions WHERE id=$1`, id).
		Scan(&sess.ID, &sess.ExamID, &userID, &guest, &sess.StartTime, &endTime, &score,
			&lineitem, &ltiSub, &iss)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	sess.UserID = userID.String
	sess.GuestName = guest.String
	if endTime.Valid {
		v := endTime.Int64
		sess.EndTime = &v
	}
	if score.Valid {
		v := int(score.Int64)
		sess.TotalScore = &v
	}
	sess.LineItemURL = lineitem.String
	sess.LTIUserSub = ltiSub.String
	sess.LTIIssuer = iss.String
	return sess, nil
}

// SaveAnswers grades and upserts the given selections. Correctness is fixed at
// save time against the current answer letter. An empty list is a no-op.
func (s *SQLStore) SaveAnswers(ctx context.Context, sessionID string, answers []Answer) error {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Submitted() {
		return ErrAlreadySubmitted
	}
	if len(answers) == 0 {
		return nil
	}

	correct, err := s.answerKey(ctx, sess.ExamID)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, a := range answers {
		key, ok := correct[a.QuestionID]
		if !ok {
			return ErrNotFound
		}
		isCorrect := 0
		if a.SelectedOption == key {
			isCorrect = 1
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO session_results (session_id, question_id, selected_option, is_correct)
			 VALUES ($1,$2,$3,$4)
			 ON CONFLICT (session_id, question_id)
			 DO UPDATE SET selected_option=excluded.selected_option, is_correct=excluded.is_correct`,
			sessionID, a.QuestionID, a.SelectedOption, isCorrect)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLStore) answerKey(ctx context.Context, examID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT q.id, q.answer_letter
		 FROM exam_questions eq JOIN questions q ON q.id = eq.question_id
		 WHERE eq.exam_id=$1`, examID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	key := map[string]string{}
	for rows.Next() {
		var id, letter string
		if err := rows.Scan(&id, &letter); err != nil {
			return nil, err
		}
		key[id] = letter
	}
	return key, rows.Err()
}

// Submit finalizes a session in one transaction: re-checks it is still open,
// counts correct answers, stamps the end time and persists the score.
func (s *SQLStore) Submit(ctx context.Context, sessionID string) (Session, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Session{}, 0, err
	}
	defer tx.Rollback()

	var (
		examID  string
		endTime sql.NullInt64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT exam_id, end_time FROM exam_sessions WHERE id=$1`, sessionID).
		Scan(&examID, &endTime)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, 0, ErrNotFound
	}
	if err != nil {
		return Session{}, 0, err
	}
	if endTime.Valid {
		return Session{}, 0, ErrAlreadySubmitted
	}

	var score int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM session_results WHERE session_id=$1 AND is_correct=1`, sessionID).
		Scan(&score)
	if err != nil {
		return Session{}, 0, err
	}

	var total int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM exam_questions WHERE exam_id=$1`, examID).Scan(&total)
	if err != nil {
		return Session{}, 0, err
	}

	now := time.Now().Unix()
	_, err = tx.ExecContext(ctx,
		`UPDATE exam_sessions SET end_time=$1, total_score=$2 WHERE id=$3`, now, score, sessionID)
	if err != nil {
		return Session{}, 0, err
	}
	if err := tx.Commit(); err != nil {
		return Session{}, 0, err
	}
	return s.mustSession(ctx, sessionID, total)
}

func (s *SQLStore) mustSession(ctx context.Context, id string, total int) (Session, int, error) {
	sess, err := s.GetSession(ctx, id)
	return sess, total, err
}

// SessionResults joins saved answers with question data for the taker's review.
func (s *SQLStore) SessionResults(ctx context.Context, sessionID string) ([]ResultRow, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT q.id, q.question_text, q.options_json, q.answer_letter, sr.selected_option, sr.is_correct
		 FROM session_results sr
		 JOIN questions q ON q.id = sr.question_id
		 JOIN exam_sessions es ON es.id = sr.session_id
		 LEFT JOIN exam_questions eq ON eq.exam_id = es.exam_id AND eq.question_id = q.id
		 WHERE sr.session_id=$1
		 ORDER BY eq.order_index`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ResultRow
	for rows.Next() {
		var (
			r       ResultRow
			opts    string
			correct int
		)
		if err := rows.Scan(&r.QuestionID, &r.QuestionText, &opts, &r.CorrectOption, &r.SelectedOption, &correct); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(opts), &r.Options); err != nil {
			return nil, err
		}
		r.IsCorrect = correct != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// SessionQuestions returns the session's exam questions in order, answers stripped.
func (s *SQLStore) SessionQuestions(ctx context.Context, sessionID string) ([]Question, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.examQuestions(ctx, sess.ExamID, false)
}
