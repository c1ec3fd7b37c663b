// Package grades pushes gradebook scores back to the LMS over LTI
// Assignment and Grade Services.
package grades

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/mind-engage/lti-hubsync/internal/gradebook"
	"github.com/mind-engage/lti-hubsync/internal/logger"
	"github.com/mind-engage/lti-hubsync/internal/lti"
	"github.com/mind-engage/lti-hubsync/internal/metrics"
	"github.com/mind-engage/lti-hubsync/internal/normalize"
)

// Book is the read side of a course gradebook.
type Book interface {
	Course(ctx context.Context) (gradebook.Course, error)
	AssignmentGrades(ctx context.Context, name string) (gradebook.Assignment, []gradebook.Grade, error)
}

type BookOpener func(ctx context.Context, courseID string) (Book, error)

func PoolOpener(p *gradebook.Pool) BookOpener {
	return func(ctx context.Context, courseID string) (Book, error) {
		s, err := p.Get(ctx, courseID)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

type Sender struct {
	ClientID string
	TokenURL string
	Key      *lti.ToolKey
	Books    BookOpener
	HTTP     *http.Client
	Metrics  *metrics.Metrics

	now func() time.Time
}

// Report counts the score posts of one send.
type Report struct {
	Posted int `json:"posted"`
	Failed int `json:"failed"`
}

func NewSender(clientID, tokenURL string, key *lti.ToolKey, books BookOpener, hc *http.Client) *Sender {
	return &Sender{ClientID: clientID, TokenURL: tokenURL, Key: key, Books: books, HTTP: hc, now: time.Now}
}

func (s *Sender) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *Sender) httpClient() *http.Client {
	if s.HTTP != nil {
		return s.HTTP
	}
	return http.DefaultClient
}

// SendGrades posts every graded submission of assignment to its LMS line
// item. A failed post is logged and does not stop the others.
func (s *Sender) SendGrades(ctx context.Context, courseID, assignment string) (Report, error) {
	var rep Report
	log := logger.C(ctx).With().Str("course", courseID).Str("assignment", assignment).Logger()

	book, err := s.Books(ctx, courseID)
	if err != nil {
		return rep, &CriticalError{Msg: "open gradebook", Err: err}
	}
	a, grades, err := book.AssignmentGrades(ctx, assignment)
	if errors.Is(err, gradebook.ErrAssignmentNotFound) {
		return rep, &MissingInfoError{Msg: "assignment " + assignment + " not in gradebook", Err: err}
	}
	if err != nil {
		return rep, &CriticalError{Msg: "read gradebook", Err: err}
	}
	if len(grades) == 0 {
		return rep, ErrAssignmentWithoutGrades
	}
	log.Info().Int("submissions", len(grades)).Float64("max_score", a.MaxScore).Msg("grades found")

	course, err := book.Course(ctx)
	if err != nil || course.LMSLineItemsEndpoint == "" {
		return rep, &MissingInfoError{Msg: "course has no line-items endpoint", Err: err}
	}

	tok, err := s.fetchToken(ctx)
	if err != nil {
		return rep, err
	}

	items, err := s.lineItems(ctx, tok, course.LMSLineItemsEndpoint)
	if err != nil {
		return rep, &CriticalError{Msg: "line items", Err: err}
	}
	if len(items) == 0 {
		return rep, &MissingInfoError{Msg: "no line items for course " + courseID}
	}
	item, ok := MatchLineItem(items, assignment)
	if !ok {
		return rep, &MissingInfoError{Msg: "no line item matches " + assignment}
	}
	maxScore := item.ScoreMaximum
	if maxScore == 0 {
		maxScore = a.MaxScore
	}

	for _, g := range grades {
		sc := Score{
			Timestamp:        s.clock().UTC().Format(time.RFC3339Nano),
			UserID:           g.LMSUserID,
			ScoreGiven:       g.Score,
			ScoreMaximum:     maxScore,
			GradingProgress:  "FullyGraded",
			ActivityProgress: "Completed",
		}
		err := s.postScore(ctx, tok, item.ID, sc)
		s.Metrics.GradePost(metrics.Result(err))
		if err != nil {
			rep.Failed++
			log.Error().Err(err).Str("student", g.StudentID).Msg("score post failed")
			continue
		}
		rep.Posted++
	}
	log.Info().Int("posted", rep.Posted).Int("failed", rep.Failed).Str("line_item", item.ID).Msg("grades sent")
	if rep.Posted == 0 && rep.Failed > 0 {
		return rep, ErrNothingPosted
	}
	return rep, nil
}

// MatchLineItem finds the line item labelled like assignment, either
// case-insensitively or by its normalized form.
func MatchLineItem(items []LineItem, assignment string) (LineItem, bool) {
	want := strings.ToLower(assignment)
	for _, it := range items {
		if strings.ToLower(it.Label) == want {
			return it, true
		}
		if slug, err := normalize.FormatString(it.Label); err == nil && slug == want {
			return it, true
		}
	}
	return LineItem{}, false
}
