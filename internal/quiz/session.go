package quiz

import (
	"fmt"
	"math/rand/v2"

	"github.com/jmgilman/go/errors"
)

const (
	PointsPerQuestion  = 10
	DefaultExplanation = "本題無詳細解析。"
)

type State int

const (
	StateMenu State = iota
	StateLoading
	StateInQuestion
	StateShowingExplanation
	StateResult
)

func (s State) String() string {
	switch s {
	case StateMenu:
		return "menu"
	case StateLoading:
		return "loading"
	case StateInQuestion:
		return "in-question"
	case StateShowingExplanation:
		return "showing-explanation"
	case StateResult:
		return "result"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var ErrIllegalTransition = errors.New(errors.CodeConflict, "illegal quiz transition")

type AnswerResult struct {
	Correct     bool
	Answer      string
	Explanation string
}

type Progress struct {
	Position int
	Total    int
	Score    int
}

// Percent is how far through the bank the current question is, 0 to 100.
func (p Progress) Percent() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Position) / float64(p.Total) * 100
}

// Session is one user's run through the menu, a bank and its result. Each
// method is an input event and only succeeds from the states that accept it,
// so a repeated answer cannot score twice.
type Session struct {
	rng *rand.Rand

	state     State
	topic     Topic
	bank      []Question
	questions []Question
	index     int
	score     int
	lastErr   error
}

func NewSession(rng *rand.Rand) *Session {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Session{rng: rng, state: StateMenu}
}

func (s *Session) State() State {
	return s.state
}

func (s *Session) Topic() Topic {
	return s.topic
}

// LastError is the reason the most recent bank load failed, if it did.
func (s *Session) LastError() error {
	return s.lastErr
}

func (s *Session) SelectTopic(t Topic) error {
	if err := s.expect("select topic", StateMenu); err != nil {
		return err
	}
	s.topic = t
	s.lastErr = nil
	s.state = StateLoading
	return nil
}

func (s *Session) BankLoaded(questions []Question) error {
	if err := s.expect("bank loaded", StateLoading); err != nil {
		return err
	}
	if len(questions) == 0 {
		return s.BankFailed(ErrBankUnavailable)
	}
	s.bank = questions
	s.start()
	return nil
}

func (s *Session) BankFailed(cause error) error {
	if err := s.expect("bank failed", StateLoading); err != nil {
		return err
	}
	s.lastErr = cause
	s.state = StateMenu
	return nil
}

func (s *Session) Current() (Question, bool) {
	if s.state != StateInQuestion && s.state != StateShowingExplanation {
		return Question{}, false
	}
	return s.questions[s.index], true
}

func (s *Session) Answer(option string) (AnswerResult, error) {
	if err := s.expect("answer", StateInQuestion); err != nil {
		return AnswerResult{}, err
	}
	q := s.questions[s.index]
	res := AnswerResult{
		Correct:     option == q.Answer,
		Answer:      q.Answer,
		Explanation: q.Explanation,
	}
	if res.Explanation == "" {
		res.Explanation = DefaultExplanation
	}
	if res.Correct {
		s.score += PointsPerQuestion
	}
	s.state = StateShowingExplanation
	return res, nil
}

func (s *Session) Next() error {
	if err := s.expect("next", StateShowingExplanation); err != nil {
		return err
	}
	s.index++
	if s.index < len(s.questions) {
		s.state = StateInQuestion
	} else {
		s.index = len(s.questions) - 1
		s.state = StateResult
	}
	return nil
}

// Restart replays the same bank from the result screen, reshuffling review
// banks.
func (s *Session) Restart() error {
	if err := s.expect("restart", StateResult); err != nil {
		return err
	}
	s.start()
	return nil
}

func (s *Session) Home() error {
	if err := s.expect("home", StateMenu, StateInQuestion, StateShowingExplanation, StateResult); err != nil {
		return err
	}
	s.state = StateMenu
	return nil
}

func (s *Session) Progress() Progress {
	p := Progress{Total: len(s.questions), Score: s.score}
	if len(s.questions) > 0 {
		p.Position = s.index + 1
	}
	return p
}

// Comment grades a finished run.
func (s *Session) Comment() string {
	if len(s.questions) == 0 {
		return ""
	}
	p := float64(s.score) / float64(len(s.questions)*PointsPerQuestion)
	switch {
	case p == 1:
		return "完美！文法大師！"
	case p >= 0.8:
		return "很棒！觀念很清楚！"
	case p >= 0.6:
		return "及格了，繼續保持！"
	default:
		return "加油，再試一次！"
	}
}

func (s *Session) start() {
	if s.topic.Review() {
		s.questions = Shuffle(s.rng, s.bank)
	} else {
		s.questions = s.bank
	}
	s.index = 0
	s.score = 0
	s.state = StateInQuestion
}

func (s *Session) expect(event string, allowed ...State) error {
	for _, st := range allowed {
		if s.state == st {
			return nil
		}
	}
	return errors.WrapWithContext(ErrIllegalTransition, errors.CodeConflict,
		fmt.Sprintf("%s not allowed", event),
		map[string]interface{}{"event": event, "state": s.state.String()},
	)
}
