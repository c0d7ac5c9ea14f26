package models

import "time"

type Card struct {
	Number int    `json:"number"`
	Path   string `json:"path"`
}

// Session holds the answers of one conversation. Comments name the state
// whose input fills the field.
type Session struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	ChatID    int64     `json:"chat_id"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`

	Request     string `json:"request,omitempty"`      // get_request
	RequestType string `json:"request_type,omitempty"` // choose_request_type
	CardType    string `json:"card_type,omitempty"`    // choose_card_type
	Card        *Card  `json:"card,omitempty"`         // choose_card_type

	Feelings            string `json:"feelings,omitempty"`             // work_2
	Views               string `json:"views,omitempty"`                // work_3
	PleasantCharacter   string `json:"pleasant_character,omitempty"`   // work_4
	UnpleasantCharacter string `json:"unpleasant_character,omitempty"` // work_5
	CharactersFeelings  string `json:"characters_feelings,omitempty"`  // work_6
	WhatsHappening      string `json:"whats_happening,omitempty"`      // work_7

	Resonates string `json:"resonates,omitempty"` // work_result
	Insight   string `json:"insight,omitempty"`   // work_result_3
	GotHint   string `json:"got_hint,omitempty"`  // work_result_5
}

// Answers returns the collected free text in dialogue order, skipping blanks.
func (s *Session) Answers() []string {
	all := []string{
		s.Request,
		s.Feelings,
		s.Views,
		s.PleasantCharacter,
		s.UnpleasantCharacter,
		s.CharactersFeelings,
		s.WhatsHappening,
	}
	out := make([]string, 0, len(all))
	for _, a := range all {
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

type Reminder struct {
	ID         int64      `json:"id"`
	TelegramID int64      `json:"telegram_id"`
	SessionID  string     `json:"session_id"`
	FireAt     time.Time  `json:"fire_at"`
	FiredAt    *time.Time `json:"fired_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}
