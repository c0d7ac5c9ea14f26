package conversation

import "mac-bot/internal/models"

const (
	StateGetRequest        = "get_request"
	StateChooseRequestType = "choose_request_type"
	StateChooseCardType    = "choose_card_type"
	StateCardShown         = "card_shown"
	StateWork2             = "work_2"
	StateWork3             = "work_3"
	StateWork4             = "work_4"
	StateWork5             = "work_5"
	StateWork6             = "work_6"
	StateWork7             = "work_7"
	StateWorkResult        = "work_result"
	StateWorkResult2       = "work_result_2"
	StateWorkResult3       = "work_result_3"
	StateWorkResult4       = "work_result_4"
	StateWorkResult5       = "work_result_5"
	StateFinished          = "finished"
)

type InputKind int

const (
	// InputText is a plain text message.
	InputText InputKind = iota
	// InputChoice is the data of a pressed inline button.
	InputChoice
	// InputOther covers photos, stickers and anything without text.
	InputOther
)

type Input struct {
	Kind  InputKind
	Value string
}

func Text(v string) Input   { return Input{Kind: InputText, Value: v} }
func Choice(v string) Input { return Input{Kind: InputChoice, Value: v} }

type expect int

const (
	expectText expect = iota
	expectChoice
)

// step describes what a state waits for and where valid input leads.
type step struct {
	description string
	expect      expect
	next        string
	// store copies the accepted input into the session.
	store func(s *models.Session, value string)
}

var steps = map[string]step{
	StateGetRequest: {
		description: "Ожидание запроса",
		expect:      expectText,
		next:        StateChooseRequestType,
		store:       func(s *models.Session, v string) { s.Request = v },
	},
	StateChooseRequestType: {
		description: "Выбор типа запроса",
		expect:      expectChoice,
		next:        StateChooseCardType,
		store:       func(s *models.Session, v string) { s.RequestType = v },
	},
	StateChooseCardType: {
		description: "Выбор колоды",
		expect:      expectChoice,
		next:        StateCardShown,
	},
	StateCardShown: {
		description: "Карта показана",
		expect:      expectChoice,
		next:        StateWork2,
	},
	StateWork2: {
		description: "Чувства",
		expect:      expectText,
		next:        StateWork3,
		store:       func(s *models.Session, v string) { s.Feelings = v },
	},
	StateWork3: {
		description: "Что видно на карте",
		expect:      expectText,
		next:        StateWork4,
		store:       func(s *models.Session, v string) { s.Views = v },
	},
	StateWork4: {
		description: "Приятный персонаж",
		expect:      expectText,
		next:        StateWork5,
		store:       func(s *models.Session, v string) { s.PleasantCharacter = v },
	},
	StateWork5: {
		description: "Неприятный персонаж",
		expect:      expectText,
		next:        StateWork6,
		store:       func(s *models.Session, v string) { s.UnpleasantCharacter = v },
	},
	StateWork6: {
		description: "Чувства персонажей",
		expect:      expectText,
		next:        StateWork7,
		store:       func(s *models.Session, v string) { s.CharactersFeelings = v },
	},
	StateWork7: {
		description: "Что происходит",
		expect:      expectText,
		next:        StateWorkResult,
		store:       func(s *models.Session, v string) { s.WhatsHappening = v },
	},
	StateWorkResult: {
		description: "Отклик на запрос",
		expect:      expectChoice,
		next:        StateWorkResult2,
		store:       func(s *models.Session, v string) { s.Resonates = v },
	},
	StateWorkResult2: {
		description: "Просмотр ответов",
		expect:      expectChoice,
		next:        StateWorkResult3,
	},
	StateWorkResult3: {
		description: "Вывод",
		expect:      expectText,
		next:        StateWorkResult4,
		store:       func(s *models.Session, v string) { s.Insight = v },
	},
	StateWorkResult4: {
		description: "Первый шаг",
		expect:      expectText,
		next:        StateWorkResult5,
	},
	StateWorkResult5: {
		description: "Получена ли подсказка",
		expect:      expectChoice,
		next:        StateFinished,
		store:       func(s *models.Session, v string) { s.GotHint = v },
	},
}

const finishedDescription = "Сессия завершена"

// CanonicalOrder lists the audit events of one complete session.
func CanonicalOrder() []string {
	order := []string{StateGetRequest}
	for s := StateGetRequest; s != StateFinished; {
		s = steps[s].next
		order = append(order, s)
	}
	return order
}

func description(state string) string {
	if state == StateFinished {
		return finishedDescription
	}
	return steps[state].description
}

// promptStates and choiceStates are the catalog entries the controller needs.
func promptStates() []string {
	var out []string
	for name := range steps {
		out = append(out, name)
	}
	return out
}

func choiceStates() []string {
	var out []string
	for name, st := range steps {
		// Card type options come from the catalog's card types.
		if st.expect == expectChoice && name != StateChooseCardType {
			out = append(out, name)
		}
	}
	return out
}
