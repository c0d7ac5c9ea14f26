package messages

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultCatalog []byte

type CardType struct {
	Label string `yaml:"label"`
	Value string `yaml:"value"`
}

type Texts struct {
	AnswersHeader         string `yaml:"answers_header"`
	ReflectionHeader      string `yaml:"reflection_header"`
	CardCaption           string `yaml:"card_caption"`
	OutcomeYes            string `yaml:"outcome_yes"`
	OutcomeNo             string `yaml:"outcome_no"`
	Booking               string `yaml:"booking"`
	BookingButton         string `yaml:"booking_button"`
	Reminder              string `yaml:"reminder"`
	Cooldown              string `yaml:"cooldown"`
	CooldownSubscribe     string `yaml:"cooldown_subscribe"`
	NoSession             string `yaml:"no_session"`
	ChooseOption          string `yaml:"choose_option"`
	NeedText              string `yaml:"need_text"`
	Error                 string `yaml:"error"`
	Help                  string `yaml:"help"`
	UnknownCommand        string `yaml:"unknown_command"`
	SubscriptionActive    string `yaml:"subscription_active"`
	SubscriptionNone      string `yaml:"subscription_none"`
	SubscriptionChoose    string `yaml:"subscription_choose"`
	SubscriptionPay       string `yaml:"subscription_pay"`
	SubscriptionPayButton string `yaml:"subscription_pay_button"`
	SubscriptionPaid      string `yaml:"subscription_paid"`
	SubscriptionFailed    string `yaml:"subscription_failed"`
	Oferta                string `yaml:"oferta"`
	OfertaButton          string `yaml:"oferta_button"`
	Privacy               string `yaml:"privacy"`
	PrivacyButton         string `yaml:"privacy_button"`
	NotAllowed            string `yaml:"not_allowed"`
	BroadcastStarted      string `yaml:"broadcast_started"`
	BroadcastDone         string `yaml:"broadcast_done"`
	Stats                 string `yaml:"stats"`
	AuditUsage            string `yaml:"audit_usage"`
	AuditUnknown          string `yaml:"audit_unknown"`
	AuditEmpty            string `yaml:"audit_empty"`
	AuditHeader           string `yaml:"audit_header"`
}

// Catalog holds every user-facing string of the bot.
type Catalog struct {
	Prompts        map[string][]string `yaml:"prompts"`
	Options        map[string][]string `yaml:"options"`
	CardTypes      []CardType          `yaml:"card_types"`
	Encouragements []string            `yaml:"encouragements"`
	Texts          Texts               `yaml:"texts"`
}

// Default returns the embedded Russian catalog.
func Default() (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(defaultCatalog, &c); err != nil {
		return nil, fmt.Errorf("failed to parse embedded catalog: %w", err)
	}
	return &c, nil
}

// Load reads the embedded catalog and, when path is set, overlays the file
// on top of it. Keys missing from the file keep their default values.
func Load(path string) (*Catalog, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return c, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	return c, nil
}

// Require checks that every listed state has a prompt and every listed
// choice state has options.
func (c *Catalog) Require(promptStates, choiceStates []string) error {
	var errs []error
	for _, s := range promptStates {
		if len(c.Prompts[s]) == 0 {
			errs = append(errs, fmt.Errorf("no prompt for state %s", s))
		}
	}
	for _, s := range choiceStates {
		if len(c.Options[s]) == 0 {
			errs = append(errs, fmt.Errorf("no options for state %s", s))
		}
	}
	if len(c.CardTypes) == 0 {
		errs = append(errs, errors.New("no card types"))
	}
	if len(c.Encouragements) == 0 {
		errs = append(errs, errors.New("no encouragements"))
	}
	return errors.Join(errs...)
}

// CardLabels returns the button labels of the card types in order.
func (c *Catalog) CardLabels() []string {
	labels := make([]string, 0, len(c.CardTypes))
	for _, ct := range c.CardTypes {
		labels = append(labels, ct.Label)
	}
	return labels
}

// CardValue maps a button label to its card type.
func (c *Catalog) CardValue(label string) (string, bool) {
	for _, ct := range c.CardTypes {
		if ct.Label == label {
			return ct.Value, true
		}
	}
	return "", false
}

// Format substitutes {name} placeholders. Pairs are name, value.
func Format(text string, pairs ...string) string {
	if len(pairs) == 0 {
		return text
	}
	oldnew := make([]string, 0, len(pairs))
	for i := 0; i+1 < len(pairs); i += 2 {
		oldnew = append(oldnew, "{"+pairs[i]+"}", pairs[i+1])
	}
	return strings.NewReplacer(oldnew...).Replace(text)
}
