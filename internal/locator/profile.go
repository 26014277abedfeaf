package locator

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed profiles/*.yaml
var profiles embed.FS

// DefaultProfile is the embedded profile used when none is configured.
const DefaultProfile = "chapel"

// Profile is everything site-specific about the booking workflow: where the
// site lives, how long to wait and every fallback chain.
type Profile struct {
	Name     string   `yaml:"name"`
	BaseURL  string   `yaml:"base_url"`
	Timeouts Timeouts `yaml:"timeouts"`
	Login    Login    `yaml:"login"`
	Consent  Chain    `yaml:"consent"`
	Category Category `yaml:"category"`
	Calendar Calendar `yaml:"calendar"`
	Grid     Grid     `yaml:"grid"`
	Players  Players  `yaml:"players"`
	Checkout Checkout `yaml:"checkout"`
}

type Timeouts struct {
	// Wait bounds every required wait.
	Wait time.Duration `yaml:"wait"`
	// Probe bounds each descriptor of an optional chain.
	Probe time.Duration `yaml:"probe"`
	// Settle is the pause after an action the page reacts to asynchronously.
	Settle time.Duration `yaml:"settle"`
}

type Login struct {
	Link     Chain `yaml:"link"`
	Modal    Chain `yaml:"modal"`
	Username Chain `yaml:"username"`
	Password Chain `yaml:"password"`
	// Remember is the optional stay-logged-in checkbox.
	Remember Chain `yaml:"remember"`
	Submit   Chain `yaml:"submit"`
	// SubmitWithEnter presses Enter in the password field and only falls back
	// to Submit when that fails.
	SubmitWithEnter bool  `yaml:"submit_with_enter"`
	LoggedIn        Chain `yaml:"logged_in"`
}

const (
	CategoryDropdown = "dropdown"
	CategorySelect   = "select"
)

type Category struct {
	Mode    string `yaml:"mode"`
	Toggle  Chain  `yaml:"toggle"`
	Current Chain  `yaml:"current"`
	// Option may use the {category} placeholder.
	Option Chain `yaml:"option"`
	// Select is the plain <select> used in select mode.
	Select Chain `yaml:"select"`
}

type Calendar struct {
	Field Chain `yaml:"field"`
	// Layout is the Go time layout of the field's value.
	Layout string `yaml:"layout"`
	Widget Chain  `yaml:"widget"`
	Next   Chain  `yaml:"next"`
	Prev   Chain  `yaml:"prev"`
	// Day may use the {day} placeholder.
	Day Chain `yaml:"day"`
}

// Grid describes how bookable slots are recognised in the resource grid.
// Candidate, Column and Header are CSS selectors evaluated over the grid's
// HTML; Candidate is also used to bind slots to live elements.
type Grid struct {
	Container       Chain    `yaml:"container"`
	Candidate       string   `yaml:"candidate"`
	RequiredClasses []string `yaml:"required_classes"`
	ExcludedClasses []string `yaml:"excluded_classes"`
	Column          string   `yaml:"column"`
	Header          string   `yaml:"header"`
	HeaderAttr      string   `yaml:"header_attr"`
}

type Players struct {
	Modal     Chain   `yaml:"modal"`
	Fields    []Field `yaml:"fields"`
	Rejection Chain   `yaml:"rejection"`
	// VisitorName is typed into every field in visitor mode.
	VisitorName string `yaml:"visitor_name"`
}

// Field is one opponent slot on the booking form.
type Field struct {
	Name     string `yaml:"name"`
	Input    Chain  `yaml:"input"`
	Lookup   Chain  `yaml:"lookup"`
	Advisory Chain  `yaml:"advisory"`
}

type Checkout struct {
	AddToBasket  Chain `yaml:"add_to_basket"`
	Terms        Chain `yaml:"terms"`
	TermsLabel   Chain `yaml:"terms_label"`
	Confirm      Chain `yaml:"confirm"`
	Confirmation Chain `yaml:"confirmation"`
	// Dismiss closes whatever a failed slot attempt left open.
	Dismiss Chain `yaml:"dismiss"`
}

// Load reads a profile from path, or the embedded default when path is empty.
func Load(path string) (*Profile, error) {
	if path == "" {
		return Embedded(DefaultProfile)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	return Parse(b)
}

// Embedded returns one of the profiles compiled into the binary.
func Embedded(name string) (*Profile, error) {
	b, err := profiles.ReadFile("profiles/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("unknown profile %q", name)
	}
	return Parse(b)
}

func Parse(b []byte) (*Profile, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	var p Profile
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	p.applyDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Profile) applyDefaults() {
	if p.Timeouts.Wait <= 0 {
		p.Timeouts.Wait = 20 * time.Second
	}
	if p.Timeouts.Probe <= 0 {
		p.Timeouts.Probe = 500 * time.Millisecond
	}
	if p.Timeouts.Settle < 0 {
		p.Timeouts.Settle = 0
	}
	if p.Category.Mode == "" {
		p.Category.Mode = CategoryDropdown
	}
	if p.Calendar.Layout == "" {
		p.Calendar.Layout = "02-01-2006"
	}
	if p.Players.VisitorName == "" {
		p.Players.VisitorName = "Visitor"
	}
}

// Validate checks that every chain the workflow cannot do without is set.
func (p *Profile) Validate() error {
	if p.BaseURL == "" {
		return fmt.Errorf("profile %q: base_url required", p.Name)
	}
	required := []struct {
		name  string
		chain Chain
	}{
		{"login.username", p.Login.Username},
		{"login.password", p.Login.Password},
		{"login.logged_in", p.Login.LoggedIn},
		{"calendar.field", p.Calendar.Field},
		{"calendar.next", p.Calendar.Next},
		{"calendar.prev", p.Calendar.Prev},
		{"calendar.day", p.Calendar.Day},
		{"grid.container", p.Grid.Container},
		{"players.rejection", p.Players.Rejection},
		{"checkout.add_to_basket", p.Checkout.AddToBasket},
		{"checkout.terms", p.Checkout.Terms},
		{"checkout.confirm", p.Checkout.Confirm},
		{"checkout.confirmation", p.Checkout.Confirmation},
	}
	for _, r := range required {
		if len(r.chain) == 0 {
			return fmt.Errorf("profile %q: %s required", p.Name, r.name)
		}
	}
	if !p.Login.SubmitWithEnter && len(p.Login.Submit) == 0 {
		return fmt.Errorf("profile %q: login.submit required without submit_with_enter", p.Name)
	}
	switch p.Category.Mode {
	case CategoryDropdown:
		if len(p.Category.Toggle) == 0 || len(p.Category.Option) == 0 {
			return fmt.Errorf("profile %q: category.toggle and category.option required in dropdown mode", p.Name)
		}
	case CategorySelect:
		if len(p.Category.Select) == 0 {
			return fmt.Errorf("profile %q: category.select required in select mode", p.Name)
		}
	default:
		return fmt.Errorf("profile %q: unknown category mode %q", p.Name, p.Category.Mode)
	}
	if p.Grid.Candidate == "" || p.Grid.Column == "" {
		return fmt.Errorf("profile %q: grid.candidate and grid.column required", p.Name)
	}
	if len(p.Players.Fields) == 0 {
		return fmt.Errorf("profile %q: at least one player field required", p.Name)
	}
	for i, f := range p.Players.Fields {
		if len(f.Input) == 0 {
			return fmt.Errorf("profile %q: players.fields[%d].input required", p.Name, i)
		}
	}
	return nil
}
