package store

import (
	"encoding/json"
	"slices"
	"strconv"
)

// MaxPulses bounds the pulse ring buffer kept in the document.
const MaxPulses = 200

const (
	KeyAdmins        = "admins"
	KeyStaff         = "staff"
	KeyMembers       = "members"
	KeyAttendance    = "attendance"
	KeyEvents        = "events"
	KeySummons       = "summons"
	KeyBible         = "bible"
	KeyResources     = "resources"
	KeyDonations     = "donations"
	KeyContributions = "contributions"
	KeyPrayers       = "prayers"
	KeyPulses        = "pulses"
)

// Keys lists every top-level key a document always carries.
var Keys = []string{
	KeyAdmins,
	KeyStaff,
	KeyMembers,
	KeyAttendance,
	KeyEvents,
	KeySummons,
	KeyBible,
	KeyResources,
	KeyDonations,
	KeyContributions,
	KeyPrayers,
	KeyPulses,
}

var (
	// ContentKeys are the collections of free-form content records.
	ContentKeys = []string{KeyEvents, KeySummons, KeyBible, KeyResources}
	// GiftKeys are the money ledgers.
	GiftKeys = []string{KeyDonations, KeyContributions}
)

func IsContentKey(name string) bool {
	return slices.Contains(ContentKeys, name)
}

func IsGiftKey(name string) bool {
	return slices.Contains(GiftKeys, name)
}

// Document is the whole persisted state.
type Document struct {
	Admins        []Admin                          `json:"admins"`
	Staff         []Staff                          `json:"staff"`
	Members       []Member                         `json:"members"`
	Attendance    map[string]map[string]Attendance `json:"attendance"`
	Events        []Content                        `json:"events"`
	Summons       []Content                        `json:"summons"`
	Bible         []Content                        `json:"bible"`
	Resources     []Content                        `json:"resources"`
	Donations     []Gift                           `json:"donations"`
	Contributions []Gift                           `json:"contributions"`
	Prayers       []Prayer                         `json:"prayers"`
	Pulses        []Pulse                          `json:"pulses"`

	// Extra holds top-level keys this version does not know about.
	Extra map[string]json.RawMessage `json:"-"`
}

type Admin struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	PassHash  string `json:"pass_hash"`
	CreatedAt string `json:"created_at,omitempty"`
}

type Staff struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	Perms     Perms  `json:"perms"`
	Contact   string `json:"contact"`
	PassHash  string `json:"pass_hash"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type Member struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Gender    string `json:"gender"`
	CreatedAt string `json:"created_at,omitempty"`
}

type Attendance struct {
	Status   string `json:"status"`
	EditedAt string `json:"edited_at"`
}

// Gift is a donation or contribution.
type Gift struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Amount    float64 `json:"amount"`
	Category  string  `json:"category,omitempty"`
	Note      string  `json:"note,omitempty"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at,omitempty"`
}

type Prayer struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Body         string `json:"body"`
	AssignedTo   string `json:"assigned_to"`
	AssignedName string `json:"assigned_name"`
	Reply        string `json:"reply"`
	Status       string `json:"status"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

const (
	PrayerOpen     = "open"
	PrayerAnswered = "answered"
)

type Pulse struct {
	ID         string `json:"id"`
	Source     string `json:"source"`
	Note       string `json:"note,omitempty"`
	ReceivedAt string `json:"received_at"`
}

// Perms maps permission names to grants. Non-boolean values written by
// older front-ends are read by truthiness.
type Perms map[string]bool

func (p *Perms) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Perms, len(raw))
	for name, value := range raw {
		out[name] = truthy(value)
	}
	*p = out
	return nil
}

func truthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
		return v != ""
	case nil:
		return false
	default:
		return true
	}
}

// Content is an author-supplied record: a fixed envelope plus an open payload.
// It serializes flat, so the payload fields sit next to id and the timestamps.
type Content struct {
	ID        string
	CreatedAt string
	UpdatedAt string
	Fields    map[string]json.RawMessage
}

var envelopeKeys = map[string]struct{}{"id": {}, "created_at": {}, "updated_at": {}}

// IsEnvelopeKey reports whether name is managed by the envelope rather than the payload.
func IsEnvelopeKey(name string) bool {
	_, ok := envelopeKeys[name]
	return ok
}

func (c Content) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(c.Fields)+3)
	for key, value := range c.Fields {
		if IsEnvelopeKey(key) {
			continue
		}
		out[key] = value
	}
	var err error
	if out["id"], err = json.Marshal(c.ID); err != nil {
		return nil, err
	}
	if out["created_at"], err = json.Marshal(c.CreatedAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt != "" {
		if out["updated_at"], err = json.Marshal(c.UpdatedAt); err != nil {
			return nil, err
		}
	}
	return json.Marshal(out)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	next := Content{Fields: make(map[string]json.RawMessage, len(raw))}
	for key, value := range raw {
		switch key {
		case "id":
			next.ID = rawString(value)
		case "created_at":
			next.CreatedAt = rawString(value)
		case "updated_at":
			next.UpdatedAt = rawString(value)
		default:
			next.Fields[key] = value
		}
	}
	*c = next
	return nil
}

func rawString(value json.RawMessage) string {
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return ""
	}
	return s
}

type documentFields Document

func (d Document) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(documentFields(d))
	if err != nil || len(d.Extra) == 0 {
		return base, err
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for key, value := range d.Extra {
		if _, known := merged[key]; !known {
			merged[key] = value
		}
	}
	return json.Marshal(merged)
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var fields documentFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, key := range Keys {
		delete(raw, key)
	}
	*d = Document(fields)
	if len(raw) > 0 {
		d.Extra = raw
	}
	return nil
}

// Collection returns a pointer to the named content collection.
func (d *Document) Collection(name string) (*[]Content, bool) {
	switch name {
	case KeyEvents:
		return &d.Events, true
	case KeySummons:
		return &d.Summons, true
	case KeyBible:
		return &d.Bible, true
	case KeyResources:
		return &d.Resources, true
	default:
		return nil, false
	}
}

// Gifts returns a pointer to the donations or contributions ledger.
func (d *Document) Gifts(name string) (*[]Gift, bool) {
	switch name {
	case KeyDonations:
		return &d.Donations, true
	case KeyContributions:
		return &d.Contributions, true
	default:
		return nil, false
	}
}

func (d *Document) FindStaff(id string) (Staff, bool) {
	if id == "" {
		return Staff{}, false
	}
	for _, staff := range d.Staff {
		if staff.ID == id {
			return staff, true
		}
	}
	return Staff{}, false
}

// AddPulse prepends a pulse and trims the buffer to MaxPulses.
func (d *Document) AddPulse(p Pulse) {
	d.Pulses = append([]Pulse{p}, d.Pulses...)
	if len(d.Pulses) > MaxPulses {
		d.Pulses = d.Pulses[:MaxPulses]
	}
}
