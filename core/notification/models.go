package notification

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/astroacademy/backend/core"
)

// Type is the urgency of a notification.
type Type string

const (
	TypeUrgent  Type = "urgent"
	TypeInfo    Type = "info"
	TypeWarning Type = "warning"
)

var Types = []Type{TypeUrgent, TypeInfo, TypeWarning}

func (t Type) IsValid() bool {
	for _, tt := range Types {
		if t == tt {
			return true
		}
	}
	return false
}

// Category is the subject area of a notification. Subscribers opt in or out per category.
type Category string

const (
	CategorySolar     Category = "solar"
	CategoryAsteroid  Category = "asteroid"
	CategorySatellite Category = "satellite"
	CategoryWeather   Category = "weather"
	CategoryMission   Category = "mission"
	CategoryGeneral   Category = "general"
)

var Categories = []Category{
	CategorySolar, CategoryAsteroid, CategorySatellite, CategoryWeather, CategoryMission, CategoryGeneral,
}

func (c Category) IsValid() bool {
	for _, cc := range Categories {
		if c == cc {
			return true
		}
	}
	return false
}

// ContentType is a per-send hint selecting the email template. It is never persisted.
type ContentType string

const (
	ContentPlanning    ContentType = "planning"
	ContentEducational ContentType = "educational"
)

type Notification struct {
	ID        int       `json:"id"`
	UserID    *int      `json:"user_id"` // nil: broadcast to all
	Type      Type      `json:"type"`
	Category  Category  `json:"category"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Link      *string   `json:"link"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"` // UTC
}

func (n Notification) IsBroadcast() bool { return n.UserID == nil }

func (n Notification) LinkPath() string {
	if n.Link == nil {
		return ""
	}
	return *n.Link
}

// Event is the payload of the realtime new_notification event.
type Event struct {
	Notification
	ContentType ContentType `json:"contentType,omitempty"`
}

// NewNotification contains information needed to create a new Notification.
type NewNotification struct {
	Type     Type     `json:"type" validate:"required,ntype"`
	Category Category `json:"category" validate:"required,ncategory"`
	Title    string   `json:"title" validate:"required,notblank,max=255"`
	Message  string   `json:"message" validate:"required,notblank"`
	Link     *string  `json:"link"`
	UserID   *int     `json:"user_id"`
}

func (nn *NewNotification) Clean() {
	nn.Type = Type(core.CleanString(string(nn.Type), true /* lower */))
	nn.Category = Category(core.CleanString(string(nn.Category), true /* lower */))
	nn.Title = core.CleanString(nn.Title)
	nn.Message = core.CleanString(nn.Message)
	if nn.Link != nil {
		link := core.CleanString(*nn.Link)
		if link == "" {
			nn.Link = nil
		} else {
			nn.Link = &link
		}
	}
}

func (nn *NewNotification) Validate(validate *validator.Validate) error {
	nn.Clean()
	return validate.Struct(nn)
}

// CalendarEntry is one dated line of a planning email.
type CalendarEntry struct {
	Date  string `json:"date"`
	Event string `json:"event"`
}

// ExtraData carries template-specific fields merged into the broadcast email.
type ExtraData struct {
	Calendar        []CalendarEntry `json:"calendar,omitempty"`
	Summary         string          `json:"summary,omitempty"`
	DetailedContent string          `json:"detailedContent,omitempty"`
	FunFact         string          `json:"funFact,omitempty"`
}

// SendRequest is a NewNotification plus the hints driving its email broadcast.
type SendRequest struct {
	NewNotification
	ContentType ContentType `json:"contentType"` // unknown hints fall back to the generic template
	ExtraData   ExtraData   `json:"extraData"`
}

func (sr *SendRequest) Validate(validate *validator.Validate) error {
	sr.NewNotification.Clean()
	sr.ContentType = ContentType(core.CleanString(string(sr.ContentType), true /* lower */))
	return validate.Struct(sr)
}

type QueryFilter struct {
	UserID *int
	Type   Type
	Limit  int
}

func (qf *QueryFilter) Clean() {
	qf.Type = Type(core.CleanString(string(qf.Type), true /* lower */))
	if qf.Limit <= 0 {
		qf.Limit = DefaultListLimit
	} else if qf.Limit > MaxListLimit {
		qf.Limit = MaxListLimit
	}
}

type ListResult struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int            `json:"unreadCount"`
	Total         int            `json:"total"`
}

type MarkReadRequest struct {
	NotificationIDs []int `json:"notificationIds" validate:"required"`
}

func (mr MarkReadRequest) Validate(validate *validator.Validate) error { return validate.Struct(mr) }

// Preferences maps a category to the subscriber's opt-in.
type Preferences map[Category]bool

// DefaultPreferences opts in to every category that has a preference. general has none.
func DefaultPreferences() Preferences {
	return Preferences{
		CategorySolar:     true,
		CategoryAsteroid:  true,
		CategorySatellite: true,
		CategoryWeather:   true,
		CategoryMission:   true,
	}
}

// Allows reports whether the subscriber wants emails for c.
// A category without an explicit entry is allowed, so general can never be opted out of.
func (p Preferences) Allows(c Category) bool {
	allowed, ok := p[c]
	return !ok || allowed
}

// Enabled lists the categories the subscriber opted in to, in Categories order.
func (p Preferences) Enabled() []Category {
	enabled := make([]Category, 0, len(Categories))
	for _, c := range Categories {
		if allowed, ok := p[c]; ok && allowed {
			enabled = append(enabled, c)
		}
	}
	return enabled
}

// Value encodes p as JSON text; a []byte would be sent to postgres as bytea.
func (p Preferences) Value() (driver.Value, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Validate rejects keys that are not opt-in categories. general has no preference and cannot be turned off.
func (p Preferences) Validate() error {
	for c := range p {
		if !c.IsValid() || c == CategoryGeneral {
			return core.NewValidationError(
				nil, core.FieldError{Field: "preferences", Error: fmt.Sprintf("unknown category %q", c)},
			)
		}
	}
	return nil
}

func (p *Preferences) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*p = Preferences{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.Errorf("notification.Preferences: cannot scan %T", src)
	}
	return json.Unmarshal(data, p)
}

type Subscription struct {
	ID               int         `json:"id"`
	Email            string      `json:"email"`
	Preferences      Preferences `json:"preferences"`
	IsActive         bool        `json:"is_active"`
	UnsubscribeToken string      `json:"-"`
	CreatedAt        time.Time   `json:"created_at"`  // UTC
	VerifiedAt       *time.Time  `json:"verified_at"` // never set; no verification flow
}

type SubscribeRequest struct {
	Email       string      `json:"email" validate:"required,subemail,max=255"`
	Preferences Preferences `json:"preferences"`
}

func (sr *SubscribeRequest) Validate(validate *validator.Validate) error {
	sr.Email = core.CleanString(sr.Email, true /* lower */)
	if err := validate.Struct(sr); err != nil {
		return err
	}
	if err := sr.Preferences.Validate(); err != nil {
		return err
	}
	if sr.Preferences == nil {
		sr.Preferences = DefaultPreferences()
	}
	return nil
}

// UnsubscribeRequest identifies a subscription by token (preferred) or email.
type UnsubscribeRequest struct {
	Email string `json:"email" validate:"required_without=Token"`
	Token string `json:"token" validate:"required_without=Email"`
}

func (ur *UnsubscribeRequest) Validate(validate *validator.Validate) error {
	ur.Email = core.CleanString(ur.Email, true /* lower */)
	ur.Token = core.CleanString(ur.Token)
	return validate.Struct(ur)
}

type UpdatePreferencesRequest struct {
	Token       string      `json:"token" validate:"required"`
	Preferences Preferences `json:"preferences" validate:"required"`
}

func (up *UpdatePreferencesRequest) Validate(validate *validator.Validate) error {
	up.Token = core.CleanString(up.Token)
	if err := validate.Struct(up); err != nil {
		return err
	}
	return up.Preferences.Validate()
}

// InstructorApproval is the outcome of an instructor application review.
type InstructorApproval struct {
	Name       string
	Email      string
	Approved   bool
	AccessCode string
	Reason     string
}
