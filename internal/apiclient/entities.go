package apiclient

import (
	"fmt"
	"strings"
)

// ValidationError lists the required fields left empty on a record.
type ValidationError struct {
	Entity  string
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: missing required fields: %s", e.Entity, strings.Join(e.Missing, ", "))
}

type required struct {
	entity  string
	missing []string
}

func (r *required) str(name, v string) {
	if strings.TrimSpace(v) == "" {
		r.missing = append(r.missing, name)
	}
}

func (r *required) positive(name string, v int) {
	if v <= 0 {
		r.missing = append(r.missing, name)
	}
}

func (r *required) err() error {
	if len(r.missing) == 0 {
		return nil
	}
	return &ValidationError{Entity: r.entity, Missing: r.missing}
}

const (
	RoleAdmin  = "admin"
	RoleParent = "parent"
)

type User struct {
	ID        string `json:"_id,omitempty"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password,omitempty"`
	Role      string `json:"role"`
	CINNumber string `json:"cinNumber"`
	Phone     string `json:"phone,omitempty"`
}

func (u User) EntityID() string { return u.ID }

func (u User) Validate() error {
	r := required{entity: "user"}
	r.str("username", u.Username)
	r.str("email", u.Email)
	r.str("role", u.Role)
	r.str("cinNumber", u.CINNumber)
	if u.ID == "" {
		r.str("password", u.Password)
	}
	return r.err()
}

type Driver struct {
	ID            string `json:"_id,omitempty"`
	Username      string `json:"username"`
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone"`
	CINNumber     string `json:"cinNumber,omitempty"`
	LicenseNumber string `json:"licenseNumber"`
}

func (d Driver) EntityID() string { return d.ID }

func (d Driver) Validate() error {
	r := required{entity: "driver"}
	r.str("username", d.Username)
	r.str("phone", d.Phone)
	r.str("licenseNumber", d.LicenseNumber)
	return r.err()
}

// Vehicle is a bus.
type Vehicle struct {
	ID          string `json:"_id,omitempty"`
	PlateNumber string `json:"plateNumber"`
	Model       string `json:"model,omitempty"`
	Capacity    int    `json:"capacity"`
	Driver      string `json:"driver,omitempty"`
	RouteID     string `json:"routeId,omitempty"`
}

func (v Vehicle) EntityID() string { return v.ID }

func (v Vehicle) Validate() error {
	r := required{entity: "vehicle"}
	r.str("plateNumber", v.PlateNumber)
	r.positive("capacity", v.Capacity)
	return r.err()
}

type ParentRef struct {
	ID       string `json:"_id,omitempty"`
	Username string `json:"username"`
}

type Student struct {
	ID          string     `json:"_id,omitempty"`
	Username    string     `json:"username"`
	BadgeID     string     `json:"badgeId"`
	CINParent   string     `json:"cinParent"`
	PhoneParent string     `json:"phoneParent"`
	Level       string     `json:"level"`
	Parent      *ParentRef `json:"parent,omitempty"`
}

func (s Student) EntityID() string { return s.ID }

func (s Student) Validate() error {
	r := required{entity: "student"}
	r.str("username", s.Username)
	r.str("badgeId", s.BadgeID)
	r.str("cinParent", s.CINParent)
	r.str("phoneParent", s.PhoneParent)
	r.str("level", s.Level)
	return r.err()
}

// ParentName is the display name of the linked parent, "N/A" when unknown.
func (s Student) ParentName() string {
	if s.Parent == nil || s.Parent.Username == "" {
		return "N/A"
	}
	return s.Parent.Username
}

type Message struct {
	ID        string `json:"_id,omitempty"`
	Sender    string `json:"sender,omitempty"`
	Recipient string `json:"recipient,omitempty"`
	Content   string `json:"content"`
	CreatedAt string `json:"createdAt,omitempty"`
}

func (m Message) EntityID() string { return m.ID }

func (m Message) Validate() error {
	r := required{entity: "message"}
	r.str("content", m.Content)
	return r.err()
}

type DriverAlert struct {
	ID        string `json:"_id,omitempty"`
	Driver    string `json:"driver,omitempty"`
	Vehicle   string `json:"vehicle,omitempty"`
	Type      string `json:"type,omitempty"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"`
}

func (a DriverAlert) EntityID() string { return a.ID }

func (a DriverAlert) Validate() error {
	r := required{entity: "driver alert"}
	r.str("message", a.Message)
	return r.err()
}

type Stop struct {
	ID        string  `json:"_id,omitempty"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	RouteID   string  `json:"routeId,omitempty"`
	Sequence  int     `json:"sequence,omitempty"`
}

func (s Stop) EntityID() string { return s.ID }

func (s Stop) Validate() error {
	r := required{entity: "stop"}
	r.str("name", s.Name)
	return r.err()
}

type StopTime struct {
	ID        string `json:"_id,omitempty"`
	Stop      string `json:"stop"`
	Vehicle   string `json:"vehicle,omitempty"`
	Arrival   string `json:"arrivalTime,omitempty"`
	Departure string `json:"departureTime,omitempty"`
}

func (s StopTime) EntityID() string { return s.ID }

func (s StopTime) Validate() error {
	r := required{entity: "stop time"}
	r.str("stop", s.Stop)
	return r.err()
}

// GPS is a raw position fix reported by a bus tracker.
type GPS struct {
	ID        string  `json:"_id,omitempty"`
	Vehicle   string  `json:"vehicle,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Speed     float64 `json:"speed,omitempty"`
	Timestamp string  `json:"timestamp,omitempty"`
}

func (g GPS) EntityID() string { return g.ID }
func (g GPS) Validate() error  { return nil }

// BME is an environment sensor reading (temperature, humidity, pressure).
type BME struct {
	ID          string  `json:"_id,omitempty"`
	Vehicle     string  `json:"vehicle,omitempty"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Pressure    float64 `json:"pressure"`
	Timestamp   string  `json:"timestamp,omitempty"`
}

func (b BME) EntityID() string { return b.ID }
func (b BME) Validate() error  { return nil }
