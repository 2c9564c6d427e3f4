package glpi

import (
	"fmt"
	"strconv"
	"time"
)

// GLPI search option ids for the Ticket itemtype.
const (
	FieldStatus      = 12
	FieldGroupTech   = 8
	FieldOpeningDate = 15
)

// ItemTicket is the Ticket itemtype.
const ItemTicket = "Ticket"

// DateTimeLayout is the format GLPI expects for date criteria.
const DateTimeLayout = "2006-01-02 15:04:05"

// GeneralLevel names the counters that span every technician group.
const GeneralLevel = "general"

// TicketStatus is a GLPI ticket status id.
type TicketStatus int

// Ticket statuses.
const (
	StatusNew      TicketStatus = 1
	StatusAssigned TicketStatus = 2
	StatusPlanned  TicketStatus = 3
	StatusPending  TicketStatus = 4
	StatusSolved   TicketStatus = 5
	StatusClosed   TicketStatus = 6
)

var statusNames = map[TicketStatus]string{
	StatusNew:      "new",
	StatusAssigned: "assigned",
	StatusPlanned:  "planned",
	StatusPending:  "pending",
	StatusSolved:   "solved",
	StatusClosed:   "closed",
}

// AllStatuses lists the statuses in GLPI order.
var AllStatuses = []TicketStatus{
	StatusNew, StatusAssigned, StatusPlanned, StatusPending, StatusSolved, StatusClosed,
}

func (s TicketStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "status_" + strconv.Itoa(int(s))
}

// Valid reports whether s is a known GLPI status.
func (s TicketStatus) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// ParseStatus maps a status name back to its id.
func ParseStatus(name string) (TicketStatus, error) {
	for id, n := range statusNames {
		if n == name {
			return id, nil
		}
	}
	return 0, fmt.Errorf("glpi: unknown ticket status %q", name)
}

// ServiceLevel is a support level backed by a GLPI technician group.
type ServiceLevel struct {
	Name    string `json:"name"`
	GroupID int    `json:"group_id"`
}

// Catalog is the single mapping between dashboard names and GLPI ids. It is
// read-only after construction.
type Catalog struct {
	levels   []ServiceLevel
	byName   map[string]ServiceLevel
	statuses []TicketStatus
}

// NewCatalog validates levels and builds a catalog covering every status.
func NewCatalog(levels []ServiceLevel) (*Catalog, error) {
	if len(levels) == 0 {
		return nil, fmt.Errorf("glpi: at least one service level is required")
	}

	c := &Catalog{
		levels:   make([]ServiceLevel, 0, len(levels)),
		byName:   make(map[string]ServiceLevel, len(levels)),
		statuses: append([]TicketStatus(nil), AllStatuses...),
	}
	for _, l := range levels {
		switch {
		case l.Name == "":
			return nil, fmt.Errorf("glpi: service level name cannot be empty")
		case l.Name == GeneralLevel:
			return nil, fmt.Errorf("glpi: service level name %q is reserved", GeneralLevel)
		case l.GroupID <= 0:
			return nil, fmt.Errorf("glpi: service level %s needs a positive group id", l.Name)
		}
		if _, dup := c.byName[l.Name]; dup {
			return nil, fmt.Errorf("glpi: duplicate service level %s", l.Name)
		}
		c.byName[l.Name] = l
		c.levels = append(c.levels, l)
	}
	return c, nil
}

// Levels returns the configured service levels in order.
func (c *Catalog) Levels() []ServiceLevel {
	return append([]ServiceLevel(nil), c.levels...)
}

// Statuses returns the tracked statuses in order.
func (c *Catalog) Statuses() []TicketStatus {
	return append([]TicketStatus(nil), c.statuses...)
}

// Level looks up a service level by name.
func (c *Catalog) Level(name string) (ServiceLevel, bool) {
	l, ok := c.byName[name]
	return l, ok
}

// CounterKey names the counter for one level and status, e.g. "N2.pending".
func CounterKey(level string, status TicketStatus) string {
	return level + "." + status.String()
}

// TicketQuery selects the tickets one count covers. A zero GroupID spans all
// groups; zero Since/Until leave the opening date unbounded.
type TicketQuery struct {
	Status  TicketStatus
	GroupID int
	Since   time.Time // inclusive
	Until   time.Time // exclusive
}

// Criteria renders the query as GLPI search criteria.
func (q TicketQuery) Criteria() []Criterion {
	criteria := []Criterion{Equals(FieldStatus, strconv.Itoa(int(q.Status)))}
	if q.GroupID > 0 {
		criteria = append(criteria, Equals(FieldGroupTech, strconv.Itoa(q.GroupID)))
	}
	if !q.Since.IsZero() {
		// morethan is strict
		criteria = append(criteria, MoreThan(FieldOpeningDate, q.Since.Add(-time.Second).Format(DateTimeLayout)))
	}
	if !q.Until.IsZero() {
		criteria = append(criteria, LessThan(FieldOpeningDate, q.Until.Format(DateTimeLayout)))
	}
	return criteria
}
