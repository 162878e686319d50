package feed

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/reclamflow/feed/pkg/enums"
)

//go:embed catalogue.yaml
var defaultCatalogue []byte

// EndpointSpec describes one polled endpoint.
type EndpointSpec struct {
	Path    string                 `yaml:"path" validate:"required"`
	Type    enums.NotificationType `yaml:"type" validate:"required,notiftype"`
	IDField string                 `yaml:"idField" validate:"required"`
	Message string                 `yaml:"message" validate:"required"`
}

// Render fills the message template for one entity.
func (e EndpointSpec) Render(entityID string) string {
	return strings.ReplaceAll(e.Message, "{id}", entityID)
}

// TicketEventSpec configures which broker updates raise notifications.
type TicketEventSpec struct {
	Message  string   `yaml:"message" validate:"required"`
	Statuses []string `yaml:"statuses" validate:"required,min=1,dive,required"`
}

func (t TicketEventSpec) matches(status string) bool {
	for _, candidate := range t.Statuses {
		if strings.EqualFold(candidate, strings.TrimSpace(status)) {
			return true
		}
	}
	return false
}

func (t TicketEventSpec) render(entityID, status string) string {
	return strings.NewReplacer("{id}", entityID, "{status}", status).Replace(t.Message)
}

type catalogueFile struct {
	Roles        map[string][]EndpointSpec `yaml:"roles"`
	TicketEvents TicketEventSpec           `yaml:"ticketEvents"`
}

// Catalogue maps each role to the endpoints its dashboard watches.
type Catalogue struct {
	roles        map[enums.Role][]EndpointSpec
	ticketEvents TicketEventSpec
}

// Endpoints returns the endpoints polled for role.
func (c *Catalogue) Endpoints(role enums.Role) []EndpointSpec {
	endpoints := c.roles[role]
	out := make([]EndpointSpec, len(endpoints))
	copy(out, endpoints)
	return out
}

func (c *Catalogue) TicketEvents() TicketEventSpec {
	return c.ticketEvents
}

// DefaultCatalogue returns the built-in catalogue.
func DefaultCatalogue() (*Catalogue, error) {
	return ParseCatalogue(defaultCatalogue)
}

// LoadCatalogue reads a catalogue file, falling back to the built-in one when path is empty.
func LoadCatalogue(path string) (*Catalogue, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCatalogue()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalogue: %w", err)
	}
	return ParseCatalogue(data)
}

// ParseCatalogue decodes and validates a YAML catalogue.
func ParseCatalogue(data []byte) (*Catalogue, error) {
	var file catalogueFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decoding catalogue: %w", err)
	}
	if len(file.Roles) == 0 {
		return nil, fmt.Errorf("catalogue declares no roles")
	}

	validate := newValidator()
	catalogue := &Catalogue{
		roles:        make(map[enums.Role][]EndpointSpec, len(file.Roles)),
		ticketEvents: file.TicketEvents,
	}
	for rawRole, endpoints := range file.Roles {
		role, err := enums.ParseRole(rawRole)
		if err != nil {
			return nil, fmt.Errorf("catalogue: %w", err)
		}
		seen := make(map[string]struct{}, len(endpoints))
		for i, endpoint := range endpoints {
			if err := validate.Struct(endpoint); err != nil {
				return nil, fmt.Errorf("catalogue %s[%d]: %w", role, i, err)
			}
			endpoints[i].Path = strings.Trim(endpoint.Path, "/")
			if _, dup := seen[endpoints[i].Path]; dup {
				return nil, fmt.Errorf("catalogue %s: duplicate path %q", role, endpoint.Path)
			}
			seen[endpoints[i].Path] = struct{}{}
		}
		catalogue.roles[role] = append(catalogue.roles[role], endpoints...)
	}
	if len(file.TicketEvents.Statuses) > 0 || file.TicketEvents.Message != "" {
		if err := validate.Struct(file.TicketEvents); err != nil {
			return nil, fmt.Errorf("catalogue ticketEvents: %w", err)
		}
	}
	return catalogue, nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("notiftype", func(fl validator.FieldLevel) bool {
		return enums.NotificationType(fl.Field().String()).IsValid()
	})
	return v
}
