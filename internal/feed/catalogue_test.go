package feed

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reclamflow/feed/pkg/enums"
)

func TestDefaultCatalogue(t *testing.T) {
	catalogue, err := DefaultCatalogue()
	require.NoError(t, err)

	direction := catalogue.Endpoints(enums.RoleDirection)
	require.Len(t, direction, 5)
	require.Equal(t, "reclamations/bloquees", direction[0].Path)
	require.Equal(t, enums.NotificationTypeStuckReclamation, direction[0].Type)
	require.Equal(t, "idReportage", direction[1].IDField)

	intervention := catalogue.Endpoints(enums.RoleIntervention)
	require.Len(t, intervention, 4)
	require.Equal(t, "reclamations/non-equipe", intervention[0].Path)
	require.Equal(t, enums.NotificationTypeNewReclamation, intervention[0].Type)

	citoyen := catalogue.Endpoints(enums.RoleCitoyen)
	require.Len(t, citoyen, 1)
	require.Equal(t, enums.NotificationTypeComplaintVerified, citoyen[0].Type)

	events := catalogue.TicketEvents()
	require.True(t, events.matches("bloquee"))
	require.False(t, events.matches("RESOLUE"))
}

func TestEndpointsReturnsCopy(t *testing.T) {
	catalogue, err := DefaultCatalogue()
	require.NoError(t, err)
	endpoints := catalogue.Endpoints(enums.RoleCitoyen)
	endpoints[0].Path = "mutated"
	require.Equal(t, "plaintes/verifiees", catalogue.Endpoints(enums.RoleCitoyen)[0].Path)
}

func TestRenderReplacesPlaceholder(t *testing.T) {
	spec := EndpointSpec{Message: "Réclamation #{id} ({id})"}
	require.Equal(t, "Réclamation #42 (42)", spec.Render("42"))
}

func TestParseCatalogueRejectsInvalidEntries(t *testing.T) {
	cases := map[string]string{
		"unknown role": `
roles:
  admin:
    - {path: a, type: default, idField: id, message: m}
`,
		"unknown type": `
roles:
  direction:
    - {path: a, type: order_alert, idField: id, message: m}
`,
		"missing id field": `
roles:
  direction:
    - {path: a, type: default, message: m}
`,
		"duplicate path": `
roles:
  direction:
    - {path: a, type: default, idField: id, message: m}
    - {path: /a/, type: new_complaint, idField: id, message: m}
`,
		"no roles": `roles: {}`,
		"bad event spec": `
roles:
  direction:
    - {path: a, type: default, idField: id, message: m}
ticketEvents:
  message: "x"
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCatalogue([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoadCatalogueFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalogue.yaml")
	doc := `
roles:
  ROLE_CITOYEN:
    - path: /plaintes/verifiees/
      type: complaint_verified
      idField: plainteId
      message: "Plainte {id} vérifiée"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	catalogue, err := LoadCatalogue(path)
	require.NoError(t, err)
	endpoints := catalogue.Endpoints(enums.RoleCitoyen)
	require.Len(t, endpoints, 1)
	require.Equal(t, "plaintes/verifiees", endpoints[0].Path)
	require.Empty(t, catalogue.Endpoints(enums.RoleDirection))

	_, err = LoadCatalogue(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	fallback, err := LoadCatalogue("")
	require.NoError(t, err)
	require.Len(t, fallback.Endpoints(enums.RoleDirection), 5)
}
