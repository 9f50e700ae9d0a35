package rest

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/openfroyo/cfgport/pkg/engine"
)

const (
	treesPath        = "/realm-config/authentication/authenticationtrees/trees"
	nodesPath        = "/realm-config/authentication/authenticationtrees/nodes"
	oauth2ClientPath = "/realm-config/agents/OAuth2Client"
	secretStoresPath = "/realm-config/secrets/stores"
	scriptsPath      = "/scripts"
	policiesPath     = "/policies"
	resourceTypePath = "/resourcetypes"
	variablesPath    = "/environment/variables"
)

// apiVersions are the Accept-API-Version headers per entity type.
var apiVersions = map[engine.EntityType]string{
	engine.TypeScript:       "protocol=2.0,resource=1.0",
	engine.TypeNode:         "protocol=2.1,resource=1.0",
	engine.TypeTree:         "protocol=2.1,resource=1.0",
	engine.TypeOAuth2Client: "protocol=2.1,resource=1.0",
	engine.TypeSecretStore:  "protocol=2.0,resource=1.0",
	engine.TypePolicy:       "protocol=1.0,resource=2.1",
	engine.TypeResourceType: "protocol=1.0,resource=1.0",
	engine.TypeVariable:     "protocol=1.0,resource=1.0",
}

// realmPath returns /json/realms/root followed by one /realms/<segment>
// per segment of a realm path such as "alpha" or "/parent/child".
func realmPath(realm string) string {
	var sb strings.Builder
	sb.WriteString("/json/realms/root")
	for _, seg := range strings.Split(realm, "/") {
		if seg == "" || seg == "root" {
			continue
		}
		sb.WriteString("/realms/")
		sb.WriteString(url.PathEscape(seg))
	}
	return sb.String()
}

// collectionPath returns the path of the collection holding entities of t
// in scope. Scoped types need a subtype.
func (c *Client) collectionPath(t engine.EntityType, scope engine.Scope) (string, error) {
	realm := realmPath(c.realm(scope))
	switch t {
	case engine.TypeScript:
		return realm + scriptsPath, nil
	case engine.TypeNode:
		if scope.Subtype == "" {
			return "", engine.NewValidationError("node type is required to address nodes", nil)
		}
		return realm + nodesPath + "/" + url.PathEscape(scope.Subtype), nil
	case engine.TypeTree:
		return realm + treesPath, nil
	case engine.TypeOAuth2Client:
		return realm + oauth2ClientPath, nil
	case engine.TypeSecretStore:
		if scope.Subtype == "" {
			return "", engine.NewValidationError("store type is required to address secret stores", nil)
		}
		return realm + secretStoresPath + "/" + url.PathEscape(scope.Subtype), nil
	case engine.TypePolicy:
		return realm + policiesPath, nil
	case engine.TypeResourceType:
		return realm + resourceTypePath, nil
	case engine.TypeVariable:
		if !c.conn.Supports(engine.TypeVariable) {
			return "", engine.NewValidationError(
				fmt.Sprintf("variables are not available on %s deployments", c.conn.DeploymentType), nil)
		}
		return variablesPath, nil
	default:
		return "", engine.NewValidationError(fmt.Sprintf("unsupported entity type %q", string(t)), nil)
	}
}

func (c *Client) entityPath(t engine.EntityType, scope engine.Scope, id string) (string, error) {
	p, err := c.collectionPath(t, scope)
	if err != nil {
		return "", err
	}
	return p + "/" + url.PathEscape(id), nil
}

func (c *Client) realm(scope engine.Scope) string {
	if scope.Realm != "" {
		return scope.Realm
	}
	return c.conn.Realm
}
