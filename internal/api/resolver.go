package api

import (
	"net/http"

	"killboard/internal/storage"
)

// TrackedEntityResolver authorizes against the tracked-organization tables:
// an explicit orgID must be tracked, and orgID 0 expands to every tracked
// organization of the requested type. Deployments fronted by an auth proxy
// replace this with a resolver that consults the proxy's identity headers.
func TrackedEntityResolver(orgs *storage.TrackedOrgStore) EntityResolver {
	return func(r *http.Request, orgType storage.OrgType, orgID int64) ([]int64, error) {
		tracked, err := orgs.List(r.Context())
		if err != nil {
			return nil, err
		}
		if orgID == 0 {
			var ids []int64
			for _, org := range tracked {
				if org.Type == orgType {
					ids = append(ids, org.OrgID)
				}
			}
			return ids, nil
		}
		for _, org := range tracked {
			if org.Type == orgType && org.OrgID == orgID {
				return []int64{orgID}, nil
			}
		}
		return nil, ErrForbidden
	}
}
