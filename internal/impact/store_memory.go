package impact

import "context"

// MemoryExposureStore is an in-memory ExposureStore useful for tests and
// dry-run demos. It is not intended for production use.
type MemoryExposureStore struct {
	OrgID   string
	Clients []ClientExposure
}

func (s *MemoryExposureStore) ActiveClients(ctx context.Context, orgID, jurisdiction string) ([]ClientExposure, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if orgID != s.OrgID {
		return nil, nil
	}

	var out []ClientExposure
	for _, c := range s.Clients {
		if jurisdiction != "" {
			if _, ok := c.Revenue[jurisdiction]; !ok {
				continue
			}
		}
		out = append(out, c)
	}
	return out, nil
}
