package impact

import (
	"context"
	"database/sql"
)

// PostgresExposureStore reads aggregated client exposure from the compliance
// data tables.
//
// It assumes a client_jurisdiction_exposures view/table with one row per
// active-engagement client and jurisdiction carrying the aggregated current
// amount and the client's compliance status:
//
//	(org_id, client_id, client_name, client_status, jurisdiction, current_amount)
//
// Engagement filtering (off-boarded clients) happens in the view; client_status
// here is the compliance posture surfaced in previews.
type PostgresExposureStore struct {
	db *sql.DB
}

func NewPostgresExposureStore(db *sql.DB) *PostgresExposureStore {
	return &PostgresExposureStore{db: db}
}

func (s *PostgresExposureStore) ActiveClients(ctx context.Context, orgID, jurisdiction string) ([]ClientExposure, error) {
	const base = `
SELECT client_id, client_name, client_status, jurisdiction, current_amount
FROM client_jurisdiction_exposures
WHERE org_id = $1
`
	q := base + ` ORDER BY client_id, jurisdiction`
	args := []any{orgID}
	if jurisdiction != "" {
		q = base + ` AND jurisdiction = $2 ORDER BY client_id, jurisdiction`
		args = append(args, jurisdiction)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byClient := make(map[string]*ClientExposure)
	var order []string
	for rows.Next() {
		var (
			clientID, name, status, jur string
			amount                      int64
		)
		if err := rows.Scan(&clientID, &name, &status, &jur, &amount); err != nil {
			return nil, err
		}
		c, ok := byClient[clientID]
		if !ok {
			c = &ClientExposure{ClientID: clientID, Name: name, Status: status, Revenue: make(map[string]int64)}
			byClient[clientID] = c
			order = append(order, clientID)
		}
		c.Revenue[jur] += amount
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]ClientExposure, 0, len(order))
	for _, id := range order {
		out = append(out, *byClient[id])
	}
	return out, nil
}
