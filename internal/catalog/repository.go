package catalog

import (
	"context"
	"database/sql"

	"github.com/varlamzhordania/terrapura.net/internal/domain"
)

// Repository serves the read-mostly reference data the commerce core
// hangs off: herbs, partners, bases, currencies and static exchange
// rates. Writes go through the back office, not this service.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) ListHerbs(ctx context.Context) ([]domain.Herb, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, slug, COALESCE(description, ''), created_at
		FROM herbs
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var herbs []domain.Herb
	for rows.Next() {
		var h domain.Herb
		if err := rows.Scan(&h.ID, &h.Name, &h.Slug, &h.Description, &h.CreatedAt); err != nil {
			return nil, err
		}
		herbs = append(herbs, h)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return herbs, nil
}

func (r *Repository) GetHerbBySlug(ctx context.Context, slug string) (*domain.Herb, error) {
	h := &domain.Herb{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, slug, COALESCE(description, ''), created_at
		FROM herbs
		WHERE slug = $1
	`, slug).Scan(&h.ID, &h.Name, &h.Slug, &h.Description, &h.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return h, nil
}

func (r *Repository) ListPartners(ctx context.Context) ([]domain.Partner, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, country, verified, rating, created_at
		FROM partners
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var partners []domain.Partner
	for rows.Next() {
		var p domain.Partner
		if err := rows.Scan(&p.ID, &p.Name, &p.Country, &p.Verified, &p.Rating, &p.CreatedAt); err != nil {
			return nil, err
		}
		partners = append(partners, p)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return partners, nil
}

func (r *Repository) GetPartner(ctx context.Context, id string) (*domain.Partner, error) {
	p := &domain.Partner{}

	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, country, verified, rating, created_at
		FROM partners
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Country, &p.Verified, &p.Rating, &p.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return p, nil
}

func (r *Repository) ListBases(ctx context.Context, partnerID string) ([]domain.InventoryBase, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, partner_id, name, country, COALESCE(region, ''), COALESCE(address, ''), COALESCE(contact_person, ''), created_at
		FROM inventory_bases
		WHERE partner_id = $1
		ORDER BY name
	`, partnerID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var bases []domain.InventoryBase
	for rows.Next() {
		var b domain.InventoryBase
		if err := rows.Scan(&b.ID, &b.PartnerID, &b.Name, &b.Country, &b.Region, &b.Address, &b.ContactPerson, &b.CreatedAt); err != nil {
			return nil, err
		}
		bases = append(bases, b)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return bases, nil
}

func (r *Repository) ListCurrencies(ctx context.Context) ([]domain.Currency, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT code, name, symbol
		FROM currencies
		ORDER BY code
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var currencies []domain.Currency
	for rows.Next() {
		var c domain.Currency
		if err := rows.Scan(&c.Code, &c.Name, &c.Symbol); err != nil {
			return nil, err
		}
		currencies = append(currencies, c)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return currencies, nil
}

// GetRate returns the static exchange rate from base to target, or nil
// when no rate is configured for the pair.
func (r *Repository) GetRate(ctx context.Context, baseCode, targetCode string) (*domain.ExchangeRate, error) {
	rate := &domain.ExchangeRate{}

	err := r.db.QueryRowContext(ctx, `
		SELECT base_code, target_code, rate
		FROM exchange_rates
		WHERE base_code = $1 AND target_code = $2
	`, baseCode, targetCode).Scan(&rate.BaseCode, &rate.TargetCode, &rate.Rate)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return rate, nil
}
