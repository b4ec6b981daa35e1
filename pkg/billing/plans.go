package billing

// Plan describes one purchasable tier
type Plan struct {
	ID          PlanType `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Price       float64  `json:"price" yaml:"price"`
	PriceID     string   `json:"priceId,omitempty" yaml:"-"`
	Generations int      `json:"generations" yaml:"generations"`
	Features    []string `json:"features" yaml:"features"`
}

// Unlimited reports whether the plan carries no generation ceiling
func (p Plan) Unlimited() bool {
	return p.Generations == UnlimitedGenerations
}

// DefaultPlans returns the built-in tiers. Price references are only
// meaningful for the paid tiers.
func DefaultPlans(basicPriceID, proPriceID string) []Plan {
	return []Plan{
		{
			ID:          PlanFree,
			Name:        "Free",
			Price:       0,
			Generations: FreeGenerations,
			Features: []string{
				"5 fursona generations per month",
				"Basic AI quality",
				"Community support",
			},
		},
		{
			ID:          PlanBasic,
			Name:        "Basic",
			Price:       9.99,
			PriceID:     basicPriceID,
			Generations: 50,
			Features: []string{
				"50 fursona generations per month",
				"Enhanced AI quality",
				"Priority support",
				"Save generation history",
			},
		},
		{
			ID:          PlanPro,
			Name:        "Pro",
			Price:       19.99,
			PriceID:     proPriceID,
			Generations: UnlimitedGenerations,
			Features: []string{
				"Unlimited fursona generations",
				"Best AI quality",
				"Priority support",
				"Save generation history",
				"Early access to new features",
			},
		},
	}
}

// Catalog is an immutable set of plans plus the paid-plans capability flag.
// Replace it wholesale to change plans at runtime.
type Catalog struct {
	plans       []Plan
	paidEnabled bool
}

// NewCatalog builds a catalog from plans in display order
func NewCatalog(plans []Plan, paidEnabled bool) *Catalog {
	copied := make([]Plan, len(plans))
	for i, p := range plans {
		p.Features = append([]string(nil), p.Features...)
		copied[i] = p
	}
	return &Catalog{plans: copied, paidEnabled: paidEnabled}
}

// DefaultCatalog returns the built-in plans
func DefaultCatalog(basicPriceID, proPriceID string, paidEnabled bool) *Catalog {
	return NewCatalog(DefaultPlans(basicPriceID, proPriceID), paidEnabled)
}

// Current lets a fixed catalog stand in wherever a CatalogSource is expected
func (c *Catalog) Current() *Catalog {
	return c
}

// PaidEnabled reports whether paid plans can be purchased
func (c *Catalog) PaidEnabled() bool {
	return c.paidEnabled
}

// Plan looks up a plan by id
func (c *Catalog) Plan(id PlanType) (Plan, bool) {
	for _, p := range c.plans {
		if p.ID == id {
			return p, true
		}
	}
	return Plan{}, false
}

// Limit returns the generations_limit a subscription on plan id receives
func (c *Catalog) Limit(id PlanType) (int, bool) {
	p, ok := c.Plan(id)
	if !ok {
		return 0, false
	}
	return p.Generations, true
}

// FreeLimit returns the allowance of the free tier
func (c *Catalog) FreeLimit() int {
	if limit, ok := c.Limit(PlanFree); ok {
		return limit
	}
	return FreeGenerations
}

// PriceFor resolves the provider price reference of a purchasable plan
func (c *Catalog) PriceFor(id PlanType) (string, error) {
	if !c.paidEnabled {
		return "", ErrStripeDisabled
	}
	p, ok := c.Plan(id)
	if !ok || !id.Paid() || p.PriceID == "" {
		return "", ErrUnknownPlan
	}
	return p.PriceID, nil
}

// Public returns the plans offered to clients. Unlimited generations are
// reported as -1 and only the free tier is listed while paid plans are off.
func (c *Catalog) Public() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		if p.ID.Paid() && !c.paidEnabled {
			continue
		}
		if p.Unlimited() {
			p.Generations = -1
		}
		if !p.ID.Paid() {
			p.PriceID = ""
		}
		p.Features = append([]string(nil), p.Features...)
		out = append(out, p)
	}
	return out
}
