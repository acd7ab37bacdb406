// Package tenantdb is a thin façade over gorm.io/gorm for multi-tenant URL
// selection and per-query tenant filtering. It delegates everything else —
// migrations, connection pooling, query building — to gorm, keeping one
// connection per tenant alongside a shared fallback.
package tenantdb

import (
	"time"

	"corekit.dev/errs"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Request is the minimal request shape the router consults to resolve a
// tenant, matching §6.3's "no specific web framework is assumed" stance.
type Request interface {
	// TenantID returns the caller's tenant identifier, or "" if absent.
	TenantID() string
}

// Router selects a *gorm.DB handle per request and scopes queries to a
// tenant_id column where applicable.
type Router struct {
	byOrg    map[string]*gorm.DB
	fallback *gorm.DB
}

// New opens a connection for each url in dsnByOrg and one fallback
// connection used when a request carries no tenant id or an id absent
// from dsnByOrg.
func New(fallbackDSN string, dsnByOrg map[string]string) (*Router, error) {
	fallback, err := openConn(fallbackDSN)
	if err != nil {
		return nil, err
	}

	byOrg := make(map[string]*gorm.DB, len(dsnByOrg))
	for org, dsn := range dsnByOrg {
		db, err := openConn(dsn)
		if err != nil {
			return nil, errs.Wrap(errs.Configuration, "open tenant connection for org "+org, err)
		}
		byOrg[org] = db
	}

	return &Router{byOrg: byOrg, fallback: fallback}, nil
}

func openConn(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, errs.Wrap(errs.Configuration, "open postgres connection", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errs.Wrap(errs.Configuration, "access underlying sql.DB", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return db, nil
}

// Get returns the handle for request's tenant, falling back to the
// router's default connection when request is nil, carries no tenant id,
// or names a tenant the router does not hold a dedicated connection for.
func (r *Router) Get(request Request) *gorm.DB {
	if request == nil {
		return r.fallback
	}
	org := request.TenantID()
	if org == "" {
		return r.fallback
	}
	if db, ok := r.byOrg[org]; ok {
		return db
	}
	return r.fallback
}

// GetTenants returns a handle suitable for cross-tenant queries: the
// fallback connection, unscoped by any tenant_id filter. Callers querying
// a model that also exists per-org should route those queries through
// Org instead.
func (r *Router) GetTenants(request Request) *gorm.DB {
	return r.fallback
}

// Org returns a SubRouter bound to orgID: every query built from it is
// both connected to orgID's dedicated database (if one is registered) and
// scoped to rows where tenant_id = orgID.
func (r *Router) Org(orgID string) *SubRouter {
	db, ok := r.byOrg[orgID]
	if !ok {
		db = r.fallback
	}
	return &SubRouter{orgID: orgID, db: db}
}

// SubRouter is a Router narrowed to one organization, per §6.4's
// `org(orgId) → subRouter`.
type SubRouter struct {
	orgID string
	db    *gorm.DB
}

// Handle returns a *gorm.DB pre-scoped to this org's tenant_id, so a
// caller's Find/Create/Update never crosses tenant boundaries by mistake.
func (s *SubRouter) Handle() *gorm.DB {
	return s.db.Scopes(byTenant(s.orgID))
}

func byTenant(orgID string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("tenant_id = ?", orgID)
	}
}
