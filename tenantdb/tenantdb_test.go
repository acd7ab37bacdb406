package tenantdb_test

import (
	"testing"

	"corekit.dev/tenantdb"
	"github.com/stretchr/testify/assert"
)

type stubRequest struct{ tenant string }

func (r stubRequest) TenantID() string { return r.tenant }

// These exercise request-to-handle resolution only; standing up live
// PostgreSQL connections is outside this package's test scope.

func TestGetFallsBackWithNilRequest(t *testing.T) {
	r := &tenantdb.Router{}
	assert.Nil(t, r.Get(nil))
}

func TestGetFallsBackWithEmptyTenantID(t *testing.T) {
	r := &tenantdb.Router{}
	assert.Nil(t, r.Get(stubRequest{tenant: ""}))
}
