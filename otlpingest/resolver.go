package otlpingest

// TenantResolver derives the tenant and project a batch of resource
// attributes belongs to (spec §4.9 step "Resolved(tenant)"). Deployments
// with their own multi-tenant auth scheme supply a custom implementation;
// DefaultTenantResolver covers the common case of attributes carrying the
// project id directly.
type TenantResolver interface {
	ResolveTenant(resourceAttrs map[string]any) (tenantID, projectID string, err error)
}

// DefaultTenantResolver reads "tenant" and "project_id" directly out of the
// resource attribute map, matching the baggage keys the execution pipeline
// itself promotes onto spans (span.BaggageTenant, span.BaggageProjectID).
type DefaultTenantResolver struct{}

// ResolveTenant implements TenantResolver.
func (DefaultTenantResolver) ResolveTenant(resourceAttrs map[string]any) (string, string, error) {
	tenant, _ := resourceAttrs["tenant"].(string)
	projectID, _ := resourceAttrs["project_id"].(string)
	return tenant, projectID, nil
}
