package authz

const (
	RoleTenantAdmin   = "tenant-admin"
	RolePayrollAdmin  = "payroll-admin"
	RolePayrollViewer = "payroll-viewer"
	RoleAnonymous     = "anonymous"
)

const (
	ActionRead  = "read"
	ActionWrite = "write"
	ActionAdmin = "admin"
)

const DomainGlobal = "global"

const (
	ObjectPayrollHeadings = "payroll.headings"
	ObjectPayrollPeriods  = "payroll.periods"
	ObjectPayrollRecords  = "payroll.records"
	ObjectPayrollEdits    = "payroll.edits"
	ObjectPayrollImports  = "payroll.imports"
	ObjectPayrollRules    = "payroll.rules"
)
