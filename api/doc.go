// Package api defines the HTTP request and response types of the payroll
// provisioning service, the server configuration, and the mapping from
// domain errors to HTTP statuses. The handlers themselves live in the
// authhandler and payrollhandler subpackages.
package api
