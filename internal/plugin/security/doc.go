// Package security defines the plugin permission model: the closed catalog of
// recognized permissions and the per-plugin checker that the API broker
// consults before dispatching any privileged operation.
package security
