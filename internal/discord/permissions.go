package discord

import (
	"slices"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
)

// PermissionChecker validates that a Discord member has the role allowed to
// convert files. The role can be swapped at runtime on config reload.
type PermissionChecker struct {
	roleID atomic.Pointer[string]
}

// NewPermissionChecker creates a PermissionChecker for the given role ID.
func NewPermissionChecker(roleID string) *PermissionChecker {
	p := &PermissionChecker{}
	p.SetRole(roleID)
	return p
}

// SetRole replaces the allowed role. Empty allows everyone.
func (p *PermissionChecker) SetRole(roleID string) {
	p.roleID.Store(&roleID)
}

// Role returns the currently allowed role ID.
func (p *PermissionChecker) Role() string {
	return *p.roleID.Load()
}

// Allowed checks whether the interaction author has the configured role.
// If no role is configured, everyone is allowed. Returns false if the
// interaction has no Member (e.g., DM channel interactions) and a role is set.
func (p *PermissionChecker) Allowed(i *discordgo.InteractionCreate) bool {
	role := p.Role()
	if role == "" {
		return true
	}
	if i.Member == nil {
		return false
	}
	return slices.Contains(i.Member.Roles, role)
}
