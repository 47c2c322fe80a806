package observability

import (
	"fmt"
	"sync"
	"time"
)

type Role string

const (
	RoleIdle        Role = "IDLE"
	RolePlanner     Role = "PLANNER"
	RoleSupervisor  Role = "SUPERVISOR"
	RoleRoleCreator Role = "ROLE_CREATOR"
)

type SystemStatus struct {
	mu          sync.RWMutex
	CurrentRole Role
	ActiveTask  string
	Since       time.Time
}

var globalStatus = &SystemStatus{
	CurrentRole: RoleIdle,
	Since:       time.Now(),
}

// SetStatus updates the global system status.
func SetStatus(role Role, task string) {
	globalStatus.mu.Lock()
	defer globalStatus.mu.Unlock()
	globalStatus.CurrentRole = role
	globalStatus.ActiveTask = task
	globalStatus.Since = time.Now()
}

// GetStatus retrieves a copy of the global system status.
func GetStatus() (Role, string, time.Time) {
	globalStatus.mu.RLock()
	defer globalStatus.mu.RUnlock()
	return globalStatus.CurrentRole, globalStatus.ActiveTask, globalStatus.Since
}

// StatusLine renders the current status for the terminal.
func StatusLine() string {
	role, task, since := GetStatus()
	if role == RoleIdle {
		return "idle"
	}
	if task == "" {
		task = "-"
	}
	return fmt.Sprintf("%s on %s for %v", role, task, time.Since(since).Round(time.Second))
}
