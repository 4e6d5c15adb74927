package command

import (
	"context"
	"fmt"
)

// ══════════════════════════════════════════════════════════════════════════════
// FORCE SILENT REMINDER COMMAND
// Re-issues the silent-mode reminder on demand. Unlike the automatic one it
// is not limited to once per session.
// ══════════════════════════════════════════════════════════════════════════════

// SilentTrigger is implemented by the presence monitor.
type SilentTrigger interface {
	ForceSilentReminder(ctx context.Context) error
}

// ForceSilentReminderHandler handles manual silent-mode requests.
type ForceSilentReminderHandler struct {
	trigger SilentTrigger
}

// NewForceSilentReminderHandler creates a new ForceSilentReminderHandler.
func NewForceSilentReminderHandler(trigger SilentTrigger) *ForceSilentReminderHandler {
	return &ForceSilentReminderHandler{trigger: trigger}
}

// Handle executes the command.
func (h *ForceSilentReminderHandler) Handle(ctx context.Context) error {
	if err := h.trigger.ForceSilentReminder(ctx); err != nil {
		return fmt.Errorf("force_silent_reminder: %w", err)
	}
	return nil
}
