// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alem-hub/beacon-presence/internal/domain/preferences"
	"github.com/alem-hub/beacon-presence/internal/domain/session"
	"github.com/alem-hub/beacon-presence/internal/domain/shared"
	"github.com/alem-hub/beacon-presence/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CHECK-IN COMMAND
// Stores the student identifier typed on the device so completed sessions
// are attributed to it.
// ══════════════════════════════════════════════════════════════════════════════

// CheckInCommand contains the check-in form data.
type CheckInCommand struct {
	// StudentID is the identifier typed by the student.
	StudentID string

	// SuppressRules hides the study-room rules dialog on future check-ins.
	// nil keeps the stored choice.
	SuppressRules *bool
}

// Validate validates the command.
func (c CheckInCommand) Validate() error {
	if err := session.ValidateStudentID(c.StudentID); err != nil {
		return fmt.Errorf("check_in: %w", err)
	}
	return nil
}

// CheckInResult contains the result of a check-in.
type CheckInResult struct {
	StudentID string

	// RulesDialogShown tells the caller to display the rules dialog.
	RulesDialogShown bool

	CheckedInAt time.Time
}

// StudentBinder attaches the student identifier to the running monitor.
type StudentBinder interface {
	SetStudentID(ctx context.Context, id string) error
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// CheckInHandler handles the CheckInCommand.
type CheckInHandler struct {
	prefs     preferences.Store
	binder    StudentBinder         // optional
	publisher shared.EventPublisher // optional
	logger    *slog.Logger
	now       func() time.Time
}

// NewCheckInHandler creates a new CheckInHandler.
func NewCheckInHandler(
	prefs preferences.Store,
	binder StudentBinder,
	publisher shared.EventPublisher,
	log *slog.Logger,
) *CheckInHandler {
	if log == nil {
		log = slog.Default()
	}
	return &CheckInHandler{
		prefs:     prefs,
		binder:    binder,
		publisher: publisher,
		logger:    log.With(logger.Component("check_in")),
		now:       time.Now,
	}
}

// Handle executes the check-in command.
func (h *CheckInHandler) Handle(ctx context.Context, cmd CheckInCommand) (*CheckInResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, shared.WrapError("preferences", "CheckIn", shared.ErrInvalidInput, "validation failed", err)
	}
	id := strings.TrimSpace(cmd.StudentID)

	if err := h.prefs.SetStudentID(ctx, id); err != nil {
		return nil, fmt.Errorf("check_in: store student id: %w", err)
	}

	if cmd.SuppressRules != nil {
		if err := h.prefs.SetRulesSuppressed(ctx, *cmd.SuppressRules); err != nil {
			return nil, fmt.Errorf("check_in: store rules preference: %w", err)
		}
	}

	suppressed, err := h.prefs.RulesSuppressed(ctx)
	if err != nil && !errors.Is(err, preferences.ErrNotSet) {
		h.logger.Warn("failed to read rules preference", logger.Err(err))
	}

	if h.binder != nil {
		if err := h.binder.SetStudentID(ctx, id); err != nil {
			// The stored ID is picked up on the next monitor start.
			h.logger.Warn("monitor did not accept student id", logger.Err(err))
		}
	}

	now := h.now()
	if h.publisher != nil {
		if err := h.publisher.Publish(shared.NewStudentCheckedInEvent(id, now)); err != nil {
			h.logger.Warn("failed to publish check-in event", logger.Err(err))
		}
	}

	h.logger.Info("student checked in", logger.StudentID(id), "rules_suppressed", suppressed)

	return &CheckInResult{
		StudentID:        id,
		RulesDialogShown: !suppressed,
		CheckedInAt:      now,
	}, nil
}
