package bot

import (
	"context"
	"fmt"
	"time"

	"contactbot/internal/domain"
	"contactbot/internal/metrics"
)

const (
	// extendMargin is how close to expiry the session must be before a
	// renewal is attempted.
	extendMargin = 10 * time.Minute
	// extendHorizon is how far a successful renewal pushes the expiry.
	extendHorizon = 24 * time.Hour
)

// maintenanceTask is one supervised periodic unit of work. A failed or
// panicking run is logged and counted; it never cancels the timer or
// affects sibling tasks.
type maintenanceTask struct {
	name      string
	interval  time.Duration
	immediate bool // run once right after the settle delay
	run       func(ctx context.Context) error
}

// startMaintenance arms the three periodic tasks on the given connection.
// Each task waits out the settle delay so the channel can stabilize before
// the first pass.
func (b *Bot) startMaintenance(ctx context.Context, conn *connection) {
	iv := b.cfg.Intervals
	settle := time.Duration(iv.SettleSeconds) * time.Second

	tasks := []maintenanceTask{
		{
			name:      "auto-accept",
			interval:  time.Duration(iv.AutoAcceptSeconds) * time.Second,
			immediate: true,
			run: func(ctx context.Context) error {
				return b.runAutoAccept(ctx, conn.hub)
			},
		},
		{
			name:      "status-broadcast",
			interval:  time.Duration(iv.StatusSeconds) * time.Second,
			immediate: true,
			run: func(ctx context.Context) error {
				return b.runStatusUpdate(ctx, conn.hub)
			},
		},
		{
			name:     "extend-login",
			interval: time.Duration(iv.ExtendLoginSeconds) * time.Second,
			run:      b.runExtendLogin,
		},
	}

	for _, t := range tasks {
		conn.tasks.Add(1)
		go func(t maintenanceTask) {
			defer conn.tasks.Done()
			b.runPeriodic(ctx, t, settle)
		}(t)
	}
}

func (b *Bot) runPeriodic(ctx context.Context, t maintenanceTask, settle time.Duration) {
	if settle > 0 {
		timer := time.NewTimer(settle)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
	if t.immediate {
		b.runSupervised(ctx, t)
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.runSupervised(ctx, t)
		}
	}
}

// runSupervised isolates one task run: errors and panics are contained
// here so a bad cycle cannot tear down the timer or the process.
func (b *Bot) runSupervised(ctx context.Context, t maintenanceTask) {
	defer func() {
		if r := recover(); r != nil {
			metrics.MaintenanceErrors.Inc()
			b.logger.Error("maintenance task panicked", "task", t.name, "panic", r)
		}
	}()
	if err := t.run(ctx); err != nil {
		metrics.MaintenanceErrors.Inc()
		b.logger.Error("maintenance task failed", "task", t.name, "err", err)
	}
}

// runAutoAccept fetches the contact list and accepts pending requests
// according to the configured mode. A failed accept for one contact does
// not block the rest of the batch.
func (b *Bot) runAutoAccept(ctx context.Context, hub domain.Hub) error {
	mode := b.cfg.Behavior.AutoAcceptRequests
	if mode == "none" {
		return nil
	}

	b.mu.Lock()
	userID := b.sess.userID
	authorization := b.sess.authorization
	whitelist := b.sess.whitelist
	b.mu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, b.requestTimeout())
	defer cancel()
	contacts, err := b.api.Contacts(reqCtx, userID, authorization)
	if err != nil {
		return fmt.Errorf("fetch contacts for auto accept: %w", err)
	}

	for _, contact := range contacts {
		if contact.Status != domain.ContactRequested {
			continue
		}
		if mode == "list" {
			if _, ok := whitelist[contact.ID]; !ok {
				continue
			}
		}

		contact.Status = domain.ContactAccepted
		if err := hub.Send(ctx, "UpdateContact", contact); err != nil {
			b.logger.Error("error accepting contact", "contact", contact.ID, "err", err)
			continue
		}
		metrics.ContactsAccepted.Inc()
		b.logger.Info("accepted contact request", "contact", contact.ID)
		b.events.emitContactAdded(contact.ID)
	}
	return nil
}

// runStatusUpdate broadcasts the bot's presence to the online group.
func (b *Bot) runStatusUpdate(ctx context.Context, hub domain.Hub) error {
	if !b.cfg.Behavior.UpdateStatus {
		return nil
	}

	b.mu.Lock()
	userID := b.sess.userID
	sessionID := b.sess.sessionID
	b.mu.Unlock()

	now := b.now()
	status := domain.UserStatus{
		UserID:            userID,
		OnlineStatus:      "Online",
		OutputDevice:      "Unknown",
		SessionType:       "Bot",
		UserSessionID:     sessionID,
		IsPresent:         true,
		LastPresence:      now,
		LastStatusChange:  now,
		CompatibilityHash: "contactbot",
		AppVersion:        b.cfg.General.VersionName,
		IsMobile:          false,
	}
	group := domain.BroadcastGroup{Group: 1}

	if err := hub.Send(ctx, "BroadcastStatus", status, group); err != nil {
		return fmt.Errorf("broadcast status: %w", err)
	}
	return nil
}

// runExtendLogin renews the session when it is within the expiry margin.
// A failed renewal keeps the current token; a later cycle tries again.
func (b *Bot) runExtendLogin(ctx context.Context) error {
	if !b.cfg.Behavior.AutoExtendLogin {
		return nil
	}

	b.mu.Lock()
	expiry := b.sess.tokenExpiry
	authorization := b.sess.authorization
	b.mu.Unlock()

	if expiry.Add(-extendMargin).After(b.now()) {
		return nil
	}

	b.logger.Info("extending login session")
	reqCtx, cancel := context.WithTimeout(ctx, b.requestTimeout())
	defer cancel()
	if err := b.api.Extend(reqCtx, authorization); err != nil {
		return fmt.Errorf("extend login: %w", err)
	}

	b.mu.Lock()
	b.sess.tokenExpiry = b.now().Add(extendHorizon)
	b.mu.Unlock()
	b.logger.Info("successfully extended login session")
	return nil
}
