// Package bot composes the session API, the hub connection and the
// maintenance tasks into one agent facade with a strict session state
// machine: logged out → logged in → running and back.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"contactbot/internal/config"
	"contactbot/internal/domain"
	"contactbot/internal/metrics"
)

// Options wires the bot's collaborators.
type Options struct {
	Config *config.Config
	API    domain.SessionAPI
	Dialer domain.HubDialer
	Logger *slog.Logger
	// Whitelist holds the identifiers eligible for auto-accept when the
	// behavior mode is "list".
	Whitelist []string
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Bot is the agent facade. All lifecycle transitions are serialized; the
// session state is mutated only under the state mutex so the loggedIn
// invariant (user id, token and authorization set and cleared together)
// always holds for observers.
type Bot struct {
	cfg    *config.Config
	api    domain.SessionAPI
	dialer domain.HubDialer
	logger *slog.Logger
	events *Events
	now    func() time.Time

	// lifecycle serializes Login/Start/Stop/Logout end to end, so
	// overlapping calls fail fast on the precondition checks instead of
	// interleaving.
	lifecycle sync.Mutex

	mu   sync.Mutex // guards sess and conn
	sess session
	conn *connection
}

// connection is the live handle owned by a running bot: the hub channel
// plus the maintenance timers bound to it.
type connection struct {
	hub    domain.Hub
	cancel context.CancelFunc
	tasks  sync.WaitGroup
}

// New creates a bot from its collaborators. The machine identifier and
// session correlation identifier are fixed for the bot's lifetime.
func New(opts Options) *Bot {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	whitelist := make(map[string]struct{}, len(opts.Whitelist))
	for _, id := range opts.Whitelist {
		whitelist[id] = struct{}{}
	}

	return &Bot{
		cfg:    opts.Config,
		api:    opts.API,
		dialer: opts.Dialer,
		logger: opts.Logger,
		events: &Events{},
		now:    opts.Now,
		sess: session{
			machineID: generateMachineID(),
			sessionID: uuid.NewString(),
			whitelist: whitelist,
		},
	}
}

// Events exposes the typed observable surface.
func (b *Bot) Events() *Events { return b.events }

// Login exchanges the configured credentials for a session. Valid only
// while logged out; configuration is validated before any network call.
func (b *Bot) Login(ctx context.Context) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	b.mu.Lock()
	if b.sess.loggedIn {
		b.mu.Unlock()
		return ErrAlreadyLoggedIn
	}
	machineID := b.sess.machineID
	b.mu.Unlock()

	acct := b.cfg.Account
	if acct.Username == "" || acct.Password == "" {
		return ErrMissingCredentials
	}

	ctx, cancel := context.WithTimeout(ctx, b.loginTimeout())
	defer cancel()

	us, err := b.api.Login(ctx, acct.Username, acct.Password, acct.TOTP, machineID)
	if err != nil {
		b.logger.Error("login failed", "username", acct.Username, "err", err)
		return err
	}

	b.mu.Lock()
	b.sess.setCredential(us)
	b.mu.Unlock()
	metrics.LoggedIn.Set(1)

	b.logger.Info("logged in", "userId", us.UserID, "expire", us.Expire)
	return nil
}

// Start establishes the hub connection and arms the maintenance tasks.
// Valid only while logged in and not already started. On failure the
// session stays logged in and no timers are armed.
func (b *Bot) Start(ctx context.Context) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	b.mu.Lock()
	if !b.sess.loggedIn {
		b.mu.Unlock()
		return ErrNotLoggedIn
	}
	if b.conn != nil {
		b.mu.Unlock()
		return ErrAlreadyStarted
	}
	creds := domain.HubCredentials{
		Authorization: b.sess.authorization,
		MachineID:     b.sess.machineID,
	}
	b.mu.Unlock()

	hub, err := b.dialer.Dial(ctx, creds)
	if err != nil {
		b.logger.Error("hub connection failed", "err", err)
		return err
	}
	b.registerHandlers(hub)

	taskCtx, cancel := context.WithCancel(context.Background())
	conn := &connection{hub: hub, cancel: cancel}

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	b.startMaintenance(taskCtx, conn)
	b.logger.Info("bot started")
	return nil
}

// Stop cancels the maintenance tasks, waits for in-flight runs to finish,
// then closes the hub channel. Valid only while running.
func (b *Bot) Stop() error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()
	return b.stopLocked()
}

func (b *Bot) stopLocked() error {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()
	if conn == nil {
		return ErrNotStarted
	}

	// Timers first: nothing may fire once the channel starts closing.
	conn.cancel()
	conn.tasks.Wait()

	err := conn.hub.Close()
	if err != nil {
		b.logger.Error("hub close failed", "err", err)
	}
	b.logger.Info("bot stopped")
	return err
}

// Logout revokes the session server-side and clears the in-memory
// credential. Valid only while logged in and stopped; the credential is
// kept if revocation fails.
func (b *Bot) Logout(ctx context.Context) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	b.mu.Lock()
	if b.conn != nil {
		b.mu.Unlock()
		return ErrStillRunning
	}
	if !b.sess.loggedIn {
		b.mu.Unlock()
		return ErrAlreadyLoggedOut
	}
	userID := b.sess.userID
	token := b.sess.token
	authorization := b.sess.authorization
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, b.requestTimeout())
	defer cancel()

	if err := b.api.Logout(ctx, userID, token, authorization); err != nil {
		b.logger.Error("logout failed", "err", err)
		return err
	}

	b.mu.Lock()
	b.sess.clearCredential()
	b.mu.Unlock()
	metrics.LoggedIn.Set(0)

	b.logger.Info("logged out", "userId", userID)
	return nil
}

// Restart stops the bot if it is running and starts it again on the same
// session.
func (b *Bot) Restart(ctx context.Context) error {
	if err := b.Stop(); err != nil && !errors.Is(err, ErrNotStarted) {
		return err
	}
	return b.Start(ctx)
}

// SendText sends a text message to the given recipient. Valid only while
// running.
func (b *Bot) SendText(ctx context.Context, recipientID, text string) error {
	b.mu.Lock()
	conn := b.conn
	senderID := b.sess.userID
	b.mu.Unlock()
	if conn == nil {
		return ErrNotStarted
	}

	now := b.now()
	msg := domain.Message{
		ID:             "MSG-" + uuid.NewString(),
		SenderID:       senderID,
		RecipientID:    recipientID,
		Type:           domain.MessageText,
		Content:        text,
		SendTime:       now,
		LastUpdateTime: now,
	}
	if err := conn.hub.Send(ctx, "SendMessage", msg); err != nil {
		b.logger.Error("couldn't send message", "recipient", recipientID, "err", err)
		return err
	}
	metrics.MessagesSent.Inc()
	return nil
}

// SendRaw sends a caller-built message without filling any field.
func (b *Bot) SendRaw(ctx context.Context, msg domain.Message) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return ErrNotStarted
	}
	if err := conn.hub.Send(ctx, "SendMessage", msg); err != nil {
		b.logger.Error("couldn't send message", "recipient", msg.RecipientID, "err", err)
		return err
	}
	metrics.MessagesSent.Inc()
	return nil
}

// AddContact looks the user up and registers them as an accepted contact.
// Valid only while running.
func (b *Bot) AddContact(ctx context.Context, contactID string) error {
	b.mu.Lock()
	conn := b.conn
	ownerID := b.sess.userID
	b.mu.Unlock()
	if conn == nil {
		return ErrNotStarted
	}

	reqCtx, cancel := context.WithTimeout(ctx, b.requestTimeout())
	defer cancel()
	user, err := b.api.User(reqCtx, contactID)
	if err != nil {
		return fmt.Errorf("look up contact %s: %w", contactID, err)
	}

	contact := domain.Contact{
		ID:       contactID,
		OwnerID:  ownerID,
		Username: user.Username,
		Status:   domain.ContactAccepted,
	}
	if err := conn.hub.Send(ctx, "UpdateContact", contact); err != nil {
		b.logger.Error("couldn't add contact", "contact", contactID, "err", err)
		return err
	}
	return nil
}

// RemoveContact rewrites an existing contact's status to Ignored. Valid
// only while running.
func (b *Bot) RemoveContact(ctx context.Context, contactID string) error {
	b.mu.Lock()
	conn := b.conn
	userID := b.sess.userID
	authorization := b.sess.authorization
	b.mu.Unlock()
	if conn == nil {
		return ErrNotStarted
	}

	reqCtx, cancel := context.WithTimeout(ctx, b.requestTimeout())
	defer cancel()
	contacts, err := b.api.Contacts(reqCtx, userID, authorization)
	if err != nil {
		return fmt.Errorf("fetch contacts: %w", err)
	}

	for _, contact := range contacts {
		if contact.ID != contactID {
			continue
		}
		contact.Status = domain.ContactIgnored
		if err := conn.hub.Send(ctx, "UpdateContact", contact); err != nil {
			b.logger.Error("couldn't remove contact", "contact", contactID, "err", err)
			return err
		}
		return nil
	}
	return fmt.Errorf("contact %s not found", contactID)
}

// Status is the snapshot exposed to the health/command surface.
type Status struct {
	LoggedIn bool   `json:"loggedIn"`
	Running  bool   `json:"running"`
	UserID   string `json:"userId,omitempty"`
	Hub      string `json:"hub"`
}

// Status reports the current session and connection state.
func (b *Bot) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := Status{
		LoggedIn: b.sess.loggedIn,
		Running:  b.conn != nil,
		UserID:   b.sess.userID,
		Hub:      domain.HubDisconnected.String(),
	}
	if b.conn != nil {
		st.Hub = b.conn.hub.State().String()
	}
	return st
}

// Online reports whether the bot holds a live hub connection.
func (b *Bot) Online() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil && b.conn.hub.State() == domain.HubConnected
}

func (b *Bot) loginTimeout() time.Duration {
	return time.Duration(b.cfg.Intervals.LoginTimeoutSeconds) * time.Second
}

func (b *Bot) requestTimeout() time.Duration {
	return time.Duration(b.cfg.Intervals.RequestTimeoutSeconds) * time.Second
}
