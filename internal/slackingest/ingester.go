// Package slackingest turns Slack Events API deliveries into feedback items for
// every account listening on the originating channel.
package slackingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/slack-go/slack/slackevents"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lisbetwade-design/ReviuNew/internal/apperr"
	"github.com/lisbetwade-design/ReviuNew/internal/metrics"
	"github.com/lisbetwade-design/ReviuNew/internal/store"
	"github.com/lisbetwade-design/ReviuNew/internal/vault"
)

const (
	InboxDesignName   = "Slack Inbox"
	DefaultBucket     = 5 * time.Minute
	unknownAuthorName = "Slack User"
)

// NameResolver looks up human-readable names with an account's own token.
type NameResolver interface {
	ChannelName(ctx context.Context, token, channelID string) (string, error)
	UserName(ctx context.Context, token, userID string) (string, error)
}

// DeliveryGuard reports whether an event id is new.
type DeliveryGuard interface {
	FirstDelivery(ctx context.Context, eventID string) (bool, error)
}

// DestinationPolicy picks the project that receives an account's chat
// feedback. A nil project means the account is skipped.
type DestinationPolicy interface {
	Project(ctx context.Context, ownerID string) (*store.Project, error)
}

// OldestProject sends chat feedback to the owner's first-created project.
type OldestProject struct {
	Projects store.ProjectRepository
}

func (p OldestProject) Project(ctx context.Context, ownerID string) (*store.Project, error) {
	project, err := p.Projects.First(ctx, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return project, err
}

// Ack is the body returned to Slack.
type Ack struct {
	Challenge string `json:"challenge,omitempty"`
	OK        bool   `json:"ok,omitempty"`
}

type Options struct {
	Parallelism int
	Bucket      time.Duration
	Guard       DeliveryGuard
	Policy      DestinationPolicy
	Logger      *zap.Logger
}

type Ingester struct {
	subs        store.ChatSubscriptionRepository
	designs     store.DesignRepository
	feedback    store.FeedbackRepository
	vault       *vault.Vault
	names       NameResolver
	guard       DeliveryGuard
	policy      DestinationPolicy
	parallelism int
	bucket      time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

func New(st *store.Store, v *vault.Vault, names NameResolver, opts Options) *Ingester {
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	if opts.Bucket <= 0 {
		opts.Bucket = DefaultBucket
	}
	if opts.Policy == nil {
		opts.Policy = OldestProject{Projects: st.Projects}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Ingester{
		subs:        st.ChatSubscriptions,
		designs:     st.Designs,
		feedback:    st.Feedback,
		vault:       v,
		names:       names,
		guard:       opts.Guard,
		policy:      opts.Policy,
		parallelism: opts.Parallelism,
		bucket:      opts.Bucket,
		logger:      opts.Logger,
		now:         time.Now,
	}
}

// message is a user-authored channel message taken from an event callback.
type message struct {
	EventID string
	TeamID  string
	Channel string
	User    string
	Text    string
	SentAt  time.Time
}

// HandleEvent processes one delivery. Only an unparseable body is an error;
// every per-account failure is logged and the delivery is still acknowledged.
func (i *Ingester) HandleEvent(ctx context.Context, body []byte) (*Ack, error) {
	var outer slackevents.EventsAPICallbackEvent
	if err := json.Unmarshal(body, &outer); err != nil {
		return nil, fmt.Errorf("%w: decode event payload: %v", apperr.ErrInvalidInput, err)
	}

	switch outer.Type {
	case slackevents.URLVerification:
		var v slackevents.EventsAPIURLVerificationEvent
		if err := json.Unmarshal(body, &v); err != nil {
			return nil, fmt.Errorf("%w: decode url verification: %v", apperr.ErrInvalidInput, err)
		}
		return &Ack{Challenge: v.Challenge}, nil
	case slackevents.CallbackEvent:
	default:
		return &Ack{OK: true}, nil
	}

	msg, ok, err := i.parseMessage(&outer)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Ack{OK: true}, nil
	}

	logger := i.logger.With(zap.String("team_id", msg.TeamID), zap.String("channel", msg.Channel), zap.String("event_id", msg.EventID))
	if i.guard != nil {
		first, err := i.guard.FirstDelivery(ctx, msg.EventID)
		if err != nil {
			logger.Warn("delivery guard unavailable", zap.Error(err))
		}
		if !first {
			logger.Info("duplicate delivery dropped")
			return &Ack{OK: true}, nil
		}
	}

	i.fanout(ctx, msg, logger)
	return &Ack{OK: true}, nil
}

func (i *Ingester) parseMessage(outer *slackevents.EventsAPICallbackEvent) (message, bool, error) {
	if outer.InnerEvent == nil {
		return message{}, false, nil
	}
	// Other event types carry object-valued channel and user fields.
	var inner struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(*outer.InnerEvent, &inner); err != nil {
		return message{}, false, fmt.Errorf("%w: decode inner event: %v", apperr.ErrInvalidInput, err)
	}
	if inner.Type != string(slackevents.Message) {
		return message{}, false, nil
	}

	var ev slackevents.MessageEvent
	if err := json.Unmarshal(*outer.InnerEvent, &ev); err != nil {
		return message{}, false, fmt.Errorf("%w: decode inner event: %v", apperr.ErrInvalidInput, err)
	}
	// Bot posts and subtyped messages (edits, deletes, joins) are not feedback.
	if ev.Type != string(slackevents.Message) || ev.BotID != "" || ev.SubType != "" || ev.Channel == "" {
		return message{}, false, nil
	}

	sent := parseSlackTS(ev.TimeStamp)
	if sent.IsZero() && outer.EventTime > 0 {
		sent = time.Unix(int64(outer.EventTime), 0)
	}
	if sent.IsZero() {
		sent = i.now()
	}
	return message{
		EventID: outer.EventID,
		TeamID:  outer.TeamID,
		Channel: ev.Channel,
		User:    ev.User,
		Text:    ev.Text,
		SentAt:  sent,
	}, true, nil
}

func (i *Ingester) fanout(ctx context.Context, msg message, logger *zap.Logger) {
	subs, err := i.subs.ListByTeam(ctx, msg.TeamID)
	if err != nil {
		logger.Error("list chat subscriptions failed", zap.Error(err))
		return
	}

	naturalKey := NaturalKey(msg.Channel, msg.User, msg.Text, msg.SentAt, i.bucket)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.parallelism)
	for _, sub := range subs {
		if !sub.Listens(msg.Channel) {
			continue
		}
		g.Go(func() error {
			accountLogger := logger.With(zap.String("owner_id", sub.OwnerID))
			outcome, err := i.deliver(gctx, sub, msg, naturalKey, accountLogger)
			if err != nil {
				accountLogger.Warn("chat feedback delivery failed", zap.Error(err))
				outcome = metrics.OutcomeFailed
			}
			metrics.ObserveFanout(outcome)
			return nil
		})
	}
	_ = g.Wait()
}

func (i *Ingester) deliver(ctx context.Context, sub store.ChatSubscription, msg message, naturalKey string, logger *zap.Logger) (string, error) {
	project, err := i.policy.Project(ctx, sub.OwnerID)
	if err != nil {
		return "", fmt.Errorf("resolve destination project: %w", err)
	}
	if project == nil {
		logger.Info("account has no project, skipping")
		return metrics.OutcomeSkipped, nil
	}

	var token string
	if sub.EncryptedAccessToken != "" {
		if token, err = i.vault.Decrypt(sub.EncryptedAccessToken); err != nil {
			logger.Error("chat token unreadable", zap.Error(err))
			return "", err
		}
	}
	channelName, author := i.resolveNames(ctx, token, msg, logger)

	designID, err := i.designs.EnsureNamed(ctx, project.ID, store.DesignSourceSlack, InboxDesignName)
	if err != nil {
		return "", fmt.Errorf("ensure inbox design: %w", err)
	}

	authorKey := "slack:" + msg.User
	if msg.User == "" {
		authorKey = "slack:unknown"
	}
	inserted, err := i.feedback.Insert(ctx, store.FeedbackItem{
		OwnerID:           sub.OwnerID,
		ProjectID:         &project.ID,
		DesignID:          &designID,
		Content:           msg.Text,
		AuthorName:        author,
		AuthorIdentityKey: authorKey,
		Status:            store.StatusOpen,
		Source:            store.SourceSlack,
		SourceChannel:     &msg.Channel,
		SourceChannelName: &channelName,
		NaturalKey:        naturalKey,
		CreatedAt:         msg.SentAt,
	})
	if err != nil {
		metrics.ObserveFeedback(string(store.SourceSlack), metrics.OutcomeFailed)
		return "", fmt.Errorf("insert feedback: %w", err)
	}
	if !inserted {
		metrics.ObserveFeedback(string(store.SourceSlack), metrics.OutcomeSkipped)
		return metrics.OutcomeSkipped, nil
	}
	metrics.ObserveFeedback(string(store.SourceSlack), metrics.OutcomeAdded)
	return metrics.OutcomeDelivered, nil
}

// resolveNames falls back to the raw ids when a lookup fails.
func (i *Ingester) resolveNames(ctx context.Context, token string, msg message, logger *zap.Logger) (channelName, author string) {
	channelName = msg.Channel
	author = msg.User
	if author == "" {
		author = unknownAuthorName
	}
	if token == "" || i.names == nil {
		return channelName, author
	}

	if name, err := i.names.ChannelName(ctx, token, msg.Channel); err != nil {
		logger.Warn("channel name lookup failed", zap.Error(err))
	} else if name != "" {
		channelName = name
	}
	if msg.User != "" {
		if name, err := i.names.UserName(ctx, token, msg.User); err != nil {
			logger.Warn("user name lookup failed", zap.Error(err))
		} else if name != "" {
			author = name
		}
	}
	return channelName, author
}

// NaturalKey identifies a chat message across redeliveries. Messages with the
// same channel, author and text inside one bucket share a key.
func NaturalKey(channel, user, text string, sentAt time.Time, bucket time.Duration) string {
	if bucket <= 0 {
		bucket = DefaultBucket
	}
	slot := sentAt.UnixNano() / int64(bucket)
	h := sha256.New()
	for _, part := range []string{channel, user, text, strconv.FormatInt(slot, 10)} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// parseSlackTS converts a message ts such as "1712345678.000100".
func parseSlackTS(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil || f <= 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9))
}
