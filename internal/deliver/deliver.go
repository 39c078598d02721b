package deliver

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/bestpath/chatops/internal/forward"
)

// InlineCap is the hard upper bound for inline replies, independent of the
// follow-up threshold.
const InlineCap = 3800

// DefaultChunkSize is the practical size limit of a single follow-up message.
const DefaultChunkSize = 3500

var followupMessagesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gateway_followup_messages_total",
		Help: "Follow-up webhook messages sent, by outcome",
	},
	[]string{"outcome"},
)

// Poster sends a JSON payload to a URL. Satisfied by *forward.Client.
type Poster interface {
	Post(ctx context.Context, url string, headers map[string]string, body any) (*forward.Result, error)
}

// WebhookRoutes looks up the follow-up webhook for a channel.
type WebhookRoutes interface {
	WebhookURL(channelID string) (string, bool)
}

// Outcome is what the dispatcher should answer inline.
type Outcome struct {
	Text string
	// Async is true when the full body is being delivered through the
	// follow-up webhook and Text is only a short acknowledgment.
	Async bool
}

// Deliverer decides between an inline reply and asynchronous follow-up
// delivery based on payload size, and performs the follow-up sends. The
// decision is content-agnostic: backend responses and local execution output
// go through the same path.
type Deliverer struct {
	routes    WebhookRoutes
	poster    Poster
	logger    zerolog.Logger
	threshold int
	chunkSize int
	timeout   time.Duration
}

// NewDeliverer builds a Deliverer. threshold is the inline size boundary in
// bytes; bodies strictly above it go through the follow-up webhook when one
// is mapped for the channel. timeout bounds each background post and must
// cover the poster's full retry budget, not a single attempt.
func NewDeliverer(logger zerolog.Logger, routes WebhookRoutes, poster Poster, threshold int, timeout time.Duration) *Deliverer {
	return &Deliverer{
		routes:    routes,
		poster:    poster,
		logger:    logger.With().Str("component", "deliverer").Logger(),
		threshold: threshold,
		chunkSize: DefaultChunkSize,
		timeout:   timeout,
	}
}

// Deliver returns the inline reply for text. When text exceeds the threshold
// and the channel has a follow-up webhook, it kicks off a background
// goroutine that streams the full text as ordered chunks and returns a short
// acknowledgment; otherwise the text itself is returned, truncated to the
// inline cap.
func (d *Deliverer) Deliver(channelID, text, username, iconEmoji string) Outcome {
	url, hasHook := d.routes.WebhookURL(channelID)
	if len(text) <= d.threshold || !hasHook {
		return Outcome{Text: Truncate(text, InlineCap)}
	}

	go d.sendChunks(url, channelID, text, username, iconEmoji)

	return Outcome{
		Text:  fmt.Sprintf(":hourglass_flowing_sand: Response is long (%d chars); delivering via follow-up webhook.", len(text)),
		Async: true,
	}
}

// SendWebhook posts a single follow-up message to the channel's webhook.
// Returns an error when no webhook is mapped or the post fails; chunked
// background delivery logs instead.
func (d *Deliverer) SendWebhook(ctx context.Context, channelID, text, username, iconEmoji string) error {
	url, ok := d.routes.WebhookURL(channelID)
	if !ok {
		return fmt.Errorf("no webhook mapped for channel %q", channelID)
	}
	return d.post(ctx, url, text, username, iconEmoji)
}

// sendChunks delivers text through the webhook as ordered chunks. Each post
// is awaited before the next so arrival order matches original byte order.
// Failures are logged only: the inline acknowledgment has already been sent
// and cannot be amended.
func (d *Deliverer) sendChunks(url, channelID, text, username, iconEmoji string) {
	chunks := Chunk(text, d.chunkSize)
	for i, chunk := range chunks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := d.post(ctx, url, chunk, username, iconEmoji)
		cancel()
		if err != nil {
			followupMessagesTotal.WithLabelValues("error").Inc()
			d.logger.Error().Err(err).
				Str("channel_id", channelID).
				Int("chunk", i+1).
				Int("chunks", len(chunks)).
				Msg("follow-up delivery failed")
			return
		}
		followupMessagesTotal.WithLabelValues("ok").Inc()
	}
}

func (d *Deliverer) post(ctx context.Context, url, text, username, iconEmoji string) error {
	payload := map[string]any{"text": text}
	if username != "" {
		payload["username"] = username
	}
	if iconEmoji != "" {
		payload["icon_emoji"] = iconEmoji
	}

	res, err := d.poster.Post(ctx, url, nil, payload)
	if err != nil {
		return err
	}
	if res.StatusCode >= 300 {
		return fmt.Errorf("webhook post failed: status %d: %s", res.StatusCode, Truncate(string(res.Body), 500))
	}
	return nil
}
