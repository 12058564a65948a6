package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// ErrEventNotFound is returned when the homeserver does not know an event.
var ErrEventNotFound = errors.New("matrix: event not found")

const (
	formatHTML   = "org.matrix.custom.html"
	maxErrorBody = 4 << 10
)

// Error is a non-2xx answer from the homeserver.
type Error struct {
	Status  int
	ErrCode string `json:"errcode"`
	Message string `json:"error"`
}

func (e *Error) Error() string {
	if e.ErrCode == "" {
		return fmt.Sprintf("matrix: http %d", e.Status)
	}
	return fmt.Sprintf("matrix: http %d %s: %s", e.Status, e.ErrCode, e.Message)
}

// Client talks to the homeserver as the application service.
type Client struct {
	BaseURL string
	Token   string
	// UserID, when set, is passed as ?user_id= so the appservice acts as
	// that user.
	UserID string
	HTTP   *http.Client
	Log    zerolog.Logger

	newTxnID func() string
}

// NewClient returns a Client for baseURL authenticating with the
// appservice token.
func NewClient(baseURL, token, userID string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Token:    token,
		UserID:   userID,
		HTTP:     &http.Client{Timeout: timeout},
		Log:      log,
		newTxnID: uuid.NewString,
	}
}

type sendBody struct {
	MsgType       string `json:"msgtype"`
	Body          string `json:"body"`
	Format        string `json:"format,omitempty"`
	FormattedBody string `json:"formatted_body,omitempty"`
}

// Send posts a text message with an HTML rendering into roomID.
func (c *Client) Send(ctx context.Context, roomID, plain, html string) error {
	txn := c.txnID()
	ctx, span := otel.Tracer("matrix/Client").Start(ctx, "Send",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("room.id", roomID),
			attribute.String("matrix.txn_id", txn),
		),
	)
	defer span.End()

	body := sendBody{MsgType: msgTypeText, Body: plain}
	if html != "" {
		body.Format = formatHTML
		body.FormattedBody = html
	}
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID) + "/send/m.room.message/" + url.PathEscape(txn)
	if err := c.do(ctx, http.MethodPut, path, body, nil); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	c.Log.Debug().Str("room", roomID).Str("txn", txn).Msg("reply sent")
	return nil
}

// EventSender returns the sender tag of eventID in roomID.
func (c *Client) EventSender(ctx context.Context, roomID, eventID string) (string, error) {
	ctx, span := otel.Tracer("matrix/Client").Start(ctx, "EventSender",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("room.id", roomID),
			attribute.String("event.id", eventID),
		),
	)
	defer span.End()

	var ev ClientEvent
	path := "/_matrix/client/v3/rooms/" + url.PathEscape(roomID) + "/event/" + url.PathEscape(eventID)
	err := c.do(ctx, http.MethodGet, path, nil, &ev)
	var merr *Error
	if errors.As(err, &merr) && merr.Status == http.StatusNotFound {
		return "", ErrEventNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if ev.Sender == "" {
		return "", ErrEventNotFound
	}
	return ev.Sender, nil
}

func (c *Client) txnID() string {
	if c.newTxnID == nil {
		return uuid.NewString()
	}
	return c.newTxnID()
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	u := c.BaseURL + path
	if c.UserID != "" {
		u += "?user_id=" + url.QueryEscape(c.UserID)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		merr := &Error{Status: resp.StatusCode}
		_ = json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(merr)
		return merr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
