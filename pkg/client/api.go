package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/mahaj/pulse-chat/pkg/media"
	"github.com/mahaj/pulse-chat/pkg/model"
)

// APIError is a non-2xx reply from the HTTP API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// Throttled reports whether the server asked the client to slow down.
func (e *APIError) Throttled() bool { return e.Status == http.StatusTooManyRequests }

// IsThrottled reports whether err is a rate-limit rejection.
func IsThrottled(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Throttled()
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// API talks to the HTTP side of the server.
type API struct {
	base string
	hc   *http.Client

	mu    sync.RWMutex
	token string
}

func NewAPI(base string, hc *http.Client) *API {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &API{base: strings.TrimRight(base, "/"), hc: hc}
}

func (a *API) SetToken(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = token
}

func (a *API) Token() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token
}

func (a *API) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if tok := a.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := a.hc.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode, Message: resp.Status}
		}
		return errors.Wrapf(err, "decode %s %s", method, path)
	}
	if resp.StatusCode >= 300 || !env.Success {
		return &APIError{Status: resp.StatusCode, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(env.Data, out), "decode %s %s", method, path)
}

func (a *API) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(raw)
	}
	return a.do(ctx, method, path, body, "application/json", out)
}

func contactBody(c model.Contact, otp string) map[string]string {
	body := map[string]string{}
	if c.IsEmail() {
		body["email"] = c.Email
	} else {
		body["phoneSuffix"] = c.PhoneSuffix
		body["phoneNumber"] = c.PhoneNumber
	}
	if otp != "" {
		body["otp"] = otp
	}
	return body
}

func (a *API) SendOTP(ctx context.Context, c model.Contact) error {
	return a.doJSON(ctx, http.MethodPost, "/auth/send-otp", contactBody(c, ""), nil)
}

// VerifyOTP logs in and keeps the issued token for later calls.
func (a *API) VerifyOTP(ctx context.Context, c model.Contact, code string) (*model.User, error) {
	var out struct {
		Token string     `json:"token"`
		User  model.User `json:"user"`
	}
	if err := a.doJSON(ctx, http.MethodPost, "/auth/verify-otp", contactBody(c, code), &out); err != nil {
		return nil, err
	}
	a.SetToken(out.Token)
	return &out.User, nil
}

func (a *API) Logout(ctx context.Context) error {
	err := a.do(ctx, http.MethodGet, "/auth/logout", nil, "", nil)
	a.SetToken("")
	return err
}

func (a *API) Me(ctx context.Context) (*model.User, error) {
	var u model.User
	if err := a.do(ctx, http.MethodGet, "/auth/check-auth", nil, "", &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// SendMessage posts a multipart send-message form.
func (a *API) SendMessage(ctx context.Context, senderID, receiverID, content string, upload *media.Upload) (*model.Message, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	w.WriteField("senderId", senderID)
	w.WriteField("recieverId", receiverID)
	if content != "" {
		w.WriteField("content", content)
	}
	if upload != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="media"; filename=%q`, upload.Filename))
		h.Set("Content-Type", upload.MIME)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, errors.Wrap(err, "create media part")
		}
		if _, err := io.Copy(part, upload.Body); err != nil {
			return nil, errors.Wrap(err, "write media part")
		}
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "close form")
	}

	var m model.Message
	if err := a.do(ctx, http.MethodPost, "/chats/send-message", &buf, w.FormDataContentType(), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (a *API) Conversations(ctx context.Context) ([]model.ConversationView, error) {
	var out []model.ConversationView
	err := a.do(ctx, http.MethodGet, "/chats/conversations", nil, "", &out)
	return out, err
}

// Messages fetches one history page; cursor 0 means the newest page.
func (a *API) Messages(ctx context.Context, conversationID, cursor int64) (*model.Page, error) {
	path := "/chats/conversations/" + strconv.FormatInt(conversationID, 10) + "/messages"
	if cursor > 0 {
		path += "?" + url.Values{"cursor": {strconv.FormatInt(cursor, 10)}}.Encode()
	}
	var page model.Page
	if err := a.do(ctx, http.MethodGet, path, nil, "", &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (a *API) MarkRead(ctx context.Context, ids []int64) ([]model.Message, error) {
	var out []model.Message
	err := a.doJSON(ctx, http.MethodPut, "/chats/messages/read", map[string][]model.ID{"messageIds": wireIDs(ids)}, &out)
	return out, err
}

func wireIDs(ids []int64) []model.ID {
	out := make([]model.ID, len(ids))
	for i, id := range ids {
		out[i] = model.ID(id)
	}
	return out
}

func (a *API) DeleteMessage(ctx context.Context, id int64) error {
	return a.do(ctx, http.MethodDelete, "/chats/messages/"+strconv.FormatInt(id, 10), nil, "", nil)
}
