package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nartechsolution/wagateway/internal/domain"
	"github.com/nartechsolution/wagateway/internal/service"
	"github.com/nartechsolution/wagateway/internal/storage"
	apiTypes "github.com/nartechsolution/wagateway/pkg/api"
)

type fakeGateway struct {
	checkResult service.CheckResult
	checkErr    error
	checkForce  bool

	sendErr   error
	sentPhone string
	sentText  string
	sentPath  string

	loggedOut bool

	profile    service.ProfileResult
	profileErr error

	history    []storage.OutboundMessage
	historyErr error

	phase domain.Phase
}

func (f *fakeGateway) CheckSession(ctx context.Context, forceNew bool) (service.CheckResult, error) {
	f.checkForce = forceNew
	return f.checkResult, f.checkErr
}

func (f *fakeGateway) SendMessage(ctx context.Context, phone, text, attachmentPath string) error {
	f.sentPhone, f.sentText, f.sentPath = phone, text, attachmentPath
	if f.sendErr != nil {
		return f.sendErr
	}
	return nil
}

func (f *fakeGateway) Logout(ctx context.Context) { f.loggedOut = true }

func (f *fakeGateway) Profile(ctx context.Context) (service.ProfileResult, error) {
	return f.profile, f.profileErr
}

func (f *fakeGateway) History(ctx context.Context, limit int) ([]storage.OutboundMessage, error) {
	return f.history, f.historyErr
}

func (f *fakeGateway) Phase() domain.Phase { return f.phase }

func newTestServer(t *testing.T, gw Gateway) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	NewHandler(gw, t.TempDir(), nil).Mount(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestCheckSessionReady(t *testing.T) {
	gw := &fakeGateway{checkResult: service.CheckResult{Status: service.StatusReady}}
	srv := newTestServer(t, gw)

	resp, err := http.Get(srv.URL + "/checkSession")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody[apiTypes.CheckSessionResponse](t, resp)
	if resp.StatusCode != http.StatusOK || body.Status != "success" {
		t.Fatalf("status %d body %+v", resp.StatusCode, body)
	}
	if gw.checkForce {
		t.Fatal("forceNew passed without query parameter")
	}
}

func TestCheckSessionQRAndForceNew(t *testing.T) {
	gw := &fakeGateway{checkResult: service.CheckResult{
		Status:  service.StatusQR,
		QRCode:  "data:image/png;base64,abc",
		NeedsQR: true,
	}}
	srv := newTestServer(t, gw)

	resp, err := http.Get(srv.URL + "/checkSession?forceNew=true")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody[apiTypes.CheckSessionResponse](t, resp)
	if body.Status != "qr_required" || !body.NeedsQR || body.QRCode == "" {
		t.Fatalf("body = %+v", body)
	}
	if !gw.checkForce {
		t.Fatal("forceNew query parameter not forwarded")
	}
}

func TestCheckSessionErrorMapsToRetryable(t *testing.T) {
	gw := &fakeGateway{checkErr: service.ErrInitInFlight}
	srv := newTestServer(t, gw)

	resp, err := http.Get(srv.URL + "/checkSession")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody[apiTypes.CheckSessionResponse](t, resp)
	if body.Status != "error" || !body.NeedsRetry {
		t.Fatalf("body = %+v", body)
	}
}

func TestSendMessageJSON(t *testing.T) {
	gw := &fakeGateway{}
	srv := newTestServer(t, gw)

	payload, _ := json.Marshal(apiTypes.SendMessageRequest{
		PhoneNumber: "15551234567",
		MessageText: "hello",
	})
	resp, err := http.Post(srv.URL+"/sendWhatsAppMessage", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody[apiTypes.SendMessageResponse](t, resp)
	if resp.StatusCode != http.StatusOK || body.Status != "success" {
		t.Fatalf("status %d body %+v", resp.StatusCode, body)
	}
	if body.Message != "Messages sent successfully!" {
		t.Fatalf("message = %q", body.Message)
	}
	if gw.sentPhone != "15551234567" || gw.sentText != "hello" || gw.sentPath != "" {
		t.Fatalf("gateway saw %q %q %q", gw.sentPhone, gw.sentText, gw.sentPath)
	}
}

func TestSendMessageNotConnectedBody(t *testing.T) {
	srv := newTestServer(t, &fakeGateway{sendErr: service.ErrNotConnected})

	payload, _ := json.Marshal(apiTypes.SendMessageRequest{
		PhoneNumber: "15551234567",
		MessageText: "hello",
	})
	resp, err := http.Post(srv.URL+"/sendWhatsAppMessage", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody[apiTypes.ErrorResponse](t, resp)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if body.Error != "WhatsApp not connected." {
		t.Fatalf("error = %q", body.Error)
	}
}

func TestSendMessageMultipartWithAttachment(t *testing.T) {
	gw := &fakeGateway{}
	srv := newTestServer(t, gw)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("phoneNumber", "15551234567")
	mw.WriteField("messageText", "see attached")
	fw, _ := mw.CreateFormFile("attachment", "report.pdf")
	io.WriteString(fw, "pdf bytes")
	mw.Close()

	resp, err := http.Post(srv.URL+"/sendWhatsAppMessage", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if gw.sentPath == "" {
		t.Fatal("attachment path not forwarded")
	}
	if filepath.Ext(gw.sentPath) != ".pdf" {
		t.Fatalf("attachment path %q lost its extension", gw.sentPath)
	}
	data, err := os.ReadFile(gw.sentPath)
	if err != nil {
		t.Fatalf("uploaded file unreadable: %v", err)
	}
	if string(data) != "pdf bytes" {
		t.Fatalf("uploaded content = %q", data)
	}
}

func TestSendMessageValidationErrors(t *testing.T) {
	cases := []struct {
		name    string
		sendErr error
		want    int
	}{
		{"invalid phone", service.ErrInvalidPhoneNumber, http.StatusBadRequest},
		{"empty text", service.ErrEmptyMessage, http.StatusBadRequest},
		{"not connected", service.ErrNotConnected, http.StatusBadRequest},
		{"bridge failure", io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeGateway{sendErr: tc.sendErr})
			payload, _ := json.Marshal(apiTypes.SendMessageRequest{PhoneNumber: "1", MessageText: "x"})
			resp, err := http.Post(srv.URL+"/sendWhatsAppMessage", "application/json", bytes.NewReader(payload))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestSendMessageMalformedBody(t *testing.T) {
	srv := newTestServer(t, &fakeGateway{})
	resp, err := http.Post(srv.URL+"/sendWhatsAppMessage", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestLogoutAlwaysSuccess(t *testing.T) {
	gw := &fakeGateway{}
	srv := newTestServer(t, gw)

	resp, err := http.Post(srv.URL+"/logoutWhatsApp", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody[apiTypes.LogoutResponse](t, resp)
	if body.Status != "success" {
		t.Fatalf("body = %+v", body)
	}
	if !gw.loggedOut {
		t.Fatal("gateway logout not invoked")
	}
}

func TestGetUserProfile(t *testing.T) {
	gw := &fakeGateway{profile: service.ProfileResult{
		Name:      "tester",
		Number:    "15551234567",
		AvatarURL: "https://example.test/a.png",
	}}
	srv := newTestServer(t, gw)

	resp, err := http.Get(srv.URL + "/getUserProfile")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody[apiTypes.ProfileResponse](t, resp)
	if body.Data.Name != "tester" || body.Data.ProfilePicURL == "" {
		t.Fatalf("body = %+v", body)
	}
}

func TestGetUserProfileErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"corrupted", service.ErrReconnectRequired, http.StatusInternalServerError},
		{"initializing", service.ErrInitializing, http.StatusBadRequest},
		{"not connected", service.ErrNotConnected, http.StatusBadRequest},
		{"generic", io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeGateway{profileErr: tc.err})
			resp, err := http.Get(srv.URL + "/getUserProfile")
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestMessageHistory(t *testing.T) {
	gw := &fakeGateway{history: []storage.OutboundMessage{{
		ID:          "m1",
		Destination: "15551234567@c.us",
		Body:        "hello",
		Status:      storage.StatusSent,
		CreatedAt:   time.Now().UTC(),
	}}}
	srv := newTestServer(t, gw)

	resp, err := http.Get(srv.URL + "/messageHistory?limit=5")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody[apiTypes.MessageHistoryResponse](t, resp)
	if len(body.Messages) != 1 || body.Messages[0].ID != "m1" {
		t.Fatalf("body = %+v", body)
	}
}

func TestMessageHistoryRejectsBadLimit(t *testing.T) {
	srv := newTestServer(t, &fakeGateway{})
	resp, err := http.Get(srv.URL + "/messageHistory?limit=many")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &fakeGateway{phase: domain.PhaseReady})
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	body := decodeBody[apiTypes.HealthResponse](t, resp)
	if body.Status != "ok" || body.Phase != domain.PhaseReady.String() {
		t.Fatalf("body = %+v", body)
	}
}
