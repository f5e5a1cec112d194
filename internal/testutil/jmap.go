package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// MaskedEmailURI is the capability the fake server advertises.
const MaskedEmailURI = "https://www.fastmail.com/dev/maskedemail"

// FakeMaskedEmail is a masked email held by FakeJMAP.
type FakeMaskedEmail struct {
	ID            string  `json:"id"`
	Email         string  `json:"email"`
	State         string  `json:"state"`
	ForDomain     string  `json:"forDomain"`
	Description   string  `json:"description"`
	URL           *string `json:"url"`
	CreatedBy     string  `json:"createdBy"`
	CreatedAt     string  `json:"createdAt"`
	LastMessageAt *string `json:"lastMessageAt"`
}

// Call is a method call received by FakeJMAP.
type Call struct {
	Using  []string
	Method string
	Args   map[string]interface{}
	CallID string

	// Body is the raw request body the call arrived in.
	Body []byte
}

// FakeJMAP is an httptest server speaking enough of Fastmail's JMAP
// dialect for MaskedEmail/get and MaskedEmail/set.
type FakeJMAP struct {
	*httptest.Server

	Token     string
	AccountID string
	Username  string

	// NoMaskedEmail hides the masked email capability from the session.
	NoMaskedEmail bool

	// MethodError, when set, answers every method call with a JMAP
	// error invocation of this type.
	MethodError string

	// CreateError, when set, rejects creates with a SetError of this type.
	CreateError string

	// RateLimit answers this many API requests with HTTP 429 first.
	RateLimit int

	// RetryAfter is the Retry-After header sent with 429 answers.
	// Defaults to "0".
	RetryAfter string

	mu           sync.Mutex
	emails       []*FakeMaskedEmail
	calls        []Call
	nextID       int
	state        int
	sessionState string
	apiStatus    int
}

// NewFakeJMAP starts a fake server accepting token and registers its
// shutdown with t.Cleanup.
func NewFakeJMAP(t *testing.T, token string) *FakeJMAP {
	t.Helper()

	f := &FakeJMAP{
		Token:     token,
		AccountID: "u1234abcd",
		Username:  "user@fastmail.com",

		sessionState: "session-1",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/jmap/session", f.handleSession)
	mux.HandleFunc("/jmap/api/", f.handleAPI)
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)

	return f
}

// SessionURL returns the URL of the fake session resource.
func (f *FakeJMAP) SessionURL() string {
	return f.URL + "/jmap/session"
}

// APIURL returns the URL of the fake API endpoint.
func (f *FakeJMAP) APIURL() string {
	return f.URL + "/jmap/api/"
}

// Add seeds a masked email. Missing ids and timestamps are filled in.
func (f *FakeJMAP) Add(me FakeMaskedEmail) *FakeMaskedEmail {
	f.mu.Lock()
	defer f.mu.Unlock()

	if me.ID == "" {
		f.nextID++
		me.ID = fmt.Sprintf("masked-%d", f.nextID)
	}
	if me.CreatedAt == "" {
		me.CreatedAt = "2024-01-15T10:30:00Z"
	}
	if me.State == "" {
		me.State = "enabled"
	}
	stored := me
	f.emails = append(f.emails, &stored)
	f.state++
	return &stored
}

// SetSessionState changes the session state reported from now on.
func (f *FakeJMAP) SetSessionState(state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionState = state
}

// SetAPIStatus makes every later API request fail with the given HTTP
// status. The session resource keeps working. Zero restores normal
// answers.
func (f *FakeJMAP) SetAPIStatus(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiStatus = code
}

// Find returns the masked email with the given address, or nil.
func (f *FakeJMAP) Find(email string) *FakeMaskedEmail {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, me := range f.emails {
		if me.Email == email {
			cp := *me
			return &cp
		}
	}
	return nil
}

// Calls returns the method calls received so far.
func (f *FakeJMAP) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// LastCall returns the most recent method call.
func (f *FakeJMAP) LastCall(t *testing.T) Call {
	t.Helper()
	calls := f.Calls()
	if len(calls) == 0 {
		t.Fatalf("no JMAP calls received")
	}
	return calls[len(calls)-1]
}

func (f *FakeJMAP) authorized(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("Authorization") != "Bearer "+f.Token {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"about:blank","status":401,"detail":"Authorization header not a valid format"}`))
		return false
	}
	return true
}

func (f *FakeJMAP) handleSession(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(w, r) {
		return
	}

	capabilities := map[string]interface{}{
		"urn:ietf:params:jmap:core": map[string]interface{}{
			"maxSizeUpload":     50000000,
			"maxCallsInRequest": 50,
		},
	}
	primary := map[string]string{}
	if !f.NoMaskedEmail {
		capabilities[MaskedEmailURI] = map[string]interface{}{}
		primary[MaskedEmailURI] = f.AccountID
	}

	f.mu.Lock()
	sessionState := f.sessionState
	f.mu.Unlock()

	writeJSON(w, map[string]interface{}{
		"capabilities": capabilities,
		"accounts": map[string]interface{}{
			f.AccountID: map[string]interface{}{
				"name":       f.Username,
				"isPersonal": true,
				"isReadOnly": false,
			},
		},
		"primaryAccounts": primary,
		"username":        f.Username,
		"apiUrl":          f.APIURL(),
		"downloadUrl":     f.URL + "/jmap/download/{accountId}/{blobId}/{name}?type={type}",
		"uploadUrl":       f.URL + "/jmap/upload/{accountId}/",
		"eventSourceUrl":  f.URL + "/jmap/event/",
		"state":           sessionState,
	})
}

func (f *FakeJMAP) handleAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !f.authorized(w, r) {
		return
	}

	f.mu.Lock()
	if code := f.apiStatus; code != 0 {
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(code)
		_, _ = fmt.Fprintf(w, `{"type":"about:blank","status":%d,"detail":"%s"}`, code, http.StatusText(code))
		return
	}
	if f.RateLimit > 0 {
		f.RateLimit--
		retryAfter := f.RetryAfter
		f.mu.Unlock()
		if retryAfter == "" {
			retryAfter = "0"
		}
		w.Header().Set("Retry-After", retryAfter)
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}
	sessionState := f.sessionState
	f.mu.Unlock()

	var body struct {
		Using       []string            `json:"using"`
		MethodCalls [][]json.RawMessage `json:"methodCalls"`
	}
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	responses := make([]interface{}, 0, len(body.MethodCalls))
	for _, mc := range body.MethodCalls {
		if len(mc) != 3 {
			http.Error(w, "malformed invocation", http.StatusBadRequest)
			return
		}
		var call Call
		call.Using = body.Using
		call.Body = raw
		_ = json.Unmarshal(mc[0], &call.Method)
		_ = json.Unmarshal(mc[1], &call.Args)
		_ = json.Unmarshal(mc[2], &call.CallID)

		f.mu.Lock()
		f.calls = append(f.calls, call)
		name, result := f.dispatch(call)
		f.mu.Unlock()

		responses = append(responses, []interface{}{name, result, call.CallID})
	}

	writeJSON(w, map[string]interface{}{
		"methodResponses": responses,
		"sessionState":    sessionState,
	})
}

// dispatch runs one call with f.mu held.
func (f *FakeJMAP) dispatch(call Call) (string, interface{}) {
	if f.MethodError != "" {
		return "error", map[string]interface{}{
			"type":        f.MethodError,
			"description": "fake method error",
		}
	}
	if acct, _ := call.Args["accountId"].(string); acct != f.AccountID {
		return "error", map[string]interface{}{"type": "accountNotFound"}
	}

	switch call.Method {
	case "MaskedEmail/get":
		list := make([]FakeMaskedEmail, 0, len(f.emails))
		for _, me := range f.emails {
			list = append(list, *me)
		}
		return call.Method, map[string]interface{}{
			"accountId": f.AccountID,
			"state":     fmt.Sprintf("state-%d", f.state),
			"list":      list,
			"notFound":  []string{},
		}
	case "MaskedEmail/set":
		return call.Method, f.set(call.Args)
	}
	return "error", map[string]interface{}{"type": "unknownMethod"}
}

func (f *FakeJMAP) set(args map[string]interface{}) map[string]interface{} {
	oldState := fmt.Sprintf("state-%d", f.state)
	result := map[string]interface{}{
		"accountId": f.AccountID,
		"oldState":  oldState,
	}

	if create, ok := args["create"].(map[string]interface{}); ok {
		created := map[string]interface{}{}
		notCreated := map[string]interface{}{}
		for cid, v := range create {
			props, _ := v.(map[string]interface{})
			if f.CreateError != "" {
				notCreated[cid] = map[string]interface{}{
					"type":        f.CreateError,
					"description": "fake create failure",
				}
				continue
			}
			f.nextID++
			prefix, _ := props["emailPrefix"].(string)
			if prefix == "" {
				prefix = "masked"
			}
			me := &FakeMaskedEmail{
				ID:        fmt.Sprintf("masked-%d", f.nextID),
				Email:     fmt.Sprintf("%s.%d@fastmail.com", prefix, f.nextID),
				CreatedBy: "tmail",
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
			}
			me.State, _ = props["state"].(string)
			me.Description, _ = props["description"].(string)
			me.ForDomain, _ = props["forDomain"].(string)
			f.emails = append(f.emails, me)
			f.state++
			created[cid] = map[string]interface{}{
				"id":        me.ID,
				"email":     me.Email,
				"createdAt": me.CreatedAt,
				"createdBy": me.CreatedBy,
			}
		}
		result["created"] = created
		result["notCreated"] = notCreated
	}

	if update, ok := args["update"].(map[string]interface{}); ok {
		updated := map[string]interface{}{}
		notUpdated := map[string]interface{}{}
		for id, v := range update {
			patch, _ := v.(map[string]interface{})
			me := f.byID(id)
			if me == nil {
				notUpdated[id] = map[string]interface{}{"type": "notFound"}
				continue
			}
			if s, ok := patch["state"].(string); ok {
				me.State = s
			}
			if s, ok := patch["description"].(string); ok {
				me.Description = s
			}
			if s, ok := patch["forDomain"].(string); ok {
				me.ForDomain = s
			}
			if s, ok := patch["url"].(string); ok {
				me.URL = &s
			}
			f.state++
			updated[id] = nil
		}
		result["updated"] = updated
		result["notUpdated"] = notUpdated
	}

	result["newState"] = fmt.Sprintf("state-%d", f.state)
	return result
}

func (f *FakeJMAP) byID(id string) *FakeMaskedEmail {
	for _, me := range f.emails {
		if me.ID == id {
			return me
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
