package fastmail

import (
	"encoding/json"

	"git.sr.ht/~rockorager/go-jmap"
)

const (
	// CoreURI is the JMAP core capability (RFC 8620).
	CoreURI jmap.URI = "urn:ietf:params:jmap:core"

	// MaskedEmailURI is Fastmail's masked email capability.
	MaskedEmailURI jmap.URI = "https://www.fastmail.com/dev/maskedemail"
)

const (
	methodGet = "MaskedEmail/get"
	methodSet = "MaskedEmail/set"
)

func init() {
	jmap.RegisterMethod(methodGet, newGetResponse)
	jmap.RegisterMethod(methodSet, newSetResponse)
}

// Session is the JMAP session resource. Only the fields used to locate
// the masked email account and API endpoint are decoded.
type Session struct {
	Capabilities    map[jmap.URI]json.RawMessage `json:"capabilities"`
	Accounts        map[jmap.ID]Account          `json:"accounts"`
	PrimaryAccounts map[jmap.URI]jmap.ID         `json:"primaryAccounts"`
	Username        string                       `json:"username"`
	APIURL          string                       `json:"apiUrl"`
	State           string                       `json:"state"`
}

// Account describes one account available in a session.
type Account struct {
	Name       string `json:"name"`
	IsPersonal bool   `json:"isPersonal"`
	IsReadOnly bool   `json:"isReadOnly"`
}

// MaskedEmailAccount returns the primary account for the masked email
// capability.
func (s *Session) MaskedEmailAccount() (jmap.ID, error) {
	id, ok := s.PrimaryAccounts[MaskedEmailURI]
	if !ok || id == "" {
		return "", ErrCapabilityMissing
	}
	return id, nil
}

// MaskedEmail is the wire form of a masked email object.
type MaskedEmail struct {
	ID          jmap.ID `json:"id,omitempty"`
	Email       string  `json:"email,omitempty"`
	State       string  `json:"state,omitempty"`
	ForDomain   string  `json:"forDomain"`
	Description string  `json:"description"`
	URL         string  `json:"url,omitempty"`
	CreatedBy   string  `json:"createdBy,omitempty"`

	// Timestamps are kept as sent. Fastmail has used both RFC 3339 and
	// "2006-01-02 15:04:05"; model.ParseTimestamp accepts either.
	CreatedAt     string `json:"createdAt,omitempty"`
	LastMessageAt string `json:"lastMessageAt,omitempty"`

	// EmailPrefix is only meaningful on create.
	EmailPrefix string `json:"emailPrefix,omitempty"`
}

// Get is the MaskedEmail/get method. A nil IDs slice fetches every
// masked email in the account.
type Get struct {
	Account    jmap.ID   `json:"accountId"`
	IDs        []jmap.ID `json:"ids"`
	Properties []string  `json:"properties,omitempty"`
}

func (m *Get) Name() string { return methodGet }

func (m *Get) Requires() []jmap.URI { return []jmap.URI{CoreURI, MaskedEmailURI} }

// GetResponse is the result of MaskedEmail/get.
type GetResponse struct {
	Account  jmap.ID        `json:"accountId"`
	State    string         `json:"state"`
	List     []*MaskedEmail `json:"list"`
	NotFound []jmap.ID      `json:"notFound"`
}

func newGetResponse() jmap.MethodResponse { return &GetResponse{} }

// Set is the MaskedEmail/set method.
type Set struct {
	Account   jmap.ID                  `json:"accountId"`
	IfInState string                   `json:"ifInState,omitempty"`
	Create    map[jmap.ID]*MaskedEmail `json:"create,omitempty"`
	Update    map[jmap.ID]jmap.Patch   `json:"update,omitempty"`
	Destroy   []jmap.ID                `json:"destroy,omitempty"`
}

func (m *Set) Name() string { return methodSet }

func (m *Set) Requires() []jmap.URI { return []jmap.URI{CoreURI, MaskedEmailURI} }

// SetResponse is the result of MaskedEmail/set. Updated values may be
// null; the presence of the key signals success.
type SetResponse struct {
	Account      jmap.ID                    `json:"accountId"`
	OldState     string                     `json:"oldState,omitempty"`
	NewState     string                     `json:"newState"`
	Created      map[jmap.ID]*MaskedEmail   `json:"created"`
	Updated      map[jmap.ID]*MaskedEmail   `json:"updated"`
	Destroyed    []jmap.ID                  `json:"destroyed"`
	NotCreated   map[jmap.ID]*jmap.SetError `json:"notCreated"`
	NotUpdated   map[jmap.ID]*jmap.SetError `json:"notUpdated"`
	NotDestroyed map[jmap.ID]*jmap.SetError `json:"notDestroyed"`
}

func newSetResponse() jmap.MethodResponse { return &SetResponse{} }
