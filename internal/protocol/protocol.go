// Package protocol defines the wire format of the handshake: the typed relay
// envelope, the decrypted payload shapes, the registration link and the DID
// conventions shared by client and wallet.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"akasha-id/go-wallet/internal/cryptoenv"
	"akasha-id/go-wallet/internal/ident"
	"akasha-id/go-wallet/pkg/models"
)

const (
	RequestInfo    = "reqInfo"
	RequestAppInfo = "appInfo"
	RequestClaim   = "claim"
	RequestRefresh = "refresh"

	// DIDPrefix is prepended to an account ID to form its DID.
	DIDPrefix = "did:akasha:"

	// LinkFragmentPrefix separates the wallet base URL from the encoded
	// registration request in a registration link.
	LinkFragmentPrefix = "#/link/"

	// WireEncoding is the text encoding of every sealed payload on the relay.
	WireEncoding = cryptoenv.EncodingBase64
)

// ErrParse reports a malformed registration link or corrupt stored JSON.
var ErrParse = errors.New("malformed protocol data")

// Envelope is the outer message carried on every relay channel. Msg is the
// sealed payload; Token is present only on refresh requests, where it routes
// the message before decryption.
type Envelope struct {
	Request string            `json:"request"`
	Msg     *cryptoenv.Sealed `json:"msg"`
	Token   string            `json:"token,omitempty"`
}

// Encode serializes the envelope for broadcast.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses a raw relay message. Receivers discard messages that
// fail to parse, so the error here carries no detail.
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, ErrParse
	}
	if env.Request == "" {
		return nil, ErrParse
	}
	return &env, nil
}

// ReqInfoPayload is sent by the wallet to ask the client for app details.
// EncKey is the wallet's fresh app key, base64-encoded.
type ReqInfoPayload struct {
	Token  string `json:"token"`
	EncKey string `json:"encKey"`
	Nonce  int    `json:"nonce"`
}

// AppInfoPayload is the client's reply: app details plus the client's rotated
// bootstrap key for the claim that follows.
type AppInfoPayload struct {
	Token   string         `json:"token"`
	Nonce   int            `json:"nonce"`
	AppInfo models.AppInfo `json:"appInfo"`
	Key     string         `json:"key"`
}

// ClaimPayload is the wallet's issuance response, for both the initial
// handshake and later refreshes. Credential, DID, Token and RefreshEncKey are
// present only when Allowed is true.
type ClaimPayload struct {
	Allowed       bool               `json:"allowed"`
	Nonce         int                `json:"nonce"`
	DID           string             `json:"did,omitempty"`
	Token         string             `json:"token,omitempty"`
	RefreshEncKey string             `json:"refreshEncKey,omitempty"`
	Credential    *models.Credential `json:"claim,omitempty"`
}

// RefreshPayload is the inner body of a refresh request: the one-shot reply
// channel and the nonce binding the reissued claim to this request.
type RefreshPayload struct {
	Nonce   int    `json:"nonce"`
	Channel string `json:"channel"`
}

// RegistrationRequest is the parsed form of a registration link.
type RegistrationRequest struct {
	Channel string
	Key     string
	Nonce   int
}

// BuildRegistrationLink encodes the bootstrap parameters into a link the
// wallet app can open: walletURL + "#/link/" + base64([channel, key, nonce]).
func BuildRegistrationLink(walletURL, channel, keyB64 string, nonce int) (string, error) {
	params, err := json.Marshal([]any{channel, keyB64, nonce})
	if err != nil {
		return "", err
	}
	return walletURL + LinkFragmentPrefix + base64.StdEncoding.EncodeToString(params), nil
}

// ParseRegistrationLink accepts a full registration link or just its encoded
// fragment and returns the bootstrap parameters. Fails with ErrParse on any
// malformed input.
func ParseRegistrationLink(link string) (*RegistrationRequest, error) {
	fragment := link
	if i := strings.Index(link, LinkFragmentPrefix); i >= 0 {
		fragment = link[i+len(LinkFragmentPrefix):]
	}
	decoded, err := base64.StdEncoding.DecodeString(fragment)
	if err != nil {
		return nil, fmt.Errorf("%w: fragment is not valid base64", ErrParse)
	}
	var parts []any
	if err := json.Unmarshal(decoded, &parts); err != nil {
		return nil, fmt.Errorf("%w: fragment is not a JSON array", ErrParse)
	}
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: expected 3 link parameters, got %d", ErrParse, len(parts))
	}
	channel, ok := parts[0].(string)
	if !ok || len(channel) != ident.DefaultIDLen {
		return nil, fmt.Errorf("%w: bad channel identifier", ErrParse)
	}
	key, ok := parts[1].(string)
	if !ok || key == "" {
		return nil, fmt.Errorf("%w: bad key", ErrParse)
	}
	nonce, ok := parts[2].(float64)
	if !ok || nonce != float64(int(nonce)) {
		return nil, fmt.Errorf("%w: bad nonce", ErrParse)
	}
	return &RegistrationRequest{Channel: channel, Key: key, Nonce: int(nonce)}, nil
}

// BuildDID forms the DID for an account ID.
func BuildDID(accountID string) string {
	return DIDPrefix + accountID
}

// ChannelFromDID derives the wallet's long-lived listening channel from a
// DID. The protocol links refresh traffic to the account this way on both
// sides, so the derivation lives here and only here.
func ChannelFromDID(did string) (string, error) {
	parts := strings.Split(did, ":")
	if len(parts) != 3 || parts[0] != "did" || parts[1] != "akasha" || parts[2] == "" {
		return "", fmt.Errorf("%w: bad DID %q", ErrParse, did)
	}
	return parts[2], nil
}
