package openpayments

import (
	"strconv"
	"time"
)

// Access types and actions used by this platform.
const (
	AccessIncomingPayment = "incoming-payment"
	AccessQuote           = "quote"
	AccessOutgoingPayment = "outgoing-payment"

	ActionCreate = "create"
	ActionRead   = "read"
	ActionList   = "list"

	QuoteMethodILP = "ilp"
)

// WalletAddress is the public description of a wallet.
type WalletAddress struct {
	ID             string `json:"id"`
	PublicName     string `json:"publicName,omitempty"`
	AssetCode      string `json:"assetCode"`
	AssetScale     uint8  `json:"assetScale"`
	AuthServer     string `json:"authServer"`
	ResourceServer string `json:"resourceServer"`
}

// Amount is a wire amount: an integer string in minor units of AssetScale.
type Amount struct {
	Value      string `json:"value"`
	AssetCode  string `json:"assetCode"`
	AssetScale uint8  `json:"assetScale"`
}

// NewAmount formats minor units as a wire amount.
func NewAmount(minor int64, assetCode string, assetScale uint8) Amount {
	return Amount{Value: strconv.FormatInt(minor, 10), AssetCode: assetCode, AssetScale: assetScale}
}

// Minor parses the amount value.
func (a Amount) Minor() (int64, error) {
	return strconv.ParseInt(a.Value, 10, 64)
}

// AccessLimits bounds what an outgoing-payment grant may spend.
type AccessLimits struct {
	DebitAmount   *Amount `json:"debitAmount,omitempty"`
	ReceiveAmount *Amount `json:"receiveAmount,omitempty"`
}

// AccessItem is one entry of a grant's access list.
type AccessItem struct {
	Type       string        `json:"type"`
	Actions    []string      `json:"actions"`
	Identifier string        `json:"identifier,omitempty"`
	Limits     *AccessLimits `json:"limits,omitempty"`
}

// InteractFinish tells the authorization server where to send the user back.
type InteractFinish struct {
	Method string `json:"method"`
	URI    string `json:"uri"`
	Nonce  string `json:"nonce"`
}

// InteractRequest asks for interactive authorization.
type InteractRequest struct {
	Start  []string        `json:"start"`
	Finish *InteractFinish `json:"finish,omitempty"`
}

// GrantRequest is the body of a grant request.
type GrantRequest struct {
	AccessToken struct {
		Access []AccessItem `json:"access"`
	} `json:"access_token"`
	Client   string           `json:"client,omitempty"`
	Interact *InteractRequest `json:"interact,omitempty"`
}

// NewGrantRequest builds a grant request for the given access items.
func NewGrantRequest(access ...AccessItem) GrantRequest {
	var req GrantRequest
	req.AccessToken.Access = access
	return req
}

// AccessToken is an issued access token.
type AccessToken struct {
	Value     string       `json:"value"`
	Manage    string       `json:"manage,omitempty"`
	ExpiresIn int64        `json:"expires_in,omitempty"`
	Access    []AccessItem `json:"access,omitempty"`
}

// Continuation is the handle used to resume a pending grant.
type Continuation struct {
	AccessToken struct {
		Value string `json:"value"`
	} `json:"access_token"`
	URI  string `json:"uri"`
	Wait int    `json:"wait,omitempty"`
}

// NewContinuation builds a continuation handle from its parts.
func NewContinuation(uri, token string) Continuation {
	var c Continuation
	c.URI = uri
	c.AccessToken.Value = token
	return c
}

// InteractResponse is returned for interactive grants.
type InteractResponse struct {
	Redirect string `json:"redirect"`
	Finish   string `json:"finish"`
}

// Grant is a grant response. A finalized grant carries an AccessToken; a
// pending one carries Interact and Continue.
type Grant struct {
	AccessToken *AccessToken      `json:"access_token,omitempty"`
	Continue    *Continuation     `json:"continue,omitempty"`
	Interact    *InteractResponse `json:"interact,omitempty"`
}

// IsFinalized reports whether the grant issued an access token.
func (g *Grant) IsFinalized() bool {
	return g != nil && g.AccessToken != nil && g.AccessToken.Value != ""
}

// IsPending reports whether the grant awaits user interaction.
func (g *Grant) IsPending() bool {
	return g != nil && !g.IsFinalized() && g.Continue != nil
}

// IncomingPaymentRequest is the body of an incoming payment creation.
type IncomingPaymentRequest struct {
	WalletAddress  string            `json:"walletAddress"`
	IncomingAmount *Amount           `json:"incomingAmount,omitempty"`
	ExpiresAt      *time.Time        `json:"expiresAt,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// IncomingPayment is a reservation on the recipient's wallet.
type IncomingPayment struct {
	ID             string            `json:"id"`
	WalletAddress  string            `json:"walletAddress"`
	IncomingAmount *Amount           `json:"incomingAmount,omitempty"`
	ReceivedAmount *Amount           `json:"receivedAmount,omitempty"`
	Completed      bool              `json:"completed"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// QuoteRequest is the body of a quote creation. DebitAmount fixes the send
// side; without it the receiver's incoming amount drives the quote.
type QuoteRequest struct {
	WalletAddress string  `json:"walletAddress"`
	Receiver      string  `json:"receiver"`
	Method        string  `json:"method"`
	DebitAmount   *Amount `json:"debitAmount,omitempty"`
}

// Quote is a committed exchange from the payer's asset to a receiver.
type Quote struct {
	ID            string     `json:"id"`
	WalletAddress string     `json:"walletAddress"`
	Receiver      string     `json:"receiver"`
	DebitAmount   Amount     `json:"debitAmount"`
	ReceiveAmount Amount     `json:"receiveAmount"`
	Method        string     `json:"method"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}

// OutgoingPaymentRequest is the body of an outgoing payment creation.
type OutgoingPaymentRequest struct {
	WalletAddress string            `json:"walletAddress"`
	QuoteID       string            `json:"quoteId"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// OutgoingPayment is the payer-side execution of a quote.
type OutgoingPayment struct {
	ID            string            `json:"id"`
	WalletAddress string            `json:"walletAddress"`
	QuoteID       string            `json:"quoteId"`
	Failed        bool              `json:"failed"`
	DebitAmount   *Amount           `json:"debitAmount,omitempty"`
	ReceiveAmount *Amount           `json:"receiveAmount,omitempty"`
	SentAmount    *Amount           `json:"sentAmount,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
}
